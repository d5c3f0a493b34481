package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/engine"
)

var (
	ErrInvalidHeader = errors.New("invalid segment header")
	ErrCorrupt       = errors.New("corrupt segment")
)

// Footer is the fixed-size trailer of a segment.
type Footer struct {
	RowCount uint32
	MinID    uint64
	MaxID    uint64
	MaxTs    int64
}

type ColumnReader struct {
	decoder *zstd.Decoder
}

func NewColumnReader() (*ColumnReader, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &ColumnReader{decoder: dec}, nil
}

// ReadFooter validates the header and returns the footer without
// decompressing any column.
func (cr *ColumnReader) ReadFooter(filename string) (Footer, error) {
	f, err := os.Open(filename)
	if err != nil {
		return Footer{}, err
	}
	defer f.Close()
	return readFooter(f)
}

func readFooter(f *os.File) (Footer, error) {
	header := make([]byte, len(MagicHeader))
	if _, err := io.ReadFull(f, header); err != nil {
		return Footer{}, err
	}
	if !bytes.Equal(header, MagicHeader) {
		return Footer{}, ErrInvalidHeader
	}

	info, err := f.Stat()
	if err != nil {
		return Footer{}, err
	}
	if info.Size() < int64(len(MagicHeader)+footerSize) {
		return Footer{}, fmt.Errorf("%w: file too small", ErrCorrupt)
	}

	buf := make([]byte, footerSize)
	if _, err := f.ReadAt(buf, info.Size()-footerSize); err != nil {
		return Footer{}, err
	}
	return Footer{
		RowCount: binary.LittleEndian.Uint32(buf[0:4]),
		MinID:    binary.LittleEndian.Uint64(buf[4:12]),
		MaxID:    binary.LittleEndian.Uint64(buf[12:20]),
		MaxTs:    int64(binary.LittleEndian.Uint64(buf[20:28])),
	}, nil
}

// ReadSegment reads every row of a segment, ascending by ID.
func (cr *ColumnReader) ReadSegment(filename string) ([]engine.Row, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	footer, err := readFooter(f)
	if err != nil {
		return nil, err
	}
	n := int(footer.RowCount)
	if n == 0 {
		return nil, nil
	}

	// columns start right after the header
	if _, err := f.Seek(int64(len(MagicHeader)), io.SeekStart); err != nil {
		return nil, err
	}

	cols := make([][]byte, 5)
	for i := range cols {
		if cols[i], err = cr.readAndDecompress(f); err != nil {
			return nil, fmt.Errorf("%w: column %d: %v", ErrCorrupt, i, err)
		}
	}

	ids := cols[0]
	tss := cols[1]
	types := bytesToStringSlice(cols[2])
	sevs := bytesToStringSlice(cols[3])
	bodies := bytesToStringSlice(cols[4])

	if len(ids) != n*8 || len(tss) != n*8 || len(types) != n || len(sevs) != n || len(bodies) != n {
		return nil, fmt.Errorf("%w: column length mismatch", ErrCorrupt)
	}

	rows := make([]engine.Row, n)
	for i := 0; i < n; i++ {
		rows[i] = engine.Row{
			ID:          binary.LittleEndian.Uint64(ids[i*8:]),
			IngestedAt:  int64(binary.LittleEndian.Uint64(tss[i*8:])),
			AnomalyType: types[i],
			Severity:    sevs[i],
			Body:        []byte(bodies[i]),
		}
	}
	return rows, nil
}

// readAndDecompress reads a compressed block (size + data) and decompresses it.
func (cr *ColumnReader) readAndDecompress(r io.Reader) ([]byte, error) {
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, err
	}

	compressed := make([]byte, size)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, err
	}

	return cr.decoder.DecodeAll(compressed, nil)
}

// bytesToStringSlice converts a byte slice to []string.
// Format: [Len uint32][Bytes]...
func bytesToStringSlice(data []byte) []string {
	var result []string
	for len(data) >= 4 {
		length := binary.LittleEndian.Uint32(data)
		data = data[4:]
		if uint64(len(data)) < uint64(length) {
			break
		}
		result = append(result, string(data[:length]))
		data = data[length:]
	}
	return result
}
