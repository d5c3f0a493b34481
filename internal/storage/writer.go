// Package storage encodes MemTables into compressed columnar segment files
// and reads them back.
//
// Layout: magic header, five zstd-compressed column blocks (id, ingest time,
// anomaly type, severity, record body), each prefixed with its compressed
// size, and a fixed-size footer.
package storage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/engine"
)

// MagicHeader opens every segment file.
var MagicHeader = []byte("SIEMSEG1")

// footerSize is RowCount(4) + MinID(8) + MaxID(8) + MaxTs(8).
const footerSize = 28

type ColumnWriter struct {
	encoder *zstd.Encoder
}

func NewColumnWriter() (*ColumnWriter, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	return &ColumnWriter{encoder: enc}, nil
}

// WriteSegment writes the MemTable to a segment file and fsyncs it.
// The MemTable must not be appended to concurrently.
func (cw *ColumnWriter) WriteSegment(filename string, mt *engine.MemTable) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := cw.encode(w, mt.Ascending()); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func (cw *ColumnWriter) encode(w io.Writer, rows []engine.Row) error {
	// 1. Header
	if _, err := w.Write(MagicHeader); err != nil {
		return err
	}

	// 2. Columns
	ids := new(bytes.Buffer)
	tss := new(bytes.Buffer)
	types := make([]string, len(rows))
	sevs := make([]string, len(rows))
	bodies := make([]string, len(rows))

	var minID, maxID uint64
	var maxTs int64
	for i, r := range rows {
		binary.Write(ids, binary.LittleEndian, r.ID)
		binary.Write(tss, binary.LittleEndian, r.IngestedAt)
		types[i] = r.AnomalyType
		sevs[i] = r.Severity
		bodies[i] = string(r.Body)

		if i == 0 || r.ID < minID {
			minID = r.ID
		}
		if r.ID > maxID {
			maxID = r.ID
		}
		if r.IngestedAt > maxTs {
			maxTs = r.IngestedAt
		}
	}

	for _, raw := range [][]byte{
		ids.Bytes(),
		tss.Bytes(),
		encodeStrings(types),
		encodeStrings(sevs),
		encodeStrings(bodies),
	} {
		if err := cw.compressAndWrite(w, raw); err != nil {
			return err
		}
	}

	// 3. Footer
	return writeFooter(w, uint32(len(rows)), minID, maxID, maxTs)
}

// encodeStrings serialises [Len uint32][Bytes]...
func encodeStrings(data []string) []byte {
	buf := new(bytes.Buffer)
	for _, s := range data {
		binary.Write(buf, binary.LittleEndian, uint32(len(s)))
		buf.WriteString(s)
	}
	return buf.Bytes()
}

func (cw *ColumnWriter) compressAndWrite(w io.Writer, raw []byte) error {
	compressed := cw.encoder.EncodeAll(raw, make([]byte, 0, len(raw)))

	if err := binary.Write(w, binary.LittleEndian, uint32(len(compressed))); err != nil {
		return err
	}
	_, err := w.Write(compressed)
	return err
}

func writeFooter(w io.Writer, rowCount uint32, minID, maxID uint64, maxTs int64) error {
	for _, v := range []any{rowCount, minID, maxID, maxTs} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}
