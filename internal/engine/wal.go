package engine

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"sync"
)

const walHeaderSize = 8

// WAL handles write-ahead logging to prevent data loss during crashes.
// Each frame holds one whole batch, so a batch is either replayed entirely
// or not at all.
type WAL struct {
	file *os.File
	path string
	size int64 // offset just past the last complete frame
	mu   sync.Mutex
}

// OpenWAL opens or creates a WAL file at the specified path.
func OpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &WAL{
		file: f,
		path: path,
		size: info.Size(),
	}, nil
}

// WriteBatch appends one frame and fsyncs it.
// Frame format: [Len uint32][CRC32 uint32][JSON rows].
func (w *WAL) WriteBatch(rows []Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(rows)
	if err != nil {
		return err
	}

	frame := make([]byte, walHeaderSize+len(data))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(data)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(data))
	copy(frame[walHeaderSize:], data)

	if _, err := w.file.Write(frame); err != nil {
		w.rollback()
		return err
	}
	if err := w.file.Sync(); err != nil {
		w.rollback()
		return err
	}
	w.size += int64(len(frame))
	return nil
}

// rollback drops a partially written frame so it is never replayed.
func (w *WAL) rollback() {
	if err := w.file.Truncate(w.size); err != nil {
		slog.Error("wal rollback failed", "path", w.path, "err", err)
	}
}

// Reset truncates the WAL file.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	w.size = 0
	_, err := w.file.Seek(0, io.SeekStart)
	return err
}

// Close closes the WAL file.
func (w *WAL) Close() error {
	return w.file.Close()
}

// Replay reads every complete frame. A torn or corrupt trailing frame is
// truncated away.
func (w *WAL) Replay() ([]Row, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	var (
		rows   []Row
		offset int64
		header = make([]byte, walHeaderSize)
	)
	for {
		_, err := io.ReadFull(w.file, header)
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, w.truncateTail(offset, fmt.Errorf("short header: %w", err))
		}

		length := binary.LittleEndian.Uint32(header[0:4])
		sum := binary.LittleEndian.Uint32(header[4:8])
		data := make([]byte, length)
		if _, err := io.ReadFull(w.file, data); err != nil {
			return rows, w.truncateTail(offset, fmt.Errorf("short frame: %w", err))
		}
		if crc32.ChecksumIEEE(data) != sum {
			return rows, w.truncateTail(offset, errors.New("checksum mismatch"))
		}

		var batch []Row
		if err := json.Unmarshal(data, &batch); err != nil {
			return rows, w.truncateTail(offset, fmt.Errorf("unmarshal: %w", err))
		}
		rows = append(rows, batch...)
		offset += int64(walHeaderSize) + int64(length)
	}

	w.size = offset
	return rows, nil
}

func (w *WAL) truncateTail(offset int64, cause error) error {
	slog.Warn("wal tail discarded", "path", w.path, "offset", offset, "cause", cause)
	if err := w.file.Truncate(offset); err != nil {
		return fmt.Errorf("truncate wal: %w", err)
	}
	w.size = offset
	return nil
}
