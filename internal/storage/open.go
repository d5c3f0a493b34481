package storage

import (
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/engine"
)

// OpenEngine opens the file-backed store in dataDir with the zstd segment codec.
func OpenEngine(dataDir string, opts engine.Options) (*engine.QueryEngine, error) {
	writer, err := NewColumnWriter()
	if err != nil {
		return nil, err
	}
	reader, err := NewColumnReader()
	if err != nil {
		return nil, err
	}
	return engine.Open(dataDir, reader.ReadSegment, writer.WriteSegment, opts)
}
