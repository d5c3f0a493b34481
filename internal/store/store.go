// Package store defines the durable record store used by the ingestion
// pipeline and the SQL-backed implementations of it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/model"
)

var (
	// ErrStoreUnavailable marks transient failures (I/O, connectivity, timeout).
	// Callers may retry.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidRecord marks a record that could not be encoded for storage.
	ErrInvalidRecord = errors.New("invalid record")
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Store is a durable, append-only record store. IDs are assigned by Append
// and strictly increase in insertion order; every read returns records in
// descending ID order.
type Store interface {
	// Append persists the batch atomically and returns the stored records in
	// batch order. An empty batch is a no-op.
	Append(ctx context.Context, recs []model.LogRecord) ([]model.StoredLogRecord, error)
	QueryRecent(ctx context.Context, limit int) ([]model.StoredLogRecord, error)
	// Search returns up to limit records accepted by match. A nil match accepts all.
	Search(ctx context.Context, match Matcher, limit int) ([]model.StoredLogRecord, error)
	Stats(ctx context.Context) (Stats, error)
	// ScanRange returns a sample for every record ingested in [start, end].
	ScanRange(ctx context.Context, start, end time.Time) ([]Sample, error)
	Close() error
}

// Matcher filters records during Search.
type Matcher func(model.StoredLogRecord) bool

// Stats holds cumulative counts over every stored record.
type Stats struct {
	Total      int64            `json:"total"`
	ByType     map[string]int64 `json:"by_type"`
	BySeverity map[string]int64 `json:"by_severity"`
}

// NewStats returns Stats with initialised maps.
func NewStats() Stats {
	return Stats{ByType: make(map[string]int64), BySeverity: make(map[string]int64)}
}

// Add counts one record.
func (s *Stats) Add(rec model.LogRecord) {
	s.Total++
	s.ByType[rec.AnomalyType]++
	s.BySeverity[rec.Severity]++
}

// Sample is the slice of a record needed for time bucketing.
type Sample struct {
	IngestedAt  time.Time
	AnomalyType string
}

// ClampLimit maps a requested limit into [1, MaxLimit], defaulting to DefaultLimit.
func ClampLimit(n int) int {
	if n <= 0 {
		return DefaultLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}

// Unavailable wraps err as ErrStoreUnavailable for operation op.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

// EncodeRecord serialises a record body. Values JSON cannot carry (NaN or
// infinite scores) yield ErrInvalidRecord.
func EncodeRecord(rec model.LogRecord) ([]byte, error) {
	for _, f := range []*float64{rec.Confidence, rec.AnomalyScore} {
		if f != nil && (math.IsNaN(*f) || math.IsInf(*f, 0)) {
			return nil, fmt.Errorf("%w: non-finite number", ErrInvalidRecord)
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return data, nil
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(data []byte) (model.LogRecord, error) {
	var rec model.LogRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return rec, nil
}
