package engine

import (
	"encoding/json"
	"time"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/model"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/store"
)

// Row is a single stored record (row-oriented view).
// Used in WAL frames, when reading segments and when returning query results.
type Row struct {
	ID          uint64          `json:"id"`
	IngestedAt  int64           `json:"ts"` // unix nanos
	AnomalyType string          `json:"type,omitempty"`
	Severity    string          `json:"sev,omitempty"`
	Body        json.RawMessage `json:"body"`
}

// Stored decodes the row body into a StoredLogRecord.
func (r Row) Stored() (model.StoredLogRecord, error) {
	rec, err := store.DecodeRecord(r.Body)
	if err != nil {
		return model.StoredLogRecord{}, err
	}
	return model.StoredLogRecord{
		ID:         r.ID,
		LogRecord:  rec,
		IngestedAt: time.Unix(0, r.IngestedAt).UTC(),
	}, nil
}
