package model

import "time"

// LogPayload is the producer-supplied log line attached to a record.
// Every field is optional and treated as an opaque string.
type LogPayload struct {
	Content       string `json:"content,omitempty"`
	EventTemplate string `json:"event_template,omitempty"`
	Level         string `json:"level,omitempty"`
	Component     string `json:"component,omitempty"`
	LineID        string `json:"line_id,omitempty"`
}

// LogRecord represents one ingested log/anomaly entry as submitted by a producer.
// The anomaly fields arrive pre-computed by the upstream detector.
type LogRecord struct {
	Log            *LogPayload `json:"log,omitempty"`
	AnomalyType    string      `json:"anomaly_type,omitempty"`
	Severity       string      `json:"severity,omitempty"`
	Confidence     *float64    `json:"confidence,omitempty"`
	AnomalyScore   *float64    `json:"anomaly_score,omitempty"`
	ProcessingMode string      `json:"processing_mode,omitempty"`
	Timestamp      string      `json:"timestamp,omitempty"` // full date-time or bare HH:MM:SS
}

// StoredLogRecord is a LogRecord after the store accepted it.
// ID is assigned at insert and strictly increases with insertion order.
type StoredLogRecord struct {
	ID uint64 `json:"_id"`
	LogRecord
	IngestedAt time.Time `json:"ingested_at"`
}

// Content returns the log line content, or "" when the record carries no payload.
func (r LogRecord) Content() string {
	if r.Log == nil {
		return ""
	}
	return r.Log.Content
}

// Float returns a pointer to v, for building records with optional numeric fields.
func Float(v float64) *float64 {
	return &v
}
