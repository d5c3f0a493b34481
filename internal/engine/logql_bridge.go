package engine

import (
	"strconv"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/model"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/pkg/logql"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/store"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/taxonomy"
)

// CompileQuery parses a logql query into a store.Matcher usable by any
// backend. An empty query yields a nil matcher. threat:true|false is
// answered by tax.
func CompileQuery(query string, tax *taxonomy.Taxonomy) (store.Matcher, error) {
	node, err := logql.Parse(query)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, nil
	}
	return func(rec model.StoredLogRecord) bool {
		return logql.Match(node, recordView{rec: rec, tax: tax})
	}, nil
}

// recordView adapts a StoredLogRecord to logql.Record.
type recordView struct {
	rec model.StoredLogRecord
	tax *taxonomy.Taxonomy
}

func (v recordView) payload() model.LogPayload {
	if v.rec.Log == nil {
		return model.LogPayload{}
	}
	return *v.rec.Log
}

func (v recordView) Field(key string) string {
	switch key {
	case "anomaly_type", "type":
		return v.rec.AnomalyType
	case "severity", "sev":
		return v.rec.Severity
	case "processing_mode", "mode":
		return v.rec.ProcessingMode
	case "timestamp", "ts":
		return v.rec.Timestamp
	case "content", "message", "msg":
		return v.payload().Content
	case "event_template", "template":
		return v.payload().EventTemplate
	case "level", "lvl":
		return v.payload().Level
	case "component":
		return v.payload().Component
	case "line_id":
		return v.payload().LineID
	case "threat":
		return strconv.FormatBool(v.tax.IsThreat(v.rec.AnomalyType))
	}
	if n, ok := v.Number(key); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return ""
}

func (v recordView) Number(key string) (float64, bool) {
	switch key {
	case "confidence":
		if v.rec.Confidence != nil {
			return *v.rec.Confidence, true
		}
	case "anomaly_score", "score":
		if v.rec.AnomalyScore != nil {
			return *v.rec.AnomalyScore, true
		}
	case "id", "_id":
		return float64(v.rec.ID), true
	}
	return 0, false
}

func (v recordView) Text() []string {
	p := v.payload()
	return []string{p.Content, p.EventTemplate, p.Component, p.Level, v.rec.AnomalyType, v.rec.Severity}
}
