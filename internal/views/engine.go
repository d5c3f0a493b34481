// Package views derives dashboard aggregates (threat ratios, per-type
// distribution and a sliding time-series window) from a record snapshot plus
// the records broadcast after it.
package views

import (
	"strconv"
	"time"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/model"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/taxonomy"
)

// DefaultWindowSize is the number of records kept for time-series rendering.
const DefaultWindowSize = 10

// Options tunes an Engine.
type Options struct {
	WindowSize int
	Location   *time.Location
	Now        func() time.Time
}

// WindowPoint is one entry of the recent window, oldest first.
type WindowPoint struct {
	ID          uint64 `json:"id"`
	Label       string `json:"label"`
	AnomalyType string `json:"anomaly_type,omitempty"`
	Threat      bool   `json:"threat"`
	Cumulative  int    `json:"cumulative_threats"`
}

// View is a point-in-time copy of the aggregates.
type View struct {
	Total             int            `json:"total"`
	ThreatCount       int            `json:"threat_count"`
	NonThreatCount    int            `json:"non_threat_count"`
	ThreatPercent     string         `json:"threat_percent"`
	NonThreatPercent  string         `json:"non_threat_percent"`
	RecentWindow      []WindowPoint  `json:"recent_window"`
	CumulativeThreats []int          `json:"cumulative_threats"`
	PerType           map[string]int `json:"per_type"`
}

// Engine folds records into aggregates for one dashboard connection.
// It is not safe for concurrent use.
type Engine struct {
	tax  *taxonomy.Taxonomy
	opts Options

	total      int
	threats    int
	perType    map[string]int
	window     []model.StoredLogRecord // chronological
	cumulative []int
}

// New creates an empty engine classifying with tax.
func New(tax *taxonomy.Taxonomy, opts Options) *Engine {
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Engine{tax: tax, opts: opts}
	e.Reset()
	return e
}

// Load replaces all state with aggregates computed from snapshot, which is
// expected in descending recency order (as the store returns it).
func (e *Engine) Load(snapshot []model.StoredLogRecord) {
	e.Reset()
	for _, rec := range snapshot {
		e.count(rec)
	}

	n := len(snapshot)
	if n > e.opts.WindowSize {
		n = e.opts.WindowSize
	}
	for i := n - 1; i >= 0; i-- {
		e.window = append(e.window, snapshot[i])
	}
	e.recomputeCumulative()
}

// Apply folds one newly broadcast record.
func (e *Engine) Apply(rec model.StoredLogRecord) {
	e.count(rec)

	if len(e.window) == e.opts.WindowSize {
		copy(e.window, e.window[1:])
		e.window = e.window[:len(e.window)-1]
	}
	e.window = append(e.window, rec)
	e.recomputeCumulative()
}

// Reset clears every aggregate. This is the dashboard's "clear logs": the
// store is untouched.
func (e *Engine) Reset() {
	e.total = 0
	e.threats = 0
	e.perType = make(map[string]int)
	e.window = make([]model.StoredLogRecord, 0, e.opts.WindowSize)
	e.cumulative = e.cumulative[:0]
}

// IsThreat classifies rec with the engine's taxonomy.
func (e *Engine) IsThreat(rec model.StoredLogRecord) bool {
	return e.tax.IsThreat(rec.AnomalyType)
}

// View returns a copy of the current aggregates.
func (e *Engine) View() View {
	v := View{
		Total:             e.total,
		ThreatCount:       e.threats,
		NonThreatCount:    e.total - e.threats,
		RecentWindow:      make([]WindowPoint, len(e.window)),
		CumulativeThreats: make([]int, len(e.cumulative)),
		PerType:           make(map[string]int, len(e.perType)),
	}
	v.ThreatPercent = percent(v.ThreatCount, v.Total)
	v.NonThreatPercent = percent(v.NonThreatCount, v.Total)

	now := e.opts.Now()
	for i, rec := range e.window {
		v.RecentWindow[i] = WindowPoint{
			ID:          rec.ID,
			Label:       FormatTimestamp(rec.Timestamp, now, e.opts.Location),
			AnomalyType: rec.AnomalyType,
			Threat:      e.IsThreat(rec),
			Cumulative:  e.cumulative[i],
		}
	}
	copy(v.CumulativeThreats, e.cumulative)
	for k, n := range e.perType {
		v.PerType[k] = n
	}
	return v
}

func (e *Engine) count(rec model.StoredLogRecord) {
	e.total++
	if e.IsThreat(rec) {
		e.threats++
		e.perType[rec.AnomalyType]++
	}
}

func (e *Engine) recomputeCumulative() {
	e.cumulative = e.cumulative[:0]
	running := 0
	for _, rec := range e.window {
		if e.IsThreat(rec) {
			running++
		}
		e.cumulative = append(e.cumulative, running)
	}
}

// percent formats part/total with one decimal; a zero total yields "0.0".
func percent(part, total int) string {
	denom := total
	if denom == 0 {
		denom = 1
	}
	return strconv.FormatFloat(float64(part)/float64(denom)*100, 'f', 1, 64)
}
