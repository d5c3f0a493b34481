// Package ingest validates and normalizes producer batches, persists them and
// publishes every stored record to the broadcast hub.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fastjson"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/model"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/observability"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/store"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/taxonomy"
)

// ErrInvalidPayload rejects a batch that is not a JSON array or that fails
// validation. It is never retryable.
var ErrInvalidPayload = errors.New("invalid payload")

// ErrConfidenceRange is the strict-mode validation failure. It wraps
// ErrInvalidPayload.
var ErrConfidenceRange = fmt.Errorf("%w: confidence must be within [0, 1]", ErrInvalidPayload)

const DefaultStoreTimeout = 5 * time.Second

// Publisher receives every record after it has been persisted.
type Publisher interface {
	Publish(rec model.StoredLogRecord)
}

// Options configures a Service.
type Options struct {
	// StrictConfidence rejects batches carrying a confidence outside [0, 1].
	StrictConfidence bool
	StoreTimeout     time.Duration
	Taxonomy         *taxonomy.Taxonomy
	Metrics          observability.Recorder
	Now              func() time.Time
}

// Result summarizes an accepted batch. First and Last are zero for an empty batch.
type Result struct {
	Count int    `json:"count"`
	First uint64 `json:"first_id,omitempty"`
	Last  uint64 `json:"last_id,omitempty"`
}

// Service is the ingestion pipeline shared by the HTTP endpoint and the AMQP consumer.
type Service struct {
	store  store.Store
	pub    Publisher
	opts   Options
	parser fastjson.ParserPool
}

func NewService(st store.Store, pub Publisher, opts Options) *Service {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultStoreTimeout
	}
	if opts.Taxonomy == nil {
		opts.Taxonomy = taxonomy.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: st, pub: pub, opts: opts}
}

// Ingest parses body as a JSON array of records, appends them to the store
// as one batch and publishes each stored record in batch order.
func (s *Service) Ingest(ctx context.Context, body []byte) (Result, error) {
	recs, err := s.Parse(body)
	if err != nil {
		s.opts.Metrics.IncCounter(observability.BatchesRejected, 1)
		return Result{}, err
	}
	return s.IngestRecords(ctx, recs)
}

// IngestRecords persists already-normalized records and publishes them.
func (s *Service) IngestRecords(ctx context.Context, recs []model.LogRecord) (Result, error) {
	if len(recs) == 0 {
		return Result{}, nil
	}
	if err := s.validate(recs); err != nil {
		s.opts.Metrics.IncCounter(observability.BatchesRejected, 1)
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	start := time.Now()
	stored, err := s.store.Append(ctx, recs)
	s.opts.Metrics.ObserveLatency(observability.StoreLatency, time.Since(start).Seconds())
	if err != nil {
		s.opts.Metrics.IncCounter(observability.StoreErrors, 1)
		if ctx.Err() != nil && !errors.Is(err, store.ErrStoreUnavailable) {
			err = store.Unavailable("append", err)
		}
		return Result{}, fmt.Errorf("ingest batch of %d: %w", len(recs), err)
	}

	threats := 0
	for _, rec := range stored {
		if s.opts.Taxonomy.IsThreat(rec.AnomalyType) {
			threats++
		}
		if s.pub != nil {
			s.pub.Publish(rec)
		}
	}
	s.opts.Metrics.IncCounter(observability.RecordsIngested, float64(len(stored)))
	s.opts.Metrics.IncCounter(observability.ThreatsIngested, float64(threats))

	res := Result{Count: len(stored)}
	if len(stored) > 0 {
		res.First = stored[0].ID
		res.Last = stored[len(stored)-1].ID
	}
	slog.Debug("batch ingested", "count", res.Count, "first_id", res.First, "last_id", res.Last, "threats", threats)
	return res, nil
}

// Parse decodes and normalizes a batch without persisting it.
func (s *Service) Parse(body []byte) ([]model.LogRecord, error) {
	p := s.parser.Get()
	defer s.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if v.Type() != fastjson.TypeArray {
		return nil, fmt.Errorf("%w: expected a JSON array, got %s", ErrInvalidPayload, v.Type())
	}

	arr, _ := v.Array()
	now := s.opts.Now().UTC().Format("15:04:05")
	recs := make([]model.LogRecord, 0, len(arr))
	for _, el := range arr {
		// non-object entries are stored as empty records
		if el.Type() != fastjson.TypeObject {
			recs = append(recs, model.LogRecord{Timestamp: now})
			continue
		}
		recs = append(recs, normalize(el, now))
	}
	return recs, nil
}

func (s *Service) validate(recs []model.LogRecord) error {
	if !s.opts.StrictConfidence {
		return nil
	}
	for i, rec := range recs {
		if rec.Confidence != nil && (*rec.Confidence < 0 || *rec.Confidence > 1) {
			return fmt.Errorf("%w: element %d has %v", ErrConfidenceRange, i, *rec.Confidence)
		}
	}
	return nil
}

func normalize(v *fastjson.Value, now string) model.LogRecord {
	rec := model.LogRecord{
		AnomalyType:    text(v.Get("anomaly_type")),
		Severity:       text(v.Get("severity")),
		Confidence:     number(v.Get("confidence")),
		AnomalyScore:   number(v.Get("anomaly_score")),
		ProcessingMode: text(v.Get("processing_mode")),
		Timestamp:      text(v.Get("timestamp")),
	}
	if rec.Timestamp == "" {
		rec.Timestamp = now
	}

	if lv := v.Get("log"); lv != nil && lv.Type() == fastjson.TypeObject {
		rec.Log = &model.LogPayload{
			Content:       text(lv.Get("content")),
			EventTemplate: text(lv.Get("event_template")),
			Level:         text(lv.Get("level")),
			Component:     text(lv.Get("component")),
			LineID:        text(lv.Get("line_id")),
		}
	}
	return rec
}

// text returns strings as-is and the JSON text of numbers and booleans.
// Anything else reads as absent.
func text(v *fastjson.Value) string {
	if v == nil {
		return ""
	}
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber, fastjson.TypeTrue, fastjson.TypeFalse:
		return v.String()
	}
	return ""
}

// number accepts JSON numbers and numeric strings. Non-finite values read as absent.
func number(v *fastjson.Value) *float64 {
	if v == nil {
		return nil
	}
	var f float64
	switch v.Type() {
	case fastjson.TypeNumber:
		n, err := v.Float64()
		if err != nil {
			return nil
		}
		f = n
	case fastjson.TypeString:
		n, err := strconv.ParseFloat(strings.TrimSpace(string(v.GetStringBytes())), 64)
		if err != nil {
			return nil
		}
		f = n
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
