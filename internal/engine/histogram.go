package engine

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/store"
)

// ScanRange returns a sample for every row ingested within [start, end].
// Segments whose newest row predates start are pruned by filename.
func (qe *QueryEngine) ScanRange(ctx context.Context, start, end time.Time) ([]store.Sample, error) {
	lo, hi := start.UnixNano(), end.UnixNano()

	memRows, segs, err := qe.snapshot()
	if err != nil {
		return nil, store.Unavailable("scan range", err)
	}

	var samples []store.Sample
	add := func(r Row) {
		if r.IngestedAt < lo || r.IngestedAt > hi {
			return
		}
		samples = append(samples, store.Sample{
			IngestedAt:  time.Unix(0, r.IngestedAt).UTC(),
			AnomalyType: r.AnomalyType,
		})
	}

	for _, r := range memRows {
		add(r)
	}

	for _, seg := range segs {
		if seg.maxTs < lo {
			continue // Segment is too old
		}
		if err := ctx.Err(); err != nil {
			return nil, store.Unavailable("scan range", err)
		}
		rows, err := qe.readSegment(seg.path)
		if err != nil {
			slog.Warn("segment read failed", "segment", filepath.Base(seg.path), "err", err)
			continue
		}
		for _, r := range rows {
			add(r)
		}
	}

	return samples, nil
}
