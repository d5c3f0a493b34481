package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RunCleaner periodically removes segments that fall outside the retention
// bounds until ctx is done.
func (qe *QueryEngine) RunCleaner(ctx context.Context, interval time.Duration) {
	if qe.opts.Retention <= 0 && qe.opts.MaxRecords <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("cleaner started", "retention", qe.opts.Retention, "max_records", qe.opts.MaxRecords, "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := qe.Prune(); err != nil {
				slog.Warn("cleaner failed", "err", err)
			}
		}
	}
}

// Prune deletes whole segments that are older than the retention period,
// then the oldest segments while more than MaxRecords would remain. The
// MemTable is never pruned, so MaxRecords is enforced at segment
// granularity. It returns the number of rows removed.
func (qe *QueryEngine) Prune() (int64, error) {
	qe.mu.Lock()
	defer qe.mu.Unlock()

	segs, err := listSegments(qe.dataDir)
	if err != nil {
		return 0, err
	}

	var threshold int64
	if qe.opts.Retention > 0 {
		threshold = qe.opts.Now().Add(-qe.opts.Retention).UnixNano()
	}

	qe.statsLock.RLock()
	remaining := qe.globalStats.TotalRecords
	qe.statsLock.RUnlock()
	remaining += int64(qe.mt.Len())

	var removed int64
	// oldest first
	for i := len(segs) - 1; i >= 0; i-- {
		seg := segs[i]
		expired := qe.opts.Retention > 0 && seg.maxTs < threshold
		overCap := qe.opts.MaxRecords > 0 && remaining > qe.opts.MaxRecords
		if !expired && !overCap {
			break
		}

		rows, err := qe.readSegment(seg.path)
		if err != nil {
			slog.Warn("cleaner could not read segment", "segment", filepath.Base(seg.path), "err", err)
			continue
		}
		if !expired && remaining-int64(len(rows)) < qe.opts.MaxRecords {
			break
		}

		if err := os.Remove(seg.path); err != nil {
			slog.Error("cleaner failed to delete segment", "segment", filepath.Base(seg.path), "err", err)
			continue
		}

		qe.statsLock.Lock()
		qe.globalStats.remove(rows)
		qe.statsLock.Unlock()

		remaining -= int64(len(rows))
		removed += int64(len(rows))
		slog.Info("segment deleted", "segment", filepath.Base(seg.path), "rows", len(rows), "expired", expired)
	}

	if removed > 0 {
		qe.statsLock.RLock()
		snapshot := qe.globalStats
		qe.statsLock.RUnlock()
		if err := savePersistentStats(qe.dataDir, snapshot); err != nil {
			slog.Error("stats persist failed", "err", err)
		}
	}
	return removed, nil
}
