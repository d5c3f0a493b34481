// Package engine is the default file-backed record store: an in-memory
// MemTable guarded by a write-ahead log, flushed into immutable zstd
// segments by the storage package.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/model"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/store"
)

// DefaultMaxTableRows is the MemTable size that triggers a flush.
const DefaultMaxTableRows = 10000

// Options configures a QueryEngine.
type Options struct {
	MaxTableRows int
	Retention    time.Duration
	MaxRecords   int64
	Now          func() time.Time
}

// QueryEngine handles appends, queries and the data lifecycle across the
// MemTable and persisted segments.
type QueryEngine struct {
	dataDir      string
	mt           *MemTable
	readSegment  SegmentReaderFunc
	writeSegment SegmentWriterFunc
	opts         Options

	// mu serialises appends and flushes; readers take it only to snapshot.
	mu     sync.RWMutex
	nextID uint64

	globalStats PersistentStats
	statsLock   sync.RWMutex

	wal *WAL
}

// Open creates the data directory if needed, recovers the ID sequence from
// stats, segments and the WAL, and replays unflushed batches.
func Open(dataDir string, reader SegmentReaderFunc, writer SegmentWriterFunc, opts Options) (*QueryEngine, error) {
	if opts.MaxTableRows <= 0 {
		opts.MaxTableRows = DefaultMaxTableRows
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	wal, err := OpenWAL(filepath.Join(dataDir, "wal.log"))
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}

	qe := &QueryEngine{
		dataDir:      dataDir,
		mt:           NewMemTable(),
		readSegment:  reader,
		writeSegment: writer,
		opts:         opts,
		globalStats:  loadPersistentStats(dataDir),
		wal:          wal,
	}

	lastID := qe.globalStats.LastID
	segs, err := listSegments(dataDir)
	if err != nil {
		wal.Close()
		return nil, err
	}
	if len(segs) > 0 && segs[0].maxID > lastID {
		lastID = segs[0].maxID
	}

	// Crash recovery: rows already flushed to a segment are skipped.
	recovered, err := wal.Replay()
	if err != nil {
		wal.Close()
		return nil, fmt.Errorf("replay wal: %w", err)
	}
	flushed := lastID
	var pending []Row
	for _, r := range recovered {
		if r.ID <= flushed {
			continue
		}
		pending = append(pending, r)
		if r.ID > lastID {
			lastID = r.ID
		}
	}
	if len(pending) > 0 {
		slog.Info("crash recovery: replaying wal", "rows", len(pending))
		qe.mt.AppendBatch(pending)
	}

	qe.nextID = lastID + 1
	return qe, nil
}

// Append persists the batch: one WAL frame, then the MemTable.
func (qe *QueryEngine) Append(ctx context.Context, recs []model.LogRecord) ([]model.StoredLogRecord, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("append", err)
	}

	bodies := make([][]byte, len(recs))
	for i, rec := range recs {
		b, err := store.EncodeRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		bodies[i] = b
	}

	qe.mu.Lock()
	defer qe.mu.Unlock()

	now := qe.opts.Now().UTC()
	rows := make([]Row, len(recs))
	out := make([]model.StoredLogRecord, len(recs))
	for i, rec := range recs {
		id := qe.nextID + uint64(i)
		rows[i] = Row{
			ID:          id,
			IngestedAt:  now.UnixNano(),
			AnomalyType: rec.AnomalyType,
			Severity:    rec.Severity,
			Body:        bodies[i],
		}
		out[i] = model.StoredLogRecord{ID: id, LogRecord: rec, IngestedAt: now}
	}

	if err := qe.wal.WriteBatch(rows); err != nil {
		return nil, store.Unavailable("append", err)
	}
	qe.mt.AppendBatch(rows)
	qe.nextID += uint64(len(rows))

	if qe.mt.Len() >= qe.opts.MaxTableRows {
		slog.Info("memtable reached threshold, flushing", "rows", qe.mt.Len())
		if err := qe.flushLocked(); err != nil {
			// rows stay in the WAL and MemTable; the next append retries
			slog.Error("flush failed", "err", err)
		}
	}

	return out, nil
}

// Flush writes the current MemTable to a segment and resets it.
func (qe *QueryEngine) Flush() error {
	qe.mu.Lock()
	defer qe.mu.Unlock()
	return qe.flushLocked()
}

func (qe *QueryEngine) flushLocked() error {
	if qe.mt.Len() == 0 {
		return nil
	}

	minID, maxID, maxTs := qe.mt.Bounds()
	filename := segmentName(minID, maxID, maxTs)
	path := filepath.Join(qe.dataDir, filename)
	tmpPath := path + ".tmp"

	// === Step 1: Write segment to disk ===
	if err := qe.writeSegment(tmpPath, qe.mt); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// === Step 2: Stats transfer ===
	total, byType, bySev := qe.mt.counts()
	qe.statsLock.Lock()
	qe.globalStats.add(total, byType, bySev)
	if maxID > qe.globalStats.LastID {
		qe.globalStats.LastID = maxID
	}
	snapshot := qe.globalStats
	qe.statsLock.Unlock()

	// === Step 3: Persist stats to disk ===
	if err := savePersistentStats(qe.dataDir, snapshot); err != nil {
		slog.Error("stats persist failed", "err", err)
	}

	// === Step 4: Reset MemTable and WAL ===
	qe.mt.Reset()
	if err := qe.wal.Reset(); err != nil {
		// replay skips rows already covered by the segment
		slog.Error("wal reset failed", "err", err)
	}

	slog.Info("flushed to disk", "segment", filename, "rows", total)
	return nil
}

func (qe *QueryEngine) QueryRecent(ctx context.Context, limit int) ([]model.StoredLogRecord, error) {
	return qe.Search(ctx, nil, limit)
}

// Search scans memory and then segments newest first, returning up to limit
// records accepted by match.
func (qe *QueryEngine) Search(ctx context.Context, match store.Matcher, limit int) ([]model.StoredLogRecord, error) {
	limit = store.ClampLimit(limit)

	memRows, segs, err := qe.snapshot()
	if err != nil {
		return nil, store.Unavailable("search", err)
	}

	result := make([]model.StoredLogRecord, 0)
	collect := func(r Row) bool {
		rec, err := r.Stored()
		if err != nil {
			slog.Warn("skipping undecodable row", "id", r.ID, "err", err)
			return true
		}
		if match == nil || match(rec) {
			result = append(result, rec)
		}
		return len(result) < limit
	}

	for _, r := range memRows {
		if !collect(r) {
			return result, nil
		}
	}

	for _, seg := range segs {
		if err := ctx.Err(); err != nil {
			return nil, store.Unavailable("search", err)
		}
		rows, err := qe.readSegment(seg.path)
		if err != nil {
			// Removed by the cleaner or unreadable; continue with other segments
			slog.Warn("segment read failed", "segment", filepath.Base(seg.path), "err", err)
			continue
		}
		for i := len(rows) - 1; i >= 0; i-- {
			if !collect(rows[i]) {
				return result, nil
			}
		}
	}

	return result, nil
}

// snapshot captures the MemTable rows and the segment list consistently
// with respect to flushes.
func (qe *QueryEngine) snapshot() ([]Row, []segmentInfo, error) {
	qe.mu.RLock()
	defer qe.mu.RUnlock()

	segs, err := listSegments(qe.dataDir)
	if err != nil {
		return nil, nil, err
	}
	return qe.mt.Rows(), segs, nil
}

// Stats merges the persisted segment stats with the MemTable.
func (qe *QueryEngine) Stats(ctx context.Context) (store.Stats, error) {
	qe.mu.RLock()
	total, byType, bySev := qe.mt.counts()
	qe.statsLock.RLock()
	disk := qe.globalStats
	st := store.NewStats()
	st.Total = disk.TotalRecords + total
	for k, v := range disk.ByType {
		st.ByType[k] += v
	}
	for k, v := range disk.BySeverity {
		st.BySeverity[k] += v
	}
	qe.statsLock.RUnlock()
	qe.mu.RUnlock()

	for k, v := range byType {
		st.ByType[k] += v
	}
	for k, v := range bySev {
		st.BySeverity[k] += v
	}
	return st, nil
}

// DiskUsage returns the total size of the data directory in bytes.
func (qe *QueryEngine) DiskUsage() int64 {
	var size int64
	_ = filepath.Walk(qe.dataDir, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

// MemTableBytes estimates the memory held by rows not yet flushed.
func (qe *QueryEngine) MemTableBytes() int64 {
	return qe.mt.GetSize()
}

// Close flushes pending rows and closes the WAL.
func (qe *QueryEngine) Close() error {
	qe.mu.Lock()
	defer qe.mu.Unlock()

	if err := qe.flushLocked(); err != nil {
		slog.Error("final flush failed, rows remain in wal", "err", err)
	}
	return qe.wal.Close()
}

var _ store.Store = (*QueryEngine)(nil)
