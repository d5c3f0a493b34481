package engine_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/engine"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/model"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/storage"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/store"
	"github.com/Arshal-Agarwal/SIEM-Dashboard-Final/internal/taxonomy"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func openTest(t *testing.T, dir string, opts engine.Options) *engine.QueryEngine {
	t.Helper()
	qe, err := storage.OpenEngine(dir, opts)
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	return qe
}

func batch(types ...string) []model.LogRecord {
	out := make([]model.LogRecord, len(types))
	for i, typ := range types {
		out[i] = model.LogRecord{
			Log:         &model.LogPayload{Content: "line " + typ},
			AnomalyType: typ,
			Severity:    "high",
			Timestamp:   "10:00:00",
		}
	}
	return out
}

func ids(recs []model.StoredLogRecord) []uint64 {
	out := make([]uint64, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func segmentCount(t *testing.T, dir string) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "seg_*.nano"))
	if err != nil {
		t.Fatal(err)
	}
	return len(matches)
}

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	qe := openTest(t, t.TempDir(), engine.Options{})
	defer qe.Close()
	ctx := context.Background()

	first, err := qe.Append(ctx, batch("normal", "system_critical"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := qe.Append(ctx, batch("network_error"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first[0].ID != 1 || first[1].ID != 2 || second[0].ID != 3 {
		t.Fatalf("unexpected ids %v %v", ids(first), ids(second))
	}

	recent, err := qe.QueryRecent(ctx, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	got := ids(recent)
	if len(got) != 3 || got[0] != 3 || got[1] != 2 || got[2] != 1 {
		t.Fatalf("expected descending ids [3 2 1], got %v", got)
	}
	if recent[0].Content() != "line network_error" {
		t.Fatalf("record body not preserved: %+v", recent[0])
	}
}

func TestAppendEmptyBatchIsNoop(t *testing.T) {
	qe := openTest(t, t.TempDir(), engine.Options{})
	defer qe.Close()

	out, err := qe.Append(context.Background(), nil)
	if err != nil || len(out) != 0 {
		t.Fatalf("expected no-op, got %v %v", out, err)
	}
	st, _ := qe.Stats(context.Background())
	if st.Total != 0 {
		t.Fatalf("expected empty store, got %+v", st)
	}
}

func TestAppendInvalidRecordRejectsWholeBatch(t *testing.T) {
	qe := openTest(t, t.TempDir(), engine.Options{})
	defer qe.Close()

	recs := batch("normal", "normal")
	recs[1].Confidence = model.Float(math.NaN())
	if _, err := qe.Append(context.Background(), recs); !errors.Is(err, store.ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	recent, _ := qe.QueryRecent(context.Background(), 10)
	if len(recent) != 0 {
		t.Fatalf("expected nothing stored, got %v", ids(recent))
	}
}

func TestAppendCancelledContext(t *testing.T) {
	qe := openTest(t, t.TempDir(), engine.Options{})
	defer qe.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qe.Append(ctx, batch("normal")); !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestFlushSpansMemoryAndSegments(t *testing.T) {
	dir := t.TempDir()
	qe := openTest(t, dir, engine.Options{MaxTableRows: 3})
	defer qe.Close()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := qe.Append(ctx, batch("normal", "memory_error")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	// 8 rows with threshold 3 -> flushes after rows 4 and 8
	if n := segmentCount(t, dir); n != 2 {
		t.Fatalf("expected 2 segments, got %d", n)
	}

	recent, err := qe.QueryRecent(ctx, 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	got := ids(recent)
	want := []uint64{8, 7, 6, 5, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	st, _ := qe.Stats(ctx)
	if st.Total != 8 || st.ByType["memory_error"] != 4 || st.BySeverity["high"] != 8 {
		t.Fatalf("unexpected stats %+v", st)
	}

	if n := qe.MemTableBytes(); n != 0 {
		t.Fatalf("flushed memtable should be empty, got %d bytes", n)
	}
	if _, err := qe.Append(ctx, batch("normal")); err != nil {
		t.Fatal(err)
	}
	if qe.MemTableBytes() <= 0 {
		t.Fatal("pending rows should be counted")
	}
}

func TestRestartContinuesIDs(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	qe := openTest(t, dir, engine.Options{})
	if _, err := qe.Append(ctx, batch("normal", "normal", "filesystem_error")); err != nil {
		t.Fatal(err)
	}
	if err := qe.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	qe = openTest(t, dir, engine.Options{})
	defer qe.Close()
	out, err := qe.Append(ctx, batch("normal"))
	if err != nil {
		t.Fatal(err)
	}
	if out[0].ID != 4 {
		t.Fatalf("expected id 4 after restart, got %d", out[0].ID)
	}
	recent, _ := qe.QueryRecent(ctx, 10)
	if len(recent) != 4 || recent[1].AnomalyType != "filesystem_error" {
		t.Fatalf("unexpected records after restart %v", ids(recent))
	}
}

func TestWALReplayDiscardsTornTail(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	crashed := openTest(t, dir, engine.Options{})
	if _, err := crashed.Append(ctx, batch("normal", "permission_error")); err != nil {
		t.Fatal(err)
	}
	// no Close: simulate a crash, then a half-written frame
	f, err := os.OpenFile(filepath.Join(dir, "wal.log"), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte{0xff, 0x00, 0x00, 0x00, 0x01, 0x02}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	qe := openTest(t, dir, engine.Options{})
	defer qe.Close()

	recent, err := qe.QueryRecent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].AnomalyType != "permission_error" {
		t.Fatalf("expected both rows recovered, got %+v", recent)
	}
	out, err := qe.Append(ctx, batch("normal"))
	if err != nil {
		t.Fatal(err)
	}
	if out[0].ID != 3 {
		t.Fatalf("expected id 3 after recovery, got %d", out[0].ID)
	}
}

func TestSearchWithQuery(t *testing.T) {
	qe := openTest(t, t.TempDir(), engine.Options{MaxTableRows: 2})
	defer qe.Close()
	ctx := context.Background()

	recs := batch("normal", "authentication_error", "normal", "network_error")
	recs[3].Confidence = model.Float(0.95)
	recs[1].Confidence = model.Float(0.4)
	if _, err := qe.Append(ctx, recs); err != nil {
		t.Fatal(err)
	}

	match, err := engine.CompileQuery("threat:true AND confidence>0.5", taxonomy.Default())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got, err := qe.Search(ctx, match, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].AnomalyType != "network_error" {
		t.Fatalf("unexpected search result %+v", got)
	}

	match, _ = engine.CompileQuery(`"line normal"`, taxonomy.Default())
	got, _ = qe.Search(ctx, match, 1)
	if len(got) != 1 || got[0].ID != 3 {
		t.Fatalf("expected newest match only, got %v", ids(got))
	}

	if _, err := engine.CompileQuery("severity:", taxonomy.Default()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestReadsAreRepeatable(t *testing.T) {
	qe := openTest(t, t.TempDir(), engine.Options{MaxTableRows: 2})
	defer qe.Close()
	ctx := context.Background()

	recs := batch("normal", "memory_error", "normal", "network_error", "system_critical")
	recs[1].Confidence = model.Float(0.7)
	if _, err := qe.Append(ctx, recs); err != nil {
		t.Fatal(err)
	}

	first, err := qe.QueryRecent(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	second, err := qe.QueryRecent(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 5 || !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated reads differ:\n%v\n%v", ids(first), ids(second))
	}

	statsA, err := qe.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	statsB, _ := qe.Stats(ctx)
	if !reflect.DeepEqual(statsA, statsB) {
		t.Fatalf("repeated stats differ: %+v vs %+v", statsA, statsB)
	}
}

func TestScanRange(t *testing.T) {
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	qe := openTest(t, t.TempDir(), engine.Options{MaxTableRows: 2, Now: clk.Now})
	defer qe.Close()
	ctx := context.Background()

	qe.Append(ctx, batch("normal", "system_critical"))
	clk.now = clk.now.Add(10 * time.Minute)
	qe.Append(ctx, batch("memory_error"))

	samples, err := qe.ScanRange(ctx, clk.now.Add(-time.Minute), clk.now)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 1 || samples[0].AnomalyType != "memory_error" {
		t.Fatalf("unexpected samples %+v", samples)
	}

	samples, _ = qe.ScanRange(ctx, clk.now.Add(-time.Hour), clk.now)
	points := store.Bucketize(samples, 5*time.Minute, taxonomy.Default().IsThreat)
	if len(points) != 2 || points[0].Count != 2 || points[0].Threats != 1 || points[1].Threats != 1 {
		t.Fatalf("unexpected histogram %+v", points)
	}
}

func TestPruneRetention(t *testing.T) {
	dir := t.TempDir()
	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	qe := openTest(t, dir, engine.Options{MaxTableRows: 2, Retention: time.Hour, Now: clk.Now})
	defer qe.Close()
	ctx := context.Background()

	qe.Append(ctx, batch("system_critical", "normal")) // flushed: ids 1-2
	clk.now = clk.now.Add(2 * time.Hour)
	qe.Append(ctx, batch("normal")) // memtable: id 3

	removed, err := qe.Prune()
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 || segmentCount(t, dir) != 0 {
		t.Fatalf("expected expired segment removed, removed=%d", removed)
	}

	st, _ := qe.Stats(ctx)
	if st.Total != 1 || st.ByType["system_critical"] != 0 {
		t.Fatalf("stats not adjusted %+v", st)
	}
	recent, _ := qe.QueryRecent(ctx, 10)
	if len(recent) != 1 || recent[0].ID != 3 {
		t.Fatalf("unexpected remaining records %v", ids(recent))
	}

	// IDs stay monotonic once every segment has expired
	qe.Close()
	qe2 := openTest(t, dir, engine.Options{})
	defer qe2.Close()
	out, _ := qe2.Append(ctx, batch("normal"))
	if out[0].ID != 4 {
		t.Fatalf("expected id 4, got %d", out[0].ID)
	}
}

func TestPruneMaxRecords(t *testing.T) {
	dir := t.TempDir()
	qe := openTest(t, dir, engine.Options{MaxTableRows: 2, MaxRecords: 3})
	defer qe.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		qe.Append(ctx, batch("normal", "normal")) // three segments of two rows
	}

	removed, err := qe.Prune()
	if err != nil {
		t.Fatal(err)
	}
	// 6 rows, cap 3: dropping the oldest segment leaves 4, dropping another would leave 2
	if removed != 2 || segmentCount(t, dir) != 2 {
		t.Fatalf("expected one segment removed, removed=%d segments=%d", removed, segmentCount(t, dir))
	}
	recent, _ := qe.QueryRecent(ctx, 10)
	if got := ids(recent); len(got) != 4 || got[3] != 3 {
		t.Fatalf("unexpected remaining ids %v", got)
	}
}

func TestSegmentNamesCarryIDRange(t *testing.T) {
	dir := t.TempDir()
	qe := openTest(t, dir, engine.Options{MaxTableRows: 2})
	qe.Append(context.Background(), batch("normal", "normal"))
	qe.Close()

	matches, _ := filepath.Glob(filepath.Join(dir, "seg_*.nano"))
	if len(matches) != 1 || !strings.HasPrefix(filepath.Base(matches[0]), "seg_1_2_") {
		t.Fatalf("unexpected segment files %v", matches)
	}
}
