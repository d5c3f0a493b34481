package engine

import (
	"sync"
	"sync/atomic"
)

// MemTable stores recently appended rows in columnar format until they are
// flushed to a segment. Columns are exported for the storage package.
type MemTable struct {
	mu sync.RWMutex

	IDCol   []uint64
	TsCol   []int64
	TypeCol []string
	SevCol  []string
	BodyCol [][]byte

	// SizeBytes is the estimated memory usage in bytes.
	SizeBytes int64
}

// NewMemTable initializes MemTable with pre-allocated capacity.
func NewMemTable() *MemTable {
	cap := 4096
	return &MemTable{
		IDCol:   make([]uint64, 0, cap),
		TsCol:   make([]int64, 0, cap),
		TypeCol: make([]string, 0, cap),
		SevCol:  make([]string, 0, cap),
		BodyCol: make([][]byte, 0, cap),
	}
}

// AppendBatch adds rows in order. IDs must be ascending.
func (mt *MemTable) AppendBatch(rows []Row) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	var added int64
	for _, r := range rows {
		mt.IDCol = append(mt.IDCol, r.ID)
		mt.TsCol = append(mt.TsCol, r.IngestedAt)
		mt.TypeCol = append(mt.TypeCol, r.AnomalyType)
		mt.SevCol = append(mt.SevCol, r.Severity)
		mt.BodyCol = append(mt.BodyCol, r.Body)
		added += int64(len(r.Body) + len(r.AnomalyType) + len(r.Severity) + 16)
	}
	atomic.AddInt64(&mt.SizeBytes, added)
}

// GetSize returns the estimated memory usage in bytes.
func (mt *MemTable) GetSize() int64 {
	return atomic.LoadInt64(&mt.SizeBytes)
}

// Len returns the number of rows.
func (mt *MemTable) Len() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return len(mt.IDCol)
}

// Reset clears all column data for memory reuse.
func (mt *MemTable) Reset() {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	mt.IDCol = mt.IDCol[:0]
	mt.TsCol = mt.TsCol[:0]
	mt.TypeCol = mt.TypeCol[:0]
	mt.SevCol = mt.SevCol[:0]
	mt.BodyCol = mt.BodyCol[:0]
	atomic.StoreInt64(&mt.SizeBytes, 0)
}

// Bounds returns the first and last ID and the newest ingest time.
func (mt *MemTable) Bounds() (minID, maxID uint64, maxTs int64) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	n := len(mt.IDCol)
	if n == 0 {
		return 0, 0, 0
	}
	for _, ts := range mt.TsCol {
		if ts > maxTs {
			maxTs = ts
		}
	}
	return mt.IDCol[0], mt.IDCol[n-1], maxTs
}

// Rows returns a copy of the rows, newest first.
func (mt *MemTable) Rows() []Row {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	n := len(mt.IDCol)
	out := make([]Row, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, mt.row(i))
	}
	return out
}

// Ascending returns a copy of the rows, oldest first.
func (mt *MemTable) Ascending() []Row {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	out := make([]Row, len(mt.IDCol))
	for i := range mt.IDCol {
		out[i] = mt.row(i)
	}
	return out
}

func (mt *MemTable) row(i int) Row {
	return Row{
		ID:          mt.IDCol[i],
		IngestedAt:  mt.TsCol[i],
		AnomalyType: mt.TypeCol[i],
		Severity:    mt.SevCol[i],
		Body:        mt.BodyCol[i],
	}
}

// counts tallies rows per anomaly type and severity.
func (mt *MemTable) counts() (total int64, byType, bySev map[string]int64) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	byType = make(map[string]int64)
	bySev = make(map[string]int64)
	for i := range mt.IDCol {
		byType[mt.TypeCol[i]]++
		bySev[mt.SevCol[i]]++
	}
	return int64(len(mt.IDCol)), byType, bySev
}
