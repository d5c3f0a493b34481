package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// PersistentStats holds statistics over flushed segments that survive restarts.
type PersistentStats struct {
	TotalRecords int64            `json:"total_records"`
	ByType       map[string]int64 `json:"by_type"`
	BySeverity   map[string]int64 `json:"by_severity"`
	// LastID is the highest ID ever flushed, so IDs stay monotonic even
	// after every segment has expired.
	LastID uint64 `json:"last_id"`
}

// statsFileName is the filename for persisted stats
const statsFileName = ".siemd.stats"

func newPersistentStats() PersistentStats {
	return PersistentStats{
		ByType:     make(map[string]int64),
		BySeverity: make(map[string]int64),
	}
}

// loadPersistentStats reads stats from disk. A missing or corrupt file
// yields empty stats.
func loadPersistentStats(dataDir string) PersistentStats {
	stats := newPersistentStats()

	data, err := os.ReadFile(filepath.Join(dataDir, statsFileName))
	if err != nil {
		return stats
	}
	if err := json.Unmarshal(data, &stats); err != nil {
		return newPersistentStats()
	}

	if stats.ByType == nil {
		stats.ByType = make(map[string]int64)
	}
	if stats.BySeverity == nil {
		stats.BySeverity = make(map[string]int64)
	}
	return stats
}

// savePersistentStats writes stats to disk atomically.
func savePersistentStats(dataDir string, stats PersistentStats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(dataDir, statsFileName)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// add merges counts into the stats.
func (s *PersistentStats) add(total int64, byType, bySev map[string]int64) {
	s.TotalRecords += total
	for k, v := range byType {
		s.ByType[k] += v
	}
	for k, v := range bySev {
		s.BySeverity[k] += v
	}
}

// remove subtracts counts of deleted rows, dropping keys that reach zero.
func (s *PersistentStats) remove(rows []Row) {
	for _, r := range rows {
		s.TotalRecords--
		s.ByType[r.AnomalyType]--
		if s.ByType[r.AnomalyType] <= 0 {
			delete(s.ByType, r.AnomalyType)
		}
		s.BySeverity[r.Severity]--
		if s.BySeverity[r.Severity] <= 0 {
			delete(s.BySeverity, r.Severity)
		}
	}
	if s.TotalRecords < 0 {
		s.TotalRecords = 0
	}
}
