package store

import (
	"sort"
	"time"
)

// HistogramPoint is one time bucket. Time is the bucket start in Unix milliseconds.
type HistogramPoint struct {
	Time    int64 `json:"time"`
	Count   int   `json:"count"`
	Threats int   `json:"threats"`
}

// Bucketize aggregates samples into interval-wide buckets aligned to the Unix
// epoch. Empty buckets are omitted; points are sorted by time.
func Bucketize(samples []Sample, interval time.Duration, isThreat func(string) bool) []HistogramPoint {
	if interval <= 0 {
		interval = time.Minute
	}
	step := interval.Milliseconds()
	if step <= 0 {
		step = 1
	}

	buckets := make(map[int64]*HistogramPoint)
	for _, s := range samples {
		ms := s.IngestedAt.UnixMilli()
		key := (ms / step) * step
		p, ok := buckets[key]
		if !ok {
			p = &HistogramPoint{Time: key}
			buckets[key] = p
		}
		p.Count++
		if isThreat != nil && isThreat(s.AnomalyType) {
			p.Threats++
		}
	}

	points := make([]HistogramPoint, 0, len(buckets))
	for _, p := range buckets {
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Time < points[j].Time
	})
	return points
}
