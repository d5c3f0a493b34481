package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// SegmentReaderFunc reads every row of a segment file in ascending ID order.
// This allows the engine package to not depend on the storage package.
type SegmentReaderFunc func(path string) ([]Row, error)

// SegmentWriterFunc writes a MemTable to a segment file.
type SegmentWriterFunc func(path string, mt *MemTable) error

const segmentExt = ".nano"

// segmentInfo is what a segment filename tells us without opening it.
type segmentInfo struct {
	path  string
	minID uint64
	maxID uint64
	maxTs int64
}

// segmentName formats seg_{minID}_{maxID}_{maxIngestUnixNano}.nano
func segmentName(minID, maxID uint64, maxTs int64) string {
	return fmt.Sprintf("seg_%d_%d_%d%s", minID, maxID, maxTs, segmentExt)
}

// parseSegmentName extracts the ID range and newest ingest time from a filename.
func parseSegmentName(filename string) (segmentInfo, error) {
	base := filepath.Base(filename)
	if !strings.HasPrefix(base, "seg_") || !strings.HasSuffix(base, segmentExt) {
		return segmentInfo{}, fmt.Errorf("invalid format")
	}
	content := strings.TrimSuffix(strings.TrimPrefix(base, "seg_"), segmentExt)
	parts := strings.Split(content, "_")
	if len(parts) != 3 {
		return segmentInfo{}, fmt.Errorf("invalid parts")
	}
	minID, err1 := strconv.ParseUint(parts[0], 10, 64)
	maxID, err2 := strconv.ParseUint(parts[1], 10, 64)
	maxTs, err3 := strconv.ParseInt(parts[2], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return segmentInfo{}, fmt.Errorf("invalid numbers")
	}
	return segmentInfo{path: filename, minID: minID, maxID: maxID, maxTs: maxTs}, nil
}

// listSegments returns all segments in dataDir, newest (highest IDs) first.
// Files with unexpected names are skipped.
func listSegments(dataDir string) ([]segmentInfo, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var segs []segmentInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), segmentExt) {
			continue
		}
		info, err := parseSegmentName(filepath.Join(dataDir, entry.Name()))
		if err != nil {
			continue
		}
		segs = append(segs, info)
	}

	sort.Slice(segs, func(i, j int) bool {
		return segs[i].maxID > segs[j].maxID
	})
	return segs, nil
}
