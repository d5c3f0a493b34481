// Package health samples host metrics for the system-health endpoint.
package health

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"
)

// ErrMetricsUnavailable is returned when a host metric could not be sampled.
var ErrMetricsUnavailable = errors.New("metrics unavailable")

const gib = 1 << 30

// HostInfo holds static host facts.
type HostInfo struct {
	Hostname string `json:"hostname"`
	Uptime   uint64 `json:"uptime"` // seconds
	Platform string `json:"platform"`
	Arch     string `json:"arch"`
	Cores    int    `json:"cores"`
}

// Snapshot is a point-in-time view of host resources.
type Snapshot struct {
	CPU struct {
		Usage float64 `json:"usage"`
	} `json:"cpu"`
	Memory struct {
		Total          uint64  `json:"total"`
		Free           uint64  `json:"free"`
		Used           uint64  `json:"used"`
		UsedPercentage float64 `json:"usedPercentage"`
	} `json:"memory"`
	Disk struct {
		Total          float64 `json:"total"` // GiB
		Free           float64 `json:"free"`
		Used           float64 `json:"used"`
		UsedPercentage float64 `json:"usedPercentage"`
	} `json:"disk"`
	System HostInfo `json:"system"`
}

// Sampler reads raw metrics from the host. SystemSampler is the production
// implementation; tests substitute their own.
type Sampler interface {
	// CPUPercent blocks for interval and returns utilisation in [0,100].
	CPUPercent(ctx context.Context, interval time.Duration) (float64, error)
	Memory(ctx context.Context) (total, free uint64, err error)
	Disk(ctx context.Context, path string) (size, free uint64, err error)
	Host(ctx context.Context) (HostInfo, error)
}

// Options configures a Collector.
type Options struct {
	DiskPath  string
	CPUSample time.Duration
	Timeout   time.Duration
}

// Collector turns raw samples into a Snapshot.
type Collector struct {
	sampler Sampler
	opts    Options
}

// DefaultDiskPath is the root of the platform's primary filesystem.
func DefaultDiskPath() string {
	if runtime.GOOS == "windows" {
		return `C:\`
	}
	return "/"
}

// NewCollector creates a Collector. Zero options fall back to "/" (or C:\),
// a one second CPU sample and a five second timeout.
func NewCollector(s Sampler, opts Options) *Collector {
	if opts.DiskPath == "" {
		opts.DiskPath = DefaultDiskPath()
	}
	if opts.CPUSample <= 0 {
		opts.CPUSample = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Collector{sampler: s, opts: opts}
}

// Snapshot samples every metric. Any sampling failure is reported as
// ErrMetricsUnavailable; the collector stays usable afterwards.
func (c *Collector) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	cpu, err := c.sampler.CPUPercent(ctx, c.opts.CPUSample)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: cpu: %v", ErrMetricsUnavailable, err)
	}
	snap.CPU.Usage = round2(cpu)

	total, free, err := c.sampler.Memory(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: memory: %v", ErrMetricsUnavailable, err)
	}
	snap.Memory.Total = total
	snap.Memory.Free = free
	if free <= total {
		snap.Memory.Used = total - free
	}
	snap.Memory.UsedPercentage = round2(ratio(snap.Memory.Used, total))

	size, diskFree, err := c.sampler.Disk(ctx, c.opts.DiskPath)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: disk %s: %v", ErrMetricsUnavailable, c.opts.DiskPath, err)
	}
	var diskUsed uint64
	if diskFree <= size {
		diskUsed = size - diskFree
	}
	snap.Disk.Total = round2(float64(size) / gib)
	snap.Disk.Free = round2(float64(diskFree) / gib)
	snap.Disk.Used = round2(float64(diskUsed) / gib)
	snap.Disk.UsedPercentage = round2(ratio(diskUsed, size))

	host, err := c.sampler.Host(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: host: %v", ErrMetricsUnavailable, err)
	}
	snap.System = host

	return snap, nil
}

func ratio(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
