package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSampler struct {
	cpu       float64
	memTotal  uint64
	memFree   uint64
	diskSize  uint64
	diskFree  uint64
	diskErr   error
	cpuErr    error
	gotPath   string
	gotSample time.Duration
}

func (f *fakeSampler) CPUPercent(_ context.Context, interval time.Duration) (float64, error) {
	f.gotSample = interval
	return f.cpu, f.cpuErr
}

func (f *fakeSampler) Memory(context.Context) (uint64, uint64, error) {
	return f.memTotal, f.memFree, nil
}

func (f *fakeSampler) Disk(_ context.Context, path string) (uint64, uint64, error) {
	f.gotPath = path
	return f.diskSize, f.diskFree, f.diskErr
}

func (f *fakeSampler) Host(context.Context) (HostInfo, error) {
	return HostInfo{Hostname: "sensor-1", Uptime: 3600, Platform: "linux", Arch: "amd64", Cores: 8}, nil
}

func TestSnapshotDerivedFields(t *testing.T) {
	f := &fakeSampler{
		cpu:      12.3456,
		memTotal: 8000,
		memFree:  2000,
		diskSize: 100 * gib,
		diskFree: 25*gib + gib/3,
	}
	c := NewCollector(f, Options{DiskPath: "/data", CPUSample: 10 * time.Millisecond})

	snap, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if snap.CPU.Usage != 12.35 {
		t.Fatalf("expected cpu 12.35, got %v", snap.CPU.Usage)
	}
	if snap.Memory.Used != 6000 || snap.Memory.UsedPercentage != 75 {
		t.Fatalf("unexpected memory %+v", snap.Memory)
	}
	if snap.Disk.Total != 100 || snap.Disk.Free != 25.33 || snap.Disk.Used != 74.67 {
		t.Fatalf("unexpected disk sizes %+v", snap.Disk)
	}
	if snap.Disk.UsedPercentage != 74.67 {
		t.Fatalf("unexpected disk percentage %v", snap.Disk.UsedPercentage)
	}
	if snap.System.Hostname != "sensor-1" || snap.System.Cores != 8 {
		t.Fatalf("unexpected host facts %+v", snap.System)
	}
	if f.gotPath != "/data" || f.gotSample != 10*time.Millisecond {
		t.Fatalf("collector did not pass options through: path=%s sample=%s", f.gotPath, f.gotSample)
	}
}

func TestSnapshotDiskFailureIsMetricsUnavailable(t *testing.T) {
	f := &fakeSampler{memTotal: 1, diskErr: errors.New("statfs: permission denied")}
	c := NewCollector(f, Options{})

	_, err := c.Snapshot(context.Background())
	if !errors.Is(err, ErrMetricsUnavailable) {
		t.Fatalf("expected ErrMetricsUnavailable, got %v", err)
	}

	// the collector keeps working once the disk recovers
	f.diskErr = nil
	f.diskSize = gib
	if _, err := c.Snapshot(context.Background()); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
}

func TestSnapshotCPUFailure(t *testing.T) {
	c := NewCollector(&fakeSampler{cpuErr: errors.New("boom")}, Options{})
	if _, err := c.Snapshot(context.Background()); !errors.Is(err, ErrMetricsUnavailable) {
		t.Fatalf("expected ErrMetricsUnavailable, got %v", err)
	}
}

func TestSnapshotZeroTotalsDoNotDivideByZero(t *testing.T) {
	c := NewCollector(&fakeSampler{}, Options{})
	snap, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Memory.UsedPercentage != 0 || snap.Disk.UsedPercentage != 0 {
		t.Fatalf("expected zero percentages, got %+v %+v", snap.Memory, snap.Disk)
	}
}

func TestNewCollectorDefaults(t *testing.T) {
	c := NewCollector(&fakeSampler{}, Options{})
	if c.opts.DiskPath != DefaultDiskPath() || c.opts.CPUSample != time.Second || c.opts.Timeout != 5*time.Second {
		t.Fatalf("unexpected defaults %+v", c.opts)
	}
}
