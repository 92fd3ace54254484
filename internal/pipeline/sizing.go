package pipeline

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/dudu/deepswap/internal/log"
)

const (
	DefaultWorkers    = 20
	DefaultQueueRatio = 1.0

	// estimated working set of one in-flight frame, in GB
	frameMemoryGB = 0.1

	minLoadFactor  = 0.2
	minQueueRatio  = 0.1
	sampleInterval = time.Second
)

// SizingPolicy chooses the worker count and batch size for a run
type SizingPolicy interface {
	Size(ctx context.Context, total int) (workers, batchSize int)
}

// FixedPolicy uses a constant worker count and queue ratio
type FixedPolicy struct {
	Workers    int
	QueueRatio float64
}

// Size returns max(total/workers * ratio, 1) frames per batch
func (p FixedPolicy) Size(_ context.Context, total int) (int, int) {
	workers := p.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	ratio := p.QueueRatio
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultQueueRatio
	}
	return workers, batchSize(total, workers, ratio)
}

func batchSize(total, workers int, ratio float64) int {
	return max(int(float64(total/workers)*ratio), 1)
}

// Resources is a snapshot of host load
type Resources struct {
	CPUCount     int
	CPUPercent   float64
	MemAvailable float64 // GB
	IOPercent    float64 // share of the sample the disks were busy
}

// Probe samples host resources
type Probe func(ctx context.Context) (Resources, error)

// AdaptivePolicy derives sizing from host CPU, memory and disk pressure.
// It uses Fallback when the host cannot be sampled.
type AdaptivePolicy struct {
	Probe    Probe
	Fallback FixedPolicy
}

// NewAdaptivePolicy samples the running host with gopsutil
func NewAdaptivePolicy(fallback FixedPolicy) *AdaptivePolicy {
	return &AdaptivePolicy{Probe: HostResources, Fallback: fallback}
}

func (p *AdaptivePolicy) Size(ctx context.Context, total int) (int, int) {
	probe := p.Probe
	if probe == nil {
		probe = HostResources
	}
	res, err := probe(ctx)
	if err != nil {
		log.Warn("host sampling failed, using fixed sizing", "error", err)
		return p.Fallback.Size(ctx, total)
	}
	workers, ratio := adaptiveParams(res, total)
	log.Debug("adaptive sizing",
		"cpus", res.CPUCount, "cpu_percent", res.CPUPercent,
		"mem_available_gb", res.MemAvailable, "io_percent", res.IOPercent,
		"workers", workers, "queue_ratio", ratio)
	return workers, batchSize(total, workers, ratio)
}

// adaptiveParams scales the CPU count down by current CPU and disk load and
// shrinks batches when the frames would not fit in available memory.
func adaptiveParams(res Resources, total int) (int, float64) {
	cpuFactor := max(minLoadFactor, 1-res.CPUPercent/100)
	ioFactor := max(minLoadFactor, 1-res.IOPercent/100)

	memRatio := 1.0
	if need := float64(total) * frameMemoryGB; need > 0 {
		memRatio = min(1.0, res.MemAvailable/need)
	}

	workers := max(1, int(float64(res.CPUCount)*cpuFactor*ioFactor))
	ratio := max(minQueueRatio, min(1.0, memRatio*ioFactor))
	return workers, ratio
}

// HostResources samples CPU usage and disk busy time over one second
func HostResources(ctx context.Context) (Resources, error) {
	count, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return Resources{}, err
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Resources{}, err
	}

	before, ioErr := disk.IOCountersWithContext(ctx)
	start := time.Now()
	percents, err := cpu.PercentWithContext(ctx, sampleInterval, false)
	if err != nil {
		return Resources{}, err
	}
	elapsed := time.Since(start)

	res := Resources{
		CPUCount:     count,
		MemAvailable: float64(vm.Available) / (1 << 30),
	}
	if len(percents) > 0 {
		res.CPUPercent = percents[0]
	}

	if ioErr == nil {
		if after, err := disk.IOCountersWithContext(ctx); err == nil {
			res.IOPercent = ioBusyPercent(before, after, elapsed)
		}
	}
	return res, nil
}

// ioBusyPercent returns the busiest disk's share of elapsed spent on I/O
func ioBusyPercent(before, after map[string]disk.IOCountersStat, elapsed time.Duration) float64 {
	ms := elapsed.Milliseconds()
	if ms <= 0 {
		return 0
	}
	var busiest float64
	for name, a := range after {
		b, ok := before[name]
		if !ok || a.IoTime < b.IoTime {
			continue
		}
		pct := float64(a.IoTime-b.IoTime) / float64(ms) * 100
		busiest = max(busiest, pct)
	}
	return min(busiest, 100)
}
