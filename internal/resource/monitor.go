package resource

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

var _ Monitor = (*SystemMonitor)(nil)
var _ Monitor = Static{}

// Monitor reports host resource pressure
type Monitor interface {
	Sample(ctx context.Context) (Sample, error)
	ShouldThrottle(ctx context.Context) bool
}

// Sample is a point-in-time reading of host utilization
type Sample struct {
	MemoryPercent float64
	CPUPercent    float64
}

// Limits are the utilization ceilings above which ingestion backs off
type Limits struct {
	MaxMemoryPercent float64
	MaxCPUPercent    float64
}

// Exceeded reports whether either ceiling is crossed. A zero ceiling disables that check.
func (l Limits) Exceeded(s Sample) bool {
	if l.MaxMemoryPercent > 0 && s.MemoryPercent > l.MaxMemoryPercent {
		return true
	}
	if l.MaxCPUPercent > 0 && s.CPUPercent > l.MaxCPUPercent {
		return true
	}
	return false
}

// SystemMonitor is an implementation of Monitor that uses gopsutil to read
// virtual memory usage and the one-minute load average of the host
type SystemMonitor struct {
	limits Limits
	cpus   int
}

// NewSystemMonitor creates a monitor with the given ceilings
func NewSystemMonitor(limits Limits) *SystemMonitor {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		n = runtime.NumCPU()
	}
	return &SystemMonitor{limits: limits, cpus: n}
}

// Sample reads current memory utilization and load normalized by logical CPU count
func (m *SystemMonitor) Sample(ctx context.Context) (Sample, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to read virtual memory: %w", err)
	}
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to read load average: %w", err)
	}
	return Sample{
		MemoryPercent: vm.UsedPercent,
		CPUPercent:    avg.Load1 / float64(m.cpus) * 100,
	}, nil
}

// ShouldThrottle reports whether the host is over either ceiling. Sampling
// failures never throttle.
func (m *SystemMonitor) ShouldThrottle(ctx context.Context) bool {
	s, err := m.Sample(ctx)
	if err != nil {
		return false
	}
	return m.limits.Exceeded(s)
}

// Static is a Monitor that always reports the same reading
type Static struct {
	Reading Sample
	Limits  Limits
}

// Sample returns the fixed reading
func (s Static) Sample(ctx context.Context) (Sample, error) {
	return s.Reading, nil
}

// ShouldThrottle applies the limits to the fixed reading
func (s Static) ShouldThrottle(ctx context.Context) bool {
	return s.Limits.Exceeded(s.Reading)
}
