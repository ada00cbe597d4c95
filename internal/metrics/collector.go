/*
 * Package metrics collects host-level resource usage alongside the GPU
 * snapshots, including the monitor's own CPU and memory footprint so that
 * the operator can verify monitoring stays a negligible share of the
 * machine.
 */
package metrics

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"

	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

// HostMetrics holds host and self-overhead usage. Fields are nil when the
// platform cannot report them.
type HostMetrics struct {
	CPUUsage      *float64 `json:"cpu_usage"`       // percent, all cores
	MemoryUsage   *float64 `json:"memory_usage"`    // percent
	SelfCPUUsage  *float64 `json:"self_cpu_usage"`  // percent of one core
	SelfMemoryRSS *uint64  `json:"self_memory_rss"` // bytes
}

// Clone returns a copy that shares no pointers with h.
func (h HostMetrics) Clone() HostMetrics {
	return HostMetrics{
		CPUUsage:      clone(h.CPUUsage),
		MemoryUsage:   clone(h.MemoryUsage),
		SelfCPUUsage:  clone(h.SelfCPUUsage),
		SelfMemoryRSS: clone(h.SelfMemoryRSS),
	}
}

func clone[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Collector gathers host metrics. CPU percentages are measured between
// successive calls, so Collect never blocks on a sampling interval.
type Collector struct {
	self *process.Process
}

// New creates a collector for the current process
func New() (*Collector, error) {
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open own process: %w", err)
	}
	return &Collector{self: self}, nil
}

// Collect gathers current host metrics. Each metric is independent; a
// failure is logged and leaves that field nil.
func (c *Collector) Collect(ctx context.Context) HostMetrics {
	var metrics HostMetrics

	if err := c.collectCPUMetrics(ctx, &metrics); err != nil {
		debug.Debug("Failed to collect CPU metrics: %v", err)
	}

	if err := c.collectMemoryMetrics(ctx, &metrics); err != nil {
		debug.Debug("Failed to collect memory metrics: %v", err)
	}

	if err := c.collectSelfMetrics(ctx, &metrics); err != nil {
		debug.Debug("Failed to collect process metrics: %v", err)
	}

	return metrics
}

func (c *Collector) collectCPUMetrics(ctx context.Context, metrics *HostMetrics) error {
	percentage, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return fmt.Errorf("failed to get CPU usage: %w", err)
	}

	if len(percentage) > 0 {
		metrics.CPUUsage = &percentage[0]
	}

	return nil
}

func (c *Collector) collectMemoryMetrics(ctx context.Context, metrics *HostMetrics) error {
	vmem, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get memory info: %w", err)
	}

	usage := vmem.UsedPercent
	metrics.MemoryUsage = &usage
	return nil
}

func (c *Collector) collectSelfMetrics(ctx context.Context, metrics *HostMetrics) error {
	if c.self == nil {
		return fmt.Errorf("no process handle")
	}

	percent, err := c.self.PercentWithContext(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to get process CPU usage: %w", err)
	}
	metrics.SelfCPUUsage = &percent

	info, err := c.self.MemoryInfoWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to get process memory: %w", err)
	}
	rss := info.RSS
	metrics.SelfMemoryRSS = &rss
	return nil
}
