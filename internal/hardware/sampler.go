package hardware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

// DefaultSampleTimeout bounds a single device sample. Anything slower is
// treated as "no data this tick".
const DefaultSampleTimeout = 200 * time.Millisecond

// SamplerSource resolves the vendor sampler for a device.
type SamplerSource interface {
	SamplerFor(device types.Device) types.Sampler
}

// HealthSampler reads live sensors for one device at a time through the
// matching vendor sampler, enforcing the per-call time budget.
type HealthSampler struct {
	source  SamplerSource
	clock   clock.Clock
	Timeout time.Duration
}

// NewHealthSampler creates a sampler with the default time budget.
func NewHealthSampler(source SamplerSource, clk clock.Clock) *HealthSampler {
	return &HealthSampler{source: source, clock: clk, Timeout: DefaultSampleTimeout}
}

type sampleResult struct {
	metrics types.HealthMetrics
	err     error
}

// Sample returns the device's current HealthMetrics. Missing sensors,
// slow drivers and unsupported devices all yield nil fields and a nil
// error; only a device fault (types.ErrDeviceLost, or a panic inside the
// vendor sampler) is returned as an error.
func (h *HealthSampler) Sample(ctx context.Context, device types.Device) (types.HealthMetrics, error) {
	empty := types.HealthMetrics{DeviceIndex: device.Index, SampledAt: h.clock.Now()}

	sampler := h.source.SamplerFor(device)
	if sampler == nil {
		debug.Debug("No sampler supports %s (source %s)", device, device.Source)
		return empty, nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	done := make(chan sampleResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- sampleResult{err: fmt.Errorf("%w: sampler panic: %v", types.ErrDeviceLost, r)}
			}
		}()
		metrics, err := sampler.Sample(ctx, device)
		done <- sampleResult{metrics: metrics, err: err}
	}()

	select {
	case <-ctx.Done():
		debug.Debug("Sampling %s exceeded %v, metrics unavailable this tick", device, h.Timeout)
		return empty, nil
	case result := <-done:
		if result.err != nil {
			if errors.Is(result.err, types.ErrDeviceLost) {
				return empty, result.err
			}
			debug.Debug("Sampling %s failed, metrics unavailable: %v", device, result.err)
			return empty, nil
		}
		metrics := result.metrics
		metrics.DeviceIndex = device.Index
		metrics.SampledAt = empty.SampledAt
		metrics.Normalize()
		return metrics, nil
	}
}
