package types

import (
	"context"
	"errors"
	"time"
)

// ErrDeviceLost reports a hardware or driver fault. It is the only error a
// Sampler returns; missing sensors are expressed as nil fields instead.
var ErrDeviceLost = errors.New("device lost")

// HealthMetrics holds one sample of live sensor readings. Every field is
// independently optional: nil means the sensor is absent or could not be
// read within the sampling budget, never zero.
type HealthMetrics struct {
	DeviceIndex int `json:"device_index"`

	Temperature *float64 `json:"temperature"`  // °C
	FanSpeed    *uint32  `json:"fan_speed"`    // RPM from hwmon, percent of max from NVIDIA drivers
	PowerDraw   *float64 `json:"power_draw"`   // W
	MemoryUsed  *uint64  `json:"memory_used"`  // MiB
	MemoryTotal *uint64  `json:"memory_total"` // MiB
	CoreClock   *uint32  `json:"core_clock"`   // MHz

	SampledAt time.Time `json:"sampled_at"`
}

// Normalize enforces memory_used <= memory_total. A used value larger
// than the total is an inconsistent read and is dropped.
func (h *HealthMetrics) Normalize() {
	if h.MemoryUsed != nil && h.MemoryTotal != nil && *h.MemoryUsed > *h.MemoryTotal {
		h.MemoryUsed = nil
	}
}

// Clone returns a copy that shares no pointers with h.
func (h HealthMetrics) Clone() HealthMetrics {
	out := h
	out.Temperature = clonePtr(h.Temperature)
	out.FanSpeed = clonePtr(h.FanSpeed)
	out.PowerDraw = clonePtr(h.PowerDraw)
	out.MemoryUsed = clonePtr(h.MemoryUsed)
	out.MemoryTotal = clonePtr(h.MemoryTotal)
	out.CoreClock = clonePtr(h.CoreClock)
	return out
}

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Prober enumerates the GPUs one vendor channel can see. A prober whose
// tooling or driver is absent returns (nil, nil).
type Prober interface {
	Name() string
	Enumerate(ctx context.Context) ([]Device, error)
}

// Sampler reads live sensors for devices found by a matching Prober.
type Sampler interface {
	Supports(device Device) bool
	Sample(ctx context.Context, device Device) (HealthMetrics, error)
}
