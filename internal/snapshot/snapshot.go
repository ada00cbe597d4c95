// Package snapshot defines the values pushed to external consumers: the
// periodic Snapshot of every device and the throttle Events.
package snapshot

import (
	"time"

	"github.com/google/uuid"

	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
	"github.com/ZerkerEOD/gpuguard/internal/metrics"
	"github.com/ZerkerEOD/gpuguard/internal/stats"
)

// DeviceSnapshot is one device's identity, health and stats at the
// snapshot time.
type DeviceSnapshot struct {
	Device types.Device        `json:"device"`
	Health types.HealthMetrics `json:"health"`
	Stats  stats.MiningStats   `json:"stats"`
}

// Snapshot is an immutable point-in-time view of all devices.
type Snapshot struct {
	Timestamp time.Time        `json:"timestamp"`
	Threshold float64          `json:"temperature_threshold"`
	Devices   []DeviceSnapshot `json:"devices"`
	// Host is filled in when host metrics collection is available.
	Host *metrics.HostMetrics `json:"host,omitempty"`
}

// New builds a snapshot from tracker views. Devices is never nil so that
// "no devices" encodes as an empty list.
func New(views []stats.View, threshold float64, now time.Time) Snapshot {
	devices := make([]DeviceSnapshot, len(views))
	for i, view := range views {
		devices[i] = DeviceSnapshot{Device: view.Device, Health: view.Health.Clone(), Stats: view.Stats}
	}
	return Snapshot{Timestamp: now, Threshold: threshold, Devices: devices}
}

// Clone returns a deep copy, so each consumer owns its snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Devices = make([]DeviceSnapshot, len(s.Devices))
	for i, d := range s.Devices {
		d.Health = d.Health.Clone()
		d.Stats.EnergyEfficiency = clonePtr(d.Stats.EnergyEfficiency)
		d.Stats.ThermalEfficiency = clonePtr(d.Stats.ThermalEfficiency)
		out.Devices[i] = d
	}
	if s.Host != nil {
		host := s.Host.Clone()
		out.Host = &host
	}
	return out
}

// Stats returns the per-device stats keyed by device index.
func (s Snapshot) Stats() map[int]stats.MiningStats {
	out := make(map[int]stats.MiningStats, len(s.Devices))
	for _, d := range s.Devices {
		out[d.Device.Index] = d.Stats
	}
	return out
}

// Health returns the per-device health keyed by device index.
func (s Snapshot) Health() map[int]types.HealthMetrics {
	out := make(map[int]types.HealthMetrics, len(s.Devices))
	for _, d := range s.Devices {
		out[d.Device.Index] = d.Health.Clone()
	}
	return out
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// EventKind names what happened to a device.
type EventKind string

const (
	EventThrottle        EventKind = "throttle"
	EventRestore         EventKind = "restore"
	EventOverheatAtFloor EventKind = "overheat_at_floor"
	EventDeviceFault     EventKind = "device_fault"
	EventDeviceReset     EventKind = "device_reset"
)

// Event is an operator-facing record of a controller action or device
// state change.
type Event struct {
	ID                string    `json:"id"`
	Kind              EventKind `json:"kind"`
	DeviceIndex       int       `json:"device_index"`
	PreviousIntensity uint8     `json:"previous_intensity"`
	NewIntensity      uint8     `json:"new_intensity"`
	Temperature       *float64  `json:"temperature,omitempty"`
	Threshold         float64   `json:"threshold,omitempty"`
	Message           string    `json:"message,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// NewEvent creates an event with a fresh ID.
func NewEvent(kind EventKind, deviceIndex int, now time.Time) Event {
	return Event{
		ID:          uuid.New().String(),
		Kind:        kind,
		DeviceIndex: deviceIndex,
		Timestamp:   now,
	}
}
