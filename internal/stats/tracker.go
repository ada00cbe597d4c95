// Package stats tracks per-device mining performance: hashrate, status,
// uptime and the lifetime counters that survive restarts.
package stats

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
	"github.com/ZerkerEOD/gpuguard/internal/persistence"
	"github.com/ZerkerEOD/gpuguard/internal/throttle"
	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

var (
	// ErrUnknownDevice is returned for an index outside the current device set.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrInvalidHashrate rejects negative or non-finite rates.
	ErrInvalidHashrate = errors.New("hashrate must be a finite, non-negative number")
	// ErrDeviceChanged means the index now belongs to a different GPU
	// because the device set was re-enumerated.
	ErrDeviceChanged = errors.New("device set changed")
	// ErrDeviceFaulted rejects hashrate reports for a device in Error.
	ErrDeviceFaulted = errors.New("device is faulted")
)

type entry struct {
	device types.Device
	health types.HealthMetrics

	hashrate      float64
	lastHashAt    time.Time
	hashRemainder float64

	status      Status
	errorReason string
	activeSince time.Time
	throttle    throttle.State

	record persistence.Record
}

// View is a consistent copy of one device's identity, health and stats.
type View struct {
	Device types.Device
	Health types.HealthMetrics
	Stats  MiningStats
}

// Tracker holds the live state of every device behind a single
// reader-preferring lock. The sampling tick is the only writer of health
// and throttle state; the compute scheduler writes hashrate and blocks.
type Tracker struct {
	mu      sync.RWMutex
	clock   clock.Clock
	entries map[int]*entry
	// history keeps lifetime records of devices not in the current set
	// so that they are written back rather than dropped.
	history  map[string]persistence.Record
	onChange func()
}

// NewTracker creates a tracker seeded with persisted history. onChange is
// called, outside the lock, whenever lifetime counters change.
func NewTracker(clk clock.Clock, history map[string]persistence.Record, onChange func()) *Tracker {
	if history == nil {
		history = make(map[string]persistence.Record)
	}
	if onChange == nil {
		onChange = func() {}
	}
	return &Tracker{
		clock:    clk,
		entries:  make(map[int]*entry),
		history:  history,
		onChange: onChange,
	}
}

// SetDevices replaces the device set. Devices already tracked (matched by
// key) keep their live state; new devices start Idle with their
// persisted lifetime counters merged in.
func (t *Tracker) SetDevices(devices []types.Device) {
	t.mu.Lock()

	now := t.clock.Now()
	byKey := make(map[string]*entry, len(t.entries))
	for _, e := range t.entries {
		byKey[e.device.Key()] = e
	}

	changed := false
	entries := make(map[int]*entry, len(devices))
	for _, device := range devices {
		key := device.Key()
		e, ok := byKey[key]
		if ok {
			delete(byKey, key)
		} else {
			record, known := t.history[key]
			delete(t.history, key)
			if !known {
				record = persistence.Record{FirstSeen: now, LastUpdated: now}
				changed = true
			}
			e = &entry{status: StatusIdle, throttle: throttle.NewState(), record: record}
			debug.Debug("Tracking %s as %s (lifetime blocks %d)", device, key, record.BlocksFound)
		}
		e.device = device
		e.record.DeviceIndex = device.Index
		e.health.DeviceIndex = device.Index
		entries[device.Index] = e
	}

	// Devices that vanished keep their lifetime counters in history.
	for key, e := range byKey {
		t.closeSession(e, now)
		t.history[key] = e.record
		changed = true
	}
	t.entries = entries
	t.mu.Unlock()

	if changed {
		t.onChange()
	}
}

// Devices returns the tracked devices ordered by index.
func (t *Tracker) Devices() []types.Device {
	t.mu.RLock()
	defer t.mu.RUnlock()

	devices := make([]types.Device, 0, len(t.entries))
	for _, e := range t.entries {
		devices = append(devices, e.device)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })
	return devices
}

// RecordHashrate sets the device's current hashrate. A positive rate moves
// an idle device to Active at full intensity.
func (t *Tracker) RecordHashrate(index int, rate float64) error {
	if rate < 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidHashrate, rate)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[index]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, index)
	}

	if e.status == StatusError {
		return fmt.Errorf("%w: %s", ErrDeviceFaulted, e.device)
	}

	now := t.clock.Now()
	t.accrue(e, now)
	e.hashrate = rate
	e.lastHashAt = now

	if rate > 0 && e.status == StatusIdle {
		e.status = StatusActive
		e.activeSince = now
		e.throttle = throttle.NewState()
		debug.Info("%s started mining", e.device)
	}
	return nil
}

// RecordBlockFound increments the lifetime block counter and schedules a
// persistence flush.
func (t *Tracker) RecordBlockFound(index int) error {
	t.mu.Lock()
	e, ok := t.entries[index]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownDevice, index)
	}
	e.record.BlocksFound++
	e.record.LastUpdated = t.clock.Now()
	blocks := e.record.BlocksFound
	t.mu.Unlock()

	debug.Info("Block found on GPU %d (lifetime %d)", index, blocks)
	t.onChange()
	return nil
}

// lookup returns the entry still holding device. The caller must hold
// the lock.
func (t *Tracker) lookup(device types.Device) (*entry, error) {
	e, ok := t.entries[device.Index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDevice, device.Index)
	}
	if e.device.Key() != device.Key() {
		return nil, fmt.Errorf("%w: GPU %d is now %s", ErrDeviceChanged, device.Index, e.device.Key())
	}
	return e, nil
}

// ObserveHealth stores a fresh sample for device and, while it is mining,
// runs one controller step against threshold. A sample taken before the
// device set was re-enumerated is rejected with ErrDeviceChanged.
func (t *Tracker) ObserveHealth(device types.Device, metrics types.HealthMetrics, controller *throttle.Controller, threshold float64) (throttle.Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.lookup(device)
	if err != nil {
		return throttle.Decision{}, err
	}
	e.health = metrics.Clone()

	if e.status != StatusActive && e.status != StatusThrottled {
		return throttle.Decision{Previous: e.throttle.Intensity, Intensity: e.throttle.Intensity, Threshold: threshold}, nil
	}

	decision := controller.Step(&e.throttle, metrics.Temperature, threshold, t.clock.Now())
	if e.throttle.Throttled() {
		e.status = StatusThrottled
	} else {
		e.status = StatusActive
	}
	return decision, nil
}

// SetFault moves the device at index to Error. Only an explicit
// ResetDevice brings it back. It reports false when the device was
// already faulted.
func (t *Tracker) SetFault(index int, reason string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[index]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownDevice, index)
	}
	return t.fault(e, reason), nil
}

// FaultDevice is SetFault for a device observed earlier; it fails with
// ErrDeviceChanged rather than fault whichever GPU now holds the index.
func (t *Tracker) FaultDevice(device types.Device, reason string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.lookup(device)
	if err != nil {
		return false, err
	}
	return t.fault(e, reason), nil
}

func (t *Tracker) fault(e *entry, reason string) bool {
	if e.status == StatusError {
		return false
	}

	now := t.clock.Now()
	t.accrue(e, now)
	t.closeSession(e, now)
	e.hashrate = 0
	e.status = StatusError
	e.errorReason = reason
	debug.Error("%s faulted: %s", e.device, reason)
	return true
}

// MarkIdle records that the scheduler stopped mining on a device. The
// throttle state resets to full intensity. Faulted devices stay faulted.
func (t *Tracker) MarkIdle(index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[index]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, index)
	}
	if e.status == StatusError {
		return nil
	}
	t.idle(e, t.clock.Now())
	return nil
}

// ResetDevice clears a fault and returns the device to Idle at full
// intensity.
func (t *Tracker) ResetDevice(index int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[index]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, index)
	}
	t.idle(e, t.clock.Now())
	e.errorReason = ""
	debug.Info("%s reset", e.device)
	return nil
}

// ResetAll resets every device.
func (t *Tracker) ResetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	for _, e := range t.entries {
		t.idle(e, now)
		e.errorReason = ""
	}
	debug.Info("Reset %d device(s)", len(t.entries))
}

// Intensity returns the target workload intensity the scheduler should
// apply to a device.
func (t *Tracker) Intensity(index int) (uint8, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[index]
	if !ok {
		return 0, false
	}
	return e.throttle.Intensity, true
}

// Status returns a device's status and error reason.
func (t *Tracker) Status(index int) (Status, string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[index]
	if !ok {
		return StatusIdle, "", false
	}
	return e.status, e.errorReason, true
}

// Views returns a copy of every device's state with efficiencies derived
// from the latest sample, ordered by index.
func (t *Tracker) Views() []View {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.clock.Now()
	views := make([]View, 0, len(t.entries))
	for _, e := range t.entries {
		views = append(views, View{
			Device: e.device,
			Health: e.health.Clone(),
			Stats:  t.statsOf(e, now),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Device.Index < views[j].Device.Index })
	return views
}

// Records returns the lifetime counters of every device ever seen, with
// the running session folded in.
func (t *Tracker) Records() map[string]persistence.Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	records := make(map[string]persistence.Record, len(t.entries)+len(t.history))
	for key, record := range t.history {
		records[key] = record
	}
	for _, e := range t.entries {
		t.accrue(e, now)
		record := e.record
		record.TotalUptimeSeconds += sessionSeconds(e, now)
		records[e.device.Key()] = record
	}
	return records
}

func (t *Tracker) statsOf(e *entry, now time.Time) MiningStats {
	session := sessionSeconds(e, now)
	pending := uint64(e.hashRemainder)
	if e.hashrate > 0 && !e.lastHashAt.IsZero() {
		pending = uint64(e.hashRemainder + e.hashrate*now.Sub(e.lastHashAt).Seconds())
	}
	return MiningStats{
		DeviceIndex:        e.device.Index,
		Hashrate:           e.hashrate,
		BlocksFound:        e.record.BlocksFound,
		TotalHashes:        e.record.TotalHashes + pending,
		UptimeSeconds:      session,
		TotalUptimeSeconds: e.record.TotalUptimeSeconds + session,
		Status:             e.status,
		ErrorReason:        e.errorReason,
		Intensity:          e.throttle.Intensity,
		EnergyEfficiency:   EnergyEfficiency(e.hashrate, e.health.PowerDraw),
		ThermalEfficiency:  ThermalEfficiency(e.hashrate, e.health.Temperature),
	}
}

// accrue integrates the hashes computed since the last hashrate update
// into the lifetime total. Caller must hold the write lock.
func (t *Tracker) accrue(e *entry, now time.Time) {
	if e.hashrate > 0 && !e.lastHashAt.IsZero() && now.After(e.lastHashAt) {
		e.hashRemainder += e.hashrate * now.Sub(e.lastHashAt).Seconds()
		whole := math.Floor(e.hashRemainder)
		e.record.TotalHashes += uint64(whole)
		e.hashRemainder -= whole
	}
	e.lastHashAt = now
}

func (t *Tracker) idle(e *entry, now time.Time) {
	t.accrue(e, now)
	t.closeSession(e, now)
	e.hashrate = 0
	e.status = StatusIdle
	e.throttle = throttle.NewState()
}

// closeSession folds the running session into the lifetime uptime.
func (t *Tracker) closeSession(e *entry, now time.Time) {
	if seconds := sessionSeconds(e, now); seconds > 0 {
		e.record.TotalUptimeSeconds += seconds
		e.record.LastUpdated = now
	}
	e.activeSince = time.Time{}
}

func sessionSeconds(e *entry, now time.Time) uint64 {
	if e.activeSince.IsZero() || (e.status != StatusActive && e.status != StatusThrottled) {
		return 0
	}
	return uint64(now.Sub(e.activeSince) / time.Second)
}
