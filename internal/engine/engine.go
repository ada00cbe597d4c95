// Package engine runs the monitoring and thermal-throttle loops and is
// the public face of the monitor: the compute scheduler reports hashrate
// and blocks through it, and consumers subscribe to its snapshot and
// event streams.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ZerkerEOD/gpuguard/internal/hardware"
	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
	"github.com/ZerkerEOD/gpuguard/internal/metrics"
	"github.com/ZerkerEOD/gpuguard/internal/persistence"
	"github.com/ZerkerEOD/gpuguard/internal/settings"
	"github.com/ZerkerEOD/gpuguard/internal/snapshot"
	"github.com/ZerkerEOD/gpuguard/internal/stats"
	"github.com/ZerkerEOD/gpuguard/internal/throttle"
	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

const (
	// SampleInterval is the health sampling cadence. Shorter intervals
	// measurably perturb the workload being monitored.
	SampleInterval = 5 * time.Second
	// SnapshotInterval is the snapshot push cadence.
	SnapshotInterval = 5 * time.Second

	defaultMaxParallel = 4
	eventBuffer        = 64
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("engine already started")

// Store loads and saves lifetime counters.
type Store interface {
	Load() map[string]persistence.Record
	Save(records map[string]persistence.Record) error
}

// SettingsStore persists operator settings.
type SettingsStore interface {
	Load() (settings.File, bool)
	Save(file settings.File) error
}

// Options configures an Engine. Probers and Samplers are required.
type Options struct {
	Probers   []types.Prober
	Fallbacks []types.Prober
	Samplers  hardware.SamplerSource

	Store    Store
	Settings SettingsStore
	Host     *metrics.Collector

	Threshold     float64
	Floor         int
	MaxParallel   int
	FlushDebounce time.Duration
	Clock         clock.Clock
}

// Engine owns the device state and the periodic tasks
type Engine struct {
	clock       clock.Clock
	maxParallel int

	enumerator *hardware.Enumerator
	sampler    *hardware.HealthSampler
	tracker    *stats.Tracker
	controller *throttle.Controller
	threshold  *settings.Threshold
	settings   SettingsStore
	flusher    *persistence.Flusher
	host       *metrics.Collector

	snapshots *snapshot.Broadcaster[snapshot.Snapshot]
	events    *snapshot.Broadcaster[snapshot.Event]

	// settingsMu orders threshold changes with their writes to the
	// settings file.
	settingsMu sync.Mutex

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New validates opts, loads persisted history and settings, and returns
// an engine ready to Start.
func New(opts Options) (*Engine, error) {
	if opts.Samplers == nil {
		return nil, fmt.Errorf("engine requires a sampler source")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = defaultMaxParallel
	}
	if opts.Floor == 0 {
		opts.Floor = settings.DefaultFloor
	}
	if opts.Threshold == 0 {
		opts.Threshold = settings.DefaultThreshold
	}

	if opts.Settings != nil {
		if file, ok := opts.Settings.Load(); ok {
			debug.Info("Using temperature threshold %.1f°C from settings file", file.TemperatureThreshold)
			opts.Threshold = file.TemperatureThreshold
			if file.ThrottleFloor != 0 {
				opts.Floor = file.ThrottleFloor
			}
		}
	}

	if err := settings.ValidateFloor(opts.Floor); err != nil {
		return nil, err
	}
	threshold, err := settings.NewThreshold(opts.Threshold)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		clock:       opts.Clock,
		maxParallel: opts.MaxParallel,
		enumerator:  hardware.NewEnumerator(opts.Probers, opts.Fallbacks),
		sampler:     hardware.NewHealthSampler(opts.Samplers, opts.Clock),
		controller:  throttle.NewController(uint8(opts.Floor)),
		threshold:   threshold,
		settings:    opts.Settings,
		host:        opts.Host,
		snapshots:   snapshot.NewLatest(snapshot.Snapshot.Clone),
		events:      snapshot.NewBuffered[snapshot.Event](eventBuffer),
	}

	var history map[string]persistence.Record
	if opts.Store != nil {
		history = opts.Store.Load()
	}
	e.tracker = stats.NewTracker(opts.Clock, history, func() {
		if e.flusher != nil {
			e.flusher.Notify()
		}
	})
	if opts.Store != nil {
		e.flusher = persistence.NewFlusher(opts.Store, e.tracker.Records, opts.FlushDebounce, opts.Clock)
	}

	return e, nil
}

// Start enumerates devices and launches the sampling, snapshot and
// persistence tasks. They run until ctx is cancelled or Close is called.
// An enumeration failure is logged and the engine runs with no devices.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrAlreadyStarted
	}
	e.started = true

	if _, err := e.EnumerateDevices(ctx); err != nil {
		debug.Error("Initial device enumeration failed: %v", err)
	}

	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(2)
	go e.sampleLoop(ctx)
	go e.snapshotLoop(ctx)

	if e.flusher != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.flusher.Run(ctx)
		}()
	}

	debug.Info("Monitoring started: threshold %.1f°C, floor %d, sample interval %v",
		e.threshold.Get(), e.controller.Floor(), SampleInterval)
	return nil
}

// Close stops the periodic tasks, flushes lifetime counters and detaches
// every subscriber.
func (e *Engine) Close() error {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	var err error
	if e.flusher != nil {
		err = e.flusher.Flush()
	}
	e.snapshots.Close()
	e.events.Close()
	debug.Info("Monitoring stopped")
	return err
}

// EnumerateDevices queries the platform for GPUs and makes the result the
// active device set.
func (e *Engine) EnumerateDevices(ctx context.Context) ([]types.Device, error) {
	devices, err := e.enumerator.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	e.tracker.SetDevices(devices)
	return devices, nil
}

// Devices returns the active device set without querying the platform.
func (e *Engine) Devices() []types.Device {
	return e.tracker.Devices()
}

// Threshold returns the configured temperature threshold in °C.
func (e *Engine) Threshold() float64 {
	return e.threshold.Get()
}

// SetThreshold validates and applies a new temperature threshold. It takes
// effect from the next sampling tick and is saved to the settings file.
func (e *Engine) SetThreshold(celsius float64) error {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()

	previous := e.threshold.Get()
	if err := e.threshold.Set(celsius); err != nil {
		debug.Warning("Rejected temperature threshold: %v", err)
		return err
	}
	debug.Info("Temperature threshold changed from %.1f°C to %.1f°C", previous, celsius)

	if e.settings != nil {
		file := settings.File{TemperatureThreshold: celsius, ThrottleFloor: int(e.controller.Floor())}
		if err := e.settings.Save(file); err != nil {
			debug.Error("Failed to persist temperature threshold: %v", err)
		}
	}
	return nil
}

// RecordHashrate reports a device's current hashrate.
func (e *Engine) RecordHashrate(index int, rate float64) error {
	return e.tracker.RecordHashrate(index, rate)
}

// RecordBlockFound counts a found block; the lifetime counter is
// persisted in the background.
func (e *Engine) RecordBlockFound(index int) error {
	return e.tracker.RecordBlockFound(index)
}

// Intensity returns the target intensity (0-100) the scheduler should
// run a device at.
func (e *Engine) Intensity(index int) (uint8, bool) {
	return e.tracker.Intensity(index)
}

// ReportFault moves a device to Error on a fault seen by the scheduler.
func (e *Engine) ReportFault(index int, reason string) error {
	changed, err := e.tracker.SetFault(index, reason)
	if err != nil {
		return err
	}
	if changed {
		e.publishFault(index, reason)
	}
	return nil
}

func (e *Engine) publishFault(index int, reason string) {
	event := snapshot.NewEvent(snapshot.EventDeviceFault, index, e.clock.Now())
	event.Message = reason
	e.publishEvent(event)
}

// ResetDevice clears a device's fault and throttle state.
func (e *Engine) ResetDevice(index int) error {
	if err := e.tracker.ResetDevice(index); err != nil {
		return err
	}
	event := snapshot.NewEvent(snapshot.EventDeviceReset, index, e.clock.Now())
	event.NewIntensity = throttle.MaxIntensity
	e.publishEvent(event)
	return nil
}

// ResetAll resets every device.
func (e *Engine) ResetAll() {
	e.tracker.ResetAll()
	for _, device := range e.tracker.Devices() {
		event := snapshot.NewEvent(snapshot.EventDeviceReset, device.Index, e.clock.Now())
		event.NewIntensity = throttle.MaxIntensity
		e.publishEvent(event)
	}
}

// MarkIdle records that the scheduler stopped mining on a device.
func (e *Engine) MarkIdle(index int) error {
	return e.tracker.MarkIdle(index)
}

// SubscribeSnapshots attaches a snapshot consumer. A slow consumer only
// ever sees the latest snapshot.
func (e *Engine) SubscribeSnapshots() (<-chan snapshot.Snapshot, func()) {
	return e.snapshots.Subscribe()
}

// SubscribeEvents attaches a throttle event consumer.
func (e *Engine) SubscribeEvents() (<-chan snapshot.Event, func()) {
	return e.events.Subscribe()
}

func (e *Engine) publishEvent(event snapshot.Event) {
	switch event.Kind {
	case snapshot.EventOverheatAtFloor, snapshot.EventDeviceFault:
		debug.Warning("GPU %d %s: intensity %d, %s", event.DeviceIndex, event.Kind, event.NewIntensity, describeTemperature(event.Temperature))
	default:
		debug.Info("GPU %d %s: intensity %d -> %d, %s", event.DeviceIndex, event.Kind, event.PreviousIntensity, event.NewIntensity, describeTemperature(event.Temperature))
	}
	e.events.Publish(event)
}

func describeTemperature(t *float64) string {
	if t == nil {
		return "temperature unknown"
	}
	return fmt.Sprintf("%.1f°C", *t)
}
