package mocks

import (
	"context"
	"sync"

	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
)

// MockProber implements types.Prober for testing
type MockProber struct {
	mu sync.RWMutex

	// Control behavior
	NameValue     string
	EnumerateFunc func(ctx context.Context) ([]types.Device, error)

	// Default data
	Devices []types.Device

	// Call tracking
	EnumerateCalls int
}

// NewMockProber creates a prober that reports devices
func NewMockProber(name string, devices ...types.Device) *MockProber {
	return &MockProber{NameValue: name, Devices: devices}
}

// Name implements types.Prober
func (m *MockProber) Name() string {
	return m.NameValue
}

// Enumerate implements types.Prober
func (m *MockProber) Enumerate(ctx context.Context) ([]types.Device, error) {
	m.mu.Lock()
	m.EnumerateCalls++
	m.mu.Unlock()

	if m.EnumerateFunc != nil {
		return m.EnumerateFunc(ctx)
	}

	// Return copy of devices
	m.mu.RLock()
	defer m.mu.RUnlock()
	devices := make([]types.Device, len(m.Devices))
	copy(devices, m.Devices)
	return devices, nil
}

// MockSampler implements types.Sampler for testing. Metrics are keyed by
// device index and can be changed between ticks.
type MockSampler struct {
	mu sync.RWMutex

	// Control behavior
	SupportsFunc func(device types.Device) bool
	SampleFunc   func(ctx context.Context, device types.Device) (types.HealthMetrics, error)

	// Default data
	Metrics map[int]types.HealthMetrics
	Errors  map[int]error

	// Call tracking
	SampleCalls map[int]int
}

// NewMockSampler creates a sampler that supports every device
func NewMockSampler() *MockSampler {
	return &MockSampler{
		Metrics:     make(map[int]types.HealthMetrics),
		Errors:      make(map[int]error),
		SampleCalls: make(map[int]int),
	}
}

// SetTemperature sets the temperature reported for a device; nil makes
// the sensor unavailable.
func (m *MockSampler) SetTemperature(index int, celsius *float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	metrics := m.Metrics[index]
	metrics.Temperature = celsius
	m.Metrics[index] = metrics
}

// SetMetrics replaces every metric reported for a device
func (m *MockSampler) SetMetrics(index int, metrics types.HealthMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Metrics[index] = metrics
}

// SetError makes the next samples of a device fail with err
func (m *MockSampler) SetError(index int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.Errors, index)
		return
	}
	m.Errors[index] = err
}

// Calls returns how many times a device was sampled
func (m *MockSampler) Calls(index int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.SampleCalls[index]
}

// Supports implements types.Sampler
func (m *MockSampler) Supports(device types.Device) bool {
	if m.SupportsFunc != nil {
		return m.SupportsFunc(device)
	}
	return true
}

// Sample implements types.Sampler
func (m *MockSampler) Sample(ctx context.Context, device types.Device) (types.HealthMetrics, error) {
	m.mu.Lock()
	m.SampleCalls[device.Index]++
	m.mu.Unlock()

	if m.SampleFunc != nil {
		return m.SampleFunc(ctx, device)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.Errors[device.Index]; err != nil {
		return types.HealthMetrics{}, err
	}
	return m.Metrics[device.Index].Clone(), nil
}

// SamplerFor lets a MockSampler stand in for a whole sampler registry
func (m *MockSampler) SamplerFor(device types.Device) types.Sampler {
	if !m.Supports(device) {
		return nil
	}
	return m
}
