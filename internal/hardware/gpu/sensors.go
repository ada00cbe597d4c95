package gpu

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/host"

	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

// SourceSensors identifies devices inferred from platform temperature
// sensors when no vendor channel answered.
const SourceSensors = "sensors"

// gpuSensorChips are hwmon chip names that belong to GPUs.
var gpuSensorChips = []string{"amdgpu", "radeon", "nouveau", "nvidia", "i915", "xe"}

type sensorReader func(ctx context.Context) ([]host.TemperatureStat, error)

func readPlatformSensors(ctx context.Context) ([]host.TemperatureStat, error) {
	return host.SensorsTemperaturesWithContext(ctx)
}

// SensorsProber infers GPUs from the temperature sensors gopsutil can
// see. It only finds devices that expose a thermal zone, and only knows
// their vendor and temperature, so it runs last.
type SensorsProber struct {
	read sensorReader
}

// NewSensorsProber creates a prober backed by gopsutil.
func NewSensorsProber() *SensorsProber {
	return &SensorsProber{read: readPlatformSensors}
}

// Name implements types.Prober
func (p *SensorsProber) Name() string {
	return SourceSensors
}

// Enumerate implements types.Prober
func (p *SensorsProber) Enumerate(ctx context.Context) ([]types.Device, error) {
	stats, err := p.read(ctx)
	if err != nil && len(stats) == 0 {
		// gopsutil returns partial results together with warnings for
		// unreadable zones; only an empty result is a failure.
		return nil, fmt.Errorf("failed to read temperature sensors: %w", err)
	}

	counts := make(map[string]int)
	for _, chip := range gpuSensorChips {
		perKey := make(map[string]int)
		for _, stat := range stats {
			if sensorChip(stat.SensorKey) == chip {
				perKey[stat.SensorKey]++
			}
		}
		for _, n := range perKey {
			if n > counts[chip] {
				counts[chip] = n
			}
		}
	}

	chips := make([]string, 0, len(counts))
	for chip := range counts {
		chips = append(chips, chip)
	}
	sort.Strings(chips)

	var devices []types.Device
	for _, chip := range chips {
		for i := 0; i < counts[chip]; i++ {
			devices = append(devices, types.Device{
				Model:       fmt.Sprintf("%s thermal sensor", chip),
				Vendor:      types.VendorFromString(chip),
				Driver:      chip,
				Source:      SourceSensors,
				VendorIndex: i,
			})
		}
	}

	debug.Info("Found %d GPUs from platform sensors", len(devices))
	return devices, nil
}

// SensorsSampler reads temperature for sensor-inferred devices. Every
// other metric is unavailable on this channel.
type SensorsSampler struct {
	read sensorReader
}

// NewSensorsSampler creates a temperature-only sampler
func NewSensorsSampler() *SensorsSampler {
	return &SensorsSampler{read: readPlatformSensors}
}

// Supports implements types.Sampler
func (s *SensorsSampler) Supports(device types.Device) bool {
	return device.Source == SourceSensors
}

// Sample implements types.Sampler
func (s *SensorsSampler) Sample(ctx context.Context, device types.Device) (types.HealthMetrics, error) {
	metrics := types.HealthMetrics{DeviceIndex: device.Index}

	stats, err := s.read(ctx)
	if err != nil && len(stats) == 0 {
		debug.Debug("Temperature sensors unavailable for %s: %v", device, err)
		return metrics, nil
	}

	// Prefer the edge sensor; fall back to whatever the chip reports first.
	var chosen *float64
	seen := make(map[string]int)
	for _, stat := range stats {
		if sensorChip(stat.SensorKey) != device.Driver {
			continue
		}
		occurrence := seen[stat.SensorKey]
		seen[stat.SensorKey]++
		if occurrence != device.VendorIndex || stat.Temperature <= 0 {
			continue
		}
		if chosen == nil || strings.HasSuffix(stat.SensorKey, "edge") {
			chosen = types.Ptr(stat.Temperature)
		}
	}
	metrics.Temperature = chosen
	return metrics, nil
}

// sensorChip returns the hwmon chip part of a gopsutil sensor key such
// as "amdgpu_edge" or "nouveau".
func sensorChip(key string) string {
	chip, _, _ := strings.Cut(strings.ToLower(key), "_")
	return chip
}
