package gpu

import (
	"context"
	"errors"
	"testing"

	"github.com/shirou/gopsutil/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
)

func staticSensors(stats []host.TemperatureStat, err error) sensorReader {
	return func(ctx context.Context) ([]host.TemperatureStat, error) {
		return stats, err
	}
}

var twoRadeons = []host.TemperatureStat{
	{SensorKey: "k10temp_tctl", Temperature: 48},
	{SensorKey: "amdgpu_edge", Temperature: 61},
	{SensorKey: "amdgpu_junction", Temperature: 70},
	{SensorKey: "amdgpu_edge", Temperature: 58},
	{SensorKey: "amdgpu_junction", Temperature: 66},
	{SensorKey: "nouveau", Temperature: 44},
}

func TestSensorsProber_Enumerate(t *testing.T) {
	prober := &SensorsProber{read: staticSensors(twoRadeons, nil)}

	devices, err := prober.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 3)

	assert.Equal(t, types.VendorAMD, devices[0].Vendor)
	assert.Equal(t, 0, devices[0].VendorIndex)
	assert.Equal(t, 1, devices[1].VendorIndex)
	assert.Equal(t, types.VendorNVIDIA, devices[2].Vendor)
	assert.Empty(t, devices[0].PCISlot)
}

func TestSensorsProber_PartialWarnings(t *testing.T) {
	prober := &SensorsProber{read: staticSensors(twoRadeons[:2], errors.New("warnings"))}

	devices, err := prober.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 1)

	prober = &SensorsProber{read: staticSensors(nil, errors.New("no sensors"))}
	_, err = prober.Enumerate(context.Background())
	assert.Error(t, err)
}

func TestSensorsSampler_Sample(t *testing.T) {
	sampler := &SensorsSampler{read: staticSensors(twoRadeons, nil)}

	second := types.Device{Source: SourceSensors, Driver: "amdgpu", VendorIndex: 1}
	require.True(t, sampler.Supports(second))

	metrics, err := sampler.Sample(context.Background(), second)
	require.NoError(t, err)
	require.NotNil(t, metrics.Temperature)
	assert.Equal(t, 58.0, *metrics.Temperature)
	assert.Nil(t, metrics.PowerDraw)

	missing := types.Device{Source: SourceSensors, Driver: "i915"}
	metrics, err = sampler.Sample(context.Background(), missing)
	require.NoError(t, err)
	assert.Nil(t, metrics.Temperature)
}
