package hardware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
	"github.com/ZerkerEOD/gpuguard/internal/mocks"
)

func failingProber(name string) *mocks.MockProber {
	prober := mocks.NewMockProber(name)
	prober.EnumerateFunc = func(ctx context.Context) ([]types.Device, error) {
		return nil, errors.New(name + " exploded")
	}
	return prober
}

func TestEnumerator_MergesAndIndexes(t *testing.T) {
	nvml := mocks.NewMockProber("nvml",
		types.Device{Model: "RTX 4090", Vendor: types.VendorNVIDIA, PCISlot: "0000:2b:00.0", Source: "nvml"},
	)
	drm := mocks.NewMockProber("drm",
		types.Device{Model: "RTX 4090 (drm)", Vendor: types.VendorNVIDIA, PCISlot: "0000:2b:00.0", Source: "drm"},
		types.Device{Model: "RX 7900 XTX", Vendor: types.VendorAMD, PCISlot: "0000:03:00.0", Source: "drm"},
	)

	enumerator := NewEnumerator([]types.Prober{nvml, drm}, nil)
	devices, err := enumerator.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, 0, devices[0].Index)
	assert.Equal(t, "RX 7900 XTX", devices[0].Model)
	assert.Equal(t, 1, devices[1].Index)
	assert.Equal(t, "RTX 4090", devices[1].Model, "higher priority prober wins the slot")
}

func TestEnumerator_Idempotent(t *testing.T) {
	prober := mocks.NewMockProber("drm",
		types.Device{Model: "B", PCISlot: "0000:05:00.0"},
		types.Device{Model: "A", PCISlot: "0000:01:00.0"},
	)
	enumerator := NewEnumerator([]types.Prober{prober}, nil)

	first, err := enumerator.Enumerate(context.Background())
	require.NoError(t, err)
	second, err := enumerator.Enumerate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, prober.EnumerateCalls)
}

func TestEnumerator_NoDevicesIsNotAnError(t *testing.T) {
	enumerator := NewEnumerator([]types.Prober{mocks.NewMockProber("nvml")}, []types.Prober{mocks.NewMockProber("sensors")})

	devices, err := enumerator.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestEnumerator_FallbackOnlyWhenEmpty(t *testing.T) {
	sensors := mocks.NewMockProber("sensors", types.Device{Model: "amdgpu thermal sensor", Source: "sensors"})

	enumerator := NewEnumerator([]types.Prober{mocks.NewMockProber("nvml")}, []types.Prober{sensors})
	devices, err := enumerator.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "gpu0", devices[0].Key())

	primary := mocks.NewMockProber("drm", types.Device{Model: "RX 6800", PCISlot: "0000:0a:00.0"})
	sensors.EnumerateCalls = 0
	enumerator = NewEnumerator([]types.Prober{primary}, []types.Prober{sensors})
	devices, err = enumerator.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, 0, sensors.EnumerateCalls)
}

func TestEnumerator_PartialFailure(t *testing.T) {
	drm := mocks.NewMockProber("drm", types.Device{Model: "RX 6800", PCISlot: "0000:0a:00.0"})
	enumerator := NewEnumerator([]types.Prober{failingProber("nvidia-smi"), drm}, nil)

	devices, err := enumerator.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestEnumerator_TotalFailure(t *testing.T) {
	enumerator := NewEnumerator(
		[]types.Prober{failingProber("nvidia-smi"), failingProber("drm")},
		[]types.Prober{failingProber("sensors")},
	)

	_, err := enumerator.Enumerate(context.Background())
	require.Error(t, err)
	assert.True(t, IsEnumerationFailure(err))
	assert.Contains(t, err.Error(), "device enumeration failed")
	assert.Contains(t, err.Error(), "drm exploded")
}
