package hardware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
	"github.com/ZerkerEOD/gpuguard/internal/mocks"
)

func TestHealthSampler_Sample(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	source := mocks.NewMockSampler()
	source.SetMetrics(1, types.HealthMetrics{
		Temperature: types.Ptr(71.0),
		PowerDraw:   types.Ptr(250.0),
		MemoryUsed:  types.Ptr(uint64(9000)),
		MemoryTotal: types.Ptr(uint64(8192)),
	})

	sampler := NewHealthSampler(source, clk)
	metrics, err := sampler.Sample(context.Background(), types.Device{Index: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, metrics.DeviceIndex)
	assert.Equal(t, clk.Now(), metrics.SampledAt)
	require.NotNil(t, metrics.Temperature)
	assert.Equal(t, 71.0, *metrics.Temperature)
	assert.Nil(t, metrics.MemoryUsed, "inconsistent memory reading is dropped")
	assert.NotNil(t, metrics.MemoryTotal)
	assert.Nil(t, metrics.FanSpeed)
}

func TestHealthSampler_Timeout(t *testing.T) {
	source := mocks.NewMockSampler()
	source.SampleFunc = func(ctx context.Context, device types.Device) (types.HealthMetrics, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return types.HealthMetrics{Temperature: types.Ptr(99.0)}, nil
	}

	sampler := NewHealthSampler(source, clock.New())
	sampler.Timeout = 20 * time.Millisecond

	start := time.Now()
	metrics, err := sampler.Sample(context.Background(), types.Device{Index: 0})
	require.NoError(t, err)
	assert.Nil(t, metrics.Temperature)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHealthSampler_Errors(t *testing.T) {
	tests := []struct {
		name      string
		sampleErr error
		panicWith any
		wantFault bool
	}{
		{name: "transient error is unavailable data", sampleErr: errors.New("i2c timeout")},
		{name: "device lost is a fault", sampleErr: types.ErrDeviceLost, wantFault: true},
		{name: "panic is a fault", panicWith: "nil map", wantFault: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := mocks.NewMockSampler()
			source.SampleFunc = func(ctx context.Context, device types.Device) (types.HealthMetrics, error) {
				if tt.panicWith != nil {
					panic(tt.panicWith)
				}
				return types.HealthMetrics{Temperature: types.Ptr(50.0)}, tt.sampleErr
			}

			metrics, err := NewHealthSampler(source, clock.New()).Sample(context.Background(), types.Device{Index: 4})
			if tt.wantFault {
				assert.ErrorIs(t, err, types.ErrDeviceLost)
			} else {
				assert.NoError(t, err)
			}
			assert.Nil(t, metrics.Temperature)
			assert.Equal(t, 4, metrics.DeviceIndex)
		})
	}
}

func TestHealthSampler_UnsupportedDevice(t *testing.T) {
	source := mocks.NewMockSampler()
	source.SupportsFunc = func(device types.Device) bool { return false }

	metrics, err := NewHealthSampler(source, clock.New()).Sample(context.Background(), types.Device{Index: 2})
	require.NoError(t, err)
	assert.Nil(t, metrics.Temperature)
	assert.Equal(t, 0, source.Calls(2))
}
