package snapshot

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZerkerEOD/gpuguard/internal/hardware/types"
	"github.com/ZerkerEOD/gpuguard/internal/metrics"
	"github.com/ZerkerEOD/gpuguard/internal/stats"
)

var now = time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC)

func TestNew_EmptyDeviceList(t *testing.T) {
	snap := New(nil, 80, now)
	assert.NotNil(t, snap.Devices)
	assert.Empty(t, snap.Devices)

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"devices":[]`)
}

func TestSnapshot_CloneIsIndependent(t *testing.T) {
	views := []stats.View{{
		Device: types.Device{Index: 0, Model: "RTX 4090"},
		Health: types.HealthMetrics{Temperature: types.Ptr(70.0)},
		Stats:  stats.MiningStats{Hashrate: 100, ThermalEfficiency: types.Ptr(1.5)},
	}}
	snap := New(views, 80, now)
	clone := snap.Clone()

	*clone.Devices[0].Health.Temperature = 99
	*clone.Devices[0].Stats.ThermalEfficiency = 0
	clone.Devices[0].Device.Model = "changed"

	assert.Equal(t, 70.0, *snap.Devices[0].Health.Temperature)
	assert.Equal(t, 1.5, *snap.Devices[0].Stats.ThermalEfficiency)
	assert.Equal(t, "RTX 4090", snap.Devices[0].Device.Model)
}

func TestSnapshot_CloneCopiesHostMetrics(t *testing.T) {
	rss := uint64(64 << 20)
	snap := New(nil, 80, now)
	snap.Host = &metrics.HostMetrics{CPUUsage: types.Ptr(12.5), SelfMemoryRSS: &rss}
	clone := snap.Clone()

	*clone.Host.CPUUsage = 99
	*clone.Host.SelfMemoryRSS = 1

	assert.Equal(t, 12.5, *snap.Host.CPUUsage)
	assert.Equal(t, uint64(64<<20), *snap.Host.SelfMemoryRSS)
	assert.Nil(t, clone.Host.MemoryUsage)
}

func TestSnapshot_IndexedMaps(t *testing.T) {
	snap := New([]stats.View{
		{Device: types.Device{Index: 0}, Stats: stats.MiningStats{DeviceIndex: 0, BlocksFound: 2}},
		{Device: types.Device{Index: 1}, Health: types.HealthMetrics{DeviceIndex: 1, PowerDraw: types.Ptr(150.0)}},
	}, 80, now)

	assert.Equal(t, uint64(2), snap.Stats()[0].BlocksFound)
	require.NotNil(t, snap.Health()[1].PowerDraw)
	assert.Equal(t, 150.0, *snap.Health()[1].PowerDraw)
}

func TestNewEvent(t *testing.T) {
	a := NewEvent(EventThrottle, 3, now)
	b := NewEvent(EventThrottle, 3, now)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 3, a.DeviceIndex)
	assert.Equal(t, EventThrottle, a.Kind)
}

func TestBroadcaster_LatestWins(t *testing.T) {
	b := NewLatest[int](nil)
	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 1; i <= 5; i++ {
		b.Publish(i)
	}
	assert.Equal(t, 5, <-ch)

	select {
	case v := <-ch:
		t.Fatalf("unexpected queued value %d", v)
	default:
	}
}

func TestBroadcaster_BufferedDropsOverflow(t *testing.T) {
	b := NewBuffered[int](2)
	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 1; i <= 5; i++ {
		b.Publish(i)
	}
	assert.Equal(t, 1, <-ch)
	assert.Equal(t, 2, <-ch)
}

func TestBroadcaster_CopyPerSubscriber(t *testing.T) {
	b := NewLatest(Snapshot.Clone)
	first, cancelFirst := b.Subscribe()
	defer cancelFirst()
	second, cancelSecond := b.Subscribe()
	defer cancelSecond()

	b.Publish(New([]stats.View{{Health: types.HealthMetrics{Temperature: types.Ptr(60.0)}}}, 80, now))

	a := <-first
	*a.Devices[0].Health.Temperature = 1
	c := <-second
	assert.Equal(t, 60.0, *c.Devices[0].Health.Temperature)
}

func TestBroadcaster_SubscribeCancelClose(t *testing.T) {
	b := NewLatest[string](nil)
	ch, cancel := b.Subscribe()
	assert.Equal(t, 1, b.Subscribers())

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Subscribers())

	other, _ := b.Subscribe()
	b.Close()
	_, open = <-other
	assert.False(t, open)

	late, _ := b.Subscribe()
	_, open = <-late
	assert.False(t, open)

	// Publishing after close is a no-op.
	b.Publish("ignored")
}

func TestBroadcaster_ConcurrentPublishAndCancel(t *testing.T) {
	b := NewLatest[int](nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, cancel := b.Subscribe()
			for j := 0; j < 50; j++ {
				select {
				case <-ch:
				default:
				}
			}
			cancel()
		}()
	}
	for i := 0; i < 200; i++ {
		b.Publish(i)
	}
	wg.Wait()
}
