package metrics_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZerkerEOD/gpuguard/internal/metrics"
)

func TestCollector_Collect(t *testing.T) {
	collector, err := metrics.New()
	require.NoError(t, err)

	// The first CPU reading has no baseline; the second is meaningful.
	collector.Collect(context.Background())
	host := collector.Collect(context.Background())

	if host.CPUUsage != nil {
		assert.GreaterOrEqual(t, *host.CPUUsage, 0.0)
		assert.LessOrEqual(t, *host.CPUUsage, 100.0)
	}
	if host.MemoryUsage != nil {
		assert.Greater(t, *host.MemoryUsage, 0.0)
		assert.LessOrEqual(t, *host.MemoryUsage, 100.0)
	}
	if host.SelfMemoryRSS != nil {
		assert.Greater(t, *host.SelfMemoryRSS, uint64(0))
	}
}

func TestCollector_CancelledContext(t *testing.T) {
	collector, err := metrics.New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Must not panic or block; fields may be nil.
	assert.NotPanics(t, func() {
		collector.Collect(ctx)
	})
}

func TestCollector_Concurrent(t *testing.T) {
	collector, err := metrics.New()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.Collect(context.Background())
		}()
	}
	wg.Wait()
}

func TestHostMetrics_Clone(t *testing.T) {
	cpu, rss := 40.0, uint64(1024)
	host := metrics.HostMetrics{CPUUsage: &cpu, SelfMemoryRSS: &rss}
	clone := host.Clone()

	require.NotNil(t, clone.CPUUsage)
	assert.NotSame(t, host.CPUUsage, clone.CPUUsage)
	assert.NotSame(t, host.SelfMemoryRSS, clone.SelfMemoryRSS)
	assert.Equal(t, 40.0, *clone.CPUUsage)
	assert.Nil(t, clone.MemoryUsage)
	assert.Nil(t, clone.SelfCPUUsage)
}
