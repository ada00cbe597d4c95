package persistence

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlusher_RetriesOnce(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantErr   bool
		wantCalls int
	}{
		{name: "first attempt succeeds", failures: 0, wantCalls: 1},
		{name: "retry succeeds", failures: 1, wantCalls: 2},
		{name: "both attempts fail", failures: 2, wantErr: true, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saver := &flakySaver{failures: tt.failures}
			flusher := NewFlusher(saver, sampleRecords, 0, clock.New())

			err := flusher.Flush()
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, saver.saved)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, sampleRecords(), saver.saved)
			}
			assert.Equal(t, tt.wantCalls, saver.calls)
			assert.Equal(t, err, flusher.LastError())
		})
	}
}

type countingSaver struct {
	saves atomic.Int32
}

func (c *countingSaver) Save(records map[string]Record) error {
	c.saves.Add(1)
	return nil
}

func TestFlusher_CoalescesNotifications(t *testing.T) {
	clk := clock.NewMock()
	saver := &countingSaver{}
	flusher := NewFlusher(saver, sampleRecords, 2*time.Second, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		flusher.Run(ctx)
		close(done)
	}()

	for i := 0; i < 10; i++ {
		flusher.Notify()
	}

	// Let Run pick up the signal and arm its debounce timer.
	assert.Eventually(t, func() bool {
		clk.Add(500 * time.Millisecond)
		return saver.saves.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.LessOrEqual(t, saver.saves.Load(), int32(2))
}

func TestFlusher_FinalFlushOnShutdown(t *testing.T) {
	saver := &countingSaver{}
	flusher := NewFlusher(saver, sampleRecords, time.Hour, clock.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		flusher.Run(ctx)
		close(done)
	}()

	flusher.Notify()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("flusher did not stop")
	}
	require.Equal(t, int32(1), saver.saves.Load())
}
