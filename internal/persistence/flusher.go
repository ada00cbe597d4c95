package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ZerkerEOD/gpuguard/pkg/debug"
)

// Saver persists a full set of records
type Saver interface {
	Save(records map[string]Record) error
}

// Flusher writes records in the background whenever it is notified.
// Notifications arriving while a write is pending coalesce into a single
// write, so callers never block on disk I/O.
type Flusher struct {
	saver    Saver
	source   func() map[string]Record
	debounce time.Duration
	clock    clock.Clock

	signal chan struct{}

	mu        sync.Mutex
	lastError error
}

// NewFlusher creates a flusher that saves the records returned by source
// at most once per debounce interval.
func NewFlusher(saver Saver, source func() map[string]Record, debounce time.Duration, clk clock.Clock) *Flusher {
	return &Flusher{
		saver:    saver,
		source:   source,
		debounce: debounce,
		clock:    clk,
		signal:   make(chan struct{}, 1),
	}
}

// Notify schedules a flush. It never blocks.
func (f *Flusher) Notify() {
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

// Run flushes on notification until ctx is cancelled, then performs a
// final flush of whatever is still pending.
func (f *Flusher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			f.drain()
			return
		case <-f.signal:
		}

		if f.debounce > 0 {
			timer := f.clock.Timer(f.debounce)
			select {
			case <-ctx.Done():
				timer.Stop()
				f.Flush()
				return
			case <-timer.C:
			}
		}
		f.Flush()
	}
}

func (f *Flusher) drain() {
	select {
	case <-f.signal:
		f.Flush()
	default:
	}
}

// Flush saves the current records now, retrying once. On a second
// failure the records stay in memory and the error is logged; the next
// notification tries again.
func (f *Flusher) Flush() error {
	records := f.source()

	err := f.saver.Save(records)
	if err != nil {
		debug.Warning("Failed to save lifetime stats, retrying once: %v", err)
		err = f.saver.Save(records)
	}
	if err != nil {
		debug.Error("Failed to save lifetime stats, keeping them in memory: %v", err)
	}

	f.mu.Lock()
	f.lastError = err
	f.mu.Unlock()
	return err
}

// LastError returns the result of the most recent flush
func (f *Flusher) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastError
}
