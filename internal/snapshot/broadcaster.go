package snapshot

import (
	"sync"
)

// Broadcaster fans values out to any number of subscribers without ever
// blocking the publisher. In latest-wins mode each subscriber holds at
// most one pending value and a newer value replaces it; otherwise values
// queue up to the buffer size and overflow is dropped.
type Broadcaster[T any] struct {
	mu         sync.Mutex
	subs       map[int]chan T
	nextID     int
	buffer     int
	latestWins bool
	copyFn     func(T) T
	closed     bool
}

// NewLatest creates a latest-wins broadcaster. copyFn, if set, gives every
// subscriber its own copy of each value.
func NewLatest[T any](copyFn func(T) T) *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[int]chan T), buffer: 1, latestWins: true, copyFn: copyFn}
}

// NewBuffered creates a broadcaster that queues up to size values per
// subscriber and drops the rest.
func NewBuffered[T any](size int) *Broadcaster[T] {
	if size < 1 {
		size = 1
	}
	return &Broadcaster[T]{subs: make(map[int]chan T), buffer: size}
}

// Subscribe attaches a consumer. The returned cancel function detaches it
// and closes the channel; it is safe to call more than once.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers v to every subscriber without blocking.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		value := v
		if b.copyFn != nil {
			value = b.copyFn(v)
		}
		select {
		case ch <- value:
			continue
		default:
		}
		if !b.latestWins {
			continue
		}
		// Replace the stale pending value. Only Publish sends, and it
		// holds the lock, so the second send cannot block.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- value:
		default:
		}
	}
}

// Subscribers returns the number of attached consumers.
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close detaches every subscriber and closes their channels.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
