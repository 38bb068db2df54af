package events

import (
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// DefaultBuffer is the per-subscriber channel capacity used when none is given.
const DefaultBuffer = 64

// Broadcaster delivers published values to every live subscription.
type Broadcaster[T any] struct {
	buffer int

	mu     sync.RWMutex
	subs   map[string]*Subscription[T]
	closed bool

	dropped atomic.Int64
}

// Subscription is a handle returned by Broadcaster.Subscribe.
type Subscription[T any] struct {
	id   string
	ch   chan T
	b    *Broadcaster[T]
	once sync.Once
}

// NewBroadcaster creates a broadcaster whose subscriptions buffer up to
// buffer values each.
func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Broadcaster[T]{
		buffer: buffer,
		subs:   make(map[string]*Subscription[T]),
	}
}

// Subscribe registers a new subscription. Subscribing to a closed
// broadcaster returns a subscription whose channel is already closed.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{
		id: ulid.Make().String(),
		ch: make(chan T, b.buffer),
		b:  b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish sends v to every subscription without blocking and returns the
// number of subscriptions that accepted it.
func (b *Broadcaster[T]) Publish(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, sub := range b.subs {
		select {
		case sub.ch <- v:
			delivered++
		default:
			// Drop if subscriber is slow.
			b.dropped.Add(1)
		}
	}
	return delivered
}

// Close closes every subscription channel. Later Publish calls are no-ops.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.once.Do(func() { close(sub.ch) })
		delete(b.subs, id)
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broadcaster[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *Broadcaster[T]) Dropped() int64 {
	return b.dropped.Load()
}

// ID returns the subscription identifier.
func (s *Subscription[T]) ID() string {
	return s.id
}

// Events returns the channel values are delivered on. It is closed by
// Unsubscribe or when the broadcaster closes.
func (s *Subscription[T]) Events() <-chan T {
	return s.ch
}

// Unsubscribe removes the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	delete(s.b.subs, s.id)
	s.once.Do(func() { close(s.ch) })
}
