// Package feed fans change events out to filtered subscribers.
//
// A Broker replaces push callbacks: consumers call Subscribe with a
// predicate and read from the returned Subscription's channel. Publish never
// blocks; a subscriber whose buffer is full misses the event and the drop is
// logged.
package feed

import (
	"log"
	"os"
	"sync"
)

// DefaultBuffer is the per-subscription channel capacity used when
// NewBroker is given a non-positive size.
const DefaultBuffer = 64

// Broker delivers values of type T to every matching subscriber.
type Broker[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription[T]
	nextID uint64
	buffer int
	closed bool
	logger *log.Logger
}

// NewBroker creates a broker whose subscriptions buffer up to buffer values.
func NewBroker[T any](buffer int, logger *log.Logger) *Broker[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[feed] ", log.LstdFlags)
	}
	return &Broker[T]{
		subs:   make(map[uint64]*Subscription[T]),
		buffer: buffer,
		logger: logger,
	}
}

// Subscription is a live, filtered view of a broker's stream.
type Subscription[T any] struct {
	id      uint64
	broker  *Broker[T]
	match   func(T) bool
	ch      chan T
	once    sync.Once
	dropped int
}

// Subscribe registers a new subscriber. A nil predicate matches everything.
// Subscribing to a closed broker returns a subscription whose channel is
// already closed.
func (b *Broker[T]) Subscribe(match func(T) bool) *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription[T]{
		broker: b,
		match:  match,
		ch:     make(chan T, b.buffer),
	}
	if b.closed {
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

// Publish offers v to every subscriber whose predicate accepts it and
// returns the number of subscribers that received it.
func (b *Broker[T]) Publish(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0
	}
	delivered := 0
	for _, sub := range b.subs {
		if sub.match != nil && !sub.match(v) {
			continue
		}
		select {
		case sub.ch <- v:
			delivered++
		default:
			sub.dropped++
			b.logger.Printf("subscriber %d is not keeping up, dropped event (%d dropped so far)", sub.id, sub.dropped)
		}
	}
	return delivered
}

// Len returns the number of active subscriptions.
func (b *Broker[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Publish after Close is a no-op.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.once.Do(func() { close(sub.ch) })
	}
}

// Events returns the channel values are delivered on. It is closed when the
// subscription ends.
func (s *Subscription[T]) Events() <-chan T {
	return s.ch
}

// Unsubscribe detaches the subscription and closes its channel. It is safe
// to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subs, s.id)
	s.once.Do(func() { close(s.ch) })
}
