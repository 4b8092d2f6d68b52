package pubsub

import (
	"context"
	"sync"
)

// defaultQueueSize is the channel buffer size for each subscriber.
const defaultQueueSize = 256

// Broker is a generic, thread-safe conduit between producers and consumers.
// Unlike a fire-and-forget broadcast, Publish blocks while a subscriber's
// bounded queue is full, so items are never dropped; backpressure propagates
// to the producer instead.
type Broker[T any] struct {
	mu        sync.RWMutex
	subs      map[chan T]struct{}
	queueSize int
}

// NewBroker creates a new Broker with the default per-subscriber queue size.
func NewBroker[T any]() *Broker[T] {
	return NewBrokerSize[T](defaultQueueSize)
}

// NewBrokerSize creates a new Broker with the given per-subscriber queue size.
func NewBrokerSize[T any](queueSize int) *Broker[T] {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Broker[T]{
		subs:      make(map[chan T]struct{}),
		queueSize: queueSize,
	}
}

// Subscribe creates a new subscription. The returned channel receives items
// until the provided context is cancelled, at which point the channel is
// closed and the subscription is removed.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, b.queueSize)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish delivers an item to all active subscribers. It blocks while a
// subscriber's queue is full and returns early only if ctx is cancelled.
func (b *Broker[T]) Publish(ctx context.Context, item T) error {
	// Hold the read lock across delivery so a channel cannot be closed by
	// an unsubscribing goroutine mid-send. Cancellation unblocks the sends,
	// which releases the lock and lets cleanup proceed.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- item:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
