// Package bus carries ordered pipeline events from the orchestrator
// to the one active progress subscriber.
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/batchscribe/batchscribe/internal/types"
)

var (
	// ErrClosed is returned by Next once the bus is closed and drained.
	ErrClosed = errors.New("bus closed")
	// ErrDetached is returned by Next after a newer subscriber attached.
	ErrDetached = errors.New("subscriber detached")
)

const (
	defaultQueueSize    = 256
	defaultPingInterval = 30 * time.Second
)

// Bus is a per-session bounded event queue. Publish blocks the
// producer when the queue is full rather than dropping events, so
// every status transition is observed at least once.
type Bus struct {
	mu           sync.Mutex
	events       chan types.Event
	sub          *Subscription
	closed       bool
	pingInterval time.Duration
}

// Subscription identifies one attached reader.
type Subscription struct {
	detached chan struct{}
	once     sync.Once
}

func (s *Subscription) detach() {
	s.once.Do(func() { close(s.detached) })
}

// New creates a bus with the given queue size and keep-alive
// interval; zero values pick defaults.
func New(queueSize int, pingInterval time.Duration) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	return &Bus{
		events:       make(chan types.Event, queueSize),
		pingInterval: pingInterval,
	}
}

// Publish appends an event, blocking while the queue is full.
// It must not be called after Close; the producer closes the bus
// itself after the terminal done event.
func (b *Bus) Publish(event types.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	b.events <- event
}

// Subscribe attaches a reader receiving events from now on. A prior
// subscriber, if any, is detached; history is never replayed.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		b.sub.detach()
	}
	sub := &Subscription{detached: make(chan struct{})}
	b.sub = sub
	return sub
}

// Unsubscribe releases the subscription. Detaching never cancels the
// producing pipeline.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub == sub {
		b.sub = nil
	}
	sub.detach()
}

// HasSubscriber reports whether a reader is currently attached.
func (b *Bus) HasSubscriber() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sub != nil
}

// Next blocks until an event is available. When the queue stays idle
// for the ping interval a keep-alive ping event is synthesized so
// long-polling connections are not mistaken for dead.
func (b *Bus) Next(ctx context.Context, sub *Subscription) (types.Event, error) {
	timer := time.NewTimer(b.pingInterval)
	defer timer.Stop()

	select {
	case event, ok := <-b.events:
		if !ok {
			return types.Event{}, ErrClosed
		}
		return event, nil
	case <-sub.detached:
		return types.Event{}, ErrDetached
	case <-ctx.Done():
		return types.Event{}, ctx.Err()
	case <-timer.C:
		return types.PingEvent(), nil
	}
}

// Close marks the end of the stream. Queued events remain readable;
// Next reports ErrClosed once they are drained.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.events)
}
