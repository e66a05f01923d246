package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the per-subscriber buffer used when none is configured.
const DefaultCapacity = 1024

// ErrClosed is returned by Recv after the subscription or bus is closed.
var ErrClosed = errors.New("event subscription closed")

// LaggedError tells a subscriber how many events it missed because it fell
// behind. The next Recv continues with the oldest event still buffered.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("subscriber lagged: %d events missed", e.Missed)
}

// Bus is a lossy broadcast channel of domain events. Publish never blocks;
// each subscriber owns a bounded queue that drops its oldest entry on overflow.
type Bus struct {
	capacity int
	logger   *slog.Logger

	mu     sync.Mutex // guards writes to subs
	subs   atomic.Pointer[[]*Subscription]
	count  atomic.Int64
	closed atomic.Bool
	lagged atomic.Uint64
}

// NewBus creates a bus whose subscribers buffer up to capacity events.
func NewBus(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{capacity: capacity, logger: logger}
	empty := []*Subscription{}
	b.subs.Store(&empty)
	return b
}

// Publish delivers e to every live subscriber and returns how many received it.
func (b *Bus) Publish(e Event) int {
	if b.closed.Load() {
		return 0
	}
	subs := *b.subs.Load()
	for _, s := range subs {
		if dropped := s.push(e); dropped {
			b.lagged.Add(1)
		}
	}
	return len(subs)
}

// PublishTopic parses a pre-serialized payload and publishes it. Malformed
// payloads are logged and dropped.
func (b *Bus) PublishTopic(topic string, payload []byte) {
	e, err := Decode(payload, Type(topic))
	if err != nil {
		b.logger.Warn("dropping malformed event payload",
			slog.String("topic", topic),
			slog.String("error", err.Error()))
		return
	}
	b.Publish(e)
}

// HasSubscribers reports whether anyone is listening.
func (b *Bus) HasSubscribers() bool {
	return b.count.Load() > 0
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	return int(b.count.Load())
}

// DroppedEvents returns the total events dropped across all subscribers.
func (b *Bus) DroppedEvents() uint64 {
	return b.lagged.Load()
}

// Subscribe registers a new subscriber that sees every event published from
// now on.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		bus:      b,
		capacity: b.capacity,
		notify:   make(chan struct{}, 1),
	}
	if b.closed.Load() {
		s.closed = true
		return s
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	old := *b.subs.Load()
	next := make([]*Subscription, len(old), len(old)+1)
	copy(next, old)
	next = append(next, s)
	b.subs.Store(&next)
	b.count.Add(1)
	return s
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := *b.subs.Load()
	next := make([]*Subscription, 0, len(old))
	for _, o := range old {
		if o != s {
			next = append(next, o)
		}
	}
	if len(next) != len(old) {
		b.count.Add(-1)
	}
	b.subs.Store(&next)
}

// Close closes every subscription. Further publishes are no-ops.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	subs := *b.subs.Load()
	empty := []*Subscription{}
	b.subs.Store(&empty)
	b.count.Store(0)
	b.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
}

// Subscription is one subscriber's ordered view of the bus.
type Subscription struct {
	bus      *Bus
	capacity int
	notify   chan struct{}

	mu     sync.Mutex
	queue  []Event
	missed uint64
	closed bool
}

func (s *Subscription) push(e Event) (dropped bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if len(s.queue) >= s.capacity {
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.missed++
		dropped = true
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Recv blocks until an event is available, the context ends, or the
// subscription closes. After falling behind it returns a *LaggedError once.
func (s *Subscription) Recv(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if s.missed > 0 {
			missed := s.missed
			s.missed = 0
			s.mu.Unlock()
			return nil, &LaggedError{Missed: missed}
		}
		if len(s.queue) > 0 {
			e := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return e, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.notify:
		}
	}
}

// TryRecv returns the next buffered event without blocking.
func (s *Subscription) TryRecv() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	e := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return e, true
}

// Close unsubscribes. Buffered events remain readable until drained.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.shutdown()
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
