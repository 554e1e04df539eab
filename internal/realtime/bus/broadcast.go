package bus

import (
	"context"
	"sync"

	"github.com/flowmium/flowmium/internal/realtime/events"
)

const defaultCapacity = 1024

// broadcastBus is a fixed-size ring buffer of published events guarded by a
// mutex, with a sync.Cond waking subscribers blocked in Recv. No library in
// the retrieved examples (or their dependency closures) implements a
// lag-tolerant broadcast channel — see DESIGN.md for the stdlib
// justification.
type broadcastBus struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	ring     []events.Event
	tail     int64 // next sequence number to be written
	closed   bool
}

func NewBroadcastBus() Bus {
	b := &broadcastBus{
		capacity: defaultCapacity,
		ring:     make([]events.Event, defaultCapacity),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *broadcastBus) Publish(_ context.Context, evt events.Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.ring[b.tail%int64(b.capacity)] = evt
	b.tail++
	b.mu.Unlock()
	b.cond.Broadcast()
	return nil
}

func (b *broadcastBus) Subscribe() *Subscriber {
	b.mu.Lock()
	next := b.tail
	b.mu.Unlock()
	return &Subscriber{bus: b, next: next}
}

func (b *broadcastBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
	return nil
}

// Subscriber holds an independent read cursor into a broadcastBus. New
// subscribers only observe events published after Subscribe was called.
type Subscriber struct {
	bus  *broadcastBus
	next int64
}

// Recv blocks until an event is available, ctx is done, or the bus is
// closed. If this subscriber fell more than the bus's capacity behind the
// publishers, Recv returns ok=false and lag equal to the number of events
// dropped for this subscriber; the cursor is advanced to the oldest event
// still held in the ring buffer, which the next call returns.
func (s *Subscriber) Recv(ctx context.Context) (evt events.Event, lag int64, ok bool, err error) {
	done := make(chan struct{})
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.bus.cond.Broadcast()
			case <-done:
			}
		}()
		defer close(done)
	}

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	for {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return events.Event{}, 0, false, ctx.Err()
			default:
			}
		}
		if s.bus.closed {
			return events.Event{}, 0, false, nil
		}

		behind := s.bus.tail - s.next
		if behind <= 0 {
			s.bus.cond.Wait()
			continue
		}
		if behind > int64(s.bus.capacity) {
			dropped := behind - int64(s.bus.capacity)
			s.next = s.bus.tail - int64(s.bus.capacity)
			return events.Event{}, dropped, false, nil
		}

		e := s.bus.ring[s.next%int64(s.bus.capacity)]
		s.next++
		return e, 0, true, nil
	}
}
