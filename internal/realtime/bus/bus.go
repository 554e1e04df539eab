// Package bus implements the in-process scheduler event broadcast
// (SPEC_FULL §4.6) plus an optional Redis-backed relay for fanning events
// out across multiple API-server replicas in front of one executor loop.
package bus

import (
	"context"

	"github.com/flowmium/flowmium/internal/realtime/events"
)

// Bus is a multi-producer/multi-consumer broadcast of scheduler events with
// a fixed-capacity ring buffer. Publish never blocks; a Subscriber that
// falls more than the buffer's capacity behind observes a Lag on its next
// Recv and resumes at the oldest event still buffered.
type Bus interface {
	Publish(ctx context.Context, evt events.Event) error
	Subscribe() *Subscriber
	Close() error
}

// Relay forwards events published on a remote transport (Redis pub/sub)
// into a callback, and publishes local events outward. It is the
// cross-replica counterpart to Bus — grounded on the teacher's
// internal/realtime/bus.Bus interface shape.
type Relay interface {
	Publish(ctx context.Context, evt events.Event) error
	StartForwarder(ctx context.Context, onEvent func(events.Event)) error
	Close() error
}

// WithRelay wraps a local Bus so that every Publish also fans the event out
// through relay (e.g. to Redis) for other replicas to pick up via their own
// Relay.StartForwarder, closing the outward half of the multi-replica
// topology DESIGN.md describes. If relay is nil, it returns bus unchanged.
func WithRelay(b Bus, relay Relay) Bus {
	if relay == nil {
		return b
	}
	return &relayedBus{Bus: b, relay: relay}
}

type relayedBus struct {
	Bus
	relay Relay
}

func (r *relayedBus) Publish(ctx context.Context, evt events.Event) error {
	if err := r.Bus.Publish(ctx, evt); err != nil {
		return err
	}
	return r.relay.Publish(ctx, evt)
}
