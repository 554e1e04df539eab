package bus

import (
	"context"
	"testing"

	"github.com/flowmium/flowmium/internal/realtime/events"
)

func TestBroadcastBusDeliversInOrder(t *testing.T) {
	b := NewBroadcastBus()
	sub := b.Subscribe()

	want := []events.Event{
		events.FlowCreated(1),
		events.TaskStatusUpdate(1, 0, events.StatusRunning),
		events.TaskStatusUpdate(1, 0, events.StatusFinished),
	}
	for _, e := range want {
		if err := b.Publish(context.Background(), e); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	for i, w := range want {
		got, lag, ok, err := sub.Recv(context.Background())
		if err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
		if !ok || lag != 0 {
			t.Fatalf("recv %d: expected ok with no lag, got ok=%v lag=%d", i, ok, lag)
		}
		if got != w {
			t.Fatalf("recv %d: got %+v, want %+v", i, got, w)
		}
	}
}

func TestBroadcastBusNewSubscriberMissesPastEvents(t *testing.T) {
	b := NewBroadcastBus()
	if err := b.Publish(context.Background(), events.FlowCreated(1)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	sub := b.Subscribe()
	if err := b.Publish(context.Background(), events.FlowCreated(2)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, _, ok, err := sub.Recv(context.Background())
	if err != nil || !ok {
		t.Fatalf("recv: ok=%v err=%v", ok, err)
	}
	if got.FlowID != 2 {
		t.Fatalf("expected to see only the post-subscribe event, got %+v", got)
	}
}

func TestBroadcastBusLagOnOverflow(t *testing.T) {
	b := NewBroadcastBus()
	sub := b.Subscribe()

	total := defaultCapacity + 5
	for i := 0; i < total; i++ {
		if err := b.Publish(context.Background(), events.FlowCreated(int64(i))); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	_, lag, ok, err := sub.Recv(context.Background())
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if ok {
		t.Fatalf("expected a Lag indication, got an event instead")
	}
	if lag != 5 {
		t.Fatalf("expected lag of 5, got %d", lag)
	}

	// Subscriber resumes at the oldest buffered event after the lag notification.
	got, _, ok, err := sub.Recv(context.Background())
	if err != nil {
		t.Fatalf("recv after lag: %v", err)
	}
	if !ok {
		t.Fatalf("expected to resume receiving events after lag notification")
	}
	if got.FlowID != int64(total-defaultCapacity) {
		t.Fatalf("unexpected resume point: %+v", got)
	}
}

func TestBroadcastBusCloseUnblocksSubscribers(t *testing.T) {
	b := NewBroadcastBus()
	sub := b.Subscribe()

	done := make(chan error, 1)
	go func() {
		_, _, _, err := sub.Recv(context.Background())
		done <- err
	}()

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("recv after close: %v", err)
	}
}
