package agentworld

import (
	"context"
	"testing"
	"time"
)

func TestProcessingSerializesPerTarget(t *testing.T) {
	reg := newProcessingRegistry()
	first := reg.Begin(context.Background(), "chat", "agent")

	acquired := make(chan *ProcessingHandle)
	go func() {
		acquired <- reg.Begin(context.Background(), "chat", "agent")
	}()

	select {
	case <-acquired:
		t.Fatal("second pipeline for the same target started before the first completed")
	case <-time.After(100 * time.Millisecond):
	}

	first.Complete()
	select {
	case h := <-acquired:
		h.Complete()
	case <-time.After(5 * time.Second):
		t.Fatal("second pipeline never acquired the slot")
	}
}

func TestProcessingDifferentTargetsConcurrent(t *testing.T) {
	reg := newProcessingRegistry()
	a := reg.Begin(context.Background(), "chat", "agent-a")
	defer a.Complete()

	done := make(chan struct{})
	go func() {
		b := reg.Begin(context.Background(), "chat", "agent-b")
		b.Complete()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("different targets must not serialize against each other")
	}
}

func TestProcessingStopChat(t *testing.T) {
	reg := newProcessingRegistry()
	h1 := reg.Begin(context.Background(), "chat-a", "agent-1")
	h2 := reg.Begin(context.Background(), "chat-a", "agent-2")
	h3 := reg.Begin(context.Background(), "chat-b", "agent-1")
	defer h1.Complete()
	defer h2.Complete()
	defer h3.Complete()

	reg.StopChat("chat-a")
	if !h1.IsStopped() || !h2.IsStopped() {
		t.Error("all handles in the stopped chat should be cancelled")
	}
	if h3.IsStopped() {
		t.Error("other chats must be unaffected")
	}

	select {
	case <-h1.Signal():
	default:
		t.Error("signal channel not closed on stop")
	}
}

func TestProcessingCompleteIdempotent(t *testing.T) {
	reg := newProcessingRegistry()
	h := reg.Begin(context.Background(), "chat", "agent")
	h.Complete()
	h.Complete() // must not panic or double-unlock

	// Slot is free again.
	h2 := reg.Begin(context.Background(), "chat", "agent")
	h2.Complete()
}

func TestProcessingContextCancelledOnStop(t *testing.T) {
	reg := newProcessingRegistry()
	h := reg.Begin(context.Background(), "chat", "agent")
	defer h.Complete()

	if h.Context().Err() != nil {
		t.Fatal("fresh handle already cancelled")
	}
	h.Stop()
	h.Stop() // idempotent
	if h.Context().Err() == nil {
		t.Error("context should be cancelled after stop")
	}
}

func TestActivityTrackerIdleTransition(t *testing.T) {
	bus := NewEventBus(nil)
	defer bus.Close()

	events := make(chan ActivityEvent, 16)
	bus.On(ChannelWorld, func(event any) error {
		if ev, ok := event.(ActivityEvent); ok {
			events <- ev
		}
		return nil
	})

	tracker := newActivityTracker(bus)
	endA := tracker.Begin("agent-a")
	endB := tracker.Begin("agent-b")

	next := func() ActivityEvent {
		select {
		case ev := <-events:
			return ev
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for activity event")
			return ActivityEvent{}
		}
	}

	start1 := next()
	if start1.Type != ActivityResponseStart || start1.PendingOperations != 1 {
		t.Errorf("first event = %+v", start1)
	}
	start2 := next()
	if start2.Type != ActivityResponseStart || start2.PendingOperations != 2 {
		t.Errorf("second event = %+v", start2)
	}

	endA()
	endA() // idempotent
	end1 := next()
	if end1.Type != ActivityResponseEnd || end1.PendingOperations != 1 {
		t.Errorf("end event = %+v", end1)
	}

	endB()
	end2 := next()
	if end2.Type != ActivityResponseEnd || end2.PendingOperations != 0 {
		t.Errorf("end event = %+v", end2)
	}
	idle := next()
	if idle.Type != ActivityIdle || idle.PendingOperations != 0 {
		t.Errorf("idle event = %+v", idle)
	}
}
