package eventbridge

import (
	"context"
	"testing"
	"time"

	"github.com/fluxforge/agentcore/scheduler"
)

func TestPumpSchedulerReturnsOnContextCancel(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	events := make(chan scheduler.Event, 4)
	events <- scheduler.Event{Kind: scheduler.EventStarted}
	events <- scheduler.Event{Kind: scheduler.EventTaskAssigned, TaskID: "t1", WorkerID: "w1"}

	done := make(chan struct{})
	go func() {
		PumpScheduler(ctx, hub, events)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected PumpScheduler to return after context cancellation")
	}
}

func TestNewHubHasNoClients(t *testing.T) {
	hub := NewHub()
	if hub.ClientCount() != 0 {
		t.Fatalf("expected empty hub, got %d clients", hub.ClientCount())
	}
}

func TestPublishIsNonBlockingWhenBufferFull(t *testing.T) {
	hub := NewHub()
	for i := 0; i < 1000; i++ {
		hub.Publish(Envelope{Source: "scheduler", Kind: "task-assigned"})
	}
	// must not deadlock even though no Run() loop is draining publish
}
