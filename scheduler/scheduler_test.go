package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/fluxforge/agentcore/channel"
	"github.com/fluxforge/agentcore/graph"
	"github.com/fluxforge/agentcore/ratelimit"
	"github.com/fluxforge/agentcore/session"
	"github.com/fluxforge/agentcore/workerpool"
)

type stubSession struct {
	events chan session.Event
}

func newStubSession() *stubSession {
	s := &stubSession{events: make(chan session.Event, 2)}
	s.events <- session.Event{Kind: session.Started}
	return s
}

func (s *stubSession) ID() string                   { return "stub" }
func (s *stubSession) Events() <-chan session.Event { return s.events }
func (s *stubSession) Abort()                       {}
func (s *stubSession) Dispose() error               { return nil }

type stubFactory struct{}

func (stubFactory) Create(ctx context.Context, opts session.Options) (session.Session, error) {
	return newStubSession(), nil
}

func newTestHarness(t *testing.T) (*workerpool.Pool, *channel.Server, *ratelimit.Limiter) {
	t.Helper()
	pool, err := workerpool.New(workerpool.Config{MaxWorkers: 5}, stubFactory{})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	srv := channel.NewServer(channel.ServerConfig{})
	if _, err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	limiter := ratelimit.New(nil)
	return pool, srv, limiter
}

func TestDiamondDAGRunsToCompletion(t *testing.T) {
	pool, srv, limiter := newTestHarness(t)
	defer srv.Stop()
	defer limiter.Dispose()

	tasks := []graph.TaskSpec{
		{ID: "A"},
		{ID: "B", Dependencies: []string{"A"}},
		{ID: "C", Dependencies: []string{"A"}},
		{ID: "D", Dependencies: []string{"B", "C"}},
	}
	sch, err := New(tasks, pool, srv, limiter, Config{Strategy: MaxParallelName, MaxWorkers: 3})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sch.Run(ctx) }()

	var assigned []string
	for len(assigned) < 4 {
		select {
		case e := <-sch.Events():
			if e.Kind == EventTaskAssigned {
				assigned = append(assigned, e.TaskID)
				sch.handleCompleted(e.TaskID)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for assignments, got %v so far", assigned)
		}
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not reach completed")
	}

	if assigned[0] != "A" {
		t.Fatalf("expected A assigned first, got %v", assigned)
	}
	if assigned[3] != "D" {
		t.Fatalf("expected D assigned last, got %v", assigned)
	}
}

func TestTaskFailureLeavesDependentsPending(t *testing.T) {
	pool, srv, limiter := newTestHarness(t)
	defer srv.Stop()
	defer limiter.Dispose()

	tasks := []graph.TaskSpec{
		{ID: "A"},
		{ID: "B", Dependencies: []string{"A"}},
	}
	sch, err := New(tasks, pool, srv, limiter, Config{Strategy: MaxParallelName, MaxWorkers: 3})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	go sch.Run(ctx)

	select {
	case e := <-sch.Events():
		if e.Kind != EventStarted {
			t.Fatalf("expected started first, got %v", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a started event")
	}

	select {
	case e := <-sch.Events():
		if e.Kind != EventTaskAssigned || e.TaskID != "A" {
			t.Fatalf("expected A assigned, got %+v", e)
		}
		sch.handleFailed("A", context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("expected A to be assigned")
	}

	// B must never become ready: its dependency failed, not completed.
	time.Sleep(100 * time.Millisecond)
	if ready := sch.g.ReadyTasks(); len(ready) != 0 {
		t.Fatalf("expected no ready tasks once A fails, got %v", ready)
	}
}

func TestWorkspaceConflictRejectedAtConstruction(t *testing.T) {
	pool, srv, limiter := newTestHarness(t)
	defer srv.Stop()
	defer limiter.Dispose()

	tasks := []graph.TaskSpec{
		{ID: "A", WorkspacePath: "/src"},
		{ID: "B", WorkspacePath: "/src/auth"},
	}
	_, err := New(tasks, pool, srv, limiter, Config{})
	if err == nil {
		t.Fatal("expected workspace conflict error")
	}
	if _, ok := err.(*WorkspaceConflictError); !ok {
		t.Fatalf("expected *WorkspaceConflictError, got %T", err)
	}
}

func TestEmptyTaskListCompletesImmediately(t *testing.T) {
	pool, srv, limiter := newTestHarness(t)
	defer srv.Stop()
	defer limiter.Dispose()

	sch, err := New(nil, pool, srv, limiter, Config{})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- sch.Run(ctx) }()

	var kinds []EventKind
	for len(kinds) < 2 {
		select {
		case e := <-sch.Events():
			kinds = append(kinds, e.Kind)
		case <-time.After(time.Second):
			t.Fatalf("expected started+completed, got %v", kinds)
		}
	}
	if kinds[0] != EventStarted || kinds[1] != EventCompleted {
		t.Fatalf("expected [started, completed], got %v", kinds)
	}
}
