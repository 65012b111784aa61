package graph

import "testing"

func TestDiamondReadyOrder(t *testing.T) {
	g, err := New([]TaskSpec{
		{ID: "A"},
		{ID: "B", Dependencies: []string{"A"}},
		{ID: "C", Dependencies: []string{"A"}},
		{ID: "D", Dependencies: []string{"B", "C"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ready := g.ReadyTasks()
	if len(ready) != 1 || ready[0] != "A" {
		t.Fatalf("expected only A ready, got %v", ready)
	}

	g.SetRunning("A")
	g.MarkCompleted("A")

	ready = g.ReadyTasks()
	if len(ready) != 2 || ready[0] != "B" || ready[1] != "C" {
		t.Fatalf("expected B,C ready in insertion order, got %v", ready)
	}

	g.MarkCompleted("B")
	g.MarkCompleted("C")

	ready = g.ReadyTasks()
	if len(ready) != 1 || ready[0] != "D" {
		t.Fatalf("expected only D ready, got %v", ready)
	}

	g.MarkCompleted("D")
	if !g.AllComplete() {
		t.Fatal("expected graph to be complete")
	}
}

func TestSelfDependencyRejected(t *testing.T) {
	_, err := New([]TaskSpec{{ID: "A", Dependencies: []string{"A"}}})
	if err == nil {
		t.Fatal("expected InvalidGraphError for self-dependency")
	}
	var target *InvalidGraphError
	if !asInvalidGraphError(err, &target) {
		t.Fatalf("expected *InvalidGraphError, got %T", err)
	}
}

func TestDanglingDependencyRejected(t *testing.T) {
	_, err := New([]TaskSpec{{ID: "A", Dependencies: []string{"B"}}})
	if err == nil {
		t.Fatal("expected InvalidGraphError for dangling dependency")
	}
}

func TestMarkCompletedIdempotentAndUnknownIgnored(t *testing.T) {
	g, err := New([]TaskSpec{{ID: "A"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g.MarkCompleted("A")
	g.MarkCompleted("A")
	if g.CompletedCount() != 1 {
		t.Fatalf("expected completed count 1, got %d", g.CompletedCount())
	}
	g.MarkCompleted("does-not-exist") // must not panic
}

func TestCriticalPath(t *testing.T) {
	g, err := New([]TaskSpec{
		{ID: "A"},
		{ID: "B", Dependencies: []string{"A"}},
		{ID: "C", Dependencies: []string{"B"}},
		{ID: "D", Dependencies: []string{"A"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cp := g.CriticalPath()
	want := []string{"A", "B", "C"}
	if len(cp) != len(want) {
		t.Fatalf("expected critical path %v, got %v", want, cp)
	}
	for i := range want {
		if cp[i] != want[i] {
			t.Fatalf("expected critical path %v, got %v", want, cp)
		}
	}
}

func TestCriticalPathStrategyPrefersPathAfterACompletes(t *testing.T) {
	g, err := New([]TaskSpec{
		{ID: "A"},
		{ID: "B", Dependencies: []string{"A"}},
		{ID: "C", Dependencies: []string{"B"}},
		{ID: "D", Dependencies: []string{"A"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g.MarkCompleted("A")

	ready := g.ReadyTasks() // B, D in insertion order
	strat := CriticalPath{}
	picked := strat.SelectTasks(ready, 1, 0, g)
	if len(picked) != 1 || picked[0] != "B" {
		t.Fatalf("expected B selected via critical path, got %v", picked)
	}
}

func TestRateAwareStrategy(t *testing.T) {
	ready := []string{"T1", "T2", "T3", "T4", "T5", "T6", "T7", "T8", "T9", "T10"}
	strat := RateAware{MaxRPM: 100, EstimatedRPMPerTask: 40}
	picked := strat.SelectTasks(ready, 10, 0, nil)
	if len(picked) != 2 {
		t.Fatalf("expected 2 tasks picked (floor(100/40)), got %d", len(picked))
	}
}

func TestRateAwareZeroHeadroom(t *testing.T) {
	strat := RateAware{MaxRPM: 100, EstimatedRPMPerTask: 40}
	picked := strat.SelectTasks([]string{"T1"}, 10, 100, nil)
	if len(picked) != 0 {
		t.Fatalf("expected 0 tasks at zero headroom, got %d", len(picked))
	}
}

func TestMaxParallelStrategy(t *testing.T) {
	strat := MaxParallel{}
	picked := strat.SelectTasks([]string{"A", "B", "C"}, 2, 0, nil)
	if len(picked) != 2 || picked[0] != "A" || picked[1] != "B" {
		t.Fatalf("unexpected selection: %v", picked)
	}
}

// asInvalidGraphError avoids importing errors.As noise in the tests above.
func asInvalidGraphError(err error, target **InvalidGraphError) bool {
	e, ok := err.(*InvalidGraphError)
	if ok {
		*target = e
	}
	return ok
}
