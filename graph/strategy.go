package graph

import "sort"

// Strategy selects which ready tasks to dispatch this round. Implementations
// must be pure (no hidden state) and must not mutate their inputs.
type Strategy interface {
	SelectTasks(ready []string, availableWorkers int, currentRPM float64, g *Graph) []string
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// MaxParallel dispatches as many ready tasks as there are available workers.
type MaxParallel struct{}

func (MaxParallel) SelectTasks(ready []string, availableWorkers int, _ float64, _ *Graph) []string {
	n := len(ready)
	if availableWorkers < n {
		n = availableWorkers
	}
	if n <= 0 {
		return nil
	}
	out := make([]string, n)
	copy(out, ready[:n])
	return out
}

// RateAware dispatches only as many tasks as current headroom allows.
type RateAware struct {
	MaxRPM              float64
	EstimatedRPMPerTask float64
}

func (s RateAware) SelectTasks(ready []string, availableWorkers int, currentRPM float64, _ *Graph) []string {
	headroom := s.MaxRPM - currentRPM
	if headroom < 0 {
		headroom = 0
	}
	if headroom == 0 || s.EstimatedRPMPerTask == 0 {
		return nil
	}
	byRate := int(headroom / s.EstimatedRPMPerTask)
	n := min3(len(ready), availableWorkers, byRate)
	if n <= 0 {
		return nil
	}
	out := make([]string, n)
	copy(out, ready[:n])
	return out
}

// CriticalPath prioritizes ready tasks that lie on the graph's longest
// incomplete chain, falling back to MaxParallel semantics when no graph is
// supplied.
type CriticalPath struct{}

func (s CriticalPath) SelectTasks(ready []string, availableWorkers int, currentRPM float64, g *Graph) []string {
	if g == nil {
		return MaxParallel{}.SelectTasks(ready, availableWorkers, currentRPM, g)
	}

	cp := g.CriticalPath()
	rank := make(map[string]int, len(cp))
	for i, id := range cp {
		rank[id] = i
	}

	sorted := make([]string, len(ready))
	copy(sorted, ready)

	sort.SliceStable(sorted, func(i, j int) bool {
		ri, onI := rank[sorted[i]]
		rj, onJ := rank[sorted[j]]
		if onI && onJ {
			return ri < rj
		}
		if onI != onJ {
			return onI
		}
		return false // both off-path: stable sort preserves input order
	})

	n := availableWorkers
	if n > len(sorted) {
		n = len(sorted)
	}
	if n <= 0 {
		return nil
	}
	return sorted[:n]
}
