package graph

import (
	"fmt"
	"sync"

	"github.com/fluxforge/agentcore/observability"
)

// Graph is the dependency DAG over a fixed set of tasks. It is owned
// exclusively by a single Scheduler; all mutation goes through its
// mutex-guarded methods so it is safe to call from the driver goroutine and
// from worker-completion callbacks alike.
type Graph struct {
	mu    sync.RWMutex
	order []string // insertion order, for deterministic iteration
	nodes map[string]*TaskNode
	runID string
}

// SetRunID labels the metrics this graph emits. Unset defaults to "default".
func (g *Graph) SetRunID(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runID = id
}

func (g *Graph) metricsLabelLocked() string {
	if g.runID == "" {
		return "default"
	}
	return g.runID
}

// New validates the task list and builds the DAG. It fails with
// InvalidGraphError when a dependency id is missing from the list or the
// dependency relation contains a cycle (self-loops count as cycles).
func New(tasks []TaskSpec) (*Graph, error) {
	nodes := make(map[string]*TaskNode, len(tasks))
	order := make([]string, 0, len(tasks))

	for _, t := range tasks {
		if _, dup := nodes[t.ID]; dup {
			return nil, &InvalidGraphError{Reason: fmt.Sprintf("duplicate task id %q", t.ID)}
		}
		deps := make(map[string]struct{}, len(t.Dependencies))
		for _, d := range t.Dependencies {
			deps[d] = struct{}{}
		}
		nodes[t.ID] = &TaskNode{
			TaskSpec:   t,
			Deps:       deps,
			Dependents: make(map[string]struct{}),
			State:      StatePending,
		}
		order = append(order, t.ID)
	}

	for id, n := range nodes {
		for dep := range n.Deps {
			target, ok := nodes[dep]
			if !ok {
				return nil, &InvalidGraphError{Reason: fmt.Sprintf("task %q depends on unknown task %q", id, dep)}
			}
			target.Dependents[id] = struct{}{}
		}
	}

	g := &Graph{order: order, nodes: nodes}
	if cycle := g.findCycle(); cycle != nil {
		return nil, &InvalidGraphError{Reason: "dependency cycle detected", Cycle: cycle}
	}
	return g, nil
}

// findCycle runs DFS with a recursion-stack set, returning the cycle path
// (or nil if the graph is acyclic). Self-dependencies are cycles of length 2
// ([id, id]).
func (g *Graph) findCycle() []string {
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(g.nodes))
	var path []string
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		state[id] = visiting
		path = append(path, id)

		// Sort-free but deterministic: iterate deps via the node's own
		// dependency list order rather than map iteration order.
		for _, dep := range g.nodes[id].TaskSpec.Dependencies {
			switch state[dep] {
			case visiting:
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, path[start:]...), dep)
				return true
			case unvisited:
				if dfs(dep) {
					return true
				}
			}
		}

		path = path[:len(path)-1]
		state[id] = visited
		return false
	}

	for _, id := range g.order {
		if state[id] == unvisited {
			if dfs(id) {
				return cycle
			}
		}
	}
	return nil
}

// ReadyTasks returns ids in pending state whose dependencies are all
// completed, in insertion order.
func (g *Graph) ReadyTasks() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for _, id := range g.order {
		n := g.nodes[id]
		if n.State != StatePending {
			continue
		}
		if g.depsCompletedLocked(n) {
			ready = append(ready, id)
		}
	}
	observability.GraphReadyTasks.WithLabelValues(g.metricsLabelLocked()).Set(float64(len(ready)))
	return ready
}

func (g *Graph) depsCompletedLocked(n *TaskNode) bool {
	for dep := range n.Deps {
		if !g.nodes[dep].Completed {
			return false
		}
	}
	return true
}

// MarkCompleted sets the node's completed flag and state. Idempotent;
// unknown ids are silently ignored (a stale or duplicate completion message
// should never crash the scheduler).
func (g *Graph) MarkCompleted(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	n.Completed = true
	n.State = StateCompleted
	observability.GraphCompletedTasks.WithLabelValues(g.metricsLabelLocked()).Inc()
}

// MarkFailed sets the node's state to failed. Unknown ids are ignored.
func (g *Graph) MarkFailed(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	n.State = StateFailed
}

// SetRunning transitions a pending node to running. Unknown ids are ignored.
func (g *Graph) SetRunning(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	n.State = StateRunning
}

// AllComplete reports whether every task has reached the completed state.
// A stuck graph (failed node blocking its dependents) reports false forever.
func (g *Graph) AllComplete() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, id := range g.order {
		if !g.nodes[id].Completed {
			return false
		}
	}
	return true
}

// TaskCount returns the total number of tasks in the graph.
func (g *Graph) TaskCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// CompletedCount returns the number of tasks whose completed flag is set.
func (g *Graph) CompletedCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, id := range g.order {
		if g.nodes[id].Completed {
			n++
		}
	}
	return n
}

// GetDetails returns a copy of the node for id, and whether it exists.
func (g *Graph) GetDetails(id string) (TaskNode, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return TaskNode{}, false
	}
	return *n, true
}

// RunningCount returns the number of tasks currently in the running state.
func (g *Graph) RunningCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, id := range g.order {
		if g.nodes[id].State == StateRunning {
			n++
		}
	}
	return n
}

// topoOrder returns a deterministic topological order of all tasks via
// Kahn's algorithm, seeded in insertion order so ties resolve predictably.
func (g *Graph) topoOrder() []string {
	indegree := make(map[string]int, len(g.nodes))
	for id, n := range g.nodes {
		indegree[id] = len(n.Deps)
	}

	var queue []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	result := make([]string, 0, len(g.order))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, id)

		// Visit dependents in the graph's insertion order for determinism.
		for _, candidate := range g.order {
			if _, isDependent := g.nodes[id].Dependents[candidate]; !isDependent {
				continue
			}
			indegree[candidate]--
			if indegree[candidate] == 0 {
				queue = append(queue, candidate)
			}
		}
	}
	return result
}

// CriticalPath returns the longest chain of incomplete tasks, measured in
// task count, as an ordered list from the chain's start to its end. Ties in
// length are broken by earliest discovery in topological order.
func (g *Graph) CriticalPath() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	topo := g.topoOrder()
	longest := make(map[string]int, len(topo))
	predecessor := make(map[string]string, len(topo))

	for _, id := range topo {
		n := g.nodes[id]
		if n.Completed {
			longest[id] = 0
			continue
		}
		best := 0
		var bestDep string
		for _, candidate := range topo {
			if _, isDep := n.Deps[candidate]; !isDep {
				continue
			}
			if longest[candidate] > best {
				best = longest[candidate]
				bestDep = candidate
			}
		}
		longest[id] = best + 1
		if bestDep != "" {
			predecessor[id] = bestDep
		}
	}

	var end string
	best := -1
	for _, id := range topo {
		if longest[id] > best {
			best = longest[id]
			end = id
		}
	}
	if best <= 0 {
		return nil
	}

	var path []string
	for cur := end; cur != ""; {
		path = append([]string{cur}, path...)
		cur = predecessor[cur]
	}
	return path
}
