// Package scheduler drives the execution loop described in spec.md §4.3:
// it composes TaskGraph, WorkerPool, MessageChannel, RateLimiter and a
// Strategy, polling readiness and dispatching ready tasks to workers.
// The admission-chain/dispatch-under-goroutine-with-mutex-guarded-state
// shape is grounded on control_plane/scheduler/scheduler.go's Submit and
// processNextTask; the event taxonomy follows spec.md rather than the
// teacher's reconciliation-specific one, plus a backpressure event for the
// circuit breaker. A circuitBreaker (adapted from
// control_plane/scheduler/circuit_breaker.go) gates assignment admission
// when the ready queue or worker saturation runs too hot.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fluxforge/agentcore/channel"
	"github.com/fluxforge/agentcore/graph"
	"github.com/fluxforge/agentcore/observability"
	"github.com/fluxforge/agentcore/ratelimit"
	"github.com/fluxforge/agentcore/workerpool"
	"github.com/fluxforge/agentcore/workspace"
)

// schedulingDecision is a structured, JSON-logged record of one admission
// or assignment decision, matching control_plane/scheduler/scheduler.go's
// logDecision/SchedulingDecision pattern.
type schedulingDecision struct {
	Component string `json:"component"`
	Decision  string `json:"decision"`
	TaskID    string `json:"taskId,omitempty"`
	WorkerID  string `json:"workerId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func logDecision(d schedulingDecision) {
	b, _ := json.Marshal(d)
	log.Println(string(b))
}

// EventKind is the closed set of scheduler lifecycle events.
type EventKind string

const (
	EventStarted          EventKind = "started"
	EventTaskAssigned     EventKind = "task-assigned"
	EventTaskCompleted    EventKind = "task-completed"
	EventTaskFailed       EventKind = "task-failed"
	EventTaskAssignFailed EventKind = "task-assign-failed"
	EventBackpressure     EventKind = "backpressure"
	EventCompleted        EventKind = "completed"
	EventError            EventKind = "error"
)

// Event is delivered on the scheduler's event stream.
type Event struct {
	Kind     EventKind
	TaskID   string
	WorkerID string
	Err      error
}

// StrategyName selects a SchedulingStrategy by the names listed in
// spec.md §6.
type StrategyName string

const (
	MaxParallelName  StrategyName = "max-parallel"
	RateAwareName    StrategyName = "rate-aware"
	CriticalPathName StrategyName = "critical-path"
)

// Config configures the scheduler loop.
type Config struct {
	Strategy            StrategyName
	MaxRPM              float64
	EstimatedRPMPerTask float64
	MaxWorkers          int
	// RunID labels this run's graph metrics. Defaults to "default".
	RunID string
}

func (c Config) withDefaults() Config {
	if c.MaxRPM <= 0 {
		c.MaxRPM = 3800
	}
	if c.EstimatedRPMPerTask <= 0 {
		c.EstimatedRPMPerTask = 15
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 10
	}
	return c
}

func buildStrategy(name StrategyName, cfg Config) graph.Strategy {
	switch name {
	case RateAwareName:
		return graph.RateAware{MaxRPM: cfg.MaxRPM, EstimatedRPMPerTask: cfg.EstimatedRPMPerTask}
	case CriticalPathName:
		return graph.CriticalPath{}
	default:
		return graph.MaxParallel{}
	}
}

// WorkspaceConflictError wraps a non-empty workspace.Result into a
// constructable error.
type WorkspaceConflictError struct {
	Conflicts []workspace.Conflict
}

func (e *WorkspaceConflictError) Error() string {
	return fmt.Sprintf("scheduler: %d workspace conflict(s) detected", len(e.Conflicts))
}

// Scheduler drives a single run to completion.
type Scheduler struct {
	g        *graph.Graph
	pool     *workerpool.Pool
	ch       *channel.Server
	limiter  *ratelimit.Limiter
	strategy graph.Strategy
	cfg      Config

	mu              sync.Mutex
	taskWorker      map[string]string
	estimatedByTask map[string]float64
	currentRPM      float64

	breaker *circuitBreaker

	events      chan Event
	completions chan struct{}
}

// New validates the task list's DAG and workspace assignments and builds a
// Scheduler ready to Run. Construction fails with InvalidGraphError or
// WorkspaceConflictError.
func New(tasks []graph.TaskSpec, pool *workerpool.Pool, ch *channel.Server, limiter *ratelimit.Limiter, cfg Config) (*Scheduler, error) {
	cfg = cfg.withDefaults()

	var wsTasks []workspace.Task
	for _, t := range tasks {
		wsTasks = append(wsTasks, workspace.Task{ID: t.ID, WorkspacePath: t.WorkspacePath})
	}
	wsResult := workspace.New(workspace.DefaultConfig()).Validate(wsTasks)
	if !wsResult.IsValid {
		for _, c := range wsResult.Conflicts {
			observability.WorkspaceConflicts.WithLabelValues(c.Kind).Inc()
		}
		return nil, &WorkspaceConflictError{Conflicts: wsResult.Conflicts}
	}

	g, err := graph.New(tasks)
	if err != nil {
		return nil, err
	}
	g.SetRunID(cfg.RunID)

	return &Scheduler{
		g:               g,
		pool:            pool,
		ch:              ch,
		limiter:         limiter,
		strategy:        buildStrategy(cfg.Strategy, cfg),
		cfg:             cfg,
		taskWorker:      make(map[string]string),
		estimatedByTask: make(map[string]float64),
		breaker:         newCircuitBreaker(cfg.MaxWorkers * 4),
		events:          make(chan Event, 256),
		completions:     make(chan struct{}, 1),
	}, nil
}

// Events returns the scheduler's event stream.
func (s *Scheduler) Events() <-chan Event {
	return s.events
}

func (s *Scheduler) emit(e Event) {
	select {
	case s.events <- e:
	default:
	}
}

func (s *Scheduler) wake() {
	select {
	case s.completions <- struct{}{}:
	default:
	}
}

type completionPayload struct {
	TaskID        string   `json:"taskId"`
	Result        string   `json:"result,omitempty"`
	ModifiedFiles []string `json:"modifiedFiles,omitempty"`
}

type failurePayload struct {
	TaskID string `json:"taskId"`
	Error  string `json:"error"`
}

func (s *Scheduler) listenMessages(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-s.ch.Events():
			if !ok {
				return
			}
			if e.Kind != channel.EventMessage {
				continue
			}
			switch e.Message.Type {
			case channel.TaskCompleted:
				var p completionPayload
				if json.Unmarshal(e.Message.Payload, &p) == nil && p.TaskID != "" {
					s.handleCompleted(p.TaskID)
				}
			case channel.TaskFailed:
				var p failurePayload
				if json.Unmarshal(e.Message.Payload, &p) == nil && p.TaskID != "" {
					s.handleFailed(p.TaskID, errors.New(p.Error))
				}
			}
		}
	}
}

func (s *Scheduler) handleCompleted(taskID string) {
	s.g.MarkCompleted(taskID)

	s.mu.Lock()
	est := s.estimatedByTask[taskID]
	delete(s.estimatedByTask, taskID)
	delete(s.taskWorker, taskID)
	s.currentRPM -= est
	if s.currentRPM < 0 {
		s.currentRPM = 0
	}
	s.mu.Unlock()

	observability.SchedulerCurrentRPM.Set(s.currentRPM)
	observability.SchedulerEvents.WithLabelValues(string(EventTaskCompleted)).Inc()
	s.breaker.recordSuccess()
	s.emit(Event{Kind: EventTaskCompleted, TaskID: taskID})
	s.wake()
}

func (s *Scheduler) handleFailed(taskID string, err error) {
	s.g.MarkFailed(taskID)

	s.mu.Lock()
	delete(s.taskWorker, taskID)
	s.mu.Unlock()

	logDecision(schedulingDecision{Component: "scheduler", Decision: "TASK_FAILED", TaskID: taskID, Reason: err.Error()})
	observability.SchedulerEvents.WithLabelValues(string(EventTaskFailed)).Inc()
	s.breaker.recordFailure()
	s.emit(Event{Kind: EventTaskFailed, TaskID: taskID, Err: err})
	s.wake()
}

// Run drives the scheduling loop until every task completes or ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	go s.listenMessages(ctx)

	observability.SchedulerEvents.WithLabelValues(string(EventStarted)).Inc()
	s.emit(Event{Kind: EventStarted})

	for !s.g.AllComplete() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ready := s.g.ReadyTasks()
		availableWorkers := s.cfg.MaxWorkers - s.g.RunningCount()

		if len(ready) == 0 || availableWorkers <= 0 {
			if !s.awaitProgress(ctx) {
				return ctx.Err()
			}
			continue
		}

		saturation := float64(s.g.RunningCount()) / float64(s.cfg.MaxWorkers)
		if !s.breaker.shouldAdmit(len(ready), saturation) {
			logDecision(schedulingDecision{Component: "scheduler", Decision: "BACKPRESSURE_REJECT", Reason: "circuit breaker open"})
			observability.SchedulerEvents.WithLabelValues(string(EventBackpressure)).Inc()
			s.emit(Event{Kind: EventBackpressure})
			if !s.awaitProgress(ctx) {
				return ctx.Err()
			}
			continue
		}

		s.mu.Lock()
		current := s.currentRPM
		s.mu.Unlock()

		start := time.Now()
		pick := s.strategy.SelectTasks(ready, availableWorkers, current, s.g)
		observability.SchedulerLoopDuration.Observe(time.Since(start).Seconds())

		if len(pick) == 0 {
			if !s.awaitProgress(ctx) {
				return ctx.Err()
			}
			continue
		}

		for _, id := range pick {
			s.assign(ctx, id)
		}
	}

	observability.SchedulerEvents.WithLabelValues(string(EventCompleted)).Inc()
	s.emit(Event{Kind: EventCompleted})
	return nil
}

func (s *Scheduler) awaitProgress(ctx context.Context) bool {
	select {
	case <-s.completions:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) assign(ctx context.Context, id string) {
	node, ok := s.g.GetDetails(id)
	if !ok {
		return
	}

	wi, err := s.pool.Spawn(ctx, workerpool.SpawnOptions{
		TaskID:       id,
		WorkingDir:   node.WorkspacePath,
		SystemPrompt: node.Instructions,
	})
	if err != nil {
		s.g.MarkFailed(id)
		logDecision(schedulingDecision{Component: "scheduler", Decision: "ASSIGN_FAILED", TaskID: id, Reason: err.Error()})
		observability.WorkerSpawnFailures.WithLabelValues(err.Error()).Inc()
		observability.SchedulerEvents.WithLabelValues(string(EventTaskAssignFailed)).Inc()
		s.emit(Event{Kind: EventTaskAssignFailed, TaskID: id, Err: err})
		return
	}

	estimated := float64(node.EstimatedRPM)
	if estimated <= 0 {
		estimated = s.cfg.EstimatedRPMPerTask
	}

	s.mu.Lock()
	s.taskWorker[id] = wi.ID
	s.estimatedByTask[id] = estimated
	s.currentRPM += estimated
	rpm := s.currentRPM
	s.mu.Unlock()

	s.g.SetRunning(id)
	observability.SchedulerCurrentRPM.Set(rpm)
	if s.limiter != nil && node.WorkerType != "" {
		s.limiter.Track(node.WorkerType, 1)
	}

	payload, _ := json.Marshal(map[string]any{
		"taskId":        id,
		"instructions":  node.Instructions,
		"workspacePath": node.WorkspacePath,
		"workerType":    node.WorkerType,
	})
	s.ch.Send(wi.ID, channel.Message{
		ID:        id + "-assignment",
		Type:      channel.TaskAssignment,
		From:      "orchestrator",
		To:        wi.ID,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})

	logDecision(schedulingDecision{Component: "scheduler", Decision: "ASSIGN", TaskID: id, WorkerID: wi.ID})
	observability.SchedulerEvents.WithLabelValues(string(EventTaskAssigned)).Inc()
	s.emit(Event{Kind: EventTaskAssigned, TaskID: id, WorkerID: wi.ID})
}

// WorkerFor returns the worker id assigned to taskId, if any.
func (s *Scheduler) WorkerFor(taskID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.taskWorker[taskID]
	return id, ok
}
