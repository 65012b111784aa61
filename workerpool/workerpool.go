// Package workerpool implements bounded creation and teardown of worker
// sessions (spec.md §4.4). The spawn-races-a-timeout pattern and the
// single-mutex-guards-everything discipline are grounded on
// control_plane/coordination/leader.go's mutex-guarded state machine and
// callback wiring; the parallel-terminate/poll-to-drain shape is grounded
// on the worker_pool.go example from the retrieval pack (not the teacher
// itself — the teacher has no generic worker pool of its own).
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fluxforge/agentcore/observability"
	"github.com/fluxforge/agentcore/session"
)

// Status is a WorkerInstance's lifecycle state.
type Status string

const (
	Idle       Status = "idle"
	Busy       Status = "busy"
	Error      Status = "error"
	Terminated Status = "terminated"
)

var (
	ErrLimitExceeded = errors.New("workerpool: limit exceeded")
	ErrDuplicateID   = errors.New("workerpool: duplicate id")
	ErrSpawnTimeout  = errors.New("workerpool: spawn timed out")
)

// Config controls pool sizing and spawn behavior.
type Config struct {
	MaxWorkers   int
	SpawnTimeout time.Duration
	AutoCleanup  bool
}

func (c Config) validate() (Config, error) {
	if c.MaxWorkers < 2 || c.MaxWorkers > 50 {
		return c, fmt.Errorf("workerpool: maxWorkers must be in [2,50], got %d", c.MaxWorkers)
	}
	if c.SpawnTimeout <= 0 {
		c.SpawnTimeout = 3 * time.Second
	}
	return c, nil
}

// SpawnOptions is the input to Pool.Spawn.
type SpawnOptions struct {
	TaskID       string
	WorkingDir   string
	SystemPrompt string
	MCPServers   []string
}

// WorkerInstance is a live worker tracked by the pool.
type WorkerInstance struct {
	ID         string
	WorkingDir string
	CreatedAt  time.Time
	Status     Status
}

// Pool bounds the number of concurrently live worker sessions.
type Pool struct {
	cfg     Config
	factory session.Factory

	mu       sync.Mutex
	workers  map[string]*WorkerInstance
	sessions map[string]session.Session
}

// New constructs a Pool. Construction fails if cfg.MaxWorkers is outside
// [2, 50].
func New(cfg Config, factory session.Factory) (*Pool, error) {
	cfg, err := cfg.validate()
	if err != nil {
		return nil, err
	}
	return &Pool{
		cfg:      cfg,
		factory:  factory,
		workers:  make(map[string]*WorkerInstance),
		sessions: make(map[string]session.Session),
	}, nil
}

// Spawn creates a new worker session for opts.TaskID, racing creation
// against the pool's configured spawn timeout.
func (p *Pool) Spawn(ctx context.Context, opts SpawnOptions) (*WorkerInstance, error) {
	p.mu.Lock()
	if len(p.workers) >= p.cfg.MaxWorkers {
		p.mu.Unlock()
		return nil, ErrLimitExceeded
	}
	if _, exists := p.workers[opts.TaskID]; exists {
		p.mu.Unlock()
		return nil, ErrDuplicateID
	}
	p.mu.Unlock()

	spawnCtx, cancel := context.WithCancel(ctx)
	type result struct {
		sess session.Session
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		sess, err := p.factory.Create(spawnCtx, session.Options{
			Instructions:      opts.SystemPrompt,
			WorkspacePath:     opts.WorkingDir,
			ParallelExecution: true,
			WorkerType:        "worker",
		})
		resCh <- result{sess, err}
	}()

	select {
	case r := <-resCh:
		cancel()
		if r.err != nil {
			return nil, r.err
		}
		wi := &WorkerInstance{ID: opts.TaskID, WorkingDir: opts.WorkingDir, CreatedAt: time.Now(), Status: Idle}
		p.mu.Lock()
		p.workers[opts.TaskID] = wi
		p.sessions[opts.TaskID] = r.sess
		p.mu.Unlock()
		observability.WorkerPoolSize.WithLabelValues(string(Idle)).Inc()
		log.Printf("✅ worker %s spawned (workdir=%s)", opts.TaskID, opts.WorkingDir)
		go p.watch(opts.TaskID, r.sess)
		return wi, nil

	case <-time.After(p.cfg.SpawnTimeout):
		cancel()
		log.Printf("⚠️ worker %s spawn timed out after %v", opts.TaskID, p.cfg.SpawnTimeout)
		if p.cfg.AutoCleanup {
			go func() {
				r := <-resCh
				if r.sess != nil {
					r.sess.Abort()
					_ = r.sess.Dispose()
				}
			}()
		}
		return nil, ErrSpawnTimeout
	}
}

func (p *Pool) watch(id string, sess session.Session) {
	for e := range sess.Events() {
		switch e.Kind {
		case session.Started:
			p.setStatus(id, Busy)
		case session.Completed:
			p.setStatus(id, Idle)
		case session.Aborted, session.ToolFailed:
			p.setStatus(id, Error)
		}
	}
}

func (p *Pool) setStatus(id string, st Status) {
	p.mu.Lock()
	wi, ok := p.workers[id]
	if !ok || wi.Status == Terminated {
		p.mu.Unlock()
		return
	}
	old := wi.Status
	wi.Status = st
	p.mu.Unlock()

	observability.WorkerPoolSize.WithLabelValues(string(old)).Dec()
	observability.WorkerPoolSize.WithLabelValues(string(st)).Inc()
	if st == Error {
		log.Printf("⚠️ worker %s transitioned to ERROR", id)
	}
}

// Get returns the worker tracked under id.
func (p *Pool) Get(id string) (WorkerInstance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	wi, ok := p.workers[id]
	if !ok {
		return WorkerInstance{}, false
	}
	return *wi, true
}

// StatusOf returns id's current status.
func (p *Pool) StatusOf(id string) (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	wi, ok := p.workers[id]
	if !ok {
		return "", false
	}
	return wi.Status, true
}

// Active returns the ids of every worker currently busy.
func (p *Pool) Active() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for id, wi := range p.workers {
		if wi.Status == Busy {
			out = append(out, id)
		}
	}
	return out
}

const terminateGrace = 100 * time.Millisecond

// Terminate stops the worker tracked under id. Idempotent: a call for an
// absent id is a no-op.
func (p *Pool) Terminate(id string) {
	p.mu.Lock()
	_, ok := p.workers[id]
	sess := p.sessions[id]
	p.mu.Unlock()
	if !ok {
		return
	}

	p.setStatus(id, Terminated)

	if sess != nil {
		sess.Abort()
		time.Sleep(terminateGrace)
		_ = sess.Dispose()
	}

	p.mu.Lock()
	delete(p.workers, id)
	delete(p.sessions, id)
	p.mu.Unlock()
	observability.WorkerPoolSize.WithLabelValues(string(Terminated)).Dec()
	log.Printf("✅ worker %s terminated", id)
}

// Cleanup terminates every tracked worker in parallel. Errors are
// swallowed; Terminate itself never returns one, but session Dispose
// failures (if any future Session implementation introduces them) must
// not prevent sibling cleanup.
func (p *Pool) Cleanup() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.workers))
	for id := range p.workers {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			p.Terminate(id)
		}(id)
	}
	wg.Wait()
}

const waitForAllPollInterval = 25 * time.Millisecond

// WaitForAll blocks until every tracked worker's status is idle, error, or
// terminated, polling at a short fixed cadence. Returns immediately if the
// pool is empty.
func (p *Pool) WaitForAll(ctx context.Context) error {
	for {
		if p.allSettled() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitForAllPollInterval):
		}
	}
}

func (p *Pool) allSettled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, wi := range p.workers {
		if wi.Status == Busy {
			return false
		}
	}
	return true
}
