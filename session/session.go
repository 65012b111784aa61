// Package session defines the SessionFactory/Session collaborators the
// core consumes (spec.md §6) and provides a concrete shell-backed
// implementation. The exec.Command("sh", "-c", ...) pattern and
// stdout/stderr/exit-code capture are grounded on
// fluxforge/agent/executor.go's Execute. Each session gets a fresh id from
// github.com/google/uuid; the id is held in memory only and not persisted.
package session

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Options mirrors the SessionFactory.create input from spec.md §6.
type Options struct {
	ProviderConfig    map[string]string
	Instructions      string
	WorkspacePath     string
	EnableDiff        bool
	EnableCheckpoints bool
	StartTask         string
	ParallelExecution bool
	WorkerType        string
}

// EventKind is the closed set of lifecycle events a Session emits.
type EventKind string

const (
	Started    EventKind = "started"
	Completed  EventKind = "completed"
	Aborted    EventKind = "aborted"
	ToolFailed EventKind = "toolFailed"
)

// Event is delivered on a Session's event stream.
type Event struct {
	Kind     EventKind
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// Session is the backing execution unit a WorkerInstance wraps.
type Session interface {
	ID() string
	Events() <-chan Event
	Abort()
	Dispose() error
}

// Factory creates Sessions from Options.
type Factory interface {
	Create(ctx context.Context, opts Options) (Session, error)
}

// ShellFactory creates Sessions that execute Options.StartTask (falling
// back to Options.Instructions) as a shell command in WorkspacePath. It
// has no LLM or provider dependency — a deliberately simple stand-in for
// the spec's abstract worker session, in the shape the teacher's agent
// binary already used for command execution.
type ShellFactory struct{}

func (ShellFactory) Create(ctx context.Context, opts Options) (Session, error) {
	id := uuid.NewString()
	command := opts.StartTask
	if command == "" {
		command = opts.Instructions
	}

	s := &shellSession{
		id:      id,
		command: command,
		dir:     opts.WorkspacePath,
		events:  make(chan Event, 8),
		abortCh: make(chan struct{}),
	}
	s.start(ctx)
	return s, nil
}

type shellSession struct {
	id      string
	command string
	dir     string

	mu        sync.Mutex
	aborted   bool
	cmd       *exec.Cmd
	abortOnce sync.Once

	events  chan Event
	abortCh chan struct{}
}

func (s *shellSession) ID() string           { return s.id }
func (s *shellSession) Events() <-chan Event { return s.events }

func (s *shellSession) start(ctx context.Context) {
	cmd := exec.CommandContext(ctx, "sh", "-c", s.command)
	if s.dir != "" {
		cmd.Dir = s.dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	s.emit(Event{Kind: Started})

	go func() {
		err := cmd.Run()

		s.mu.Lock()
		aborted := s.aborted
		s.mu.Unlock()

		if aborted {
			s.emit(Event{Kind: Aborted, Stdout: stdout.String(), Stderr: stderr.String()})
			return
		}

		if err != nil {
			exitCode := 1
			if exitErr, ok := err.(*exec.ExitError); ok {
				if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
					exitCode = ws.ExitStatus()
				}
			}
			s.emit(Event{Kind: ToolFailed, ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String(), Err: err})
			return
		}

		s.emit(Event{Kind: Completed, ExitCode: 0, Stdout: stdout.String(), Stderr: stderr.String()})
	}()
}

func (s *shellSession) emit(e Event) {
	select {
	case s.events <- e:
	default:
	}
}

// Abort signals the session to terminate; the underlying process receives
// SIGKILL via Process.Kill.
func (s *shellSession) Abort() {
	s.mu.Lock()
	s.aborted = true
	cmd := s.cmd
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	s.abortOnce.Do(func() { close(s.abortCh) })
}

// Dispose waits up to 100ms for Abort to have been called; it does not read
// or drain the event stream. Never errors.
func (s *shellSession) Dispose() error {
	select {
	case <-s.abortCh:
	case <-time.After(100 * time.Millisecond):
	}
	return nil
}
