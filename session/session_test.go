package session

import (
	"context"
	"testing"
	"time"
)

func TestShellFactoryCompletedEvent(t *testing.T) {
	f := ShellFactory{}
	s, err := f.Create(context.Background(), Options{StartTask: "echo hello"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var gotStarted, gotCompleted bool
	for i := 0; i < 2; i++ {
		select {
		case e := <-s.Events():
			switch e.Kind {
			case Started:
				gotStarted = true
			case Completed:
				gotCompleted = true
				if e.Stdout != "hello\n" {
					t.Fatalf("expected stdout %q, got %q", "hello\n", e.Stdout)
				}
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for session events")
		}
	}
	if !gotStarted || !gotCompleted {
		t.Fatalf("expected both started and completed events, got started=%v completed=%v", gotStarted, gotCompleted)
	}
}

func TestShellFactoryToolFailedOnNonZeroExit(t *testing.T) {
	f := ShellFactory{}
	s, err := f.Create(context.Background(), Options{StartTask: "exit 7"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	<-s.Events() // started
	select {
	case e := <-s.Events():
		if e.Kind != ToolFailed || e.ExitCode != 7 {
			t.Fatalf("expected toolFailed with exit code 7, got %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for toolFailed event")
	}
}

func TestAbortIsIdempotentAndDisposeSucceeds(t *testing.T) {
	f := ShellFactory{}
	s, err := f.Create(context.Background(), Options{StartTask: "sleep 5"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	<-s.Events() // started

	s.Abort()
	s.Abort() // idempotent, must not panic

	if err := s.Dispose(); err != nil {
		t.Fatalf("dispose: %v", err)
	}
}
