package workspace

import "testing"

func TestNormalizeBackslashesAndSlashRuns(t *testing.T) {
	v := New(DefaultConfig())
	v.caseInsensitive = false // pin behavior regardless of test host OS

	got := v.Normalize(`foo\\bar//baz/`)
	if got != "/foo/bar/baz" {
		t.Fatalf("expected /foo/bar/baz, got %q", got)
	}
	if v.Normalize("") != "/" {
		t.Fatalf("expected empty path to normalize to root")
	}
	if v.Normalize("/") != "/" {
		t.Fatalf("expected root to stay root")
	}
}

func TestIdenticalWorkspacesConflict(t *testing.T) {
	v := New(DefaultConfig())
	res := v.Validate([]Task{
		{ID: "t1", WorkspacePath: "/repo/src"},
		{ID: "t2", WorkspacePath: "/repo/src/"},
	})
	if res.IsValid {
		t.Fatal("expected identical workspaces to be invalid")
	}
	if len(res.Conflicts) != 1 || res.Conflicts[0].Kind != "identical" {
		t.Fatalf("expected one identical conflict, got %+v", res.Conflicts)
	}
}

func TestNestedWorkspacesConflictByDefault(t *testing.T) {
	v := New(DefaultConfig())
	res := v.Validate([]Task{
		{ID: "t1", WorkspacePath: "/repo"},
		{ID: "t2", WorkspacePath: "/repo/src"},
	})
	if res.IsValid {
		t.Fatal("expected nested workspaces to conflict")
	}
	if res.Conflicts[0].Kind != "nested" {
		t.Fatalf("expected nested conflict kind, got %q", res.Conflicts[0].Kind)
	}
}

func TestNestedWorkspacesAllowedWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowNestedDirs = true
	v := New(cfg)
	res := v.Validate([]Task{
		{ID: "t1", WorkspacePath: "/repo"},
		{ID: "t2", WorkspacePath: "/repo/src"},
	})
	if !res.IsValid {
		t.Fatalf("expected nested workspaces to be allowed, got conflicts %+v", res.Conflicts)
	}
}

func TestRootVersusNonRootConflicts(t *testing.T) {
	v := New(DefaultConfig())
	res := v.Validate([]Task{
		{ID: "t1", WorkspacePath: "/"},
		{ID: "t2", WorkspacePath: "/anything"},
	})
	if res.IsValid {
		t.Fatal("expected root to conflict with any non-root workspace")
	}
}

func TestWildcardOverlapConflicts(t *testing.T) {
	v := New(DefaultConfig())
	res := v.Validate([]Task{
		{ID: "t1", WorkspacePath: "/repo/pkg/*"},
		{ID: "t2", WorkspacePath: "/repo/pkg/util"},
	})
	if res.IsValid {
		t.Fatal("expected wildcard pattern to conflict with a matching literal path")
	}
	if res.Conflicts[0].Kind != "wildcard" {
		t.Fatalf("expected wildcard conflict kind, got %q", res.Conflicts[0].Kind)
	}
}

func TestWildcardDisabledSkipsCheck(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SupportWildcards = false
	v := New(cfg)
	res := v.Validate([]Task{
		{ID: "t1", WorkspacePath: "/repo/pkg/*"},
		{ID: "t2", WorkspacePath: "/repo/pkg/util"},
	})
	if !res.IsValid {
		t.Fatalf("expected wildcard check to be skipped, got conflicts %+v", res.Conflicts)
	}
}

func TestDisjointWorkspacesAreValid(t *testing.T) {
	v := New(DefaultConfig())
	res := v.Validate([]Task{
		{ID: "t1", WorkspacePath: "/repo/a"},
		{ID: "t2", WorkspacePath: "/repo/b"},
		{ID: "t3", WorkspacePath: "/other"},
	})
	if !res.IsValid || len(res.Conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %+v", res.Conflicts)
	}
	if len(res.Assignments) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(res.Assignments))
	}
}

func TestSuggestAssignmentsAreConflictFree(t *testing.T) {
	tasks := []Task{{ID: "t1"}, {ID: "t2"}, {ID: "t3"}}
	suggestions := SuggestAssignments(tasks)
	v := New(DefaultConfig())

	var asTasks []Task
	for _, t := range tasks {
		asTasks = append(asTasks, Task{ID: t.ID, WorkspacePath: suggestions[t.ID]})
	}
	res := v.Validate(asTasks)
	if !res.IsValid {
		t.Fatalf("expected suggested assignments to be conflict-free, got %+v", res.Conflicts)
	}
}
