package exec

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ironclaw/ironclaw/internal/shell"
)

func TestManagerRunCommandCapturesOutput(t *testing.T) {
	mgr := NewManager(t.TempDir())
	result, err := mgr.RunCommand(context.Background(), "echo hello", "", nil, "", time.Second)
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if !result.Finished {
		t.Fatal("expected command to finish")
	}
	if !strings.Contains(result.Stdout, "hello") {
		t.Fatalf("expected stdout to contain hello, got %q", result.Stdout)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", result.ExitCode)
	}
}

func TestManagerRunCommandFlagsUnsafePipe(t *testing.T) {
	mgr := NewManager(t.TempDir())
	result, err := mgr.RunCommand(context.Background(), "cat /etc/hosts | tee /tmp/out", "", nil, "", time.Second)
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if !result.Unsafe {
		t.Fatalf("expected piped command to be flagged unsafe, reason=%q", result.Reason)
	}
	if result.Reason == "" {
		t.Fatal("expected a non-empty reason for the unsafe flag")
	}
}

func TestManagerResolveRejectsEscape(t *testing.T) {
	mgr := NewManager(t.TempDir())
	if _, err := mgr.resolve("../../etc"); err == nil {
		t.Fatal("expected resolve to reject a path escaping the workspace")
	}
}

func TestManagerResolveAllowsNestedPath(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root)
	resolved, err := mgr.resolve("sub/dir")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.HasPrefix(resolved, root) {
		t.Fatalf("expected resolved path to stay under root %q, got %q", root, resolved)
	}
}

func TestManagerRunCommandRespectsTimeout(t *testing.T) {
	mgr := NewManager(t.TempDir())
	result, err := mgr.RunCommand(context.Background(), "sleep 2", "", nil, "", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if result.ExitCode == 0 {
		t.Fatalf("expected a non-zero exit code after timeout, got %+v", result)
	}
}

func TestManagerRunCommandRejectsUnsafeEnvValue(t *testing.T) {
	mgr := NewManager(t.TempDir())
	_, err := mgr.RunCommand(context.Background(), "echo hi", "", map[string]string{"TOKEN": "x\nrm -rf /"}, "", time.Second)
	if err == nil {
		t.Fatal("expected an error for an unsafe env value")
	}
}

func TestManagerRunBackgroundTracksUntilCompletion(t *testing.T) {
	mgr := NewManager(t.TempDir())
	id, err := mgr.RunBackground(context.Background(), "sleep 0.2 && echo done", "", nil, "test-skill", 2*time.Second)
	if err != nil {
		t.Fatalf("RunBackground: %v", err)
	}

	found := false
	for _, s := range mgr.ListBackground() {
		if s.ID == id {
			found = true
		}
	}
	if !found {
		t.Fatal("expected background job to appear in ListBackground while running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, f := range mgr.ListFinishedBackground() {
			if f.ID == id {
				if f.Status != shell.ProcessStatusCompleted {
					t.Fatalf("expected completed status, got %v", f.Status)
				}
				if !strings.Contains(f.Aggregated, "done") {
					t.Fatalf("expected aggregated output to contain done, got %q", f.Aggregated)
				}
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for background job to finish")
}

func TestManagerKillBackgroundStopsProcess(t *testing.T) {
	mgr := NewManager(t.TempDir())
	id, err := mgr.RunBackground(context.Background(), "sleep 5", "", nil, "test-skill", 10*time.Second)
	if err != nil {
		t.Fatalf("RunBackground: %v", err)
	}

	if err := mgr.KillBackground(id); err != nil {
		t.Fatalf("KillBackground: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, f := range mgr.ListFinishedBackground() {
			if f.ID == id {
				if f.Status != shell.ProcessStatusKilled {
					t.Fatalf("expected killed status, got %v", f.Status)
				}
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for killed job to reach finished state")
}
