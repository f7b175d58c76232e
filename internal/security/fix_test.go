package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFixTightensStateDirAndSensitiveFiles(t *testing.T) {
	stateDir := t.TempDir()
	if err := os.Chmod(stateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	authPath := filepath.Join(stateDir, "auth.json")
	if err := os.WriteFile(authPath, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	spendDir := filepath.Join(stateDir, "spend")
	if err := os.MkdirAll(spendDir, 0o755); err != nil {
		t.Fatal(err)
	}
	ledger := filepath.Join(spendDir, "2026-08-02.jsonl")
	if err := os.WriteFile(ledger, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := Fix(FixOptions{StateDir: stateDir})
	if result.ErrorCount != 0 {
		t.Fatalf("fix errors: %+v", result.Actions)
	}
	if result.FixedCount == 0 {
		t.Fatal("expected at least one fix")
	}

	for _, path := range []string{authPath, ledger} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Errorf("%s mode = %o, want 600", path, info.Mode().Perm())
		}
	}
	for _, path := range []string{stateDir, spendDir} {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0o700 {
			t.Errorf("%s mode = %o, want 700", path, info.Mode().Perm())
		}
	}
}

func TestFixDryRunChangesNothing(t *testing.T) {
	stateDir := t.TempDir()
	if err := os.Chmod(stateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	authPath := filepath.Join(stateDir, "auth.json")
	if err := os.WriteFile(authPath, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := Fix(FixOptions{StateDir: stateDir, DryRun: true})
	if result.FixedCount == 0 {
		t.Fatal("dry run should report would-be fixes")
	}

	info, err := os.Stat(authPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Errorf("dry run must not chmod, mode = %o", info.Mode().Perm())
	}
}

func TestFixSkipsSymlinks(t *testing.T) {
	stateDir := t.TempDir()
	target := filepath.Join(t.TempDir(), "real-auth.json")
	if err := os.WriteFile(target, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(stateDir, "auth.json")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	result := Fix(FixOptions{StateDir: stateDir})
	for _, action := range result.Actions {
		if action.Path == link && action.Success {
			t.Fatal("symlinked sensitive file must not be chmodded")
		}
	}
}
