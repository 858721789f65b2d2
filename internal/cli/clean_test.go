package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"weftflow/internal/cache"
	"weftflow/internal/core"
	"weftflow/internal/history"
)

func TestRunClean_RefusesWithoutDryRunOrForce(t *testing.T) {
	dir := t.TempDir()
	hist := history.Open(filepath.Join(dir, ".weftflow.history"))
	var out bytes.Buffer
	err := RunClean(hist, filepath.Join(dir, ".cache"), filepath.Join(dir, "work"), CleanOptions{}, &out)
	if err == nil {
		t.Fatal("expected error when neither -n nor -f is set")
	}
}

func TestRunClean_DryRunLeavesWorkdirIntact(t *testing.T) {
	dir := t.TempDir()
	hist := history.Open(filepath.Join(dir, ".weftflow.history"))
	if err := hist.Append("sess-dry", "dry_run", "weftflow run main.wf"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	h := hash32(0x6)
	seedRun(t, dir, "sess-dry", "dry_run", []core.CacheEntry{{Hash: h, ExitCode: 0}})
	workDir := filepath.Join(dir, "work")
	writeTaskFile(t, workDir, h, ".command.out", "ok\n")
	taskDir := filepath.Join(workDir, folderForHash(string(h)))

	var out bytes.Buffer
	opts := CleanOptions{DryRun: true, Run: "dry_run"}
	if err := RunClean(hist, filepath.Join(dir, ".cache"), workDir, opts, &out); err != nil {
		t.Fatalf("RunClean: %v", err)
	}
	if _, err := os.Stat(taskDir); err != nil {
		t.Fatalf("expected workdir to survive dry-run: %v", err)
	}
}

func TestRunClean_ForceRemovesWorkdirAndHistoryEntry(t *testing.T) {
	dir := t.TempDir()
	hist := history.Open(filepath.Join(dir, ".weftflow.history"))
	if err := hist.Append("sess-force", "force_run", "weftflow run main.wf"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	h := hash32(0x7)
	seedRun(t, dir, "sess-force", "force_run", []core.CacheEntry{{Hash: h, ExitCode: 0}})
	workDir := filepath.Join(dir, "work")
	writeTaskFile(t, workDir, h, ".command.out", "ok\n")
	taskDir := filepath.Join(workDir, folderForHash(string(h)))

	var out bytes.Buffer
	opts := CleanOptions{Force: true, Run: "force_run"}
	if err := RunClean(hist, filepath.Join(dir, ".cache"), workDir, opts, &out); err != nil {
		t.Fatalf("RunClean: %v", err)
	}
	if _, err := os.Stat(taskDir); !os.IsNotExist(err) {
		t.Fatalf("expected workdir removed, stat err = %v", err)
	}

	all, err := hist.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected history entry removed, got %d remaining", len(all))
	}

	c, err := cache.OpenForRead(filepath.Join(dir, ".cache"), "sess-force")
	if err == nil {
		c.Close()
		t.Fatal("expected cache db to be dropped once its only history entry is cleaned")
	}
}
