package history

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAndAll(t *testing.T) {
	dir := t.TempDir()
	f := Open(filepath.Join(dir, "history"))

	if err := f.Append("ab12", "run-one", "weftflow run a.wf"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := f.Append("ab34", "run-two", "weftflow run b.wf"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	all, err := f.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}
	if all[0].SessionID != "ab12" || all[1].SessionID != "ab34" {
		t.Errorf("unexpected order: %+v", all)
	}
}

func TestFindByIDUnique_AmbiguousPrefix(t *testing.T) {
	dir := t.TempDir()
	f := Open(filepath.Join(dir, "history"))
	f.Append("ab12", "run-one", "cmd1")
	f.Append("ab34", "run-two", "cmd2")

	if _, err := f.FindByIDUnique("ab"); err == nil {
		t.Fatal("expected ambiguous prefix error")
	}
	e, err := f.FindByIDUnique("ab12")
	if err != nil {
		t.Fatalf("FindByIDUnique: %v", err)
	}
	if e.RunName != "run-one" {
		t.Errorf("RunName = %q, want run-one", e.RunName)
	}
}

func TestFindBy_LastAndNameAndUUID(t *testing.T) {
	dir := t.TempDir()
	f := Open(filepath.Join(dir, "history"))
	f.Append("ab12", "run-one", "cmd1")
	f.Append("cd34", "run-two", "cmd2")

	last, err := f.FindBy("last")
	if err != nil || last.RunName != "run-two" {
		t.Fatalf("FindBy(last) = %+v, %v", last, err)
	}
	byName, err := f.FindBy("run-one")
	if err != nil || byName.SessionID != "ab12" {
		t.Fatalf("FindBy(name) = %+v, %v", byName, err)
	}
	byID, err := f.FindBy("cd34")
	if err != nil || byID.RunName != "run-two" {
		t.Fatalf("FindBy(uuid) = %+v, %v", byID, err)
	}
}

func TestLegacyTwoColumnLinesParse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history")
	f := Open(path)
	f.Append("newstyle", "run-new", "cmd-new")

	// Simulate a pre-existing legacy two-column line by writing it directly.
	legacyPath := filepath.Join(dir, "legacy")
	legacyFile := Open(legacyPath)
	writeRaw(t, legacyPath, "legacysession\tlegacy command\n")

	all, err := legacyFile.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 || !all[0].Legacy || all[0].SessionID != "legacysession" {
		t.Fatalf("unexpected legacy parse: %+v", all)
	}
}

func TestIsUUIDShaped_SingleCharCounts(t *testing.T) {
	if !isUUIDShaped("a") {
		t.Error("single hex char should be uuid-shaped")
	}
	if isUUIDShaped("run-one") {
		t.Error("run-one contains non-uuid chars and should not be uuid-shaped")
	}
	if !isUUIDShaped("ab12-34") {
		t.Error("hyphenated hex string should be uuid-shaped")
	}
}

func writeRaw(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
}
