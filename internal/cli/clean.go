package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"weftflow/internal/cache"
	"weftflow/internal/history"
)

// CleanOptions mirrors the `clean` subcommand's flags (spec §4.10).
type CleanOptions struct {
	DryRun bool // -n
	Force  bool // -f
	Quiet  bool // -q
	Before string
	After  string
	But    string
	Run    string
}

// RunClean walks the selected history entries, releasing their cache
// entries and workdirs. Refuses to run without exactly one of DryRun/Force.
// workDir is the task work root (holding <hash-prefix>/<hash-rest> folders).
func RunClean(hist *history.File, cacheBaseDir, workDir string, opts CleanOptions, out io.Writer) error {
	if !opts.DryRun && !opts.Force {
		return fmt.Errorf("clean: refusing to run without -n (dry-run) or -f (force)")
	}

	entries, err := resolveLogSelection(hist, LogOptions{Before: opts.Before, After: opts.After, But: opts.But, Run: opts.Run})
	if err != nil {
		return err
	}

	all, err := hist.All()
	if err != nil {
		return err
	}
	sessionUseCount := map[string]int{}
	for _, e := range all {
		sessionUseCount[e.SessionID]++
	}

	for _, e := range entries {
		if err := cleanOne(hist, cacheBaseDir, workDir, e, sessionUseCount, opts, out); err != nil {
			return err
		}
	}
	return nil
}

func cleanOne(hist *history.File, cacheBaseDir, workDir string, e history.Entry, sessionUseCount map[string]int, opts CleanOptions, out io.Writer) error {
	c, err := cache.Open(cacheBaseDir, e.SessionID)
	if err != nil {
		return fmt.Errorf("clean: opening cache for session %s: %w", e.SessionID, err)
	}

	idx, err := c.OpenIndexForRead(e.RunName)
	if err != nil {
		c.Close()
		return fmt.Errorf("clean: opening index for run %s: %w", e.RunName, err)
	}

	err = c.EachRecord(idx, func(r cache.IndexRecord) error {
		taskDir := filepath.Join(workDir, folderForHash(string(r.Hash)))
		if opts.DryRun {
			if r.RefCount <= 1 {
				fmt.Fprintf(out, "would remove %s (refCount -> 0)\n", taskDir)
			} else if !opts.Quiet {
				fmt.Fprintf(out, "would keep %s (refCount -> %d)\n", taskDir, r.RefCount-1)
			}
			return nil
		}
		if err := os.RemoveAll(taskDir); err != nil {
			return fmt.Errorf("removing workdir %s: %w", taskDir, err)
		}
		if err := c.DecEntry(r.Hash); err != nil {
			return fmt.Errorf("decrementing entry %s: %w", r.Hash, err)
		}
		if !opts.Quiet {
			fmt.Fprintf(out, "removed %s\n", taskDir)
		}
		return nil
	})
	if err != nil {
		c.Close()
		return err
	}
	if opts.DryRun {
		c.Close()
		return nil
	}

	if err := c.DropIndex(e.RunName); err != nil {
		c.Close()
		return fmt.Errorf("clean: dropping index: %w", err)
	}
	if err := hist.DeleteEntry(e); err != nil {
		c.Close()
		return fmt.Errorf("clean: deleting history entry: %w", err)
	}
	sessionUseCount[e.SessionID]--
	if sessionUseCount[e.SessionID] <= 0 {
		return c.Drop() // Drop closes the db itself.
	}
	return c.Close()
}
