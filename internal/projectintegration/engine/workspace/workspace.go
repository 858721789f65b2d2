// Package workspace validates the `.weftflow` control directory that a run
// lives under before any resume or incremental-execution decision trusts
// what it finds there.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

const controlDirName = ".weftflow"

// allowedEntries lists the only files/directories permitted directly under
// .weftflow. Anything else indicates tampering or a foreign tool writing
// into the control directory, and resume must refuse to trust it.
var allowedEntries = map[string]bool{
	"runs":         true,
	"cache":        true,
	"history.tsv":  true,
	"session.lock": true,
	"logs":         true,
}

// Workspace describes a validated control directory rooted at a project
// directory.
type Workspace struct {
	Root       string
	ControlDir string
}

// EnsureWorkspace creates the control directory if absent and validates that
// every entry already present under it is one this engine recognizes.
//
// A project directory with no .weftflow at all is valid (a fresh run).
func EnsureWorkspace(root string) (*Workspace, error) {
	if root == "" {
		return nil, fmt.Errorf("workspace root is empty")
	}
	control := filepath.Join(root, controlDirName)

	info, err := os.Stat(control)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(control, 0o755); mkErr != nil {
				return nil, fmt.Errorf("create control dir: %w", mkErr)
			}
			return &Workspace{Root: root, ControlDir: control}, nil
		}
		return nil, fmt.Errorf("stat control dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s exists and is not a directory", control)
	}

	entries, err := os.ReadDir(control)
	if err != nil {
		return nil, fmt.Errorf("read control dir: %w", err)
	}
	for _, e := range entries {
		if !allowedEntries[e.Name()] {
			return nil, fmt.Errorf("unauthorized entry under %s: %q", controlDirName, e.Name())
		}
	}

	return &Workspace{Root: root, ControlDir: control}, nil
}
