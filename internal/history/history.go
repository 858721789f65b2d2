// Package history implements the append-only run history log mapping
// (sessionId, runName) to the command line that produced a run.
package history

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Entry is one history line.
type Entry struct {
	Timestamp   time.Time
	RunName     string
	SessionID   string
	CommandLine string
	// Legacy marks a two-column line (sessionId \t commandLine) parsed
	// before the timestamp/runName columns existed.
	Legacy bool
}

// File is the history log backing a project's ".nextflow.history"-style
// file: one append-only table, guarded against concurrent writers within
// this process by mu.
type File struct {
	path string
	mu   sync.Mutex
}

// Open returns a File bound to path. The file need not exist yet; it is
// created on first Append.
func Open(path string) *File {
	return &File{path: path}
}

// Append writes one new entry with the current wall-clock time.
func (f *File) Append(sessionID, runName, commandLine string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("history: open: %w", err)
	}
	defer fh.Close()

	line := fmt.Sprintf("%d\t%s\t%s\t%s\n", time.Now().Unix(), runName, sessionID, commandLine)
	if _, err := fh.WriteString(line); err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// All returns every entry in file order (oldest first).
func (f *File) All() ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked()
}

func (f *File) readLocked() ([]Entry, error) {
	fh, err := os.Open(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	defer fh.Close()

	var out []Entry
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, err := parseLine(line)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("history: scan: %w", err)
	}
	return out, nil
}

func parseLine(line string) (Entry, error) {
	fields := strings.Split(line, "\t")
	switch len(fields) {
	case 4:
		ts, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return Entry{}, fmt.Errorf("history: malformed timestamp %q: %w", fields[0], err)
		}
		return Entry{
			Timestamp:   time.Unix(ts, 0),
			RunName:     fields[1],
			SessionID:   fields[2],
			CommandLine: fields[3],
		}, nil
	case 2:
		// Legacy two-column files disagree on whether the first column is
		// the sessionId or the runName; disambiguate by shape since
		// sessionIds are uuid-shaped and runNames generally are not.
		if isUUIDShaped(fields[0]) {
			return Entry{SessionID: fields[0], CommandLine: fields[1], Legacy: true}, nil
		}
		return Entry{RunName: fields[0], CommandLine: fields[1], Legacy: true}, nil
	default:
		return Entry{}, fmt.Errorf("history: malformed line (want 2 or 4 tab-separated fields, got %d): %q", len(fields), line)
	}
}

// FindByID returns every entry whose SessionID starts with prefix.
func (f *File) FindByID(prefix string) ([]Entry, error) {
	all, err := f.All()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, e := range all {
		if strings.HasPrefix(e.SessionID, prefix) {
			out = append(out, e)
		}
	}
	return out, nil
}

// FindByIDUnique is FindByID but requires exactly one match, returning an
// error listing the ambiguous ids otherwise.
func (f *File) FindByIDUnique(prefix string) (Entry, error) {
	matches, err := f.FindByID(prefix)
	if err != nil {
		return Entry{}, err
	}
	if len(matches) == 0 {
		return Entry{}, fmt.Errorf("history: no session id matches prefix %q", prefix)
	}
	if len(matches) > 1 {
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.SessionID
		}
		return Entry{}, fmt.Errorf("history: ambiguous session id prefix %q matches: %s", prefix, strings.Join(ids, ", "))
	}
	return matches[0], nil
}

// FindByName returns the most recent entry with the given runName.
func (f *File) FindByName(runName string) (Entry, error) {
	all, err := f.All()
	if err != nil {
		return Entry{}, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].RunName == runName {
			return all[i], nil
		}
	}
	return Entry{}, fmt.Errorf("history: no run named %q", runName)
}

// FindBy resolves a token the way the CLI's <run> argument does: "last"
// means the most recent entry, a uuid-shaped token resolves by session id
// prefix, anything else resolves by run name.
func (f *File) FindBy(token string) (Entry, error) {
	if token == "last" {
		all, err := f.All()
		if err != nil {
			return Entry{}, err
		}
		if len(all) == 0 {
			return Entry{}, fmt.Errorf("history: empty history")
		}
		return all[len(all)-1], nil
	}
	if isUUIDShaped(token) {
		return f.FindByIDUnique(token)
	}
	return f.FindByName(token)
}

// FindBefore, FindAfter and FindBut return entries in history order
// before/after/excluding the entry that FindBy(token) resolves to.
func (f *File) FindBefore(token string) ([]Entry, error) { return f.relativeTo(token, relBefore) }
func (f *File) FindAfter(token string) ([]Entry, error)  { return f.relativeTo(token, relAfter) }
func (f *File) FindBut(token string) ([]Entry, error)    { return f.relativeTo(token, relBut) }

type relation int

const (
	relBefore relation = iota
	relAfter
	relBut
)

func (f *File) relativeTo(token string, rel relation) ([]Entry, error) {
	all, err := f.All()
	if err != nil {
		return nil, err
	}
	pivot, err := f.FindBy(token)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i, e := range all {
		if e.SessionID == pivot.SessionID && e.RunName == pivot.RunName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("history: resolved entry not found in file")
	}
	switch rel {
	case relBefore:
		return all[:idx], nil
	case relAfter:
		return all[idx+1:], nil
	default:
		out := make([]Entry, 0, len(all)-1)
		out = append(out, all[:idx]...)
		out = append(out, all[idx+1:]...)
		return out, nil
	}
}

// DeleteEntry rewrites the file without the given entry.
func (f *File) DeleteEntry(target Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.readLocked()
	if err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	fh, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("history: create temp file: %w", err)
	}
	w := bufio.NewWriter(fh)
	for _, e := range all {
		if e.SessionID == target.SessionID && e.RunName == target.RunName {
			continue
		}
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.Timestamp.Unix(), e.RunName, e.SessionID, e.CommandLine); err != nil {
			fh.Close()
			return fmt.Errorf("history: write temp file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		fh.Close()
		return fmt.Errorf("history: flush temp file: %w", err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("history: close temp file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("history: replace history file: %w", err)
	}
	return nil
}

// isUUIDShaped reports whether every character of s is a "uuid char"
// ([-0-9a-f]). A single-character token counts as uuid-shaped too.
func isUUIDShaped(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isUUIDChar(r) {
			return false
		}
	}
	return true
}

func isUUIDChar(r rune) bool {
	return r == '-' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
}
