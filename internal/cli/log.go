package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"weftflow/internal/cache"
	"weftflow/internal/history"
)

// defaultTailLines is how many lines a "stdout"/"stderr"/"log"/"env" filter
// key reads from the task's workDir when neither side of the predicate
// specifies otherwise.
const defaultTailLines = 100

// tailFileNames maps each lazy filter key to the file it reads, per the
// task workDir layout.
var tailFileNames = map[string]string{
	"stdout": ".command.out",
	"stderr": ".command.err",
	"log":    ".command.log",
	"env":    ".command.env",
}

// LogOptions mirrors the `log` subcommand's flags (spec §4.10).
type LogOptions struct {
	Fields   []string // -fields
	Template string   // -template
	Filter   string   // -filter, a single "field op value" predicate
	Before   string   // -before
	After    string   // -after
	But      string   // -but
	Run      string   // positional <run>, defaults to "last"
}

// recordView is the flat field set a filter/template/fields selection can
// address, plus the lazily-fetched log tails (stdout/stderr/log/env).
type recordView struct {
	Hash     string
	ExitCode int
	Folder   string
	Process  string
	WorkDir  string
}

func (v recordView) field(name string) (string, bool) {
	base, n := splitTailField(name)
	switch base {
	case "hash":
		return v.Hash, true
	case "exit":
		return strconv.Itoa(v.ExitCode), true
	case "folder":
		return v.Folder, true
	case "process":
		return v.Process, true
	default:
		if fileName, ok := tailFileNames[base]; ok {
			text, err := readTail(filepath.Join(v.WorkDir, fileName), n)
			if err != nil {
				return "", true
			}
			return text, true
		}
		return "", false
	}
}

// splitTailField recognizes the "key:N" suffix that overrides the default
// tail line count for stdout/stderr/log/env lookups.
func splitTailField(name string) (string, int) {
	if idx := strings.IndexByte(name, ':'); idx >= 0 {
		if n, err := strconv.Atoi(name[idx+1:]); err == nil {
			return name[:idx], n
		}
	}
	return name, defaultTailLines
}

// readTail reads up to n lines from the start of path, joined by newlines.
// A missing file yields an empty tail rather than an error, since not every
// task produces every file.
func readTail(path string, n int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for len(lines) < n && scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// RunLog resolves the selected history entries, replays each one's cache
// index, and writes one line per record to out. workDir is the task work
// root (holding <hash-prefix>/<hash-rest> folders); cacheBaseDir is the
// directory holding <sessionId>/{db,index.*}.
func RunLog(hist *history.File, cacheBaseDir, workDir string, opts LogOptions, out io.Writer) error {
	entries, err := resolveLogSelection(hist, opts)
	if err != nil {
		return err
	}

	var pred func(recordView) (bool, error)
	if opts.Filter != "" {
		pred, err = compileFilter(opts.Filter)
		if err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}

	tmpl, err := resolveTemplate(opts)
	if err != nil {
		return err
	}

	for _, e := range entries {
		c, err := cache.OpenForRead(cacheBaseDir, e.SessionID)
		if err != nil {
			return fmt.Errorf("log: opening cache for session %s: %w", e.SessionID, err)
		}
		idx, err := c.OpenIndexForRead(e.RunName)
		if err != nil {
			c.Close()
			return fmt.Errorf("log: opening index for run %s: %w", e.RunName, err)
		}

		walkErr := c.EachRecord(idx, func(r cache.IndexRecord) error {
			folder := folderForHash(string(r.Hash))
			view := recordView{
				Hash:     string(r.Hash),
				ExitCode: r.Entry.ExitCode,
				Folder:   folder,
				Process:  e.RunName,
				WorkDir:  filepath.Join(workDir, folder),
			}
			if pred != nil {
				ok, err := pred(view)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			return tmpl(out, view)
		})
		c.Close()
		if walkErr != nil {
			return fmt.Errorf("log: %w", walkErr)
		}
	}
	return nil
}

func folderForHash(hash string) string {
	if len(hash) < 2 {
		return hash
	}
	return hash[:2] + "/" + hash[2:]
}

func resolveLogSelection(hist *history.File, opts LogOptions) ([]history.Entry, error) {
	switch {
	case opts.Before != "":
		return hist.FindBefore(opts.Before)
	case opts.After != "":
		return hist.FindAfter(opts.After)
	case opts.But != "":
		return hist.FindBut(opts.But)
	default:
		token := opts.Run
		if token == "" {
			token = "last"
		}
		e, err := hist.FindBy(token)
		if err != nil {
			return nil, err
		}
		return []history.Entry{e}, nil
	}
}

func resolveTemplate(opts LogOptions) (func(io.Writer, recordView) error, error) {
	switch {
	case opts.Template != "":
		t, err := template.New("log").Parse(opts.Template)
		if err != nil {
			return nil, fmt.Errorf("log: parsing -template: %w", err)
		}
		return func(w io.Writer, v recordView) error {
			if err := t.Execute(w, v); err != nil {
				return err
			}
			_, err := io.WriteString(w, "\n")
			return err
		}, nil
	case len(opts.Fields) > 0:
		fields := opts.Fields
		return func(w io.Writer, v recordView) error {
			parts := make([]string, len(fields))
			for i, f := range fields {
				val, ok := v.field(f)
				if !ok {
					return fmt.Errorf("log: unknown field %q", f)
				}
				parts[i] = val
			}
			_, err := fmt.Fprintln(w, strings.Join(parts, "\t"))
			return err
		}, nil
	default:
		return func(w io.Writer, v recordView) error {
			_, err := fmt.Fprintln(w, v.Folder)
			return err
		}, nil
	}
}

// compileFilter parses a minimal "field op value" boolean predicate, e.g.
// "exit == 0" or "stdout ~= panic". Supported operators: == != < > <= >= ~=.
// ~= tests substring containment and is the only operator meaningful against
// the lazily-fetched stdout/stderr/log/env keys.
func compileFilter(expr string) (func(recordView) (bool, error), error) {
	var field, op, value string
	for _, candidate := range []string{"==", "!=", "<=", ">=", "~=", "<", ">"} {
		if idx := strings.Index(expr, candidate); idx >= 0 {
			field = strings.TrimSpace(expr[:idx])
			op = candidate
			value = strings.TrimSpace(expr[idx+len(candidate):])
			break
		}
	}
	if op == "" {
		return nil, fmt.Errorf("unrecognized filter expression %q", expr)
	}
	return func(v recordView) (bool, error) {
		fv, ok := v.field(field)
		if !ok {
			return false, fmt.Errorf("unknown filter field %q", field)
		}
		return compareFilterValues(fv, op, value)
	}, nil
}

func compareFilterValues(actual, op, want string) (bool, error) {
	if op == "~=" {
		return strings.Contains(actual, want), nil
	}
	if an, aerr := strconv.Atoi(actual); aerr == nil {
		if wn, werr := strconv.Atoi(want); werr == nil {
			return compareInts(an, op, wn)
		}
	}
	switch op {
	case "==":
		return actual == want, nil
	case "!=":
		return actual != want, nil
	default:
		return false, fmt.Errorf("operator %q requires numeric operands", op)
	}
}

func compareInts(a int, op string, b int) (bool, error) {
	switch op {
	case "==":
		return a == b, nil
	case "!=":
		return a != b, nil
	case "<":
		return a < b, nil
	case ">":
		return a > b, nil
	case "<=":
		return a <= b, nil
	case ">=":
		return a >= b, nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// RunHistory prints every history entry as a table, newest first column
// order matching the on-disk layout.
func RunHistory(hist *history.File, out io.Writer) error {
	all, err := hist.All()
	if err != nil {
		return err
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })
	for _, e := range all {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.RunName, e.SessionID, e.CommandLine)
	}
	return nil
}
