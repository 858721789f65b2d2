package errorstrategy

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// Report accumulates task failures across a run. The first failure is kept
// in full (command, exit status, output tails, working directory); later
// failures are folded into a compact multierr chain so a run-level error
// carries every failure without repeating the full detail for each one.
type Report struct {
	first   *Full
	rest    error
	restCnt int
}

// Full is the full detail recorded for the first failure in a run.
type Full struct {
	TaskName    string
	Command     string
	ExitStatus  int
	StdoutTail  []string // last 50 lines
	StderrTail  []string
	SourceBlock string
	WorkDir     string
}

// Add records one failure. The first call captures full detail; subsequent
// calls fold a compact note into the aggregate error.
func (r *Report) Add(full Full) {
	if r.first == nil {
		f := full
		r.first = &f
		return
	}
	r.restCnt++
	r.rest = multierr.Append(r.rest, fmt.Errorf("%s: exit %d (task %d of additional failures)", full.TaskName, full.ExitStatus, r.restCnt))
}

// Empty reports whether no failure has been recorded.
func (r *Report) Empty() bool { return r.first == nil }

// Error renders the full detail of the first failure plus compact notes for
// the rest.
func (r *Report) Error() string {
	if r.first == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "task %q failed\n", r.first.TaskName)
	fmt.Fprintf(&b, "  command: %s\n", r.first.Command)
	fmt.Fprintf(&b, "  exit status: %d\n", r.first.ExitStatus)
	fmt.Fprintf(&b, "  work dir: %s\n", r.first.WorkDir)
	if r.first.SourceBlock != "" {
		fmt.Fprintf(&b, "  source:\n%s\n", indent(r.first.SourceBlock))
	}
	if len(r.first.StdoutTail) > 0 {
		fmt.Fprintf(&b, "  stdout tail:\n%s\n", indent(strings.Join(r.first.StdoutTail, "\n")))
	}
	if len(r.first.StderrTail) > 0 {
		fmt.Fprintf(&b, "  stderr tail:\n%s\n", indent(strings.Join(r.first.StderrTail, "\n")))
	}
	if r.rest != nil {
		fmt.Fprintf(&b, "%d further failure(s):\n%s\n", r.restCnt, indent(r.rest.Error()))
	}
	return b.String()
}

func indent(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}
