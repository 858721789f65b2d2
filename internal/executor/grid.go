package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// Scheduler is the per-backend knowledge a GridExecutor needs: how to
// render directives into a job-script header, how to submit and parse the
// resulting job id, how to poll and interpret status, and how to kill.
type Scheduler interface {
	// DirectiveToken is the comment prefix each directive line starts with
	// (e.g. "#SBATCH", "#$", "#BSUB", "#PBS").
	DirectiveToken() string

	// RenderDirectives renders the scheduler-specific header lines for d, in
	// the fixed order the scheduler's own documentation and test fixtures
	// expect.
	RenderDirectives(d Directives) []string

	// SubmitCommand returns the argv used to submit scriptPath.
	SubmitCommand(scriptPath string) []string

	// ParseJobID extracts the job id from the submit command's stdout.
	ParseJobID(stdout string) (string, error)

	// StatusCommand returns the argv used to poll all of the current user's
	// jobs.
	StatusCommand(user string) []string

	// ParseStatus maps one line of the status command's stdout for jobID to
	// the common Status enum. ok is false when jobID is absent from the
	// listing (the scheduler has forgotten the job, meaning it finished).
	ParseStatus(stdout string, jobID string) (status Status, ok bool)

	// KillCommand returns the argv used to cancel jobID.
	KillCommand(jobID string) []string
}

// GridExecutor submits a rendered job script through a Scheduler's shell
// commands and polls/kills through the same.
type GridExecutor struct {
	Scheduler  Scheduler
	User       string
	WriteScript func(script string) (path string, err error)
	Run         func(ctx context.Context, argv []string) (stdout string, err error)
}

func (g *GridExecutor) Submit(ctx context.Context, d Directives, body string) (Handle, error) {
	if g.Scheduler == nil {
		return Handle{}, fmt.Errorf("grid executor: no scheduler configured")
	}
	script := RenderJobScript(g.Scheduler, d, body)
	path, err := g.writeScript(script)
	if err != nil {
		return Handle{}, fmt.Errorf("grid executor: writing job script: %w", err)
	}
	out, err := g.run(ctx, g.Scheduler.SubmitCommand(path))
	if err != nil {
		return Handle{}, fmt.Errorf("grid executor: submit: %w", err)
	}
	id, err := g.Scheduler.ParseJobID(out)
	if err != nil {
		return Handle{}, fmt.Errorf("grid executor: parsing job id: %w", err)
	}
	return Handle{JobID: id}, nil
}

func (g *GridExecutor) Poll(ctx context.Context, h Handle) (Status, error) {
	out, err := g.run(ctx, g.Scheduler.StatusCommand(g.User))
	if err != nil {
		return "", fmt.Errorf("grid executor: status: %w", err)
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if st, ok := g.Scheduler.ParseStatus(line, h.JobID); ok {
			return st, nil
		}
	}
	// The scheduler no longer lists the job: treat as finished.
	return StatusDone, nil
}

func (g *GridExecutor) Kill(ctx context.Context, h Handle) error {
	_, err := g.run(ctx, g.Scheduler.KillCommand(h.JobID))
	return err
}

func (g *GridExecutor) writeScript(script string) (string, error) {
	if g.WriteScript != nil {
		return g.WriteScript(script)
	}
	return "", fmt.Errorf("grid executor: WriteScript is required")
}

func (g *GridExecutor) run(ctx context.Context, argv []string) (string, error) {
	if g.Run != nil {
		return g.Run(ctx, argv)
	}
	if len(argv) == 0 {
		return "", fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), err
	}
	return out.String(), nil
}

// RenderJobScript assembles a full submission script: a shebang, the
// scheduler's directive header, and the user's run body.
func RenderJobScript(s Scheduler, d Directives, body string) string {
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	token := s.DirectiveToken()
	for _, line := range s.RenderDirectives(d) {
		fmt.Fprintf(&b, "%s %s\n", token, line)
	}
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

// jobNameToken renders a process name into the scheduler-safe "nf-"-prefixed
// job name token (spaces become underscores).
func jobNameToken(name string) string {
	return "nf-" + strings.ReplaceAll(name, " ", "_")
}

var durationRe = regexp.MustCompile(`^(\d+)([smhd])$`)

// parseWalltime converts a duration like "2h", "90m", or "1d" into a grid
// scheduler HH:MM:SS walltime string.
func parseWalltime(s string) (string, error) {
	m := durationRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", fmt.Errorf("unrecognized duration %q", s)
	}
	n, _ := strconv.Atoi(m[1])
	var totalSeconds int
	switch m[2] {
	case "s":
		totalSeconds = n
	case "m":
		totalSeconds = n * 60
	case "h":
		totalSeconds = n * 3600
	case "d":
		totalSeconds = n * 86400
	}
	hh := totalSeconds / 3600
	mm := (totalSeconds % 3600) / 60
	ss := totalSeconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", hh, mm, ss), nil
}

var memoryRe = regexp.MustCompile(`^(\d+)\s*([kKmMgG]?)[bB]?$`)

// parseMemoryMB converts a memory directive like "200M" or "4GB" into a
// megabyte count.
func parseMemoryMB(s string) (int, error) {
	m := memoryRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("unrecognized memory value %q", s)
	}
	n, _ := strconv.Atoi(m[1])
	switch strings.ToLower(m[2]) {
	case "", "m":
		return n, nil
	case "k":
		return n / 1024, nil
	case "g":
		return n * 1024, nil
	}
	return n, nil
}
