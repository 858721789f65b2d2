package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"weftflow/internal/core"
)

// PollInterval is how often CoreAdapter polls a submitted job's status.
// Variable rather than const so tests can shrink it.
var PollInterval = 2 * time.Second

// CoreAdapter bridges a batch Executor's async Submit/Poll/Kill contract to
// core.Backend's synchronous ExecuteIn call: submit the rendered job,
// block until the scheduler reports a terminal status, then read back the
// exit code and combined log the job script captured on the way out.
type CoreAdapter struct {
	Exec Executor
}

// ExecuteIn implements core.Backend.
func (a *CoreAdapter) ExecuteIn(ctx context.Context, task *core.Task, hash core.TaskHash, workDir string) (*core.ExecutionResult, error) {
	if a.Exec == nil {
		return nil, fmt.Errorf("executor: no backend configured")
	}
	if task == nil {
		return nil, fmt.Errorf("executor: task is nil")
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("executor: creating work dir: %w", err)
	}

	exitPath := filepath.Join(workDir, ".exitcode")
	d := Directives{
		Name:           task.EffectiveProcessorName(),
		WorkDir:        workDir,
		Cpus:           task.Config.CPUs,
		Memory:         memoryDirective(task.Config.MemoryMB),
		Time:           task.Config.Time,
		Queue:          task.Config.Queue,
		ClusterOptions: task.Config.ClusterOptions,
	}
	body := task.Run
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	body += fmt.Sprintf("echo $? > %s\n", exitPath)

	h, err := a.Exec.Submit(ctx, d, body)
	if err != nil {
		return nil, fmt.Errorf("executor: submit: %w", err)
	}

	for {
		status, err := a.Exec.Poll(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("executor: poll: %w", err)
		}
		if status == StatusDone || status == StatusError {
			break
		}
		select {
		case <-ctx.Done():
			_ = a.Exec.Kill(context.Background(), h)
			return nil, fmt.Errorf("executor: cancelled: %w", ctx.Err())
		case <-time.After(PollInterval):
		}
	}

	exitCode, err := readExitCode(exitPath)
	if err != nil {
		return nil, fmt.Errorf("executor: reading exit code: %w", err)
	}
	logBytes, _ := os.ReadFile(filepath.Join(workDir, ".command.log"))

	return &core.ExecutionResult{Stdout: logBytes, ExitCode: exitCode, Hash: hash}, nil
}

func readExitCode(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("no exit code marker at %s: %w", path, err)
	}
	return strconv.Atoi(strings.TrimSpace(string(raw)))
}

func memoryDirective(mb int) string {
	if mb <= 0 {
		return ""
	}
	return fmt.Sprintf("%dM", mb)
}

// NewGridBackend builds a core.Backend talking to the named grid scheduler
// ("slurm", "sge", "lsf", "pbs") over its native shell commands, submitting
// job scripts under scriptDir as the given user.
func NewGridBackend(schedulerName, user, scriptDir string) (core.Backend, error) {
	var s Scheduler
	switch schedulerName {
	case "slurm":
		s = Slurm{}
	case "sge":
		s = SGE{}
	case "lsf":
		s = LSF{}
	case "pbs":
		s = PBS{}
	default:
		return nil, fmt.Errorf("executor: unknown grid scheduler %q", schedulerName)
	}
	ge := &GridExecutor{
		Scheduler: s,
		User:      user,
		WriteScript: func(script string) (string, error) {
			f, err := os.CreateTemp(scriptDir, "job-*.sh")
			if err != nil {
				return "", err
			}
			defer f.Close()
			if _, err := f.WriteString(script); err != nil {
				return "", err
			}
			return f.Name(), f.Chmod(0o755)
		},
	}
	return &CoreAdapter{Exec: ge}, nil
}

// NewKubernetesBackend builds a core.Backend that submits each task as a
// batch/v1 Job manifest through kubectl, polling job status the same way
// GridExecutor polls a scheduler's queue.
func NewKubernetesBackend(namespace, image string) core.Backend {
	return &CoreAdapter{Exec: &KubernetesExecutor{Namespace: namespace, Image: image}}
}
