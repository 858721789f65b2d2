// Package executor implements the pluggable task-submission backends: the
// local-process family lives in core.Executor; this package covers the
// common Executor contract (submit/poll/kill) and the batch-scheduler
// ("grid") family that shares directive rendering, submission, and status
// polling across Slurm, SGE, LSF, PBS, and Kubernetes.
package executor

import "context"

// Status is the scheduler-independent job state every grid backend's
// native status codes are mapped onto.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	StatusError   Status = "ERROR"
	StatusHold    Status = "HOLD"
)

// Handle identifies a submitted task to its owning executor.
type Handle struct {
	// JobID is the scheduler-assigned identifier (empty for local executors,
	// which identify a task by process id instead).
	JobID string
}

// Directives are the scheduler-facing resource request fields a TaskConfig
// may carry.
type Directives struct {
	Name           string
	WorkDir        string
	Cpus           int
	Memory         string
	Time           string
	Queue          string
	ClusterOptions string
}

// Executor is the contract every submission backend implements.
type Executor interface {
	Submit(ctx context.Context, d Directives, script string) (Handle, error)
	Poll(ctx context.Context, h Handle) (Status, error)
	Kill(ctx context.Context, h Handle) error
}
