// Package errorstrategy classifies task failures and decides what the
// owning processor should do about them, replacing exception-driven control
// flow with an explicit sum type dispatched on by the operator loop.
package errorstrategy

import "fmt"

// Kind is the taxonomy of ways a task attempt can fail.
type Kind int

const (
	// KindProcessNotRecoverable is a user script compile/parse error.
	// Terminal regardless of Strategy.
	KindProcessNotRecoverable Kind = iota
	// KindProcessFailed is a non-zero exit or explicit failure. Honors Strategy.
	KindProcessFailed
	// KindMissingOutput is a declared output that could not be collected. Honors Strategy.
	KindMissingOutput
	// KindMissingValue is a declared value output referencing an unknown name. Honors Strategy.
	KindMissingValue
	// KindAbort is an infrastructure error (I/O, scheduler lost). Terminal.
	KindAbort
	// KindGuardFailure is an exception while evaluating a when guard.
	// Terminal for the task but not for the processor.
	KindGuardFailure
)

func (k Kind) String() string {
	switch k {
	case KindProcessNotRecoverable:
		return "process_not_recoverable"
	case KindProcessFailed:
		return "process_failed"
	case KindMissingOutput:
		return "missing_output"
	case KindMissingValue:
		return "missing_value"
	case KindAbort:
		return "abort"
	case KindGuardFailure:
		return "guard_failure"
	default:
		return fmt.Sprintf("errorstrategy.Kind(%d)", int(k))
	}
}

// Strategy is the action a processor takes in response to a classified
// failure.
type Strategy int

const (
	// Terminate faults the session.
	Terminate Strategy = iota
	// Finish marks the task failed, lets in-flight tasks finish, then quiesces.
	Finish
	// Ignore logs and continues.
	Ignore
	// Retry requeues the task up to Policy.MaxRetries.
	Retry
)

func (s Strategy) String() string {
	switch s {
	case Terminate:
		return "terminate"
	case Finish:
		return "finish"
	case Ignore:
		return "ignore"
	case Retry:
		return "retry"
	default:
		return fmt.Sprintf("errorstrategy.Strategy(%d)", int(s))
	}
}

// ParseStrategy parses a configuration string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "terminate":
		return Terminate, nil
	case "finish":
		return Finish, nil
	case "ignore":
		return Ignore, nil
	case "retry":
		return Retry, nil
	default:
		return 0, fmt.Errorf("errorstrategy: unknown strategy %q", s)
	}
}

// Policy is the per-process error handling configuration.
type Policy struct {
	Strategy   Strategy
	MaxRetries int
	// MaxErrors caps the number of errors tolerated under Retry; -1 is unbounded.
	MaxErrors int
}

// Failure is one classified task failure.
type Failure struct {
	Kind      Kind
	FailCount int // prior failures for this TaskRun's lineage, before this one
	Err       error
}

// Decision is the outcome of Classify: what the processor should do, and
// whether a retry attempt should be constructed.
type Decision struct {
	Strategy Strategy
	// Retry is set when Strategy == Retry: the processor should submit a
	// fresh TaskRun with RunType=RETRY and Attempt = FailCount+1.
	Retry *RetryPlan
}

// RetryPlan describes the fresh attempt a Retry decision requires.
type RetryPlan struct {
	Attempt int
}

// Classify maps a Failure through p to the Decision the processor must act
// on. Kinds 1 (process-failed), 3 (missing-output), and 4 (missing-value)
// honor the configured Strategy; all others are terminal regardless of
// configuration.
func Classify(f Failure, p Policy, errorsSoFar int) Decision {
	switch f.Kind {
	case KindProcessNotRecoverable, KindAbort:
		return Decision{Strategy: Terminate}
	case KindGuardFailure:
		// Terminal for the task, but the processor itself keeps running:
		// model that as Ignore so the operator loop does not fault the
		// session or stop accepting further bindings.
		return Decision{Strategy: Ignore}
	case KindProcessFailed, KindMissingOutput, KindMissingValue:
		return classifyRecoverable(f, p, errorsSoFar)
	default:
		return Decision{Strategy: Terminate}
	}
}

func classifyRecoverable(f Failure, p Policy, errorsSoFar int) Decision {
	if p.Strategy != Retry {
		return Decision{Strategy: p.Strategy}
	}
	if f.FailCount >= p.MaxRetries {
		return Decision{Strategy: Terminate}
	}
	if p.MaxErrors >= 0 && errorsSoFar > p.MaxErrors {
		return Decision{Strategy: Terminate}
	}
	return Decision{Strategy: Retry, Retry: &RetryPlan{Attempt: f.FailCount + 1}}
}
