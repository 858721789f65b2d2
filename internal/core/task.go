// Package core defines the domain models for deterministic task execution.
//
// These structures are derived directly from the frozen specifications in
// docs/sprints/sprint-00/planning/spec.md and data-dictionary.md.
//
// Design constraints:
//   - No implied fields (e.g., creation_date) that could affect determinism
//   - All fields are explicit and observable
//   - Structures support exact serialization for hash computation
package core

// Task represents a declarative definition of work to be executed deterministically.
//
// From data-dictionary.md:
//
//	Includes: Inputs, Command, Declared environment, Declared outputs
//	Excludes: Implicit dependencies, External side effects
//
// From spec.md Task Definition Format:
//
//	Required: name, inputs, run
//	Optional: env, outputs
type Task struct {
	// Name is the logical identifier for the task.
	// Used only for user reference; does not affect task identity/hash.
	Name string `json:"name" yaml:"name"`

	// Inputs is a list of file paths or glob patterns.
	// All inputs are expanded prior to execution.
	// Expansion MUST be deterministic and strictly sorted.
	Inputs []string `json:"inputs" yaml:"inputs"`

	// Run is the command string to execute.
	// Interpreted exactly as provided.
	Run string `json:"run" yaml:"run"`

	// Env is a map of environment variables explicitly provided to the task.
	// Only variables listed here are visible to the task.
	// Optional field.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Outputs is a list of file paths or directories expected to be produced.
	// Only declared outputs are eligible for artifact capture and caching.
	// Optional field.
	Outputs []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	// ProcessorName identifies the TaskProcessor this task was bound from.
	// Falls back to Name when empty; part of the task's identity hash
	// (two processors issuing an identical command are distinct tasks).
	ProcessorName string `json:"processor,omitempty" yaml:"processor,omitempty"`

	// Config carries the scheduler directives (cpus/memory/time/queue/
	// clusterOptions) an Executor renders into its submit script or
	// manifest. Optional; zero value means "no directive".
	Config TaskConfig `json:"config,omitempty" yaml:"config,omitempty"`

	// Context is the TaskContext: the free variable bindings captured for
	// this specific binding (the processor's resolved closure over
	// pipeline parameters), keyed by variable name. Part of the task's
	// identity hash.
	Context map[string]string `json:"context,omitempty" yaml:"context,omitempty"`

	// RunType distinguishes a fresh attempt ("NEW") from a retry
	// ("RETRY") issued by the error strategy. Optional; defaults to NEW.
	RunType string `json:"run_type,omitempty" yaml:"run_type,omitempty"`

	// Attempt is the 1-based attempt number; Attempt > 1 implies RunType
	// is RETRY.
	Attempt int `json:"attempt,omitempty" yaml:"attempt,omitempty"`

	// FailCount is the number of prior failed attempts for this task's
	// lineage, carried so a retried task can be classified against the
	// error policy's MaxRetries/MaxErrors.
	FailCount int `json:"fail_count,omitempty" yaml:"fail_count,omitempty"`
}

// TaskConfig is the scheduler-facing subset of a task's declared directives
// (spec's TaskConfig: cpus, memory, time, queue, clusterOptions), rendered
// by a grid/Kubernetes Executor into its submit script or manifest.
type TaskConfig struct {
	CPUs           int    `json:"cpus,omitempty" yaml:"cpus,omitempty"`
	MemoryMB       int    `json:"memory_mb,omitempty" yaml:"memory_mb,omitempty"`
	Time           string `json:"time,omitempty" yaml:"time,omitempty"`
	Queue          string `json:"queue,omitempty" yaml:"queue,omitempty"`
	ClusterOptions string `json:"cluster_options,omitempty" yaml:"cluster_options,omitempty"`
}

// EffectiveProcessorName returns ProcessorName, falling back to Name when
// the task was built without a distinct processor binding.
func (t Task) EffectiveProcessorName() string {
	if t.ProcessorName != "" {
		return t.ProcessorName
	}
	return t.Name
}
