// Package incremental carries the resumability decisions layered on top of a
// static process graph: which nodes may reuse a cached checkpoint and which
// must re-execute, plus the upstream-invalidation bookkeeping that keeps
// those decisions consistent with the dependency graph.
package incremental

// NodeExecutionDecision records whether a node reuses a prior cache entry or
// must be executed fresh during an incremental/resume-only run.
type NodeExecutionDecision string

const (
	// DecisionExecute means the node has no usable checkpoint and must run.
	DecisionExecute NodeExecutionDecision = "execute"
	// DecisionReuseCache means the node's prior output may be restored
	// without re-running its command.
	DecisionReuseCache NodeExecutionDecision = "reuse-cache"
)

// IncrementalPlan is the resume-time overlay on a process graph: a
// deterministic execution order plus a decision for every node in it.
type IncrementalPlan struct {
	Order     []string
	Decisions map[string]NodeExecutionDecision
}

// NodeSnapshot is the minimal per-node shape needed to walk upstream
// dependencies when checking for invalidation.
type NodeSnapshot struct {
	Name     string
	Upstream []string
}

// GraphSnapshot is a frozen view of the process graph's dependency edges,
// independent of the live *dag.TaskGraph, so eligibility checks can be run
// against historical runs without re-loading the graph definition.
type GraphSnapshot struct {
	Nodes map[string]NodeSnapshot
}

// InvalidationEntry records whether a node's cached output is known to be
// stale, and why.
type InvalidationEntry struct {
	Invalidated bool
	Reasons     []string
}

// InvalidationMap gives the invalidation status of every node in a
// GraphSnapshot.
type InvalidationMap map[string]InvalidationEntry
