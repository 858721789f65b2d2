package processor

import (
	"context"
	"testing"

	"weftflow/internal/core"
)

type recordingObserver struct {
	results []*core.RunResult
	skips   int
}

func (r *recordingObserver) OnTaskTerminal(name string, binding Binding, result *core.RunResult, skipped bool, err error) {
	if skipped {
		r.skips++
		return
	}
	if err == nil {
		r.results = append(r.results, result)
	}
}

func TestTaskProcessor_ScalarTerminatesAfterFirstBinding(t *testing.T) {
	dir := t.TempDir()
	runner := core.NewRunner(dir, core.NewMemoryCache())

	spec := Spec{
		Name:     "echoer",
		Inputs:   []InputSpec{{Name: "x"}},
		MaxForks: 2,
		Build: func(b Binding) (*core.Task, error) {
			return &core.Task{Name: "echoer", Run: "true"}, nil
		},
	}
	obs := &recordingObserver{}
	p := &TaskProcessor{Spec: spec, Runner: runner, Observer: obs}

	xCh := make(chan any, 1)
	xCh <- "only-value"
	close(xCh)
	inputs := map[string]<-chan any{"x": xCh}
	control := make(chan struct{})

	if err := p.Run(context.Background(), inputs, control); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(obs.results) != 1 {
		t.Fatalf("expected exactly one invocation, got %d", len(obs.results))
	}
}

func TestTaskProcessor_GuardSkipsBinding(t *testing.T) {
	dir := t.TempDir()
	runner := core.NewRunner(dir, core.NewMemoryCache())

	spec := Spec{
		Name:   "guarded",
		Inputs: []InputSpec{{Name: "x"}},
		Guard:  func(b Binding) (bool, error) { return false, nil },
		Build: func(b Binding) (*core.Task, error) {
			return &core.Task{Name: "guarded", Run: "true"}, nil
		},
	}
	obs := &recordingObserver{}
	p := &TaskProcessor{Spec: spec, Runner: runner, Observer: obs}

	xCh := make(chan any, 1)
	xCh <- "v"
	close(xCh)
	inputs := map[string]<-chan any{"x": xCh}

	if err := p.Run(context.Background(), inputs, make(chan struct{})); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if obs.skips != 1 || len(obs.results) != 0 {
		t.Fatalf("expected one skip and no results, got skips=%d results=%d", obs.skips, len(obs.results))
	}
}
