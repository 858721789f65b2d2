// Package processor implements TaskProcessor: the dataflow operator that
// turns one input binding into a TaskRun, routes it through the cache/
// executor pipeline, and dispatches the bound outputs.
package processor

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"weftflow/internal/core"
)

// Binding is one tuple drawn from a processor's input channels: parameter
// name to the resolved value. Each-declared inputs carry a []any value that
// the forwarding operator expands before invokeTask ever sees it.
type Binding map[string]any

// InputSpec declares one named input channel and whether it is an
// iterable-expanding ("each") input.
type InputSpec struct {
	Name string
	Each bool
}

// TaskBuilder materializes the core.Task for one (already expanded)
// binding. Built by the caller from the process's declared command,
// outputs, and directives.
type TaskBuilder func(binding Binding) (*core.Task, error)

// Observer is notified once per binding after invokeTask settles, whether
// by cache resume, fresh execution, or the guard/when-induced skip.
type Observer interface {
	OnTaskTerminal(name string, binding Binding, result *core.RunResult, skipped bool, err error)
}

// Spec is a TaskProcessor's static configuration.
type Spec struct {
	Name     string
	Inputs   []InputSpec
	MaxForks int // 0 or 1 == serial; >=2 bounds concurrent bindings
	// Guard evaluates the optional `when` clause; false skips the binding.
	Guard func(binding Binding) (bool, error)
	Build TaskBuilder
}

// TaskProcessor is the multi-input operator described by Spec: it waits for
// one value per input channel, forms a binding, optionally expands "each"
// inputs via the Cartesian-product forwarding operator, and invokes the
// task pipeline for every resulting binding.
type TaskProcessor struct {
	Spec     Spec
	Runner   *core.Runner
	Observer Observer

	submitted int
	completed int
}

// hasEach reports whether any declared input is an each-input.
func (s Spec) hasEach() bool {
	for _, in := range s.Inputs {
		if in.Each {
			return true
		}
	}
	return false
}

// allScalar reports whether every declared input is a plain (non-each) channel.
func (s Spec) allScalar() bool { return !s.hasEach() }

// Run drains one value from every input channel per binding and dispatches
// invokeTask for each one, honoring the processor's termination rule: it
// stops after the first binding if every input is scalar and none is each;
// otherwise it loops until poison arrives on control.
func (p *TaskProcessor) Run(ctx context.Context, inputs map[string]<-chan any, control <-chan struct{}) error {
	for _, in := range p.Spec.Inputs {
		if _, ok := inputs[in.Name]; !ok {
			return fmt.Errorf("processor %s: missing input channel %q", p.Spec.Name, in.Name)
		}
	}

	forks := p.Spec.MaxForks
	if forks < 1 {
		forks = 1
	}
	pl := pool.New().WithMaxGoroutines(forks).WithContext(ctx)

	first := true
	for {
		if !first {
			select {
			case <-control:
				// poison: stop accepting new bindings, let in-flight ones finish.
				return pl.Wait()
			default:
			}
		}

		binding, ok, err := p.readBinding(ctx, inputs)
		if err != nil {
			_ = pl.Wait()
			return err
		}
		if !ok {
			return pl.Wait()
		}

		for _, forwarded := range expandEach(p.Spec.Inputs, binding) {
			forwarded := forwarded
			p.submitted++
			pl.Go(func(ctx context.Context) error {
				result, skipped, err := p.invokeTask(ctx, forwarded)
				p.completed++
				if p.Observer != nil {
					p.Observer.OnTaskTerminal(p.Spec.Name, forwarded, result, skipped, err)
				}
				return nil // a single task's failure does not abort the pool; the caller's error strategy decides.
			})
		}

		first = false
		if p.Spec.allScalar() {
			return pl.Wait()
		}
	}
}

func (p *TaskProcessor) readBinding(ctx context.Context, inputs map[string]<-chan any) (Binding, bool, error) {
	b := make(Binding, len(p.Spec.Inputs))
	for _, in := range p.Spec.Inputs {
		select {
		case v, ok := <-inputs[in.Name]:
			if !ok {
				return nil, false, nil
			}
			b[in.Name] = v
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	return b, true, nil
}

// InvokeOne runs a single binding through the guard/build/execute pipeline
// synchronously, for callers driving one task at a time outside the
// channel-based Run loop (e.g. a graph executor invoking one node per call).
func (p *TaskProcessor) InvokeOne(ctx context.Context, binding Binding) (*core.RunResult, bool, error) {
	return p.invokeTask(ctx, binding)
}

// invokeTask runs the five-stage pipeline from a bound task: guard, build,
// and hand off to core.Runner (which itself does fingerprinting, cache
// probe, and submit-or-resume).
func (p *TaskProcessor) invokeTask(ctx context.Context, binding Binding) (*core.RunResult, bool, error) {
	if p.Spec.Guard != nil {
		ok, err := p.Spec.Guard(binding)
		if err != nil {
			return nil, true, fmt.Errorf("processor %s: when guard: %w", p.Spec.Name, err)
		}
		if !ok {
			return nil, true, nil
		}
	}

	task, err := p.Spec.Build(binding)
	if err != nil {
		return nil, false, fmt.Errorf("processor %s: building task: %w", p.Spec.Name, err)
	}

	result, err := p.Runner.Run(ctx, task)
	if err != nil {
		return nil, false, fmt.Errorf("processor %s: %w", p.Spec.Name, err)
	}
	return result, false, nil
}
