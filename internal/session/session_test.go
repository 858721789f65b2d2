package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeProcessor struct{ name string }

func (f fakeProcessor) Name() string { return f.name }

func TestSession_AbortWaitsForProcessors(t *testing.T) {
	s := New("run1", "/tmp/work", false, true)
	p := fakeProcessor{name: "proc-a"}
	s.RegisterProcessor(p)

	done := make(chan error, 1)
	go func() {
		done <- s.Abort(context.Background(), errors.New("boom"))
	}()

	select {
	case <-done:
		t.Fatal("Abort returned before the registered processor deregistered")
	case <-time.After(50 * time.Millisecond):
	}

	s.DeregisterProcessor(p)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Abort returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Abort did not return after deregistration")
	}

	if !s.Aborted() {
		t.Error("expected Aborted() true")
	}
	if s.AbortErr() == nil {
		t.Error("expected AbortErr() to carry the abort cause")
	}
}

func TestSession_AbortImmediateWhenNoProcessors(t *testing.T) {
	s := New("run1", "/tmp/work", false, true)
	if err := s.Abort(context.Background(), nil); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if err := s.Await(context.Background()); err != nil {
		t.Fatalf("Await: %v", err)
	}
}

func TestSession_FaultDoesNotOverwriteFirstCause(t *testing.T) {
	s := New("run1", "/tmp/work", false, true)
	s.Fault(errors.New("first"))
	s.Fault(errors.New("second"))
	if s.AbortErr().Error() != "first" {
		t.Errorf("expected first fault to win, got %v", s.AbortErr())
	}
}
