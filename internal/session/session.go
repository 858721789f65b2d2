// Package session implements the engine-wide run session: a single process
// of execution identified by a UUID, tracking live processors and carrying
// the abort signal every running task watches.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/atomic"
)

// AbortGracePeriod is how long Abort waits for registered processors to
// unwind on their own before the session reports itself aborted regardless.
const AbortGracePeriod = 30 * time.Second

// Processor is anything a Session can track as "currently running" and ask
// to wind down on abort.
type Processor interface {
	Name() string
}

// Session is the engine's run-scoped singleton: identity, working
// directory, resume/cache posture, and the registry of live processors that
// Abort fans out to.
type Session struct {
	ID         uuid.UUID
	RunName    string
	WorkDir    string
	ResumeMode bool
	Cacheable  bool

	aborted  atomic.Bool
	abortErr atomic.Error

	mu         sync.Mutex
	processors map[string]Processor
	done       chan struct{}
	doneOnce   sync.Once
}

// New starts a Session with a fresh 128-bit identity.
func New(runName, workDir string, resumeMode, cacheable bool) *Session {
	return &Session{
		ID:         uuid.NewV4(),
		RunName:    runName,
		WorkDir:    workDir,
		ResumeMode: resumeMode,
		Cacheable:  cacheable,
		processors: map[string]Processor{},
		done:       make(chan struct{}),
	}
}

// RegisterProcessor adds p to the set of processors the session tracks as
// live. Registering after Abort has already fired is a no-op: there is
// nothing left to wait for.
func (s *Session) RegisterProcessor(p Processor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aborted.Load() {
		return
	}
	s.processors[p.Name()] = p
}

// DeregisterProcessor removes p from the live set. When the last processor
// deregisters, Await unblocks.
func (s *Session) DeregisterProcessor(p Processor) {
	s.mu.Lock()
	remaining := 0
	if _, ok := s.processors[p.Name()]; ok {
		delete(s.processors, p.Name())
	}
	remaining = len(s.processors)
	s.mu.Unlock()
	if remaining == 0 {
		s.markDone()
	}
}

// NotifyProcessCreate and NotifyProcessTerminate are hooks processors call
// around spawning the underlying task process; Session itself only uses
// them as counters today but keeps the interface symmetric with the
// registration calls above so a future scheduler-aware session can observe
// process lifetimes without changing caller code.
func (s *Session) NotifyProcessCreate()    {}
func (s *Session) NotifyProcessTerminate() {}

// Aborted reports whether Abort has been called.
func (s *Session) Aborted() bool { return s.aborted.Load() }

// AbortErr returns the error Abort was called with, if any.
func (s *Session) AbortErr() error { return s.abortErr.Load() }

// Abort marks the session aborted and waits up to AbortGracePeriod for every
// registered processor to deregister on its own before returning.
func (s *Session) Abort(ctx context.Context, cause error) error {
	if !s.aborted.CompareAndSwap(false, true) {
		return nil // already aborting
	}
	if cause != nil {
		s.abortErr.Store(cause)
	}

	s.mu.Lock()
	empty := len(s.processors) == 0
	s.mu.Unlock()
	if empty {
		s.markDone()
		return nil
	}

	graceCtx, cancel := context.WithTimeout(ctx, AbortGracePeriod)
	defer cancel()
	select {
	case <-s.done:
		return nil
	case <-graceCtx.Done():
		return fmt.Errorf("session: abort grace period elapsed with processors still live")
	}
}

// Await blocks until every registered processor has deregistered, or ctx is
// done, whichever comes first.
func (s *Session) Await(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fault records a task-level failure as the session's abort cause without
// tearing down live processors immediately; callers combine this with Abort
// once their own error strategy decides to terminate the run.
func (s *Session) Fault(err error) {
	s.abortErr.CompareAndSwap(nil, err)
}

func (s *Session) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}
