// Package runner orchestrates one monitor's execution pipeline and
// supervises goroutines started under a shared cancellable scope.
package runner

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Supervisor owns a cancellable scope under which each function passed
// to Go runs as a child goroutine. MonitorRunner's RunJob, PostIndex
// and PostDelete run on their caller's goroutine and do not start a
// child here themselves. A child's panic or error is isolated — it never cancels its siblings or the supervisor
// itself, per spec.md §5. This is a hand-rolled sync.WaitGroup
// supervisor rather than golang.org/x/sync/errgroup: errgroup cancels
// every sibling on the first child error, which is exactly the
// isolation guarantee this package must not provide.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *logrus.Logger
}

func NewSupervisor(parent context.Context, logger *logrus.Logger) *Supervisor {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{ctx: ctx, cancel: cancel, logger: logger}
}

// Context is the scope every spawned child inherits; it is cancelled
// by Stop.
func (s *Supervisor) Context() context.Context { return s.ctx }

// Go runs fn as a supervised child. Panics are recovered and logged,
// never propagated to siblings.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.WithFields(logrus.Fields{"task": name, "panic": r}).Error("supervised task panicked")
			}
		}()
		fn(s.ctx)
	}()
}

// Stop cancels the supervisor scope and waits, with no timeout, for
// every in-flight child to observe cancellation and return.
func (s *Supervisor) Stop() {
	s.cancel()
	s.wg.Wait()
}
