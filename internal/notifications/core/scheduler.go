package core

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSchedulerStopped is returned to waiters when the scheduler shuts down.
var ErrSchedulerStopped = errors.New("retry scheduler stopped")

// Timer is the part of *time.Timer the scheduler uses.
type Timer interface {
	Stop() bool
}

// AfterFunc starts a timer that calls f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Scheduler owns every pending retry timer of a worker. Stop cancels them all
// so shutdown never waits out a backoff.
type Scheduler struct {
	afterFunc AfterFunc

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	pending map[Timer]struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithAfterFunc replaces the timer source. Tests use it to observe delays
// without sleeping.
func WithAfterFunc(fn AfterFunc) SchedulerOption {
	return func(s *Scheduler) { s.afterFunc = fn }
}

// NewScheduler creates a running scheduler.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		afterFunc: realAfterFunc,
		stopCh:    make(chan struct{}),
		pending:   make(map[Timer]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Wait blocks until delay elapses. It returns ErrSchedulerStopped if the
// scheduler is stopped first, or ctx.Err() if ctx ends first.
func (s *Scheduler) Wait(ctx context.Context, delay time.Duration) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	fired := make(chan struct{})
	t := s.afterFunc(delay, func() { close(fired) })
	s.pending[t] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, t)
		s.mu.Unlock()
		t.Stop()
	}()

	select {
	case <-fired:
		return nil
	case <-s.stopCh:
		return ErrSchedulerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels all pending timers and releases their waiters. Safe to call
// more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
	for t := range s.pending {
		t.Stop()
	}
}

// Pending returns the number of timers currently armed.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
