package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// OverlapPolicy decides what happens when a call arrives while another is pending.
type OverlapPolicy string

const (
	// OverlapReject fails the new call with a BusyError.
	OverlapReject OverlapPolicy = "reject"
	// OverlapQueue parks the new call until the pending one settles.
	OverlapQueue OverlapPolicy = "queue"
)

// Suspender turns an asynchronous operation into a call that blocks its caller.
//
// The caller is a guest parked inside a host import. Suspend runs the operation on
// its own goroutine and blocks the guest goroutine on a one-shot continuation until
// the operation settles or the wait is cut short. Other goroutines, including the
// ones the operation depends on, keep running.
//
// At most one operation is pending per Suspender. An operation abandoned by a timeout
// keeps its slot until it settles, so operations never interleave.
//
// Once the caller has resumed, an abandoned operation must not touch caller state.
// Operations make their visible changes through Commit, which refuses to run after
// the caller resumed and holds the caller back while it runs.
type Suspender struct {
	slot    *semaphore.Weighted
	policy  OverlapPolicy
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	pending string
	since   time.Time
}

// NewSuspender creates a suspender. A zero timeout waits forever.
func NewSuspender(policy OverlapPolicy, timeout time.Duration, logger *zap.Logger) *Suspender {
	if policy == "" {
		policy = OverlapReject
	}
	return &Suspender{
		slot:    semaphore.NewWeighted(1),
		policy:  policy,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "suspender")),
	}
}

// Suspend runs fn and blocks until it settles.
//
// A panic inside fn is recovered and returned as a PanicError. When the wait ends
// early the context error is returned and fn's eventual result is discarded,
// unless fn already committed, in which case Suspend waits for fn to return.
func (s *Suspender) Suspend(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := s.acquire(ctx, op); err != nil {
		return err
	}

	opCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.timeout > 0 {
		opCtx, cancel = context.WithTimeout(ctx, s.timeout)
	}

	c := &call{}
	opCtx = context.WithValue(opCtx, callKey{}, c)

	resume := make(chan error, 1)
	go func() {
		err := s.run(opCtx, op, fn)
		// The slot is free before the caller resumes.
		s.release(op)
		resume <- err
		cancel()
	}()

	select {
	case err := <-resume:
		return err
	case <-opCtx.Done():
		// cancel above closes Done only after the result is sent.
		select {
		case err := <-resume:
			return err
		default:
		}
		if !c.abandon() {
			// Committed changes are already visible, so report the real outcome.
			return <-resume
		}
		err := opCtx.Err()
		s.logger.Warn("Resuming before operation settled",
			zap.String("op", op),
			zap.Error(err),
		)
		return err
	}
}

// Pending returns the operation currently holding the slot.
func (s *Suspender) Pending() (op string, since time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, s.since, s.pending != ""
}

func (s *Suspender) acquire(ctx context.Context, op string) error {
	switch s.policy {
	case OverlapQueue:
		if err := s.slot.Acquire(ctx, 1); err != nil {
			return err
		}
	default:
		if !s.slot.TryAcquire(1) {
			pending, _, _ := s.Pending()
			return &BusyError{Op: op, Pending: pending}
		}
	}

	s.mu.Lock()
	s.pending = op
	s.since = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Suspender) release(op string) {
	s.mu.Lock()
	elapsed := time.Since(s.since)
	s.pending = ""
	s.since = time.Time{}
	s.mu.Unlock()

	s.slot.Release(1)
	s.logger.Debug("Operation settled",
		zap.String("op", op),
		zap.Duration("elapsed", elapsed),
	)
}

func (s *Suspender) run(ctx context.Context, op string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Operation panicked",
				zap.String("op", op),
				zap.Any("panic", r),
			)
			err = &PanicError{Op: op, Value: r}
		}
	}()
	return fn(ctx)
}

type callKey struct{}

// call tracks whether a suspended operation may still change caller state.
type call struct {
	mu        sync.Mutex
	committed bool
	abandoned bool
}

// abandon marks the call abandoned unless it already committed.
func (c *call) abandon() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.committed {
		return false
	}
	c.abandoned = true
	return true
}

// Commit runs apply while the caller of the suspended operation owning ctx is
// still parked. It returns ErrAbandoned without running apply once the caller
// has resumed, and the context error once ctx is done. After a successful
// Commit the caller waits for the operation to return, so whatever the
// operation does afterwards must not block.
func Commit(ctx context.Context, apply func() error) error {
	return guard(ctx, true, apply)
}

// whileParked runs fn under the same rules as Commit without committing, so a
// later timeout still resumes the caller early.
func whileParked(ctx context.Context, fn func() error) error {
	return guard(ctx, false, fn)
}

func guard(ctx context.Context, commit bool, fn func() error) error {
	c, _ := ctx.Value(callKey{}).(*call)
	if c == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abandoned {
		return ErrAbandoned
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if commit {
		c.committed = true
	}
	return fn()
}

// PanicError wraps a panic raised inside a suspended operation.
type PanicError struct {
	Op    string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("operation '%s' panicked: %v", e.Op, e.Value)
}
