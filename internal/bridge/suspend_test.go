package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// startBlocked runs an operation that holds the slot until release is closed.
func startBlocked(t *testing.T, s *Suspender, op string, release <-chan struct{}) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- s.Suspend(context.Background(), op, func(context.Context) error {
			<-release
			return nil
		})
	}()
	require.Eventually(t, func() bool {
		_, _, ok := s.Pending()
		return ok
	}, time.Second, time.Millisecond)
	return done
}

func TestSuspender_ReturnsOperationResult(t *testing.T) {
	s := NewSuspender(OverlapReject, 0, zaptest.NewLogger(t))
	boom := errors.New("boom")

	assert.NoError(t, s.Suspend(context.Background(), "ok", func(context.Context) error { return nil }))
	assert.ErrorIs(t, s.Suspend(context.Background(), "fail", func(context.Context) error { return boom }), boom)

	_, _, pending := s.Pending()
	assert.False(t, pending)
}

func TestSuspender_RejectsOverlap(t *testing.T) {
	s := NewSuspender(OverlapReject, 0, zaptest.NewLogger(t))
	release := make(chan struct{})
	first := startBlocked(t, s, "first", release)

	op, _, ok := s.Pending()
	require.True(t, ok)
	assert.Equal(t, "first", op)

	ran := false
	err := s.Suspend(context.Background(), "second", func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrBusy)
	var busy *BusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "first", busy.Pending)
	assert.False(t, ran)

	close(release)
	require.NoError(t, <-first)

	// The slot is free as soon as the first call has resumed.
	assert.NoError(t, s.Suspend(context.Background(), "third", func(context.Context) error { return nil }))
}

func TestSuspender_QueuesOverlap(t *testing.T) {
	s := NewSuspender(OverlapQueue, 0, zaptest.NewLogger(t))
	release := make(chan struct{})
	first := startBlocked(t, s, "first", release)

	var (
		mu    sync.Mutex
		order []string
	)
	second := make(chan error, 1)
	go func() {
		second <- s.Suspend(context.Background(), "second", func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
	}()

	// The queued call must not start while the first is pending.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, order)
	mu.Unlock()

	close(release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"second"}, order)
}

func TestSuspender_QueuedCallHonoursContext(t *testing.T) {
	s := NewSuspender(OverlapQueue, 0, zaptest.NewLogger(t))
	release := make(chan struct{})
	defer close(release)
	startBlocked(t, s, "first", release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Suspend(ctx, "second", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSuspender_TimeoutKeepsSlotUntilSettled(t *testing.T) {
	s := NewSuspender(OverlapReject, 20*time.Millisecond, zaptest.NewLogger(t))
	release := make(chan struct{})

	// The operation ignores its context, so it outlives the wait.
	err := s.Suspend(context.Background(), "slow", func(context.Context) error {
		<-release
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	op, _, ok := s.Pending()
	require.True(t, ok)
	assert.Equal(t, "slow", op)
	assert.ErrorIs(t, s.Suspend(context.Background(), "next", func(context.Context) error { return nil }), ErrBusy)

	close(release)
	require.Eventually(t, func() bool {
		_, _, ok := s.Pending()
		return !ok
	}, time.Second, time.Millisecond)
	assert.NoError(t, s.Suspend(context.Background(), "next", func(context.Context) error { return nil }))
}

func TestSuspender_CommitRefusedAfterResume(t *testing.T) {
	s := NewSuspender(OverlapReject, 20*time.Millisecond, zaptest.NewLogger(t))
	release := make(chan struct{})
	committed := make(chan error, 1)
	applied := false

	err := s.Suspend(context.Background(), "slow", func(ctx context.Context) error {
		<-release
		err := Commit(ctx, func() error {
			applied = true
			return nil
		})
		committed <- err
		return err
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	assert.ErrorIs(t, <-committed, ErrAbandoned)
	assert.False(t, applied)

	require.Eventually(t, func() bool {
		_, _, ok := s.Pending()
		return !ok
	}, time.Second, time.Millisecond)
}

func TestSuspender_CommittedCallReportsResult(t *testing.T) {
	s := NewSuspender(OverlapReject, 20*time.Millisecond, zaptest.NewLogger(t))

	// The commit outlasts the timeout; the caller still sees its outcome.
	err := s.Suspend(context.Background(), "slow-commit", func(ctx context.Context) error {
		return Commit(ctx, func() error {
			time.Sleep(60 * time.Millisecond)
			return nil
		})
	})
	assert.NoError(t, err)
}

func TestCommit_OutsideSuspender(t *testing.T) {
	ran := false
	require.NoError(t, Commit(context.Background(), func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran = false
	assert.ErrorIs(t, Commit(ctx, func() error {
		ran = true
		return nil
	}), context.Canceled)
	assert.False(t, ran)
}

func TestSuspender_Cancellation(t *testing.T) {
	s := NewSuspender(OverlapReject, 0, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()

	err := s.Suspend(ctx, "cancelled", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSuspender_RecoversPanic(t *testing.T) {
	s := NewSuspender(OverlapReject, 0, zaptest.NewLogger(t))

	err := s.Suspend(context.Background(), "explode", func(context.Context) error {
		panic("setup failed")
	})
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "explode", panicErr.Op)
	assert.Equal(t, "setup failed", panicErr.Value)

	// The slot is released after a panic.
	assert.NoError(t, s.Suspend(context.Background(), "after", func(context.Context) error { return nil }))
}
