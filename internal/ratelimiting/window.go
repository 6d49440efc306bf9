package ratelimiting

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

var ErrDeadlineTooSoon = errors.New("operation would not finish before the context deadline")

// WindowLimiter allows at most limit operations to finish within any sliding window.
//
// An operation may start once the oldest of the last limit finished operations is at least one
// window old. Operations in flight hold a slot until they finish.
type WindowLimiter struct {
	limit     int
	window    time.Duration
	nowFunc   func() time.Time
	afterFunc func(time.Duration) <-chan time.Time

	slots chan struct{}

	mu sync.Mutex
	// Sorted, oldest first. Holds one timestamp per slot that is not in use.
	finished []time.Time
}

func NewWindowLimiter(
	limit int,
	window time.Duration,
	nowFunc func() time.Time,
	afterFunc func(time.Duration) <-chan time.Time,
) (*WindowLimiter, error) {
	if limit < 1 {
		return nil, fmt.Errorf("limit must be at least 1, got %d", limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", window)
	}

	slots := make(chan struct{}, limit)
	finished := make([]time.Time, 0, limit)
	longAgo := nowFunc().Add(-window)
	for range limit {
		slots <- struct{}{}
		finished = append(finished, longAgo)
	}

	return &WindowLimiter{
		limit:     limit,
		window:    window,
		nowFunc:   nowFunc,
		afterFunc: afterFunc,

		slots:    slots,
		finished: finished,
	}, nil
}

// Do waits for capacity and runs op.
//
// When ctx has a deadline and the wait plus maxOperationTime would exceed it, Do returns
// ErrDeadlineTooSoon without waiting.
func (l *WindowLimiter) Do(ctx context.Context, maxOperationTime time.Duration, op func(ctx context.Context) error) error {
	select {
	case <-l.slots:
		defer func() {
			l.slots <- struct{}{}
		}()
	case <-ctx.Done():
		return fmt.Errorf("waiting for rate limit slot: %w", ctx.Err())
	}

	oldest, wait, err := l.claimOldest(ctx, maxOperationTime)
	if err != nil {
		return err
	}

	// Give the claimed timestamp back unless op actually runs
	release := oldest
	defer func() {
		l.release(release)
	}()

	if wait > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for rate limit window: %w", ctx.Err())
		case <-l.afterFunc(wait):
		}
	}

	err = op(ctx)
	release = l.nowFunc()
	return err
}

func (l *WindowLimiter) claimOldest(ctx context.Context, maxOperationTime time.Duration) (time.Time, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	oldest := l.finished[0]
	wait := l.window - l.nowFunc().Sub(oldest)

	if deadline, ok := ctx.Deadline(); ok {
		if max(wait, 0)+maxOperationTime > deadline.Sub(l.nowFunc()) {
			return time.Time{}, 0, ErrDeadlineTooSoon
		}
	}

	l.finished = l.finished[1:]
	return oldest, wait, nil
}

func (l *WindowLimiter) release(finishedAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, _ := slices.BinarySearchFunc(l.finished, finishedAt, func(a, b time.Time) int {
		return a.Compare(b)
	})
	l.finished = slices.Insert(l.finished, i, finishedAt)
}
