package ratelimiting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mockTime struct {
	mu     sync.Mutex
	now    time.Time
	timers []mockTimer
}

type mockTimer struct {
	at time.Time
	ch chan time.Time
}

func newMockTime() *mockTime {
	return &mockTime{now: time.Now()}
}

func (m *mockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTime) After(d time.Duration) <-chan time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan time.Time, 1)
	m.timers = append(m.timers, mockTimer{at: m.now.Add(d), ch: ch})
	return ch
}

func (m *mockTime) pendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *mockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)

	remaining := m.timers[:0]
	for _, timer := range m.timers {
		if !timer.at.After(m.now) {
			timer.ch <- m.now
			continue
		}
		remaining = append(remaining, timer)
	}
	m.timers = remaining
}

func newWindowLimiter(t *testing.T, limit int, window time.Duration) (*WindowLimiter, *mockTime) {
	t.Helper()
	clock := newMockTime()
	limiter, err := NewWindowLimiter(limit, window, clock.Now, clock.After)
	require.NoError(t, err)
	return limiter, clock
}

func noop(ctx context.Context) error { return nil }

func TestWindowLimiter(t *testing.T) {
	t.Parallel()

	t.Run("invalid arguments", func(t *testing.T) {
		t.Parallel()

		_, err := NewWindowLimiter(0, time.Second, time.Now, time.After)
		require.Error(t, err)

		_, err = NewWindowLimiter(1, 0, time.Now, time.After)
		require.Error(t, err)
	})

	t.Run("first requests run immediately", func(t *testing.T) {
		t.Parallel()
		limiter, clock := newWindowLimiter(t, 3, time.Minute)

		for range 3 {
			require.NoError(t, limiter.Do(t.Context(), time.Second, noop))
		}
		require.Zero(t, clock.pendingTimers())
	})

	t.Run("blocks until the window slides", func(t *testing.T) {
		t.Parallel()
		limiter, clock := newWindowLimiter(t, 2, 5*time.Second)

		require.NoError(t, limiter.Do(t.Context(), time.Second, noop))
		require.NoError(t, limiter.Do(t.Context(), time.Second, noop))

		done := make(chan error, 1)
		go func() {
			done <- limiter.Do(context.Background(), time.Second, noop)
		}()

		require.Eventually(t, func() bool { return clock.pendingTimers() == 1 }, time.Second, time.Millisecond)
		select {
		case <-done:
			t.Fatal("expected the third operation to wait")
		default:
		}

		clock.Advance(4 * time.Second)
		require.Equal(t, 1, clock.pendingTimers())

		clock.Advance(time.Second)
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("expected the operation to run after the window slid")
		}
	})

	t.Run("operation error is returned and counts", func(t *testing.T) {
		t.Parallel()
		limiter, clock := newWindowLimiter(t, 1, time.Second)

		opErr := errors.New("upstream failed")
		err := limiter.Do(t.Context(), time.Second, func(ctx context.Context) error { return opErr })
		require.ErrorIs(t, err, opErr)

		done := make(chan error, 1)
		go func() {
			done <- limiter.Do(context.Background(), time.Second, noop)
		}()
		require.Eventually(t, func() bool { return clock.pendingTimers() == 1 }, time.Second, time.Millisecond)
		clock.Advance(time.Second)
		require.NoError(t, <-done)
	})

	t.Run("deadline too soon", func(t *testing.T) {
		t.Parallel()
		limiter, clock := newWindowLimiter(t, 1, 10*time.Second)

		require.NoError(t, limiter.Do(t.Context(), time.Second, noop))

		ctx, cancel := context.WithDeadline(t.Context(), clock.Now().Add(5*time.Second))
		defer cancel()

		called := false
		err := limiter.Do(ctx, time.Second, func(ctx context.Context) error {
			called = true
			return nil
		})
		require.ErrorIs(t, err, ErrDeadlineTooSoon)
		require.False(t, called)

		// The slot was given back untouched
		clock.Advance(10 * time.Second)
		require.NoError(t, limiter.Do(t.Context(), time.Second, noop))
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		t.Parallel()
		limiter, clock := newWindowLimiter(t, 1, time.Minute)

		require.NoError(t, limiter.Do(t.Context(), time.Second, noop))

		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan error, 1)
		go func() {
			done <- limiter.Do(ctx, time.Second, noop)
		}()
		require.Eventually(t, func() bool { return clock.pendingTimers() == 1 }, time.Second, time.Millisecond)

		cancel()
		require.ErrorIs(t, <-done, context.Canceled)
	})

	t.Run("in-flight operations hold their slot", func(t *testing.T) {
		t.Parallel()
		limiter, _ := newWindowLimiter(t, 1, time.Millisecond)

		started := make(chan struct{})
		unblock := make(chan struct{})
		go func() {
			_ = limiter.Do(context.Background(), time.Second, func(ctx context.Context) error {
				close(started)
				<-unblock
				return nil
			})
		}()
		<-started

		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()
		err := limiter.Do(ctx, time.Millisecond, noop)
		require.ErrorIs(t, err, context.DeadlineExceeded)

		close(unblock)
	})
}
