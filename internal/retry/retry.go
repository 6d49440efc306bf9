// Package retry runs upstream operations with bounded attempts and exponential backoff.
//
// Client errors (4xx-equivalent, domain.ErrClient) are returned immediately. Server errors,
// network errors and unclassified errors are retried after BaseDelay * 2^(attempt-1) until
// MaxAttempts attempts have been made, after which the last error is returned.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Amund211/tickerlight/internal/domain"
)

const (
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = 1 * time.Second
	DefaultAttemptTimeout = 30 * time.Second
)

type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Upper bound for a single attempt. Zero disables the per-attempt timeout.
	AttemptTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    DefaultMaxAttempts,
		BaseDelay:      DefaultBaseDelay,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

type Fetcher struct {
	config    Config
	observer  Observer
	afterFunc func(time.Duration) <-chan time.Time
}

type Option func(*Fetcher)

func WithObserver(observer Observer) Option {
	return func(f *Fetcher) {
		f.observer = observer
	}
}

func WithAfterFunc(afterFunc func(time.Duration) <-chan time.Time) Option {
	return func(f *Fetcher) {
		f.afterFunc = afterFunc
	}
}

func NewFetcher(config Config, opts ...Option) (*Fetcher, error) {
	if config.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1, got %d", config.MaxAttempts)
	}
	if config.BaseDelay < 0 {
		return nil, fmt.Errorf("base delay must not be negative, got %s", config.BaseDelay)
	}
	if config.AttemptTimeout < 0 {
		return nil, fmt.Errorf("attempt timeout must not be negative, got %s", config.AttemptTimeout)
	}

	f := &Fetcher{
		config:    config,
		observer:  NopObserver{},
		afterFunc: time.After,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Delay returns the wait before the attempt following the given (1-indexed) failed attempt
func (f *Fetcher) Delay(attempt int) time.Duration {
	return f.config.BaseDelay * time.Duration(1<<(attempt-1))
}

// IsRetryable reports whether an attempt that failed with err may be tried again
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, domain.ErrClient)
}

// Execute runs op until it succeeds, fails terminally or runs out of attempts
func Execute[T any](ctx context.Context, f *Fetcher, op func(ctx context.Context) (T, error)) (T, error) {
	var empty T
	var lastErr error

	for attempt := 1; attempt <= f.config.MaxAttempts; attempt++ {
		f.observer.AttemptStarted(ctx, attempt)

		result, err := runAttempt(ctx, f.config.AttemptTimeout, op)
		if err == nil {
			f.observer.AttemptSucceeded(ctx, attempt)
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			// The caller gave up, don't count this against the upstream
			f.observer.AttemptFailed(ctx, attempt, err, false, 0)
			return empty, fmt.Errorf("attempt %d: %w", attempt, errors.Join(err, ctx.Err()))
		}

		if !IsRetryable(err) || attempt == f.config.MaxAttempts {
			f.observer.AttemptFailed(ctx, attempt, err, false, 0)
			break
		}

		delay := f.Delay(attempt)
		f.observer.AttemptFailed(ctx, attempt, err, true, delay)

		select {
		case <-ctx.Done():
			return empty, fmt.Errorf("waiting to retry after attempt %d: %w", attempt, errors.Join(lastErr, ctx.Err()))
		case <-f.afterFunc(delay):
		}
	}

	return empty, lastErr
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := op(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: attempt timed out after %s: %w", domain.ErrNetwork, timeout, err)
	}
	return result, err
}
