package retry

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/Amund211/tickerlight/internal/domain"
)

// ClassifyStatus maps an HTTP status code to the error taxonomy. 2xx maps to nil.
func ClassifyStatus(statusCode int) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusTooManyRequests:
		// Rate limited: transient even though it is a 4xx
		return fmt.Errorf("%w: status %d", domain.ErrServer, statusCode)
	case statusCode >= 400 && statusCode < 500:
		return fmt.Errorf("%w: status %d", domain.ErrClient, statusCode)
	default:
		return fmt.Errorf("%w: status %d", domain.ErrServer, statusCode)
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

// Do runs an HTTP-like operation with retries.
//
// 2xx responses are returned. 4xx responses (except 429) are returned without retrying, the
// caller must inspect the status code. 429, 5xx and transport errors are retried; when the
// attempts run out the last error is returned.
//
// The returned response body must be closed by the caller.
func (f *Fetcher) Do(ctx context.Context, op func(ctx context.Context) (*http.Response, error)) (*http.Response, error) {
	return Execute(ctx, f.withoutAttemptTimeout(), func(ctx context.Context) (*http.Response, error) {
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if f.config.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, f.config.AttemptTimeout)
		}

		resp, err := op(attemptCtx)
		if err != nil {
			timedOut := ctx.Err() == nil && attemptCtx.Err() != nil
			cancel()
			if timedOut {
				return nil, fmt.Errorf("%w: attempt timed out after %s: %w", domain.ErrNetwork, f.config.AttemptTimeout, err)
			}
			return nil, fmt.Errorf("%w: %w", domain.ErrNetwork, err)
		}

		statusErr := ClassifyStatus(resp.StatusCode)
		if statusErr == nil || !IsRetryable(statusErr) {
			// Keep the attempt context alive until the caller is done with the body
			resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
			return resp, nil
		}

		// Drain so the connection can be reused by the next attempt
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		cancel()
		return nil, statusErr
	})
}

// withoutAttemptTimeout returns a copy that leaves per-attempt deadlines to the caller
func (f *Fetcher) withoutAttemptTimeout() *Fetcher {
	clone := *f
	clone.config.AttemptTimeout = 0
	return &clone
}
