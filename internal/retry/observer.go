package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Amund211/tickerlight/internal/domain"
	"github.com/Amund211/tickerlight/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Observer sees every attempt made by a Fetcher.
// Implementations are called synchronously and must not block.
type Observer interface {
	AttemptStarted(ctx context.Context, attempt int)
	AttemptSucceeded(ctx context.Context, attempt int)
	// delay is the wait before the next attempt when willRetry is set
	AttemptFailed(ctx context.Context, attempt int, err error, willRetry bool, delay time.Duration)
}

type NopObserver struct{}

func (NopObserver) AttemptStarted(context.Context, int)                            {}
func (NopObserver) AttemptSucceeded(context.Context, int)                          {}
func (NopObserver) AttemptFailed(context.Context, int, error, bool, time.Duration) {}

// LogObserver writes attempts to the request logger found in the context
type LogObserver struct{}

func (LogObserver) AttemptStarted(ctx context.Context, attempt int) {
	if attempt > 1 {
		logging.FromContext(ctx).InfoContext(ctx, "Retrying upstream request", slog.Int("attempt", attempt))
	}
}

func (LogObserver) AttemptSucceeded(ctx context.Context, attempt int) {}

func (LogObserver) AttemptFailed(ctx context.Context, attempt int, err error, willRetry bool, delay time.Duration) {
	logger := logging.FromContext(ctx)
	if !willRetry {
		logger.WarnContext(ctx, "Upstream request failed, not retrying",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.InfoContext(ctx, "Upstream request failed, retrying",
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
		slog.String("delay", delay.String()),
	)
}

type metricsObserver struct {
	attemptCount metric.Int64Counter
	retryDelay   metric.Float64Histogram
}

func NewMetricsObserver(meter metric.Meter) (Observer, error) {
	attemptCount, err := meter.Int64Counter(
		"retry/attempt_count",
		metric.WithDescription("Upstream attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create attempt count metric: %w", err)
	}

	retryDelay, err := meter.Float64Histogram(
		"retry/delay_seconds",
		metric.WithDescription("Backoff delay before a retry"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry delay metric: %w", err)
	}

	return &metricsObserver{
		attemptCount: attemptCount,
		retryDelay:   retryDelay,
	}, nil
}

func (m *metricsObserver) AttemptStarted(context.Context, int) {}

func (m *metricsObserver) AttemptSucceeded(ctx context.Context, attempt int) {
	m.attemptCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", "success"),
		attribute.Int("attempt", attempt),
	))
}

func (m *metricsObserver) AttemptFailed(ctx context.Context, attempt int, err error, willRetry bool, delay time.Duration) {
	m.attemptCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", domain.ErrorKind(err)),
		attribute.Int("attempt", attempt),
		attribute.Bool("will_retry", willRetry),
	))
	if willRetry {
		m.retryDelay.Record(ctx, delay.Seconds())
	}
}

// MultiObserver fans out to every observer in order
type MultiObserver []Observer

func (m MultiObserver) AttemptStarted(ctx context.Context, attempt int) {
	for _, o := range m {
		o.AttemptStarted(ctx, attempt)
	}
}

func (m MultiObserver) AttemptSucceeded(ctx context.Context, attempt int) {
	for _, o := range m {
		o.AttemptSucceeded(ctx, attempt)
	}
}

func (m MultiObserver) AttemptFailed(ctx context.Context, attempt int, err error, willRetry bool, delay time.Duration) {
	for _, o := range m {
		o.AttemptFailed(ctx, attempt, err, willRetry, delay)
	}
}
