// Package cache implements read-through caching with per-entry expiry on top of a pluggable
// Persistence backend.
//
// A live entry is returned without calling the producer. A miss calls the producer, stores the
// result and returns it. A failing producer never falls back to a stale value. Failures of the
// backend itself are logged and reported, but never fail a read-through call.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Amund211/tickerlight/internal/domain"
	"github.com/Amund211/tickerlight/internal/logging"
	"github.com/Amund211/tickerlight/internal/reporting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var ErrEmptyPrefix = errors.New("prefix must not be empty")

type storeMetricsCollection struct {
	lookupCount       metric.Int64Counter
	backendErrorCount metric.Int64Counter
}

type Store struct {
	persistence Persistence
	codec       Codec
	nowFunc     func() time.Time

	// nil when single-flight is disabled
	group *singleflight.Group

	tracer  trace.Tracer
	metrics storeMetricsCollection
}

type StoreOption func(*Store)

func WithCodec(codec Codec) StoreOption {
	return func(s *Store) {
		s.codec = codec
	}
}

func WithNowFunc(nowFunc func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowFunc = nowFunc
	}
}

// WithSingleFlight controls whether concurrent misses for the same key share one producer call.
// Enabled by default.
func WithSingleFlight(enabled bool) StoreOption {
	return func(s *Store) {
		if enabled {
			s.group = &singleflight.Group{}
		} else {
			s.group = nil
		}
	}
}

func NewStore(persistence Persistence, opts ...StoreOption) (*Store, error) {
	const name = "tickerlight/cache"
	meter := otel.Meter(name)

	lookupCount, err := meter.Int64Counter(
		"cache/lookup_count",
		metric.WithDescription("Cache lookups by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup count metric: %w", err)
	}

	backendErrorCount, err := meter.Int64Counter(
		"cache/backend_error_count",
		metric.WithDescription("Absorbed cache backend failures by operation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend error count metric: %w", err)
	}

	s := &Store{
		persistence: persistence,
		codec:       JSONCodec{},
		nowFunc:     time.Now,
		group:       &singleflight.Group{},

		tracer: otel.Tracer(name),
		metrics: storeMetricsCollection{
			lookupCount:       lookupCount,
			backendErrorCount: backendErrorCount,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetOrFetch returns the live value cached under key, or calls producer and caches its result
// for ttl. A non-positive ttl returns the produced value without caching it.
func GetOrFetch[T any](ctx context.Context, s *Store, key string, ttl time.Duration, producer func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := s.tracer.Start(ctx, "cache.GetOrFetch")
	defer span.End()
	span.SetAttributes(attribute.String("cache.key", key))

	if value, ok := lookup[T](ctx, s, key); ok {
		s.recordLookup(ctx, "hit")
		return value, nil
	}
	s.recordLookup(ctx, "miss")

	if s.group == nil {
		return fetchAndStore(ctx, s, key, ttl, producer)
	}

	// The flight outlives any single caller. Each caller only waits on its own context.
	flightCtx := context.WithoutCancel(ctx)
	resultChan := s.group.DoChan(key, func() (any, error) {
		// Another flight may have stored the value after our lookup
		if value, ok := lookup[T](flightCtx, s, key); ok {
			return value, nil
		}
		return fetchAndStore(flightCtx, s, key, ttl, producer)
	})

	var result singleflight.Result
	select {
	case <-ctx.Done():
		var empty T
		return empty, fmt.Errorf("stopped waiting for %s: %w", key, context.Cause(ctx))
	case result = <-resultChan:
	}

	if result.Shared {
		logging.FromContext(ctx).DebugContext(ctx, "Shared in-flight fetch", "key", key)
	}
	if result.Err != nil {
		var empty T
		return empty, result.Err
	}

	value, ok := result.Val.(T)
	if !ok {
		// Same key used with different value types, don't share
		return fetchAndStore(ctx, s, key, ttl, producer)
	}
	return value, nil
}

func lookup[T any](ctx context.Context, s *Store, key string) (T, bool) {
	var empty T

	entry, found, err := s.persistence.Get(ctx, key)
	if err != nil {
		s.absorbBackendError(ctx, "get", key, err)
		return empty, false
	}
	if !found || entry.IsExpired(s.nowFunc()) {
		return empty, false
	}

	var value T
	if err := s.codec.Unmarshal(entry.Value, &value); err != nil {
		err := fmt.Errorf("failed to decode cached value: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"key":   key,
			"codec": s.codec.Name(),
		})
		return empty, false
	}
	return value, true
}

func fetchAndStore[T any](ctx context.Context, s *Store, key string, ttl time.Duration, producer func(ctx context.Context) (T, error)) (T, error) {
	value, err := producer(ctx)
	if err != nil {
		var empty T
		return empty, fmt.Errorf("failed to fetch %s: %w", key, err)
	}

	if ttl <= 0 {
		return value, nil
	}

	data, err := s.codec.Marshal(value)
	if err != nil {
		err := fmt.Errorf("failed to encode value for cache: %w", err)
		reporting.Report(ctx, err, map[string]string{
			"key":   key,
			"codec": s.codec.Name(),
		})
		return value, nil
	}

	now := s.nowFunc()
	entry := domain.CacheEntry{
		Key:       key,
		Value:     data,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
		Metadata: map[string]string{
			"codec": s.codec.Name(),
		},
	}
	if err := s.persistence.Upsert(ctx, entry); err != nil {
		s.absorbBackendError(ctx, "upsert", key, err)
	}

	return value, nil
}

func (s *Store) absorbBackendError(ctx context.Context, operation string, key string, err error) {
	err = fmt.Errorf("%w: %s %s: %w", domain.ErrCacheBackend, operation, key, err)

	logging.FromContext(ctx).WarnContext(ctx, "Cache backend failure", "operation", operation, "key", key, "error", err.Error())
	reporting.Report(ctx, err, map[string]string{
		"operation": operation,
		"key":       key,
	})
	s.metrics.backendErrorCount.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

func (s *Store) recordLookup(ctx context.Context, result string) {
	s.metrics.lookupCount.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// Invalidate removes the entry stored under key, if any
func (s *Store) Invalidate(ctx context.Context, key string) error {
	ctx, span := s.tracer.Start(ctx, "cache.Invalidate")
	defer span.End()

	if err := s.persistence.DeleteByKey(ctx, key); err != nil {
		return fmt.Errorf("%w: failed to invalidate %s: %w", domain.ErrCacheBackend, key, err)
	}
	return nil
}

// InvalidateByPrefix removes every entry whose key starts with prefix and returns the count
func (s *Store) InvalidateByPrefix(ctx context.Context, prefix string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "cache.InvalidateByPrefix")
	defer span.End()

	if strings.TrimSpace(prefix) == "" {
		return 0, ErrEmptyPrefix
	}

	removed, err := s.persistence.DeleteByPrefix(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to invalidate prefix %s: %w", domain.ErrCacheBackend, prefix, err)
	}

	logging.FromContext(ctx).InfoContext(ctx, "Invalidated cache entries", "prefix", prefix, "removed", removed)
	return removed, nil
}

// ClearExpired removes every entry that has expired and returns the count
func (s *Store) ClearExpired(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "cache.ClearExpired")
	defer span.End()

	removed, err := s.persistence.DeleteExpired(ctx, s.nowFunc())
	if err != nil {
		return 0, fmt.Errorf("%w: failed to clear expired entries: %w", domain.ErrCacheBackend, err)
	}

	logging.FromContext(ctx).InfoContext(ctx, "Cleared expired cache entries", "removed", removed)
	return removed, nil
}
