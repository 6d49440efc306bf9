package cachepersistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Amund211/tickerlight/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultRedisNamespace = "tickerlight:cache:"

const scanBatchSize = 256

type redisEntry struct {
	Value     []byte            `msgpack:"v"`
	StoredAt  time.Time         `msgpack:"s"`
	ExpiresAt time.Time         `msgpack:"e"`
	Metadata  map[string]string `msgpack:"m,omitempty"`
}

// Redis stores each entry as a msgpack blob under namespace+key.
//
// Keys also carry a redis expiry at ExpiresAt so the server reclaims memory without a sweep.
type Redis struct {
	client    redis.UniversalClient
	namespace string

	nowFunc func() time.Time
	tracer  trace.Tracer
}

func NewRedis(client redis.UniversalClient, namespace string) *Redis {
	return &Redis{
		client:    client,
		namespace: namespace,

		nowFunc: time.Now,
		tracer:  otel.Tracer("tickerlight/cachepersistence/redis"),
	}
}

func (r *Redis) redisKey(key string) string {
	return r.namespace + key
}

func (r *Redis) Get(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	ctx, span := r.tracer.Start(ctx, "Redis.Get")
	defer span.End()

	data, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CacheEntry{}, false, nil
	}
	if err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var stored redisEntry
	if err := msgpack.Unmarshal(data, &stored); err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}

	return domain.CacheEntry{
		Key:       key,
		Value:     stored.Value,
		StoredAt:  stored.StoredAt,
		ExpiresAt: stored.ExpiresAt,
		Metadata:  stored.Metadata,
	}, true, nil
}

func (r *Redis) Upsert(ctx context.Context, entry domain.CacheEntry) error {
	ctx, span := r.tracer.Start(ctx, "Redis.Upsert")
	defer span.End()

	data, err := msgpack.Marshal(redisEntry{
		Value:     entry.Value,
		StoredAt:  entry.StoredAt,
		ExpiresAt: entry.ExpiresAt,
		Metadata:  entry.Metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	ttl := entry.ExpiresAt.Sub(r.nowFunc())
	if ttl <= 0 {
		// Already expired, make sure no older entry lingers
		return r.DeleteByKey(ctx, entry.Key)
	}

	if err := r.client.Set(ctx, r.redisKey(entry.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

func (r *Redis) DeleteByKey(ctx context.Context, key string) error {
	ctx, span := r.tracer.Start(ctx, "Redis.DeleteByKey")
	defer span.End()

	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// escapeGlob makes prefix match literally in a SCAN MATCH pattern
func escapeGlob(prefix string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`).Replace(prefix)
}

func (r *Redis) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	ctx, span := r.tracer.Start(ctx, "Redis.DeleteByPrefix")
	defer span.End()

	removed, err := r.scanAndDelete(ctx, escapeGlob(r.redisKey(prefix))+"*", func([]byte) bool { return true })
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("removed", removed))
	return removed, nil
}

func (r *Redis) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, span := r.tracer.Start(ctx, "Redis.DeleteExpired")
	defer span.End()

	removed, err := r.scanAndDelete(ctx, escapeGlob(r.namespace)+"*", func(data []byte) bool {
		var stored redisEntry
		if err := msgpack.Unmarshal(data, &stored); err != nil {
			// Unreadable entries would only ever be misses
			return true
		}
		return !now.Before(stored.ExpiresAt)
	})
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("removed", removed))
	return removed, nil
}

func (r *Redis) scanAndDelete(ctx context.Context, pattern string, shouldDelete func(data []byte) bool) (int, error) {
	removed := 0
	batch := make([]string, 0, scanBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		defer func() { batch = batch[:0] }()

		values, err := r.client.MGet(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("failed to read cache entries: %w", err)
		}

		var toDelete []string
		for i, value := range values {
			raw, ok := value.(string)
			if !ok {
				// Expired or deleted since the scan
				continue
			}
			if shouldDelete([]byte(raw)) {
				toDelete = append(toDelete, batch[i])
			}
		}
		if len(toDelete) == 0 {
			return nil
		}

		n, err := r.client.Del(ctx, toDelete...).Result()
		if err != nil {
			return fmt.Errorf("failed to delete cache entries: %w", err)
		}
		removed += int(n)
		return nil
	}

	iter := r.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatchSize {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if err := flush(); err != nil {
		return removed, err
	}

	return removed, nil
}
