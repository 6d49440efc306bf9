package cachepersistence

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/Amund211/tickerlight/internal/domain"
	"github.com/jellydator/ttlcache/v3"
)

// Memory keeps entries in process memory.
//
// Items never expire inside ttlcache: liveness is decided by the caller from ExpiresAt, and
// DeleteExpired sweeps with the caller's clock. A capacity evicts the least recently used
// entries when the process holds too many.
type Memory struct {
	cache *ttlcache.Cache[string, domain.CacheEntry]
}

func NewMemory(capacity uint64) *Memory {
	opts := []ttlcache.Option[string, domain.CacheEntry]{
		ttlcache.WithTTL[string, domain.CacheEntry](ttlcache.NoTTL),
		ttlcache.WithDisableTouchOnHit[string, domain.CacheEntry](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, domain.CacheEntry](capacity))
	}

	return &Memory{
		cache: ttlcache.New(opts...),
	}
}

func (m *Memory) Get(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	item := m.cache.Get(key)
	if item == nil {
		return domain.CacheEntry{}, false, nil
	}
	return copyEntry(item.Value()), true, nil
}

func (m *Memory) Upsert(ctx context.Context, entry domain.CacheEntry) error {
	m.cache.Set(entry.Key, copyEntry(entry), ttlcache.NoTTL)
	return nil
}

func (m *Memory) DeleteByKey(ctx context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}

func (m *Memory) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	return m.deleteMatching(func(entry domain.CacheEntry) bool {
		return strings.HasPrefix(entry.Key, prefix)
	}), nil
}

func (m *Memory) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return m.deleteMatching(func(entry domain.CacheEntry) bool {
		return entry.IsExpired(now)
	}), nil
}

func (m *Memory) deleteMatching(match func(domain.CacheEntry) bool) int {
	// Range holds the cache lock, so collect first and delete after
	var keys []string
	m.cache.Range(func(item *ttlcache.Item[string, domain.CacheEntry]) bool {
		if match(item.Value()) {
			keys = append(keys, item.Key())
		}
		return true
	})

	removed := 0
	for _, key := range keys {
		if _, present := m.cache.GetAndDelete(key); present {
			removed++
		}
	}
	return removed
}

func copyEntry(entry domain.CacheEntry) domain.CacheEntry {
	entry.Value = append([]byte(nil), entry.Value...)
	entry.Metadata = maps.Clone(entry.Metadata)
	return entry
}
