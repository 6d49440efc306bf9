package cache

import (
	"context"
	"time"

	"github.com/Amund211/tickerlight/internal/domain"
)

// Persistence is the storage backend behind a Store.
//
// Implementations must not filter expired entries on Get, the Store decides liveness.
type Persistence interface {
	Get(ctx context.Context, key string) (domain.CacheEntry, bool, error)
	// Upsert inserts the entry or replaces the entry stored under the same key
	Upsert(ctx context.Context, entry domain.CacheEntry) error
	DeleteByKey(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
	// DeleteExpired removes every entry with ExpiresAt at or before now
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
