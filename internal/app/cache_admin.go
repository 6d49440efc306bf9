package app

import (
	"context"
	"fmt"

	"github.com/Amund211/tickerlight/internal/cache"
)

type ClearExpiredCache func(ctx context.Context) (int, error)

type InvalidateCacheByPrefix func(ctx context.Context, prefix string) (int, error)

func BuildClearExpiredCache(store *cache.Store) ClearExpiredCache {
	return func(ctx context.Context) (int, error) {
		removed, err := store.ClearExpired(ctx)
		if err != nil {
			return 0, fmt.Errorf("could not clear expired cache entries: %w", err)
		}
		return removed, nil
	}
}

func BuildInvalidateCacheByPrefix(store *cache.Store) InvalidateCacheByPrefix {
	return func(ctx context.Context, prefix string) (int, error) {
		removed, err := store.InvalidateByPrefix(ctx, prefix)
		if err != nil {
			return 0, fmt.Errorf("could not invalidate cache entries with prefix %q: %w", prefix, err)
		}
		return removed, nil
	}
}
