package cachepersistence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/Amund211/tickerlight/internal/adapters/database"
	"github.com/Amund211/tickerlight/internal/cache"
	"github.com/Amund211/tickerlight/internal/config"
)

// Entries kept by the memory backend before the least recently used is evicted
const memoryCapacity = 50_000

// NewConfigured connects to the cache backend selected in conf.
// Call the returned close function when done with the persistence.
func NewConfigured(ctx context.Context, conf config.Config, logger *slog.Logger) (cache.Persistence, func(), error) {
	switch conf.CacheBackend() {
	case config.CacheBackendMemory:
		logger.InfoContext(ctx, "Using in-memory cache persistence", "capacity", memoryCapacity)
		return NewMemory(memoryCapacity), func() {}, nil

	case config.CacheBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: conf.RedisAddr()})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", conf.RedisAddr(), err)
		}
		logger.InfoContext(ctx, "Using redis cache persistence", "addr", conf.RedisAddr())
		return NewRedis(client, DefaultRedisNamespace), func() { _ = client.Close() }, nil

	case config.CacheBackendPostgres:
		db, err := database.NewConfiguredPostgresDatabase(conf)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}

		schemaName := database.GetSchemaName(!conf.IsProduction())
		err = database.NewDatabaseMigrator(db, logger.With("component", "migrator")).Migrate(ctx, schemaName)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.InfoContext(ctx, "Using postgres cache persistence", "schema", schemaName)
		return NewPostgres(db, schemaName), func() { _ = db.Close() }, nil
	}

	return nil, nil, fmt.Errorf("unknown cache backend: %s", conf.CacheBackend())
}
