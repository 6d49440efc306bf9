package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/Amund211/tickerlight/internal/adapters/cachepersistence"
	"github.com/Amund211/tickerlight/internal/app"
	"github.com/Amund211/tickerlight/internal/cache"
	"github.com/Amund211/tickerlight/internal/config"
	"github.com/Amund211/tickerlight/internal/logging"
)

const usage = `Usage:
  cache-admin clear-expired
  cache-admin invalidate <prefix>

Runs against the cache backend configured by the environment (TICKERLIGHT_ENVIRONMENT, CACHE_BACKEND, ...)`

func main() {
	if len(os.Args) < 2 {
		log.Fatal(usage)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "cache-admin")
	ctx := logging.AddToContext(context.Background(), logger)

	conf, err := config.ConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if conf.CacheBackend() == config.CacheBackendMemory {
		log.Fatal("The memory cache lives inside the server process, use the admin endpoints instead")
	}

	persistence, closePersistence, err := cachepersistence.NewConfigured(ctx, conf, logger)
	if err != nil {
		log.Fatalf("Failed to connect to the cache backend: %v", err)
	}
	defer closePersistence()

	store, err := cache.NewStore(persistence)
	if err != nil {
		log.Fatalf("Failed to create cache store: %v", err)
	}

	var removed int
	switch command := os.Args[1]; command {
	case "clear-expired":
		removed, err = app.BuildClearExpiredCache(store)(ctx)
	case "invalidate":
		if len(os.Args) < 3 {
			log.Fatal("No prefix provided\n\n" + usage)
		}
		removed, err = app.BuildInvalidateCacheByPrefix(store)(ctx, os.Args[2])
	default:
		log.Fatalf("Unknown command %q\n\n%s", command, usage)
	}
	if err != nil {
		closePersistence()
		log.Fatalf("Failed to run %s: %v", os.Args[1], err)
	}

	fmt.Println(removed)
}
