package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/Amund211/tickerlight/internal/adapters/cachepersistence"
	"github.com/Amund211/tickerlight/internal/adapters/dataprovider"
	"github.com/Amund211/tickerlight/internal/adapters/llmprovider"
	"github.com/Amund211/tickerlight/internal/app"
	"github.com/Amund211/tickerlight/internal/cache"
	"github.com/Amund211/tickerlight/internal/config"
	"github.com/Amund211/tickerlight/internal/logging"
	"github.com/Amund211/tickerlight/internal/orchestrator"
	"github.com/Amund211/tickerlight/internal/ports"
	"github.com/Amund211/tickerlight/internal/reporting"
	"github.com/Amund211/tickerlight/internal/retry"
	"github.com/Amund211/tickerlight/internal/telemetry"
)

const serviceName = "tickerlight"

// Sessions with no dashboard request for this long are forgotten
const sessionIdleTimeout = 30 * time.Minute

func main() {
	instanceID := uuid.New().String()
	logger := slog.New(
		logging.NewTracingLogHandler(slog.NewJSONHandler(os.Stdout, nil)),
	).With("instanceID", instanceID)

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.AddToContext(ctx, logger)

	config, err := config.ConfigFromEnv()
	if err != nil {
		fail("Failed to load config", "error", err.Error())
	}
	logger.Info("Loaded config", "config", config.NonSensitiveString())

	if !config.IsDevelopment() {
		shutdownTelemetry, err := telemetry.SetupOTelSDK(ctx, serviceName)
		if err != nil {
			fail("Failed to set up OpenTelemetry", "error", err.Error())
		}
		defer func() {
			// The signal context is cancelled by now
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				logger.Error("Failed to shut down OpenTelemetry", "error", err.Error())
			}
		}()
		logger.Info("Initialized OpenTelemetry")
	}

	sentryMiddleware, flush, err := reporting.NewSentryMiddlewareOrMock(config)
	if err != nil {
		fail("Failed to initialize Sentry", "error", err.Error())
	}
	defer flush()
	logger.Info("Initialized Sentry middleware")

	persistence, closePersistence, err := cachepersistence.NewConfigured(ctx, config, logger)
	if err != nil {
		fail("Failed to initialize cache persistence", "error", err.Error(), "backend", config.CacheBackend())
	}
	defer closePersistence()

	codec, err := cache.CodecByName(config.CacheCodec())
	if err != nil {
		fail("Failed to initialize cache codec", "error", err.Error())
	}
	store, err := cache.NewStore(
		persistence,
		cache.WithCodec(codec),
		cache.WithSingleFlight(config.CacheSingleFlight()),
	)
	if err != nil {
		fail("Failed to initialize cache store", "error", err.Error())
	}
	logger.Info("Initialized cache store", "backend", config.CacheBackend(), "codec", codec.Name())

	retryMetrics, err := retry.NewMetricsObserver(otel.Meter("tickerlight/retry"))
	if err != nil {
		fail("Failed to initialize retry metrics", "error", err.Error())
	}
	fetcher, err := retry.NewFetcher(
		retry.Config{
			MaxAttempts:    config.FetchMaxAttempts(),
			BaseDelay:      config.FetchBaseDelay(),
			AttemptTimeout: config.FetchAttemptTimeout(),
		},
		retry.WithObserver(retry.MultiObserver{retry.LogObserver{}, retryMetrics}),
	)
	if err != nil {
		fail("Failed to initialize retrying fetcher", "error", err.Error())
	}

	// Attempts are bounded by the fetcher's per-attempt timeout
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	dataProvider, err := dataprovider.NewFMPOrMock(config, httpClient, fetcher)
	if err != nil {
		fail("Failed to initialize data provider", "error", err.Error())
	}
	logger.Info("Initialized data provider")

	summarizer, err := llmprovider.NewOpenAIOrMock(config, httpClient, fetcher)
	if err != nil {
		fail("Failed to initialize summarizer", "error", err.Error())
	}

	allowedOrigins, err := ports.ParseDomainSuffixes(config.AllowedOrigins())
	if err != nil {
		fail("Failed to initialize allowed origins", "error", err.Error())
	}

	sessions, stopSessions := ports.NewSessionRegistry(
		sessionIdleTimeout,
		orchestrator.WithCancelSuperseded(true),
	)
	defer stopSessions()

	resolveDashboard := app.BuildResolveDashboard(store, dataProvider, summarizer, nil)
	clearExpiredCache := app.BuildClearExpiredCache(store)
	invalidateCacheByPrefix := app.BuildInvalidateCacheByPrefix(store)

	go app.RunExpirySweeper(
		logging.AddMetaToContext(ctx, slog.String("component", "sweeper")),
		clearExpiredCache,
		config.CacheSweepInterval(),
		time.After,
	)

	dashboardHandler, stopDashboardLimiters := ports.MakeGetDashboardHandler(
		resolveDashboard,
		sessions,
		allowedOrigins,
		logger.With("port", "dashboard"),
		sentryMiddleware,
	)
	defer stopDashboardLimiters()

	dashboardStatusHandler, stopDashboardStatusLimiters := ports.MakeGetDashboardStatusHandler(
		sessions,
		allowedOrigins,
		logger.With("port", "dashboardstatus"),
		sentryMiddleware,
	)
	defer stopDashboardStatusLimiters()

	mux := http.NewServeMux()
	registerDashboardRoutes(mux, dashboardHandler, dashboardStatusHandler, ports.BuildCORSHandler(allowedOrigins))

	mux.HandleFunc(
		"POST /v1/admin/cache/clear-expired",
		ports.MakeClearExpiredCacheHandler(
			clearExpiredCache,
			config.AdminToken(),
			logger.With("port", "adminclearexpired"),
			sentryMiddleware,
		),
	)
	mux.HandleFunc(
		"POST /v1/admin/cache/invalidate",
		ports.MakeInvalidateCacheHandler(
			invalidateCacheByPrefix,
			config.AdminToken(),
			logger.With("port", "admininvalidate"),
			sentryMiddleware,
		),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", config.Port()),
		Handler:           otelhttp.NewHandler(mux, serviceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownComplete := make(chan struct{})
	go func() {
		defer close(shutdownComplete)
		<-ctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down server", "error", err.Error())
		}
	}()

	logger.Info("Init complete")
	err = server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		// Let in-flight requests finish before closing the persistence
		<-shutdownComplete
		logger.Info("Server shutdown")
	} else {
		fail("Server error", "error", err.Error())
	}
}

// The status route lives outside /v1/dashboard/ so that every symbol, including STATUS, can be
// requested
func registerDashboardRoutes(mux *http.ServeMux, dashboardHandler, dashboardStatusHandler, corsHandler http.HandlerFunc) {
	mux.HandleFunc("OPTIONS /v1/dashboard/{symbol}", corsHandler)
	mux.HandleFunc("GET /v1/dashboard/{symbol}", dashboardHandler)

	mux.HandleFunc("OPTIONS /v1/dashboard-status", corsHandler)
	mux.HandleFunc("GET /v1/dashboard-status", dashboardStatusHandler)
}
