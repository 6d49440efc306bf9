package ports

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Amund211/tickerlight/internal/app"
	"github.com/Amund211/tickerlight/internal/cache"
	"github.com/Amund211/tickerlight/internal/domain"
	"github.com/Amund211/tickerlight/internal/logging"
	"github.com/Amund211/tickerlight/internal/reporting"
)

type cacheAdminResponse struct {
	Success bool `json:"success"`
	Removed int  `json:"removed"`
}

func buildAdminMiddleware(portName string, adminToken string, rootLogger *slog.Logger, sentryMiddleware func(http.HandlerFunc) http.HandlerFunc) func(http.HandlerFunc) http.HandlerFunc {
	return ComposeMiddlewares(
		buildMetricsMiddleware(portName),
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		reporting.NewAddMetaMiddleware(portName),
		buildAdminAuthMiddleware(adminToken),
	)
}

func writeCacheAdminError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if errors.Is(err, domain.ErrCacheBackend) {
		statusCode := http.StatusServiceUnavailable
		logger.WarnContext(ctx, "Cache backend unavailable", "statusCode", statusCode, "error", err)
		writeErrorResponse(ctx, w, statusCode, "Cache backend unavailable", true)
		return
	}

	logger.ErrorContext(ctx, "Cache admin operation failed", "error", err)
	reporting.Report(ctx, fmt.Errorf("cache admin operation failed: %w", err))
	writeErrorResponse(ctx, w, http.StatusInternalServerError, "Internal server error", false)
}

func MakeClearExpiredCacheHandler(
	clearExpiredCache app.ClearExpiredCache,
	adminToken string,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildAdminMiddleware("admin_clear_expired", adminToken, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		removed, err := clearExpiredCache(ctx)
		if err != nil {
			writeCacheAdminError(w, r, err)
			return
		}

		writeJSONResponse(ctx, w, http.StatusOK, cacheAdminResponse{Success: true, Removed: removed})
	}

	return middleware(handler)
}

func MakeInvalidateCacheHandler(
	invalidateCacheByPrefix app.InvalidateCacheByPrefix,
	adminToken string,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := buildAdminMiddleware("admin_invalidate", adminToken, rootLogger, sentryMiddleware)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		prefix := r.URL.Query().Get("prefix")
		ctx = logging.AddMetaToContext(ctx, slog.String("prefix", prefix))

		removed, err := invalidateCacheByPrefix(ctx, prefix)
		if errors.Is(err, cache.ErrEmptyPrefix) {
			statusCode := http.StatusBadRequest
			logging.FromContext(ctx).InfoContext(ctx, "Missing prefix. Returning error", "statusCode", statusCode, "reason", "empty prefix")
			writeErrorResponse(ctx, w, statusCode, "Missing prefix", false)
			return
		} else if err != nil {
			writeCacheAdminError(w, r.WithContext(ctx), err)
			return
		}

		writeJSONResponse(ctx, w, http.StatusOK, cacheAdminResponse{Success: true, Removed: removed})
	}

	return middleware(handler)
}
