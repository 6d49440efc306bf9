package ports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/Amund211/tickerlight/internal/app"
	"github.com/Amund211/tickerlight/internal/domain"
	"github.com/Amund211/tickerlight/internal/logging"
	"github.com/Amund211/tickerlight/internal/orchestrator"
	"github.com/Amund211/tickerlight/internal/ratelimiting"
	"github.com/Amund211/tickerlight/internal/reporting"
)

const maxSessionIDLength = 128

type dashboardResponse struct {
	Success    bool                              `json:"success"`
	Symbol     string                            `json:"symbol"`
	Generation uint64                            `json:"generation"`
	Items      map[string]orchestrator.ItemState `json:"items"`
}

type dashboardStatusResponse struct {
	Success    bool                              `json:"success"`
	Symbol     string                            `json:"symbol"`
	Generation uint64                            `json:"generation"`
	Settled    bool                              `json:"settled"`
	Items      map[string]orchestrator.ItemState `json:"items"`
}

func MakeGetDashboardHandler(
	resolveDashboard app.ResolveDashboard,
	sessions *SessionRegistry,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) (http.HandlerFunc, func()) {
	// Every dashboard fans out to a dozen upstream requests
	ipLimiter, stopIPLimiter := ratelimiting.NewTokenBucketLimiter(
		ratelimiting.RefillPerSecond(1),
		ratelimiting.BurstSize(60),
	)
	userIDLimiter, stopUserIDLimiter := ratelimiting.NewTokenBucketLimiter(
		ratelimiting.RefillPerSecond(0.5),
		ratelimiting.BurstSize(30),
	)

	middleware := ComposeMiddlewares(
		append(
			[]func(http.HandlerFunc) http.HandlerFunc{
				buildMetricsMiddleware("dashboard"),
				logging.NewRequestLoggerMiddleware(rootLogger),
				sentryMiddleware,
				reporting.NewAddMetaMiddleware("dashboard"),
				BuildCORSMiddleware(allowedOrigins),
			},
			buildRateLimitMiddlewares(ipLimiter, userIDLimiter)...,
		)...,
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		rawSymbol := r.PathValue("symbol")
		ctx = reporting.AddExtrasToContext(ctx, map[string]string{"rawSymbol": rawSymbol})

		requestedSessionID := r.Header.Get("X-User-Id")
		if len(requestedSessionID) > maxSessionIDLength {
			statusCode := http.StatusBadRequest
			logging.FromContext(ctx).InfoContext(ctx, "Invalid user id. Returning error", "statusCode", statusCode, "reason", "user id too long")
			writeErrorResponse(ctx, w, statusCode, "Invalid user id", false)
			return
		}

		sessionID, o := sessions.ForSession(requestedSessionID)
		ctx = reporting.SetUserIDInContext(ctx, sessionID)
		ctx = logging.AddMetaToContext(ctx, slog.String("sessionId", sessionID))
		w.Header().Set("X-User-Id", sessionID)

		result, err := resolveDashboard(ctx, o, rawSymbol)
		if err != nil {
			writeDashboardError(ctx, w, err)
			return
		}

		writeJSONResponse(ctx, w, http.StatusOK, dashboardResponse{
			Success:    true,
			Symbol:     result.SubjectKey,
			Generation: result.Generation,
			Items:      result.Items,
		})
	}

	return middleware(handler), stopLimiters(stopIPLimiter, stopUserIDLimiter)
}

func writeDashboardError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := logging.FromContext(ctx)

	switch {
	case errors.Is(err, domain.ErrInvalidSymbol):
		statusCode := http.StatusBadRequest
		logger.InfoContext(ctx, "Invalid symbol. Returning error", "statusCode", statusCode, "reason", "invalid symbol")
		writeErrorResponse(ctx, w, statusCode, "Invalid symbol", false)
	case errors.Is(err, domain.ErrRunSuperseded):
		statusCode := http.StatusConflict
		logger.InfoContext(ctx, "Dashboard superseded by a newer request", "statusCode", statusCode)
		writeErrorResponse(ctx, w, statusCode, "Superseded by a newer request", false)
	case errors.Is(err, domain.ErrUnknownSymbol):
		statusCode := http.StatusNotFound
		logger.InfoContext(ctx, "Unknown symbol. Returning error", "statusCode", statusCode, "reason", "unknown symbol")
		writeErrorResponse(ctx, w, statusCode, "Unknown symbol", false)
	case errors.Is(err, domain.ErrCoreDataUnavailable):
		statusCode := http.StatusServiceUnavailable
		logger.WarnContext(ctx, "Core data unavailable", "statusCode", statusCode, "error", err)
		writeErrorResponse(ctx, w, statusCode, "Core data temporarily unavailable", true)
	default:
		logger.ErrorContext(ctx, "Error resolving dashboard", "error", err)
		reporting.Report(ctx, fmt.Errorf("failed to resolve dashboard: %w", err))
		writeErrorResponse(ctx, w, http.StatusInternalServerError, "Internal server error", true)
	}
}

func MakeGetDashboardStatusHandler(
	sessions *SessionRegistry,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) (http.HandlerFunc, func()) {
	// Polled by partial-loading UIs, so more lenient than the dashboard itself
	ipLimiter, stopIPLimiter := ratelimiting.NewTokenBucketLimiter(
		ratelimiting.RefillPerSecond(10),
		ratelimiting.BurstSize(200),
	)
	userIDLimiter, stopUserIDLimiter := ratelimiting.NewTokenBucketLimiter(
		ratelimiting.RefillPerSecond(5),
		ratelimiting.BurstSize(100),
	)

	middleware := ComposeMiddlewares(
		append(
			[]func(http.HandlerFunc) http.HandlerFunc{
				buildMetricsMiddleware("dashboard_status"),
				logging.NewRequestLoggerMiddleware(rootLogger),
				sentryMiddleware,
				reporting.NewAddMetaMiddleware("dashboard_status"),
				BuildCORSMiddleware(allowedOrigins),
			},
			buildRateLimitMiddlewares(ipLimiter, userIDLimiter)...,
		)...,
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		sessionID := r.Header.Get("X-User-Id")
		o, ok := sessions.Lookup(sessionID)
		if !ok {
			statusCode := http.StatusNotFound
			logging.FromContext(ctx).InfoContext(ctx, "No session. Returning error", "statusCode", statusCode, "reason", "unknown session")
			writeErrorResponse(ctx, w, statusCode, "No dashboard requested for this user", false)
			return
		}

		snapshot := o.Snapshot()
		writeJSONResponse(ctx, w, http.StatusOK, dashboardStatusResponse{
			Success:    true,
			Symbol:     snapshot.SubjectKey,
			Generation: snapshot.Generation,
			Settled:    snapshot.Settled(),
			Items:      snapshot.Items,
		})
	}

	return middleware(handler), stopLimiters(stopIPLimiter, stopUserIDLimiter)
}

// stopLimiters stops the cleanup of every limiter. Safe to call more than once.
func stopLimiters(stops ...func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			for _, stop := range stops {
				stop()
			}
		})
	}
}
