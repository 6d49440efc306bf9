package ports

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Amund211/tickerlight/internal/logging"
	"github.com/Amund211/tickerlight/internal/ratelimiting"
)

func NewRateLimitMiddleware(rateLimiter *ratelimiting.RequestLimiter, onLimitExceeded http.HandlerFunc) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !rateLimiter.Allow(r) {
				onLimitExceeded(w, r)
				return
			}

			next(w, r)
		}
	}
}

func ComposeMiddlewares(middlewares ...func(http.HandlerFunc) http.HandlerFunc) func(http.HandlerFunc) http.HandlerFunc {
	if len(middlewares) == 1 {
		return middlewares[0]
	}
	first := middlewares[0]
	rest := ComposeMiddlewares(middlewares[1:]...)
	return func(h http.HandlerFunc) http.HandlerFunc {
		return first(rest(h))
	}
}

func makeOnLimitExceeded(rateLimiter *ratelimiting.RequestLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		statusCode := http.StatusTooManyRequests

		logging.FromContext(ctx).InfoContext(ctx, "Rate limit exceeded", "statusCode", statusCode, "reason", "ratelimit exceeded", "key", rateLimiter.KeyFor(r))

		writeErrorResponse(ctx, w, statusCode, "Rate limit exceeded", true)
	}
}

// buildRateLimitMiddlewares limits by IP first, then by the (client controlled) user id
func buildRateLimitMiddlewares(ipLimiter, userIDLimiter ratelimiting.KeyedLimiter) []func(http.HandlerFunc) http.HandlerFunc {
	ipRateLimiter := ratelimiting.NewRequestLimiter(ipLimiter, ratelimiting.IPKeyFunc)
	userIDRateLimiter := ratelimiting.NewRequestLimiter(userIDLimiter, ratelimiting.UserIDKeyFunc)
	return []func(http.HandlerFunc) http.HandlerFunc{
		NewRateLimitMiddleware(ipRateLimiter, makeOnLimitExceeded(ipRateLimiter)),
		NewRateLimitMiddleware(userIDRateLimiter, makeOnLimitExceeded(userIDRateLimiter)),
	}
}

// buildAdminAuthMiddleware requires "Authorization: Bearer <adminToken>".
// With an empty adminToken every request is refused.
func buildAdminAuthMiddleware(adminToken string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) != 1 {
				statusCode := http.StatusUnauthorized
				logging.FromContext(ctx).WarnContext(ctx, "Unauthorized admin request", slog.Int("statusCode", statusCode), slog.Bool("hasToken", ok))
				writeErrorResponse(ctx, w, statusCode, "Unauthorized", false)
				return
			}

			next(w, r)
		}
	}
}
