package ports_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Amund211/tickerlight/internal/cache"
	"github.com/Amund211/tickerlight/internal/domain"
	"github.com/Amund211/tickerlight/internal/ports"
)

const testAdminToken = "admin-token"

func makeAdminRequest(target string, token string) *http.Request {
	req := httptest.NewRequest("POST", target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestMakeClearExpiredCacheHandler(t *testing.T) {
	t.Parallel()

	t.Run("clears", func(t *testing.T) {
		t.Parallel()

		calls := 0
		handler := ports.MakeClearExpiredCacheHandler(
			func(ctx context.Context) (int, error) {
				calls++
				return 7, nil
			},
			testAdminToken,
			testLogger,
			noopMiddleware,
		)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, makeAdminRequest("/v1/admin/cache/clear-expired", testAdminToken))

		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{"success":true,"removed":7}`, w.Body.String())
		require.Equal(t, 1, calls)
	})

	t.Run("requires the admin token", func(t *testing.T) {
		t.Parallel()

		calls := 0
		handler := ports.MakeClearExpiredCacheHandler(
			func(ctx context.Context) (int, error) {
				calls++
				return 0, nil
			},
			testAdminToken,
			testLogger,
			noopMiddleware,
		)

		for _, token := range []string{"", "wrong"} {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, makeAdminRequest("/v1/admin/cache/clear-expired", token))
			require.Equal(t, http.StatusUnauthorized, w.Code)
		}
		require.Equal(t, 0, calls)
	})

	t.Run("backend unavailable", func(t *testing.T) {
		t.Parallel()

		handler := ports.MakeClearExpiredCacheHandler(
			func(ctx context.Context) (int, error) {
				return 0, fmt.Errorf("could not clear expired cache entries: %w: connection refused", domain.ErrCacheBackend)
			},
			testAdminToken,
			testLogger,
			noopMiddleware,
		)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, makeAdminRequest("/v1/admin/cache/clear-expired", testAdminToken))

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		require.JSONEq(t, `{"success":false,"cause":"Cache backend unavailable","retryable":true}`, w.Body.String())
	})
}

func TestMakeInvalidateCacheHandler(t *testing.T) {
	t.Parallel()

	t.Run("invalidates the prefix", func(t *testing.T) {
		t.Parallel()

		var prefixes []string
		handler := ports.MakeInvalidateCacheHandler(
			func(ctx context.Context, prefix string) (int, error) {
				prefixes = append(prefixes, prefix)
				return 2, nil
			},
			testAdminToken,
			testLogger,
			noopMiddleware,
		)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, makeAdminRequest("/v1/admin/cache/invalidate?prefix=dcf%3A", testAdminToken))

		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{"success":true,"removed":2}`, w.Body.String())
		require.Equal(t, []string{"dcf:"}, prefixes)
	})

	t.Run("missing prefix", func(t *testing.T) {
		t.Parallel()

		handler := ports.MakeInvalidateCacheHandler(
			func(ctx context.Context, prefix string) (int, error) {
				require.Empty(t, prefix)
				return 0, fmt.Errorf("could not invalidate cache entries with prefix %q: %w", prefix, cache.ErrEmptyPrefix)
			},
			testAdminToken,
			testLogger,
			noopMiddleware,
		)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, makeAdminRequest("/v1/admin/cache/invalidate", testAdminToken))

		require.Equal(t, http.StatusBadRequest, w.Code)
		require.JSONEq(t, `{"success":false,"cause":"Missing prefix","retryable":false}`, w.Body.String())
	})

	t.Run("requires the admin token", func(t *testing.T) {
		t.Parallel()

		handler := ports.MakeInvalidateCacheHandler(
			func(ctx context.Context, prefix string) (int, error) {
				t.Fatal("should not be called")
				return 0, nil
			},
			"",
			testLogger,
			noopMiddleware,
		)

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, makeAdminRequest("/v1/admin/cache/invalidate?prefix=dcf%3A", ""))
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
