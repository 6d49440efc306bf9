package config_test

import (
	"testing"
	"time"

	"github.com/Amund211/tickerlight/internal/config"
	"github.com/stretchr/testify/require"
)

var requiredOutsideDevelopment = []string{"DB_CONNECTION_STRING", "SENTRY_DSN", "FMP_API_KEY", "ADMIN_TOKEN"}

var tunables = []string{
	"PORT", "CACHE_BACKEND", "CACHE_CODEC", "CACHE_SINGLE_FLIGHT", "CACHE_SWEEP_INTERVAL",
	"FETCH_MAX_ATTEMPTS", "FETCH_BASE_DELAY", "FETCH_ATTEMPT_TIMEOUT", "REDIS_ADDR",
	"LLM_API_KEY", "LLM_MODEL", "ALLOWED_ORIGINS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range append(tunables, requiredOutsideDevelopment...) {
		t.Setenv(key, "")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Run("environment is missing", func(t *testing.T) {
		clearEnv(t)

		_, err := config.ConfigFromEnv()
		require.ErrorIs(t, err, config.ErrMissingRequiredValue)
	})

	t.Run("development defaults", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("TICKERLIGHT_ENVIRONMENT", "development")

		conf, err := config.ConfigFromEnv()
		require.NoError(t, err)

		require.True(t, conf.IsDevelopment())
		require.False(t, conf.IsProduction())
		require.False(t, conf.IsStaging())
		require.Equal(t, "8123", conf.Port())
		require.Equal(t, config.CacheBackendMemory, conf.CacheBackend())
		require.Equal(t, "json", conf.CacheCodec())
		require.True(t, conf.CacheSingleFlight())
		require.Equal(t, 10*time.Minute, conf.CacheSweepInterval())
		require.Equal(t, 3, conf.FetchMaxAttempts())
		require.Equal(t, 1*time.Second, conf.FetchBaseDelay())
		require.Equal(t, 30*time.Second, conf.FetchAttemptTimeout())
		require.Equal(t, "localhost:6379", conf.RedisAddr())
		require.Empty(t, conf.SentryDSN())
		require.Empty(t, conf.FMPAPIKey())
	})

	t.Run("tunables are read", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("TICKERLIGHT_ENVIRONMENT", "development")
		t.Setenv("PORT", "9000")
		t.Setenv("CACHE_BACKEND", "redis")
		t.Setenv("CACHE_CODEC", "msgpack")
		t.Setenv("CACHE_SINGLE_FLIGHT", "false")
		t.Setenv("FETCH_MAX_ATTEMPTS", "5")
		t.Setenv("FETCH_BASE_DELAY", "250ms")
		t.Setenv("FETCH_ATTEMPT_TIMEOUT", "5s")
		t.Setenv("CACHE_SWEEP_INTERVAL", "1h")

		conf, err := config.ConfigFromEnv()
		require.NoError(t, err)

		require.Equal(t, "9000", conf.Port())
		require.Equal(t, config.CacheBackendRedis, conf.CacheBackend())
		require.Equal(t, "msgpack", conf.CacheCodec())
		require.False(t, conf.CacheSingleFlight())
		require.Equal(t, 5, conf.FetchMaxAttempts())
		require.Equal(t, 250*time.Millisecond, conf.FetchBaseDelay())
		require.Equal(t, 5*time.Second, conf.FetchAttemptTimeout())
		require.Equal(t, 1*time.Hour, conf.CacheSweepInterval())
	})

	t.Run("invalid tunables", func(t *testing.T) {
		for key, value := range map[string]string{
			"CACHE_BACKEND":         "mongo",
			"CACHE_CODEC":           "xml",
			"CACHE_SINGLE_FLIGHT":   "maybe",
			"FETCH_MAX_ATTEMPTS":    "0",
			"FETCH_BASE_DELAY":      "soon",
			"FETCH_ATTEMPT_TIMEOUT": "-1s",
		} {
			t.Run(key, func(t *testing.T) {
				clearEnv(t)
				t.Setenv("TICKERLIGHT_ENVIRONMENT", "development")
				t.Setenv(key, value)

				_, err := config.ConfigFromEnv()
				require.ErrorIs(t, err, config.ErrInvalidValue)
			})
		}
	})

	t.Run("production and staging fail when missing variables", func(t *testing.T) {
		for _, env := range []string{"production", "staging"} {
			t.Run(env, func(t *testing.T) {
				for _, variable := range requiredOutsideDevelopment {
					t.Run(variable, func(t *testing.T) {
						clearEnv(t)
						for _, other := range requiredOutsideDevelopment {
							t.Setenv(other, "placeholder")
						}
						t.Setenv("TICKERLIGHT_ENVIRONMENT", env)
						t.Setenv(variable, "")

						_, err := config.ConfigFromEnv()
						require.ErrorIs(t, err, config.ErrMissingRequiredValue)
					})
				}
			})
		}
	})

	t.Run("invalid environment", func(t *testing.T) {
		for _, env := range []string{"", "invalid", "prod"} {
			t.Run(env, func(t *testing.T) {
				clearEnv(t)
				t.Setenv("TICKERLIGHT_ENVIRONMENT", env)

				_, err := config.ConfigFromEnv()
				require.ErrorIs(t, err, config.ErrInvalidValue)
			})
		}
	})
}
