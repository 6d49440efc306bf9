package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

type CacheBackend string

const (
	CacheBackendPostgres CacheBackend = "postgres"
	CacheBackendRedis    CacheBackend = "redis"
	CacheBackendMemory   CacheBackend = "memory"
)

type Config struct {
	env  environment
	port string

	dbConnectionString string
	redisAddr          string
	cacheBackend       CacheBackend
	cacheCodec         string
	cacheSingleFlight  bool
	cacheSweepInterval time.Duration

	fetchMaxAttempts    int
	fetchBaseDelay      time.Duration
	fetchAttemptTimeout time.Duration

	sentryDSN      string
	fmpAPIKey      string
	llmAPIKey      string
	llmModel       string
	adminToken     string
	allowedOrigins string
}

func (c *Config) Environment() string {
	return string(c.env)
}

func (c *Config) Port() string {
	return c.port
}

func (c *Config) DBConnectionString() string {
	return c.dbConnectionString
}

func (c *Config) RedisAddr() string {
	return c.redisAddr
}

func (c *Config) CacheBackend() CacheBackend {
	return c.cacheBackend
}

func (c *Config) CacheCodec() string {
	return c.cacheCodec
}

func (c *Config) CacheSingleFlight() bool {
	return c.cacheSingleFlight
}

func (c *Config) CacheSweepInterval() time.Duration {
	return c.cacheSweepInterval
}

func (c *Config) FetchMaxAttempts() int {
	return c.fetchMaxAttempts
}

func (c *Config) FetchBaseDelay() time.Duration {
	return c.fetchBaseDelay
}

func (c *Config) FetchAttemptTimeout() time.Duration {
	return c.fetchAttemptTimeout
}

func (c *Config) SentryDSN() string {
	return c.sentryDSN
}

func (c *Config) FMPAPIKey() string {
	return c.fmpAPIKey
}

func (c *Config) LLMAPIKey() string {
	return c.llmAPIKey
}

func (c *Config) LLMModel() string {
	return c.llmModel
}

func (c *Config) AdminToken() string {
	return c.adminToken
}

func (c *Config) AllowedOrigins() string {
	return c.allowedOrigins
}

func (c *Config) IsProduction() bool {
	return c.env == production
}

func (c *Config) IsStaging() bool {
	return c.env == staging
}

func (c *Config) IsDevelopment() bool {
	return c.env == development
}

// Return a string representation suitable for logging etc
func (c *Config) NonSensitiveString() string {
	return fmt.Sprintf(
		"Config{env: %s, port: %s, cacheBackend: %s, cacheCodec: %s, singleFlight: %t, fetch: %dx%s (timeout %s), ...}",
		c.env, c.port, c.cacheBackend, c.cacheCodec, c.cacheSingleFlight,
		c.fetchMaxAttempts, c.fetchBaseDelay, c.fetchAttemptTimeout,
	)
}

func getOrDefault(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getOrDefault(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %s (%s)", ErrInvalidValue, key, raw)
	}
	return d, nil
}

func ConfigFromEnv() (Config, error) {
	missingKey := func(key string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredValue, key)
	}
	invalidKey := func(key, value string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s (%s)", ErrInvalidValue, key, value)
	}

	rawEnv, ok := os.LookupEnv("TICKERLIGHT_ENVIRONMENT")
	if !ok {
		return missingKey("TICKERLIGHT_ENVIRONMENT")
	}
	var env environment
	switch rawEnv {
	case "production":
		env = production
	case "staging":
		env = staging
	case "development":
		env = development
	default:
		return invalidKey("TICKERLIGHT_ENVIRONMENT", rawEnv)
	}

	defaultBackend := string(CacheBackendPostgres)
	if env == development {
		defaultBackend = string(CacheBackendMemory)
	}
	cacheBackend := CacheBackend(getOrDefault("CACHE_BACKEND", defaultBackend))
	switch cacheBackend {
	case CacheBackendPostgres, CacheBackendRedis, CacheBackendMemory:
	default:
		return invalidKey("CACHE_BACKEND", string(cacheBackend))
	}

	cacheCodec := getOrDefault("CACHE_CODEC", "json")
	if cacheCodec != "json" && cacheCodec != "msgpack" {
		return invalidKey("CACHE_CODEC", cacheCodec)
	}

	rawSingleFlight := getOrDefault("CACHE_SINGLE_FLIGHT", "true")
	singleFlight, err := strconv.ParseBool(rawSingleFlight)
	if err != nil {
		return invalidKey("CACHE_SINGLE_FLIGHT", rawSingleFlight)
	}

	rawMaxAttempts := getOrDefault("FETCH_MAX_ATTEMPTS", "3")
	maxAttempts, err := strconv.Atoi(rawMaxAttempts)
	if err != nil || maxAttempts < 1 || maxAttempts > 10 {
		return invalidKey("FETCH_MAX_ATTEMPTS", rawMaxAttempts)
	}

	baseDelay, err := parseDuration("FETCH_BASE_DELAY", 1*time.Second)
	if err != nil {
		return Config{}, err
	}
	attemptTimeout, err := parseDuration("FETCH_ATTEMPT_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	sweepInterval, err := parseDuration("CACHE_SWEEP_INTERVAL", 10*time.Minute)
	if err != nil {
		return Config{}, err
	}

	dbConnectionString := os.Getenv("DB_CONNECTION_STRING")
	redisAddr := getOrDefault("REDIS_ADDR", "localhost:6379")
	sentryDSN := os.Getenv("SENTRY_DSN")
	fmpAPIKey := os.Getenv("FMP_API_KEY")
	llmAPIKey := os.Getenv("LLM_API_KEY")
	adminToken := os.Getenv("ADMIN_TOKEN")

	if env == production || env == staging {
		if cacheBackend == CacheBackendPostgres && dbConnectionString == "" {
			return missingKey("DB_CONNECTION_STRING")
		}
		if sentryDSN == "" {
			return missingKey("SENTRY_DSN")
		}
		if fmpAPIKey == "" {
			return missingKey("FMP_API_KEY")
		}
		if adminToken == "" {
			return missingKey("ADMIN_TOKEN")
		}
	}

	return Config{
		env:  env,
		port: getOrDefault("PORT", "8123"),

		dbConnectionString: dbConnectionString,
		redisAddr:          redisAddr,
		cacheBackend:       cacheBackend,
		cacheCodec:         cacheCodec,
		cacheSingleFlight:  singleFlight,
		cacheSweepInterval: sweepInterval,

		fetchMaxAttempts:    maxAttempts,
		fetchBaseDelay:      baseDelay,
		fetchAttemptTimeout: attemptTimeout,

		sentryDSN:      sentryDSN,
		fmpAPIKey:      fmpAPIKey,
		llmAPIKey:      llmAPIKey,
		llmModel:       getOrDefault("LLM_MODEL", "gpt-4o-mini"),
		adminToken:     adminToken,
		allowedOrigins: getOrDefault("ALLOWED_ORIGINS", "localhost"),
	}, nil
}
