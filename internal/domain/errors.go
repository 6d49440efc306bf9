package domain

import "errors"

var (
	// Upstream failures
	ErrNetwork = errors.New("network error")
	ErrClient  = errors.New("client error")
	ErrServer  = errors.New("server error")

	// Aggregation failures
	ErrCoreDataUnavailable     = errors.New("core data unavailable")
	ErrOptionalDataUnavailable = errors.New("optional data unavailable")
	ErrRunSuperseded           = errors.New("run superseded by a newer run")

	ErrCacheBackend = errors.New("cache backend unavailable")

	ErrInvalidSymbol = errors.New("invalid symbol")
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// ErrorKind names the taxonomy class of err for status payloads and metrics
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRunSuperseded):
		return "superseded"
	case errors.Is(err, ErrUnknownSymbol):
		return "unknown_symbol"
	case errors.Is(err, ErrClient):
		return "client"
	case errors.Is(err, ErrServer):
		return "server"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrCacheBackend):
		return "cache_backend"
	default:
		return "unknown"
	}
}
