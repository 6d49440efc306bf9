package ratelimiting

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// KeyedLimiter rate limits independently per key
type KeyedLimiter interface {
	Allow(key string) bool
}

type RefillPerSecond float64
type BurstSize int

type tokenBucketLimiter struct {
	limiters        *ttlcache.Cache[string, *rate.Limiter]
	refillPerSecond RefillPerSecond
	burstSize       BurstSize
}

func (l *tokenBucketLimiter) Allow(key string) bool {
	item, _ := l.limiters.GetOrSet(key, rate.NewLimiter(rate.Limit(l.refillPerSecond), int(l.burstSize)))
	return item.Value().Allow()
}

// NewTokenBucketLimiter returns a limiter with one token bucket per key, and a function that
// stops the background cleanup of idle buckets
func NewTokenBucketLimiter(refillPerSecond RefillPerSecond, burstSize BurstSize) (KeyedLimiter, func()) {
	limiters := ttlcache.New[string, *rate.Limiter](
		// Idle buckets are full again long before this
		ttlcache.WithTTL[string, *rate.Limiter](30 * time.Minute),
	)
	go limiters.Start()

	return &tokenBucketLimiter{
		limiters:        limiters,
		refillPerSecond: refillPerSecond,
		burstSize:       burstSize,
	}, limiters.Stop
}

type RequestLimiter struct {
	limiter KeyedLimiter
	keyFunc func(r *http.Request) string
}

func NewRequestLimiter(limiter KeyedLimiter, keyFunc func(r *http.Request) string) *RequestLimiter {
	return &RequestLimiter{
		limiter: limiter,
		keyFunc: keyFunc,
	}
}

func (l *RequestLimiter) Allow(r *http.Request) bool {
	return l.limiter.Allow(l.keyFunc(r))
}

func (l *RequestLimiter) KeyFor(r *http.Request) string {
	return l.keyFunc(r)
}

func IPKeyFunc(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// No port
		host = strings.TrimSuffix(strings.TrimPrefix(r.RemoteAddr, "["), "]")
	}

	return fmt.Sprintf("ip: %s", host)
}

func UserIDKeyFunc(r *http.Request) string {
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		userID = "<missing>"
	}
	return fmt.Sprintf("user-id: %.50s", userID)
}
