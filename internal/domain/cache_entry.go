package domain

import "time"

type CacheEntry struct {
	Key       string
	Value     []byte
	StoredAt  time.Time
	ExpiresAt time.Time
	Metadata  map[string]string
}

// IsExpired reports whether the entry must be treated as a miss at now.
func (e CacheEntry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
