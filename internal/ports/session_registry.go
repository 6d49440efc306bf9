package ports

import (
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/Amund211/tickerlight/internal/orchestrator"
)

// SessionRegistry keeps one orchestrator per session so a newer dashboard request
// supersedes the older one for the same user only
type SessionRegistry struct {
	sessions *ttlcache.Cache[string, *orchestrator.Orchestrator]
	opts     []orchestrator.Option
}

// NewSessionRegistry drops sessions idle for longer than idleTimeout.
// Call the returned stop function to halt the eviction loop.
func NewSessionRegistry(idleTimeout time.Duration, opts ...orchestrator.Option) (*SessionRegistry, func()) {
	sessions := ttlcache.New[string, *orchestrator.Orchestrator](
		ttlcache.WithTTL[string, *orchestrator.Orchestrator](idleTimeout),
	)
	go sessions.Start()

	return &SessionRegistry{
		sessions: sessions,
		opts:     opts,
	}, sessions.Stop
}

// ForSession returns the orchestrator of sessionID, creating it if needed.
// An empty sessionID gets a fresh id.
func (r *SessionRegistry) ForSession(sessionID string) (string, *orchestrator.Orchestrator) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	item, _ := r.sessions.GetOrSet(sessionID, orchestrator.New(r.opts...))
	return sessionID, item.Value()
}

// Lookup returns the orchestrator of an existing session
func (r *SessionRegistry) Lookup(sessionID string) (*orchestrator.Orchestrator, bool) {
	if sessionID == "" {
		return nil, false
	}
	item := r.sessions.Get(sessionID)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (r *SessionRegistry) Len() int {
	return r.sessions.Len()
}
