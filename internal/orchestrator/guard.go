package orchestrator

import "sync/atomic"

// Guard hands out monotonically increasing run generations. Only the latest one is current.
type Guard struct {
	current atomic.Uint64
}

// StartNewRun makes a new generation current and returns it
func (g *Guard) StartNewRun() uint64 {
	return g.current.Add(1)
}

func (g *Guard) IsCurrent(generation uint64) bool {
	return g.current.Load() == generation
}

func (g *Guard) Current() uint64 {
	return g.current.Load()
}
