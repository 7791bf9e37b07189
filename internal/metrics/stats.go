// Package metrics accumulates control statistics and exports them.
package metrics

import (
	"sync"

	"github.com/rs/zerolog"
)

// Counters is a point-in-time copy of the control statistics. Every field
// only ever grows.
type Counters struct {
	Decisions        uint64
	Writes           uint64
	WriteFailures    uint64
	RateLimited      uint64
	Skipped          uint64
	Clamped          uint64
	ReadFailures     uint64
	LinkFaults       uint64
	ControllerFaults uint64
	Reconnects       uint64
	StrategyUsage    map[string]uint64
}

// Stats guards Counters with a lock shared with the rest of the published
// state.
type Stats struct {
	mu sync.Locker
	c  Counters
}

// NewStats uses mu when non-nil, else a private mutex.
func NewStats(mu sync.Locker) *Stats {
	if mu == nil {
		mu = &sync.Mutex{}
	}
	return &Stats{mu: mu, c: Counters{StrategyUsage: make(map[string]uint64)}}
}

// Update applies fn under the lock. fn must not block.
func (s *Stats) Update(fn func(c *Counters)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.c)
}

// Snapshot returns a deep copy of the counters.
func (s *Stats) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.c
	out.StrategyUsage = make(map[string]uint64, len(s.c.StrategyUsage))
	for k, v := range s.c.StrategyUsage {
		out.StrategyUsage[k] = v
	}
	return out
}

// MarshalZerologObject writes the counters as log fields.
func (c Counters) MarshalZerologObject(e *zerolog.Event) {
	e.Uint64("decisions", c.Decisions).
		Uint64("writes", c.Writes).
		Uint64("write_failures", c.WriteFailures).
		Uint64("rate_limited", c.RateLimited).
		Uint64("skipped", c.Skipped).
		Uint64("clamped", c.Clamped).
		Uint64("read_failures", c.ReadFailures).
		Uint64("link_faults", c.LinkFaults).
		Uint64("controller_faults", c.ControllerFaults).
		Uint64("reconnects", c.Reconnects)

	usage := zerolog.Dict()
	for k, v := range c.StrategyUsage {
		usage.Uint64(k, v)
	}
	e.Dict("strategy_usage", usage)
}
