// Package dedupe provides the process-wide admission gate that prevents the
// same token address from being traded more than once per retention window.
package dedupe

import (
	"sync"
	"time"
)

// Gate records first sightings of token addresses and suppresses repeats.
// All channel watchers share one Gate; admission decisions are linearizable
// because every Admit call takes the same mutex.
type Gate struct {
	mu        sync.Mutex
	firstSeen map[string]time.Time
	window    time.Duration
	lastSweep time.Time
}

// sweepEvery bounds how often expired entries are purged. Sweeping happens
// lazily inside Admit, so an idle gate holds stale entries until the next
// sighting; they are ignored either way.
const sweepEvery = time.Minute

// NewGate creates a Gate with the given retention window. A non-positive
// window means entries never expire.
func NewGate(window time.Duration) *Gate {
	return &Gate{
		firstSeen: make(map[string]time.Time),
		window:    window,
	}
}

// Admit returns true exactly once per distinct address per retention window
// and records the sighting. Concurrent first-sightings of the same address
// resolve so exactly one caller gets true.
func (g *Gate) Admit(address string, now time.Time) bool {
	if address == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.maybeSweep(now)

	if seen, ok := g.firstSeen[address]; ok {
		if g.window <= 0 || now.Sub(seen) < g.window {
			return false
		}
	}

	g.firstSeen[address] = now
	return true
}

// Seed marks addresses as already seen, e.g. previously traded tokens loaded
// at startup so a restart does not re-buy them.
func (g *Gate) Seed(addresses []string, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, addr := range addresses {
		if addr == "" {
			continue
		}
		if _, ok := g.firstSeen[addr]; !ok {
			g.firstSeen[addr] = at
		}
	}
}

// SetWindow updates the retention window. Takes effect on the next Admit.
func (g *Gate) SetWindow(window time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.window = window
}

// Len returns the number of tracked addresses, expired entries included.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.firstSeen)
}

// maybeSweep purges expired entries. Caller must hold g.mu.
func (g *Gate) maybeSweep(now time.Time) {
	if g.window <= 0 || now.Sub(g.lastSweep) < sweepEvery {
		return
	}
	g.lastSweep = now

	for addr, seen := range g.firstSeen {
		if now.Sub(seen) >= g.window {
			delete(g.firstSeen, addr)
		}
	}
}
