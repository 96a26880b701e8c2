package alerting

import (
	"context"
	"sync"
	"time"
)

// LastAlertLookup reports when an opportunity was last alerted on.
// storage.Store satisfies it.
type LastAlertLookup interface {
	LastAlertAt(ctx context.Context, key string) (time.Time, bool, error)
}

// Gate suppresses repeat alerts for the same opportunity key within a cooldown.
// The in-memory map is authoritative for this process; the lookup covers restarts.
type Gate struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[string]time.Time
	lookup   LastAlertLookup
}

// NewGate builds a gate. lookup may be nil.
func NewGate(cooldown time.Duration, lookup LastAlertLookup) *Gate {
	return &Gate{cooldown: cooldown, last: make(map[string]time.Time), lookup: lookup}
}

// Allow reports whether an alert for key may fire at now. A lookup error denies
// nothing: the alert goes out and the error is returned for logging.
func (g *Gate) Allow(ctx context.Context, key string, now time.Time) (bool, error) {
	if g.cooldown <= 0 {
		return true, nil
	}
	g.mu.Lock()
	at, ok := g.last[key]
	g.mu.Unlock()
	if ok {
		return now.Sub(at) >= g.cooldown, nil
	}
	if g.lookup == nil {
		return true, nil
	}

	at, ok, err := g.lookup.LastAlertAt(ctx, key)
	if err != nil {
		return true, err
	}
	if !ok {
		return true, nil
	}
	g.mu.Lock()
	if cur, seen := g.last[key]; !seen || at.After(cur) {
		g.last[key] = at
	}
	g.mu.Unlock()
	return now.Sub(at) >= g.cooldown, nil
}

// Record marks key as alerted at now.
func (g *Gate) Record(key string, now time.Time) {
	g.mu.Lock()
	g.last[key] = now
	g.mu.Unlock()
}

// Forget drops keys last alerted before cutoff.
func (g *Gate) Forget(cutoff time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, at := range g.last {
		if at.Before(cutoff) {
			delete(g.last, k)
		}
	}
}
