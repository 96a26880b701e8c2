package fetcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"crypto-arb-scanner/internal/market"
	"crypto-arb-scanner/internal/resilience"
)

var timeNow = time.Now

func errNoSource(exchangeID string) error {
	return resilience.Errorf(resilience.KindAPI, exchangeID, "route", "no source configured")
}

// Source produces one exchange's snapshot for the requested pairs.
type Source interface {
	FetchSnapshot(ctx context.Context, ex market.Exchange, pairs []string) (market.Snapshot, error)
}

// Router dispatches by exchange id, falling back to a default source.
type Router struct {
	mu       sync.RWMutex
	routes   map[string]Source
	fallback Source
}

// NewRouter builds a router whose unrouted exchanges go to fallback.
func NewRouter(fallback Source) *Router {
	return &Router{routes: make(map[string]Source), fallback: fallback}
}

// Route assigns src to an exchange id.
func (r *Router) Route(exchangeID string, src Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[strings.ToLower(exchangeID)] = src
}

// SourceFor returns the source serving exchangeID.
func (r *Router) SourceFor(exchangeID string) Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if src, ok := r.routes[strings.ToLower(exchangeID)]; ok {
		return src
	}
	return r.fallback
}

// FetchSnapshot delegates to the routed source.
func (r *Router) FetchSnapshot(ctx context.Context, ex market.Exchange, pairs []string) (market.Snapshot, error) {
	src := r.SourceFor(ex.ID)
	if src == nil {
		return market.NewSnapshot(ex, timeNow()), errNoSource(ex.ID)
	}
	return src.FetchSnapshot(ctx, ex, pairs)
}

var _ Source = (*Router)(nil)
