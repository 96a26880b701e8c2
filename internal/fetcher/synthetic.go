package fetcher

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"crypto-arb-scanner/internal/fees"
	"crypto-arb-scanner/internal/market"
)

const (
	skewProbability = 0.3
	driftWindow     = 5 * time.Second
)

// exchangeVariation is the per-exchange bias applied when a skew is injected.
var exchangeVariation = []float64{0.002, -0.001, 0.003, -0.002, 0.001}

// Synthetic fabricates plausible tickers around the USD reference marks with
// occasional per-exchange skews.
type Synthetic struct {
	mu      sync.Mutex
	rng     *rand.Rand
	drift   map[string]float64
	driftAt time.Time
	now     func() time.Time
}

// NewSynthetic builds a generator seeded with seed.
func NewSynthetic(seed uint64) *Synthetic {
	return &Synthetic{
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		drift: make(map[string]float64),
		now:   time.Now,
	}
}

// WithClock makes the generator stamp tickers from clock instead of time.Now.
func (s *Synthetic) WithClock(clock func() time.Time) *Synthetic {
	s.mu.Lock()
	s.now = clock
	s.mu.Unlock()
	return s
}

// FetchSnapshot synthesizes one exchange. Calls within the same short window share
// the per-pair drift so concurrent fetches of one cycle agree on the market level.
func (s *Synthetic) FetchSnapshot(ctx context.Context, ex market.Exchange, pairs []string) (market.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return market.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.Sub(s.driftAt) > driftWindow || now.Before(s.driftAt) {
		s.resetDrift(now)
	}
	return s.snapshot(ex, pairs, now), nil
}

// Generate builds a full working set for one cycle with a fresh drift.
func (s *Synthetic) Generate(exchanges []market.Exchange, pairs []string, ts time.Time) []market.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetDrift(ts)
	out := make([]market.Snapshot, 0, len(exchanges))
	for _, ex := range exchanges {
		out = append(out, s.snapshot(ex, pairs, ts))
	}
	return out
}

func (s *Synthetic) resetDrift(at time.Time) {
	s.drift = make(map[string]float64)
	s.driftAt = at
}

func (s *Synthetic) snapshot(ex market.Exchange, pairs []string, ts time.Time) market.Snapshot {
	snap := market.NewSnapshot(ex, ts)
	snap.Synthetic = true
	idx := exchangeIndex(ex.ID)
	for _, symbol := range pairs {
		p, err := market.ParsePair(symbol)
		if err != nil {
			continue
		}
		snap.Tickers[p.String()] = s.ticker(p, idx, ts)
	}
	return snap
}

func (s *Synthetic) ticker(p market.Pair, exchangeIdx int, ts time.Time) market.Ticker {
	base, _ := fees.ReferencePrice(p.Base)
	quote, _ := fees.ReferencePrice(p.Quote)
	price := base / quote

	drift, ok := s.drift[p.String()]
	if !ok {
		drift = (s.rng.Float64() - 0.5) * 0.02
		s.drift[p.String()] = drift
	}
	price *= 1 + drift

	var skew float64
	if s.rng.Float64() < skewProbability {
		skew = exchangeVariation[exchangeIdx%len(exchangeVariation)] + (s.rng.Float64()-0.5)*0.008
	} else {
		skew = (s.rng.Float64() - 0.5) * 0.002
	}
	mid := price * (1 + skew)

	spreadPct := 0.1 + s.rng.Float64()*0.3
	if p.Base == "BTC" || p.Base == "ETH" {
		spreadPct = 0.05 + s.rng.Float64()*0.1
	}
	half := mid * spreadPct / 200
	volume := 1000 + s.rng.Float64()*10000

	return market.Ticker{
		Symbol:      p.String(),
		Bid:         mid - half,
		Ask:         mid + half,
		Last:        mid,
		Open:        price,
		High:        mid * 1.01,
		Low:         mid * 0.99,
		Close:       mid,
		BaseVolume:  volume,
		QuoteVolume: volume * mid,
		BidVolume:   volume * 0.3,
		AskVolume:   volume * 0.3,
		Timestamp:   ts,
	}
}

// exchangeIndex is the registry position for known exchanges, otherwise a
// stable hash bucket in [0, len(exchangeVariation)).
func exchangeIndex(id string) int {
	for i, ex := range market.Exchanges() {
		if ex.ID == id {
			return i
		}
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum64() % uint64(len(exchangeVariation)))
}

var _ Source = (*Synthetic)(nil)
