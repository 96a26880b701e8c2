package detector

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crypto-arb-scanner/internal/fees"
	"crypto-arb-scanner/internal/market"
	"crypto-arb-scanner/internal/opportunity"
	"crypto-arb-scanner/internal/validation"
)

// Detector turns one working set of snapshots into candidates of a single kind.
type Detector interface {
	Kind() opportunity.Kind
	Detect(snapshots []market.Snapshot, ts time.Time) []opportunity.Opportunity
}

// Params are shared by every detector.
type Params struct {
	MinProfitPct float64
	TradeAmount  float64
	MarketVolume float64
}

// DefaultParams mirrors the config defaults.
func DefaultParams() Params {
	return Params{MinProfitPct: 0.1, TradeAmount: 1, MarketVolume: 10000}
}

func (p Params) normalized() Params {
	d := DefaultParams()
	if p.TradeAmount <= 0 {
		p.TradeAmount = d.TradeAmount
	}
	if p.MarketVolume <= 0 {
		p.MarketVolume = d.MarketVolume
	}
	if p.MinProfitPct < 0 {
		p.MinProfitPct = 0
	}
	return p
}

// Registry holds detectors by kind.
type Registry struct {
	mu        sync.RWMutex
	detectors map[opportunity.Kind]Detector
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{detectors: make(map[opportunity.Kind]Detector)}
}

// NewDefaultRegistry registers all seven detectors.
func NewDefaultRegistry(params Params, model *fees.Model) *Registry {
	if model == nil {
		model = fees.NewModel(nil)
	}
	r := NewRegistry()
	for _, d := range []Detector{
		NewSpatial(params, model),
		NewTriangular(params, model),
		NewCrossTriangular(params),
		NewStatistical(params),
		NewFlash(params),
		NewMarketMaking(params, model),
		NewPairs(params),
	} {
		r.Register(d)
	}
	return r
}

// Register adds or replaces the detector for its kind.
func (r *Registry) Register(d Detector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detectors[d.Kind()] = d
}

// Get returns the detector for kind.
func (r *Registry) Get(kind opportunity.Kind) (Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.detectors[kind]
	return d, ok
}

// Kinds lists registered kinds in sorted order.
func (r *Registry) Kinds() []opportunity.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]opportunity.Kind, 0, len(r.detectors))
	for k := range r.detectors {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Only returns a registry restricted to kinds. Unknown kinds are ignored.
func (r *Registry) Only(kinds ...opportunity.Kind) *Registry {
	if len(kinds) == 0 {
		return r
	}
	out := NewRegistry()
	for _, k := range kinds {
		if d, ok := r.Get(k); ok {
			out.Register(d)
		}
	}
	return out
}

// RunAll runs every registered detector in kind order. A panicking detector is
// logged and contributes nothing.
func RunAll(r *Registry, snapshots []market.Snapshot, ts time.Time, logger zerolog.Logger) []opportunity.Opportunity {
	var all []opportunity.Opportunity
	for _, kind := range r.Kinds() {
		d, _ := r.Get(kind)
		found, err := runSafe(d, snapshots, ts)
		if err != nil {
			logger.Error().Err(err).Str("detector", string(kind)).Msg("detector failed")
			continue
		}
		logger.Debug().Str("detector", string(kind)).Int("found", len(found)).Msg("detector finished")
		all = append(all, found...)
	}
	return all
}

func runSafe(d Detector, snapshots []market.Snapshot, ts time.Time) (out []opportunity.Opportunity, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = fmt.Errorf("detector %s panicked: %v", d.Kind(), rec)
		}
	}()
	return d.Detect(snapshots, ts), nil
}

type quote struct {
	exchange string
	ticker   market.Ticker
}

// book indexes valid tickers by symbol, preserving snapshot order per symbol.
type book struct {
	symbols []string
	quotes  map[string][]quote
}

func newBook(snapshots []market.Snapshot, ts time.Time) book {
	b := book{quotes: make(map[string][]quote)}
	for _, s := range snapshots {
		for _, symbol := range validSymbols(s, ts) {
			if _, seen := b.quotes[symbol]; !seen {
				b.symbols = append(b.symbols, symbol)
			}
			b.quotes[symbol] = append(b.quotes[symbol], quote{exchange: s.Exchange.ID, ticker: s.Tickers[symbol]})
		}
	}
	sort.Strings(b.symbols)
	return b
}

// validSymbols returns the sorted symbols of s whose tickers pass validation.
func validSymbols(s market.Snapshot, ts time.Time) []string {
	out := make([]string, 0, len(s.Tickers))
	for symbol, t := range s.Tickers {
		tk := t
		if validation.ValidateTicker(&tk, symbol, ts).Valid {
			out = append(out, symbol)
		}
	}
	sort.Strings(out)
	return out
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
