package validation

import (
	"fmt"
	"math"
	"time"

	"crypto-arb-scanner/internal/market"
)

const (
	// MaxTickerAge is the age beyond which a quote is reported as stale.
	MaxTickerAge = 300 * time.Second

	maxSpreadPct = 10.0
	minSpreadPct = 0.001
)

// Result collects blocking errors and advisory warnings.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

func (r *Result) fail(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) finish() Result {
	r.Valid = len(r.Errors) == 0
	return *r
}

// ValidateTicker checks one quote for structural and economic sanity.
func ValidateTicker(t *market.Ticker, expectedSymbol string, now time.Time) Result {
	var res Result
	if t == nil {
		res.fail("ticker missing for %s", expectedSymbol)
		return res.finish()
	}
	if expectedSymbol != "" && t.Symbol != expectedSymbol {
		res.fail("symbol mismatch: expected %s, got %s", expectedSymbol, t.Symbol)
	}
	if !positive(t.Bid) {
		res.fail("invalid bid price: %v", t.Bid)
	}
	if !positive(t.Ask) {
		res.fail("invalid ask price: %v", t.Ask)
	}
	if positive(t.Bid) && positive(t.Ask) && t.Bid >= t.Ask {
		res.fail("bid %v must be lower than ask %v", t.Bid, t.Ask)
	}

	if t.Last <= 0 {
		res.warn("last price not positive: %v", t.Last)
	}
	if t.BaseVolume < 0 {
		res.warn("negative volume: %v", t.BaseVolume)
	}
	if t.Timestamp.IsZero() {
		res.warn("timestamp missing")
	} else if age := now.Sub(t.Timestamp); age > MaxTickerAge {
		res.warn("stale ticker: %s old", age.Round(time.Second))
	}

	if len(res.Errors) == 0 {
		spread := t.SpreadPct()
		switch {
		case spread > maxSpreadPct:
			res.warn("spread unusually wide: %.4f%%", spread)
		case spread < minSpreadPct:
			res.warn("spread unusually tight: %.6f%%", spread)
		}
	}

	return res.finish()
}

// ValidateArbitrage checks a buy/sell price pair before any fee math.
func ValidateArbitrage(buyPrice, sellPrice, minProfitPct float64) Result {
	var res Result
	if !positive(buyPrice) {
		res.fail("invalid buy price: %v", buyPrice)
	}
	if !positive(sellPrice) {
		res.fail("invalid sell price: %v", sellPrice)
	}
	if len(res.Errors) == 0 && buyPrice >= sellPrice {
		res.fail("buy price %v must be lower than sell price %v", buyPrice, sellPrice)
	}
	if len(res.Errors) == 0 {
		gross := (sellPrice - buyPrice) / buyPrice * 100
		if gross < minProfitPct {
			res.warn("gross spread %.4f%% below threshold %.4f%%", gross, minProfitPct)
		}
	}
	return res.finish()
}

// ValidateExchangeData checks a whole snapshot.
func ValidateExchangeData(s market.Snapshot) Result {
	var res Result
	if s.Exchange.ID == "" {
		res.fail("exchange id missing")
	}
	switch n := len(s.Tickers); {
	case n == 0:
		res.warn("%s returned no tickers", s.Exchange.ID)
	case n < 5:
		res.warn("%s returned only %d tickers", s.Exchange.ID, n)
	}
	return res.finish()
}

// Issue is a per-symbol validation outcome kept by FilterValid.
type Issue struct {
	Symbol   string
	Errors   []string
	Warnings []string
}

// FilterValid returns a copy of s holding only valid tickers.
func FilterValid(s market.Snapshot, now time.Time) (market.Snapshot, []Issue) {
	out := s
	out.Tickers = make(map[string]market.Ticker, len(s.Tickers))
	var issues []Issue
	for symbol, t := range s.Tickers {
		tk := t
		res := ValidateTicker(&tk, symbol, now)
		if len(res.Errors) > 0 || len(res.Warnings) > 0 {
			issues = append(issues, Issue{Symbol: symbol, Errors: res.Errors, Warnings: res.Warnings})
		}
		if res.Valid {
			out.Tickers[symbol] = t
		}
	}
	return out, issues
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
