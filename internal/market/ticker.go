package market

import (
	"fmt"
	"strings"
	"time"
)

// Ticker is a single top-of-book quote for one (exchange, pair).
type Ticker struct {
	Symbol      string    `json:"symbol"`
	Bid         float64   `json:"bid"`
	Ask         float64   `json:"ask"`
	Last        float64   `json:"last"`
	Open        float64   `json:"open,omitempty"`
	High        float64   `json:"high,omitempty"`
	Low         float64   `json:"low,omitempty"`
	Close       float64   `json:"close,omitempty"`
	BaseVolume  float64   `json:"baseVolume"`
	QuoteVolume float64   `json:"quoteVolume,omitempty"`
	BidVolume   float64   `json:"bidVolume,omitempty"`
	AskVolume   float64   `json:"askVolume,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Mid returns the mid-price.
func (t Ticker) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// SpreadPct returns (ask-bid)/bid in percent, or 0 when bid is not positive.
func (t Ticker) SpreadPct() float64 {
	if t.Bid <= 0 {
		return 0
	}
	return (t.Ask - t.Bid) / t.Bid * 100
}

// Reference is the last traded price, falling back to mid.
func (t Ticker) Reference() float64 {
	if t.Last > 0 {
		return t.Last
	}
	return t.Mid()
}

// Snapshot holds every ticker one exchange returned for a scan cycle.
type Snapshot struct {
	Exchange  Exchange          `json:"exchange"`
	Tickers   map[string]Ticker `json:"tickers"`
	FetchedAt time.Time         `json:"fetchedAt"`
	Synthetic bool              `json:"synthetic,omitempty"`
}

// NewSnapshot returns an empty snapshot for ex.
func NewSnapshot(ex Exchange, at time.Time) Snapshot {
	return Snapshot{Exchange: ex, Tickers: make(map[string]Ticker), FetchedAt: at}
}

// Empty reports whether the snapshot has no tickers.
func (s Snapshot) Empty() bool {
	return len(s.Tickers) == 0
}

// Pair is a base/quote currency pair.
type Pair struct {
	Base  string
	Quote string
}

// ParsePair parses "BASE/QUOTE".
func ParsePair(symbol string) (Pair, error) {
	parts := strings.Split(strings.TrimSpace(symbol), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("invalid pair symbol %q", symbol)
	}
	return Pair{Base: strings.ToUpper(parts[0]), Quote: strings.ToUpper(parts[1])}, nil
}

// MustParsePair panics on malformed input. Intended for static tables.
func MustParsePair(symbol string) Pair {
	p, err := ParsePair(symbol)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// Inverse swaps base and quote.
func (p Pair) Inverse() Pair {
	return Pair{Base: p.Quote, Quote: p.Base}
}

// Symbol renders the pair with a layout such as "{base}{quote}" or "{base}-{quote}".
func (p Pair) Symbol(layout string) string {
	if layout == "" {
		return p.String()
	}
	r := strings.NewReplacer("{base}", p.Base, "{quote}", p.Quote,
		"{base_lower}", strings.ToLower(p.Base), "{quote_lower}", strings.ToLower(p.Quote))
	return r.Replace(layout)
}
