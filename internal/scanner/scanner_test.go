package scanner

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-arb-scanner/internal/detector"
	"crypto-arb-scanner/internal/fetcher"
	"crypto-arb-scanner/internal/market"
	"crypto-arb-scanner/internal/opportunity"
	"crypto-arb-scanner/internal/resilience"
	"crypto-arb-scanner/internal/validation"
)

var scanTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type staticSource struct {
	quotes map[string]market.Ticker
	fail   map[string]error
}

func (s staticSource) FetchSnapshot(_ context.Context, ex market.Exchange, _ []string) (market.Snapshot, error) {
	if err := s.fail[ex.ID]; err != nil {
		return market.Snapshot{}, err
	}
	snap := market.NewSnapshot(ex, scanTime)
	if t, ok := s.quotes[ex.ID]; ok {
		snap.Tickers[t.Symbol] = t
	}
	return snap, nil
}

func quote(bid, ask float64) market.Ticker {
	return market.Ticker{
		Symbol: "BTC/USDT", Bid: bid, Ask: ask, Last: (bid + ask) / 2,
		BaseVolume: 5000, Timestamp: scanTime,
	}
}

func exchanges(t *testing.T, ids ...string) []market.Exchange {
	t.Helper()
	out, err := market.ResolveExchanges(ids)
	require.NoError(t, err)
	return out
}

func fastPolicy() resilience.Policy {
	return resilience.Policy{MaxRetries: 0, BaseDelay: time.Millisecond, Timeout: time.Second}
}

func TestScanSpatialScenario(t *testing.T) {
	src := staticSource{quotes: map[string]market.Ticker{
		"kucoin":  quote(99.9, 100),
		"binance": quote(98.9, 99),
	}}
	s := New(Options{
		Exchanges: exchanges(t, "kucoin", "binance"),
		Pairs:     []string{"BTC/USDT"},
		Params:    detector.DefaultParams(),
		Kinds:     []opportunity.Kind{opportunity.Spatial},
		Policy:    fastPolicy(),
	}, src, nil, nil, nil, zerolog.Nop())

	res := s.Scan(context.Background(), scanTime)
	require.Len(t, res.Opportunities, 1)
	o := res.Opportunities[0]
	assert.Equal(t, "binance", o.Spatial.BuyExchange)
	assert.Equal(t, "kucoin", o.Spatial.SellExchange)
	assert.False(t, res.Synthetic)
	assert.Empty(t, res.FetchErrors)
	assert.Equal(t, scanTime, res.Timestamp)
}

func TestScanPartialFailure(t *testing.T) {
	src := staticSource{
		quotes: map[string]market.Ticker{
			"kucoin":  quote(99.9, 100),
			"binance": quote(98.9, 99),
		},
		fail: map[string]error{
			"kraken": resilience.Errorf(resilience.KindAPI, "kraken", "fetch", "http 400"),
		},
	}
	s := New(Options{
		Exchanges: exchanges(t, "kucoin", "binance", "kraken"),
		Pairs:     []string{"BTC/USDT"},
		Kinds:     []opportunity.Kind{opportunity.Spatial},
		Policy:    fastPolicy(),
	}, src, nil, nil, nil, zerolog.Nop())

	res := s.Scan(context.Background(), scanTime)
	require.Contains(t, res.FetchErrors, "kraken")
	assert.Len(t, res.FetchErrors, 1)
	assert.Len(t, res.Snapshots, 3)
	assert.False(t, res.Synthetic, "两个交易所可用时不应回退")
	assert.Len(t, res.Opportunities, 1)

	stats := s.Tracker().Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.ByExchange["kraken"])
}

func TestScanFallsBackToSynthetic(t *testing.T) {
	boom := errors.New("connection refused")
	src := staticSource{fail: map[string]error{"binance": boom, "kraken": boom, "coinbase": boom}}
	s := New(Options{
		Exchanges: exchanges(t, "binance", "kraken", "coinbase"),
		Pairs:     []string{"BTC/USDT", "ETH/USDT", "ETH/BTC"},
		Policy:    fastPolicy(),
		Fallback:  fetcher.NewSynthetic(3),
	}, src, nil, nil, nil, zerolog.Nop())

	res := s.Scan(context.Background(), scanTime)
	assert.True(t, res.Synthetic)
	assert.Len(t, res.FetchErrors, 3)
	require.Len(t, res.Snapshots, 3)
	for _, snap := range res.Snapshots {
		assert.True(t, snap.Synthetic)
		assert.Len(t, snap.Tickers, 3)
	}
	assert.Equal(t, float64(100), res.Quality.Completeness)
	for i := 1; i < len(res.Opportunities); i++ {
		assert.GreaterOrEqual(t, res.Opportunities[i-1].Profit, res.Opportunities[i].Profit)
	}
}

func TestScanWithoutFallback(t *testing.T) {
	boom := errors.New("connection refused")
	src := staticSource{fail: map[string]error{"binance": boom, "kraken": boom}}
	s := New(Options{
		Exchanges: exchanges(t, "binance", "kraken"),
		Pairs:     []string{"BTC/USDT"},
		Policy:    fastPolicy(),
	}, src, nil, nil, nil, zerolog.Nop())

	res := s.Scan(context.Background(), scanTime)
	assert.False(t, res.Synthetic)
	assert.Empty(t, res.Opportunities)
	assert.Len(t, res.FetchErrors, 2)
	assert.Equal(t, resilience.StateClosed, s.Breakers().Get("binance").State())
}

func TestScanReportsPriceAnomalies(t *testing.T) {
	odd := quote(98.9, 99)
	odd.Last = 112 // ~13% above mid
	src := staticSource{quotes: map[string]market.Ticker{
		"kucoin":  quote(99.9, 100),
		"binance": odd,
	}}
	var logs bytes.Buffer
	s := New(Options{
		Exchanges: exchanges(t, "kucoin", "binance"),
		Pairs:     []string{"BTC/USDT"},
		Kinds:     []opportunity.Kind{opportunity.Spatial},
		Policy:    fastPolicy(),
	}, src, nil, nil, nil, zerolog.New(&logs))

	res := s.Scan(context.Background(), scanTime)
	require.Len(t, res.Anomalies, 1, "只有 binance 报价异常")
	found := res.Anomalies["binance"]
	require.Len(t, found, 1)
	assert.Equal(t, "BTC/USDT", found[0].Symbol)
	assert.Equal(t, "price_deviation", found[0].Kind)
	assert.Equal(t, validation.SeverityHigh, found[0].Severity)

	// The anomalous ticker is still valid and feeds the detectors.
	assert.Len(t, res.Opportunities, 1)

	out := logs.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"severity":"HIGH"`)
	assert.Contains(t, out, `"exchange":"binance"`)
}
