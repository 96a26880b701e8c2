package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-arb-scanner/internal/market"
)

var now = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func tick(symbol string, bid, ask float64) *market.Ticker {
	return &market.Ticker{Symbol: symbol, Bid: bid, Ask: ask, Last: (bid + ask) / 2, BaseVolume: 100, Timestamp: now}
}

func TestValidateTickerInvalidWhenBidNotBelowAsk(t *testing.T) {
	cases := []struct {
		name     string
		bid, ask float64
	}{
		{"equal", 100, 100},
		{"crossed", 101, 100},
		{"crossed small", 0.5, 0.49},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ValidateTicker(tick("BTC/USDT", tc.bid, tc.ask), "BTC/USDT", now)
			assert.False(t, res.Valid)
			assert.NotEmpty(t, res.Errors)
		})
	}
}

func TestValidateTickerWellFormed(t *testing.T) {
	for _, pair := range [][2]float64{{99.9, 100}, {0.0001, 0.0002}, {43000, 43010}} {
		res := ValidateTicker(tick("ETH/BTC", pair[0], pair[1]), "ETH/BTC", now)
		assert.True(t, res.Valid, "bid=%v ask=%v", pair[0], pair[1])
		assert.Empty(t, res.Errors)
	}
}

func TestValidateTickerErrorsAndWarnings(t *testing.T) {
	res := ValidateTicker(nil, "BTC/USDT", now)
	require.False(t, res.Valid)

	res = ValidateTicker(tick("ETH/USDT", 1, 2), "BTC/USDT", now)
	assert.False(t, res.Valid, "symbol mismatch must invalidate")

	res = ValidateTicker(tick("BTC/USDT", 0, 2), "BTC/USDT", now)
	assert.False(t, res.Valid)

	stale := tick("BTC/USDT", 100, 100.1)
	stale.Timestamp = now.Add(-10 * time.Minute)
	stale.Last = 0
	stale.BaseVolume = -1
	res = ValidateTicker(stale, "BTC/USDT", now)
	assert.True(t, res.Valid)
	assert.Len(t, res.Warnings, 3)

	wide := tick("BTC/USDT", 100, 120)
	res = ValidateTicker(wide, "BTC/USDT", now)
	assert.True(t, res.Valid)
	assert.Contains(t, res.Warnings[0], "wide")

	tight := tick("BTC/USDT", 100000, 100000.0001)
	res = ValidateTicker(tight, "BTC/USDT", now)
	assert.True(t, res.Valid)
	assert.Contains(t, res.Warnings[0], "tight")
}

func TestDetectPriceAnomalies(t *testing.T) {
	tk := *tick("BTC/USDT", 100, 100.1)
	assert.Empty(t, DetectPriceAnomalies(tk))

	tk.Last = 107
	got := DetectPriceAnomalies(tk)
	require.Len(t, got, 1)
	assert.Equal(t, SeverityMedium, got[0].Severity)

	tk.Last = 120
	got = DetectPriceAnomalies(tk)
	require.Len(t, got, 1)
	assert.Equal(t, SeverityHigh, got[0].Severity)

	wide := *tick("BTC/USDT", 100, 103)
	got = DetectPriceAnomalies(wide)
	require.Len(t, got, 1)
	assert.Equal(t, "wide_spread", got[0].Kind)
	assert.Equal(t, SeverityMedium, got[0].Severity)

	wide.Ask = 106
	wide.Last = 103
	got = DetectPriceAnomalies(wide)
	require.Len(t, got, 1)
	assert.Equal(t, SeverityHigh, got[0].Severity)
}

func TestValidateArbitrage(t *testing.T) {
	assert.True(t, ValidateArbitrage(99, 99.9, 0.1).Valid)
	assert.False(t, ValidateArbitrage(100, 98.9, 0.1).Valid)
	assert.False(t, ValidateArbitrage(0, 1, 0.1).Valid)
	res := ValidateArbitrage(100, 100.01, 0.1)
	assert.True(t, res.Valid)
	assert.NotEmpty(t, res.Warnings)
}

func TestFilterValidAndExchangeData(t *testing.T) {
	snap := market.NewSnapshot(market.Exchange{ID: "binance"}, now)
	snap.Tickers["BTC/USDT"] = *tick("BTC/USDT", 100, 100.1)
	snap.Tickers["ETH/USDT"] = *tick("ETH/USDT", 10, 9)

	filtered, issues := FilterValid(snap, now)
	assert.Len(t, filtered.Tickers, 1)
	assert.Len(t, snap.Tickers, 2, "input must not be mutated")
	require.Len(t, issues, 1)
	assert.Equal(t, "ETH/USDT", issues[0].Symbol)

	res := ValidateExchangeData(filtered)
	assert.True(t, res.Valid)
	assert.NotEmpty(t, res.Warnings)

	res = ValidateExchangeData(market.Snapshot{})
	assert.False(t, res.Valid)
}

func TestQuality(t *testing.T) {
	a := market.NewSnapshot(market.Exchange{ID: "a"}, now)
	a.Tickers["BTC/USDT"] = *tick("BTC/USDT", 100, 100.1)
	b := market.NewSnapshot(market.Exchange{ID: "b"}, now)
	b.Tickers["BTC/USDT"] = *tick("BTC/USDT", 101, 100)

	r := Quality([]market.Snapshot{a, b}, []string{"BTC/USDT"}, now)
	assert.Equal(t, 50.0, r.Completeness)
	assert.Equal(t, 100.0, r.Freshness)
	assert.Equal(t, 100.0, r.Accuracy)
	assert.Equal(t, 90.0, r.Consistency)
	assert.Equal(t, 85.0, r.Overall)

	empty := Quality(nil, []string{"BTC/USDT"}, now)
	assert.Zero(t, empty.Overall)
}
