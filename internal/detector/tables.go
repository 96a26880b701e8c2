package detector

import "crypto-arb-scanner/internal/market"

var assetVolatility = map[string]float64{
	"BTC": 0.02, "ETH": 0.025, "SOL": 0.04, "XRP": 0.03, "DOGE": 0.05,
	"ADA": 0.035, "LINK": 0.04, "MATIC": 0.045, "LTC": 0.03, "BCH": 0.035,
}

const defaultVolatility = 0.03

// Volatility returns the curated volatility of a pair's base asset.
func Volatility(symbol string) float64 {
	p, err := market.ParsePair(symbol)
	if err != nil {
		return defaultVolatility
	}
	if v, ok := assetVolatility[p.Base]; ok {
		return v
	}
	return defaultVolatility
}

// PairStats are static relationship figures for a correlated tuple.
type PairStats struct {
	MeanRatio   float64
	StdDev      float64
	HedgeRatio  float64
	Correlation float64
}

type tuple struct {
	first, second string
}

// CorrelatedTuples is the curated pairs-trading universe.
var CorrelatedTuples = [][2]string{
	{"BTC/USDT", "ETH/USDT"},
	{"ETH/USDT", "SOL/USDT"},
	{"XRP/USDT", "ADA/USDT"},
	{"LTC/USDT", "BCH/USDT"},
	{"BTC/EUR", "ETH/EUR"},
}

var tupleStats = map[tuple]PairStats{
	{"BTC/USDT", "ETH/USDT"}: {MeanRatio: 16.8, StdDev: 0.8, HedgeRatio: 0.85, Correlation: 0.85},
	{"ETH/USDT", "SOL/USDT"}: {MeanRatio: 26.2, StdDev: 2.1, HedgeRatio: 0.75, Correlation: 0.78},
	{"XRP/USDT", "ADA/USDT"}: {MeanRatio: 1.15, StdDev: 0.05, HedgeRatio: 0.9, Correlation: 0.72},
	{"LTC/USDT", "BCH/USDT"}: {MeanRatio: 0.3, StdDev: 0.02, HedgeRatio: 0.8, Correlation: 0.81},
	{"BTC/EUR", "ETH/EUR"}:   {MeanRatio: 16.7, StdDev: 0.75, HedgeRatio: 0.85, Correlation: 0.87},
}

var unknownTupleStats = PairStats{MeanRatio: 1.0, StdDev: 0.1, HedgeRatio: 1, Correlation: 0.5}

// StatsFor returns the curated stats for (pair1, pair2), or the fallback row.
func StatsFor(pair1, pair2 string) PairStats {
	if s, ok := tupleStats[tuple{pair1, pair2}]; ok {
		return s
	}
	return unknownTupleStats
}
