package detector

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"crypto-arb-scanner/internal/market"
	"crypto-arb-scanner/internal/opportunity"
)

const (
	historyPoints      = 100
	movingAvgPeriod    = 20
	minStatVolume      = 100.0
	minZScore          = 2.0
	minStability       = 0.6
	minRiskAdjusted    = 2.0
	minReturnVol       = 0.01
	confidenceVolumeAt = 10000.0
)

// StatisticalDetector flags same-pair price ratios between two exchanges that sit far
// from their recent mean.
type StatisticalDetector struct {
	params Params
}

var _ Detector = (*StatisticalDetector)(nil)

func NewStatistical(params Params) *StatisticalDetector {
	return &StatisticalDetector{params: params.normalized()}
}

func (d *StatisticalDetector) Kind() opportunity.Kind { return opportunity.Statistical }

func (d *StatisticalDetector) Detect(snapshots []market.Snapshot, ts time.Time) []opportunity.Opportunity {
	b := newBook(snapshots, ts)
	var out []opportunity.Opportunity
	for _, symbol := range b.symbols {
		quotes := b.quotes[symbol]
		if len(quotes) < 2 {
			continue
		}
		for i := 0; i < len(quotes); i++ {
			for j := i + 1; j < len(quotes); j++ {
				q1, q2 := quotes[i], quotes[j]
				if q1.exchange == q2.exchange {
					continue
				}
				if q1.ticker.BaseVolume < minStatVolume || q2.ticker.BaseVolume < minStatVolume {
					continue
				}
				if o, ok := d.evaluate(symbol, q1, q2, ts); ok {
					out = append(out, o)
				}
			}
		}
	}
	return out
}

func (d *StatisticalDetector) evaluate(symbol string, q1, q2 quote, ts time.Time) (opportunity.Opportunity, bool) {
	p1, p2 := q1.ticker.Reference(), q2.ticker.Reference()
	if p1 <= 0 || p2 <= 0 {
		return opportunity.Opportunity{}, false
	}
	vol := Volatility(symbol)
	series := RatioHistory(symbol, q1.exchange, q2.exchange, vol)

	ma := mean(series[len(series)-movingAvgPeriod:])
	std := stdDevAround(series, ma)
	ratio := p1 / p2
	z := math.Abs(ratio-ma) / std
	if !finite(z) || z < minZScore {
		return opportunity.Opportunity{}, false
	}

	stability := Stability(series)
	if stability < minStability {
		return opportunity.Opportunity{}, false
	}

	expected := math.Abs(p1-p2) / math.Min(p1, p2) * 100
	returnsVol := returnsStdDev(series)
	riskAdj := expected / math.Max(returnsVol, minReturnVol)
	if !finite(expected, riskAdj) || riskAdj < minRiskAdjusted || expected < d.params.MinProfitPct {
		return opportunity.Opportunity{}, false
	}

	combined := q1.ticker.BaseVolume + q2.ticker.BaseVolume
	confidence := math.Min(95, 50+z*15) * math.Min(1, combined/confidenceVolumeAt)

	buy, sell := q1.exchange, q2.exchange
	if p1 > p2 {
		buy, sell = sell, buy
	}

	o := opportunity.Opportunity{
		Kind:      opportunity.Statistical,
		Pair:      symbol,
		Exchanges: []string{q1.exchange, q2.exchange},
		Profit:    expected,
		Statistical: &opportunity.StatisticalDetail{
			Exchange1:     q1.exchange,
			Exchange2:     q2.exchange,
			Price1:        p1,
			Price2:        p2,
			Ratio:         ratio,
			Mean:          ma,
			StdDev:        std,
			ZScore:        z,
			Confidence:    confidence,
			Stability:     stability,
			Volatility:    returnsVol,
			RiskAdjusted:  riskAdj,
			BuyExchange:   buy,
			SellExchange:  sell,
			CombinedVol:   combined,
			HistoryLength: len(series),
		},
	}
	o.Stamp(ts)
	return o, true
}

// RatioHistory synthesizes a mean-reverting ratio series for two exchanges. The
// generator is seeded from the inputs so equal inputs give equal series.
func RatioHistory(symbol, ex1, ex2 string, vol float64) []float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(symbol + "|" + ex1 + "|" + ex2))
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, math.Float64bits(vol)))

	series := make([]float64, historyPoints)
	for k := range series {
		v := 1.0 + math.Sin(float64(k)*0.1)*0.01 + (rng.Float64()-0.5)*vol*2
		series[k] = math.Max(0.5, math.Min(2, v))
	}
	return series
}

// Stability is one minus the coefficient of variation, floored at zero.
func Stability(series []float64) float64 {
	if len(series) < 10 {
		return 0
	}
	m := mean(series)
	if m == 0 {
		return 0
	}
	return math.Max(0, 1-stdDevAround(series, m)/m)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdDevAround(xs []float64, center float64) float64 {
	if len(xs) < 2 {
		return 0.01
	}
	var acc float64
	for _, x := range xs {
		acc += (x - center) * (x - center)
	}
	return math.Sqrt(acc / float64(len(xs)))
}

func returnsStdDev(series []float64) float64 {
	if len(series) < 2 {
		return minReturnVol
	}
	returns := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		returns = append(returns, (series[i]-series[i-1])/series[i-1])
	}
	return stdDevAround(returns, mean(returns))
}
