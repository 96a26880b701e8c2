package detector

import (
	"math"
	"time"

	"crypto-arb-scanner/internal/market"
	"crypto-arb-scanner/internal/opportunity"
)

const minPairsCorrelation = 0.7

// PairsDetector trades the ratio of two correlated pairs on one exchange back
// toward its curated mean.
type PairsDetector struct {
	params Params
	tuples [][2]string
}

var _ Detector = (*PairsDetector)(nil)

func NewPairs(params Params) *PairsDetector {
	return &PairsDetector{params: params.normalized(), tuples: CorrelatedTuples}
}

func (d *PairsDetector) Kind() opportunity.Kind { return opportunity.Pairs }

func (d *PairsDetector) Detect(snapshots []market.Snapshot, ts time.Time) []opportunity.Opportunity {
	var out []opportunity.Opportunity
	for _, s := range snapshots {
		valid := make(map[string]struct{})
		for _, sym := range validSymbols(s, ts) {
			valid[sym] = struct{}{}
		}
		for _, tp := range d.tuples {
			_, ok1 := valid[tp[0]]
			_, ok2 := valid[tp[1]]
			if !ok1 || !ok2 {
				continue
			}
			if o, ok := d.evaluate(s.Exchange.ID, tp[0], tp[1], s.Tickers[tp[0]], s.Tickers[tp[1]], ts); ok {
				out = append(out, o)
			}
		}
	}
	return out
}

func (d *PairsDetector) evaluate(exchange, pair1, pair2 string, t1, t2 market.Ticker, ts time.Time) (opportunity.Opportunity, bool) {
	p1, p2 := t1.Reference(), t2.Reference()
	if p1 <= 0 || p2 <= 0 {
		return opportunity.Opportunity{}, false
	}
	stats := StatsFor(pair1, pair2)
	ratio := p1 / p2
	z := math.Abs(ratio-stats.MeanRatio) / stats.StdDev
	if !finite(z) || z <= 2 || math.Abs(stats.Correlation) <= minPairsCorrelation {
		return opportunity.Opportunity{}, false
	}
	expected := math.Abs(ratio-stats.MeanRatio) / stats.MeanRatio * 100
	if !finite(expected) || expected < d.params.MinProfitPct {
		return opportunity.Opportunity{}, false
	}

	long, short := pair2, pair1
	if ratio < stats.MeanRatio {
		long, short = pair1, pair2
	}

	o := opportunity.Opportunity{
		Kind:      opportunity.Pairs,
		Pair:      pair1 + "|" + pair2,
		Exchanges: []string{exchange},
		Profit:    expected,
		Pairs: &opportunity.PairsDetail{
			Exchange:    exchange,
			Pair1:       pair1,
			Pair2:       pair2,
			Price1:      p1,
			Price2:      p2,
			Ratio:       ratio,
			MeanRatio:   stats.MeanRatio,
			StdDev:      stats.StdDev,
			ZScore:      z,
			HedgeRatio:  stats.HedgeRatio,
			Correlation: stats.Correlation,
			Confidence:  math.Min(95, 50+z*15),
			LongPair:    long,
			ShortPair:   short,
		},
	}
	o.Stamp(ts)
	return o, true
}
