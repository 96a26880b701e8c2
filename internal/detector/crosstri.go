package detector

import (
	"sort"
	"strings"
	"time"

	"crypto-arb-scanner/internal/fees"
	"crypto-arb-scanner/internal/market"
	"crypto-arb-scanner/internal/opportunity"
)

// CrossTriangularDetector routes each leg of a triangle to the best-priced exchange.
// Only direct pairs are used and the profit is gross.
type CrossTriangularDetector struct {
	params Params
}

var _ Detector = (*CrossTriangularDetector)(nil)

func NewCrossTriangular(params Params) *CrossTriangularDetector {
	return &CrossTriangularDetector{params: params.normalized()}
}

func (d *CrossTriangularDetector) Kind() opportunity.Kind { return opportunity.CrossTriangular }

func (d *CrossTriangularDetector) Detect(snapshots []market.Snapshot, ts time.Time) []opportunity.Opportunity {
	b := newBook(snapshots, ts)
	currencies := universe(b.symbols)

	var out []opportunity.Opportunity
	for _, a := range currencies {
		for _, bc := range currencies {
			if bc == a {
				continue
			}
			legBA, ok := bestAsk(b, market.Pair{Base: bc, Quote: a})
			if !ok {
				continue
			}
			for _, c := range currencies {
				if c == a || c == bc {
					continue
				}
				legCB, ok := bestAsk(b, market.Pair{Base: c, Quote: bc})
				if !ok {
					continue
				}
				legCA, ok := bestBid(b, market.Pair{Base: c, Quote: a})
				if !ok {
					continue
				}
				if o, ok := d.evaluate([3]string{a, bc, c}, []fees.Step{legBA, legCB, legCA}, ts); ok {
					out = append(out, o)
				}
			}
		}
	}
	return out
}

func (d *CrossTriangularDetector) evaluate(currencies [3]string, steps []fees.Step, ts time.Time) (opportunity.Opportunity, bool) {
	steps[0].From, steps[0].To = currencies[0], currencies[1]
	steps[1].From, steps[1].To = currencies[1], currencies[2]
	steps[2].From, steps[2].To = currencies[2], currencies[0]

	mult := Multiplier(steps)
	gross := (mult - 1) * 100
	if !finite(mult, gross) || gross < d.params.MinProfitPct {
		return opportunity.Opportunity{}, false
	}

	var exchanges []string
	seen := make(map[string]struct{}, 3)
	for _, st := range steps {
		if _, ok := seen[st.Exchange]; ok {
			continue
		}
		seen[st.Exchange] = struct{}{}
		exchanges = append(exchanges, st.Exchange)
	}

	o := opportunity.Opportunity{
		Kind:      opportunity.CrossTriangular,
		Pair:      strings.Join(currencies[:], "-"),
		Exchanges: exchanges,
		Profit:    gross,
		Triangle: &opportunity.TriangleDetail{
			Currencies: currencies,
			Steps:      steps,
			Multiplier: mult,
			GrossPct:   gross,
		},
	}
	o.Stamp(ts)
	return o, true
}

func universe(symbols []string) []string {
	set := make(map[string]struct{})
	for _, sym := range symbols {
		p, err := market.ParsePair(sym)
		if err != nil {
			continue
		}
		set[p.Base] = struct{}{}
		set[p.Quote] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func bestAsk(b book, pair market.Pair) (fees.Step, bool) {
	var best fees.Step
	found := false
	for _, q := range b.quotes[pair.String()] {
		if !found || q.ticker.Ask < best.Price {
			best = fees.Step{Pair: pair.String(), Action: fees.Buy, Price: q.ticker.Ask, SpreadPct: q.ticker.SpreadPct(), Exchange: q.exchange}
			found = true
		}
	}
	return best, found
}

func bestBid(b book, pair market.Pair) (fees.Step, bool) {
	var best fees.Step
	found := false
	for _, q := range b.quotes[pair.String()] {
		if !found || q.ticker.Bid > best.Price {
			best = fees.Step{Pair: pair.String(), Action: fees.Sell, Price: q.ticker.Bid, SpreadPct: q.ticker.SpreadPct(), Exchange: q.exchange}
			found = true
		}
	}
	return best, found
}
