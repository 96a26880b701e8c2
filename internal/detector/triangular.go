package detector

import (
	"sort"
	"strings"
	"time"

	"crypto-arb-scanner/internal/fees"
	"crypto-arb-scanner/internal/market"
	"crypto-arb-scanner/internal/opportunity"
)

const maxStartCurrencies = 10

var startPriority = []string{"USDT", "BTC", "ETH", "USDC", "EUR"}

// TriangularDetector looks for A→B→C→A cycles on a single exchange.
type TriangularDetector struct {
	params Params
	model  *fees.Model
}

var _ Detector = (*TriangularDetector)(nil)

func NewTriangular(params Params, model *fees.Model) *TriangularDetector {
	return &TriangularDetector{params: params.normalized(), model: model}
}

func (d *TriangularDetector) Kind() opportunity.Kind { return opportunity.Triangular }

func (d *TriangularDetector) Detect(snapshots []market.Snapshot, ts time.Time) []opportunity.Opportunity {
	var out []opportunity.Opportunity
	for _, s := range snapshots {
		out = append(out, d.detectExchange(s, ts)...)
	}
	return out
}

func (d *TriangularDetector) detectExchange(s market.Snapshot, ts time.Time) []opportunity.Opportunity {
	symbols := validSymbols(s, ts)
	if len(symbols) < 3 {
		return nil
	}
	tickers := make(map[string]market.Ticker, len(symbols))
	for _, sym := range symbols {
		tickers[sym] = s.Tickers[sym]
	}
	g := buildGraph(symbols)

	var out []opportunity.Opportunity
	for _, a := range g.starts() {
		for _, b := range g.neighbors(a) {
			for _, c := range g.neighbors(b) {
				if c == a || !g.adjacent(a, c) {
					continue
				}
				steps, ok := cycleSteps(tickers, a, b, c)
				if !ok {
					continue
				}
				if o, ok := d.evaluate(s.Exchange.ID, [3]string{a, b, c}, steps, ts); ok {
					out = append(out, o)
				}
			}
		}
	}
	return out
}

func (d *TriangularDetector) evaluate(exchange string, currencies [3]string, steps []fees.Step, ts time.Time) (opportunity.Opportunity, bool) {
	mult := Multiplier(steps)
	if !finite(mult) || mult <= 0 {
		return opportunity.Opportunity{}, false
	}
	calc := d.model.Triangular(exchange, steps, d.params.TradeAmount)
	if !calc.Finite() || calc.NetProfitPct < d.params.MinProfitPct {
		return opportunity.Opportunity{}, false
	}
	for i := range steps {
		steps[i].Exchange = exchange
	}
	o := opportunity.Opportunity{
		Kind:      opportunity.Triangular,
		Pair:      strings.Join(currencies[:], "-"),
		Exchanges: []string{exchange},
		Profit:    calc.NetProfitPct,
		Fees:      &calc,
		Triangle: &opportunity.TriangleDetail{
			Exchange:   exchange,
			Currencies: currencies,
			Steps:      steps,
			Multiplier: mult,
			GrossPct:   (mult - 1) * 100,
		},
	}
	o.Stamp(ts)
	return o, true
}

// Multiplier is the gross growth factor of walking steps without fees.
func Multiplier(steps []fees.Step) float64 {
	m := 1.0
	for _, st := range steps {
		if st.Action == fees.Buy {
			m /= st.Price
		} else {
			m *= st.Price
		}
	}
	return m
}

// cycleSteps resolves the three legs buy B with A, buy C with B, sell C for A.
func cycleSteps(tickers map[string]market.Ticker, a, b, c string) ([]fees.Step, bool) {
	legs := []struct {
		pair   market.Pair
		action fees.Action
		from   string
		to     string
	}{
		{market.Pair{Base: b, Quote: a}, fees.Buy, a, b},
		{market.Pair{Base: c, Quote: b}, fees.Buy, b, c},
		{market.Pair{Base: c, Quote: a}, fees.Sell, c, a},
	}
	steps := make([]fees.Step, 0, len(legs))
	for _, l := range legs {
		st, ok := resolveLeg(tickers, l.pair, l.action)
		if !ok {
			return nil, false
		}
		st.From, st.To = l.from, l.to
		steps = append(steps, st)
	}
	return steps, true
}

// resolveLeg prices a leg on pair, or on its inverse with the action flipped.
func resolveLeg(tickers map[string]market.Ticker, pair market.Pair, action fees.Action) (fees.Step, bool) {
	if t, ok := tickers[pair.String()]; ok {
		price := t.Ask
		if action == fees.Sell {
			price = t.Bid
		}
		return fees.Step{Pair: pair.String(), Action: action, Price: price, SpreadPct: t.SpreadPct()}, true
	}
	inv := pair.Inverse()
	if t, ok := tickers[inv.String()]; ok {
		if action == fees.Buy {
			return fees.Step{Pair: inv.String(), Action: fees.Sell, Price: t.Bid, SpreadPct: t.SpreadPct()}, true
		}
		return fees.Step{Pair: inv.String(), Action: fees.Buy, Price: t.Ask, SpreadPct: t.SpreadPct()}, true
	}
	return fees.Step{}, false
}

// graph is an undirected currency adjacency built from pair symbols.
type graph struct {
	edges map[string]map[string]struct{}
}

func buildGraph(symbols []string) graph {
	g := graph{edges: make(map[string]map[string]struct{})}
	for _, sym := range symbols {
		p, err := market.ParsePair(sym)
		if err != nil || p.Base == p.Quote {
			continue
		}
		g.link(p.Base, p.Quote)
		g.link(p.Quote, p.Base)
	}
	return g
}

func (g graph) link(a, b string) {
	if g.edges[a] == nil {
		g.edges[a] = make(map[string]struct{})
	}
	g.edges[a][b] = struct{}{}
}

func (g graph) adjacent(a, b string) bool {
	_, ok := g.edges[a][b]
	return ok
}

func (g graph) neighbors(a string) []string {
	out := make([]string, 0, len(g.edges[a]))
	for n := range g.edges[a] {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// starts orders currencies by priority then name, capped at maxStartCurrencies.
func (g graph) starts() []string {
	rank := make(map[string]int, len(startPriority))
	for i, c := range startPriority {
		rank[c] = i
	}
	out := make([]string, 0, len(g.edges))
	for c := range g.edges {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, iok := rank[out[i]]
		rj, jok := rank[out[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	if len(out) > maxStartCurrencies {
		out = out[:maxStartCurrencies]
	}
	return out
}
