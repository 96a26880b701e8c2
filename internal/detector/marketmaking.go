package detector

import (
	"math"
	"time"

	"crypto-arb-scanner/internal/fees"
	"crypto-arb-scanner/internal/market"
	"crypto-arb-scanner/internal/opportunity"
)

const (
	mmSpreadFactor    = 2
	mmDepthShare      = 0.3
	mmMaxQuotedVolume = 100.0
)

// MarketMakingDetector quotes both sides of wide single-venue spreads.
type MarketMakingDetector struct {
	params Params
	model  *fees.Model
}

var _ Detector = (*MarketMakingDetector)(nil)

func NewMarketMaking(params Params, model *fees.Model) *MarketMakingDetector {
	return &MarketMakingDetector{params: params.normalized(), model: model}
}

func (d *MarketMakingDetector) Kind() opportunity.Kind { return opportunity.MarketMaking }

func (d *MarketMakingDetector) Detect(snapshots []market.Snapshot, ts time.Time) []opportunity.Opportunity {
	var out []opportunity.Opportunity
	for _, s := range snapshots {
		for _, symbol := range validSymbols(s, ts) {
			if o, ok := d.evaluate(s.Exchange.ID, symbol, s.Tickers[symbol], ts); ok {
				out = append(out, o)
			}
		}
	}
	return out
}

func (d *MarketMakingDetector) evaluate(exchange, symbol string, t market.Ticker, ts time.Time) (opportunity.Opportunity, bool) {
	spread := t.SpreadPct()
	if spread < d.params.MinProfitPct*mmSpreadFactor {
		return opportunity.Opportunity{}, false
	}
	bidVol := t.BidVolume
	if bidVol <= 0 {
		bidVol = t.BaseVolume * mmDepthShare
	}
	askVol := t.AskVolume
	if askVol <= 0 {
		askVol = t.BaseVolume * mmDepthShare
	}
	total := bidVol + askVol

	calc := d.model.MarketMaking(exchange, symbol, t.Bid, t.Ask, math.Min(total, mmMaxQuotedVolume))
	if !calc.Finite() || calc.NetProfitPct < d.params.MinProfitPct {
		return opportunity.Opportunity{}, false
	}

	o := opportunity.Opportunity{
		Kind:      opportunity.MarketMaking,
		Pair:      symbol,
		Exchanges: []string{exchange},
		Profit:    calc.NetProfitPct,
		Fees:      &calc,
		MarketMaking: &opportunity.MarketMakingDetail{
			Exchange:       exchange,
			Bid:            t.Bid,
			Ask:            t.Ask,
			SpreadPct:      spread,
			BidVolume:      bidVol,
			AskVolume:      askVol,
			Volume:         total,
			LiquidityScore: LiquidityScore(total),
			RiskLevel:      spreadRisk(spread),
		},
	}
	o.Stamp(ts)
	return o, true
}

// LiquidityScore buckets combined top-of-book volume.
func LiquidityScore(volume float64) int {
	switch {
	case volume > 10000:
		return 100
	case volume > 5000:
		return 80
	case volume > 1000:
		return 60
	case volume > 500:
		return 40
	default:
		return 20
	}
}

func spreadRisk(spreadPct float64) string {
	switch {
	case spreadPct > 2:
		return "HIGH"
	case spreadPct > 0.5:
		return "MEDIUM"
	default:
		return "LOW"
	}
}
