package detector

import (
	"time"

	"crypto-arb-scanner/internal/market"
	"crypto-arb-scanner/internal/opportunity"
)

const flashThresholdFactor = 3

// FlashDetector reports wide gross spreads across exchanges that tend to close fast.
type FlashDetector struct {
	params Params
}

var _ Detector = (*FlashDetector)(nil)

func NewFlash(params Params) *FlashDetector {
	return &FlashDetector{params: params.normalized()}
}

func (d *FlashDetector) Kind() opportunity.Kind { return opportunity.Flash }

func (d *FlashDetector) Detect(snapshots []market.Snapshot, ts time.Time) []opportunity.Opportunity {
	floor := d.params.MinProfitPct * flashThresholdFactor
	b := newBook(snapshots, ts)
	var out []opportunity.Opportunity
	for _, symbol := range b.symbols {
		quotes := b.quotes[symbol]
		for i, buy := range quotes {
			for j, sell := range quotes {
				if i == j || buy.exchange == sell.exchange {
					continue
				}
				buyPrice, sellPrice := buy.ticker.Ask, sell.ticker.Bid
				if sellPrice <= buyPrice {
					continue
				}
				gross := (sellPrice - buyPrice) / buyPrice * 100
				if !finite(gross) || gross < floor {
					continue
				}
				urgency, window := FlashUrgency(gross)
				o := opportunity.Opportunity{
					Kind:      opportunity.Flash,
					Pair:      symbol,
					Exchanges: []string{buy.exchange, sell.exchange},
					Profit:    gross,
					Flash: &opportunity.FlashDetail{
						BuyExchange:  buy.exchange,
						SellExchange: sell.exchange,
						BuyPrice:     buyPrice,
						SellPrice:    sellPrice,
						Urgency:      urgency,
						TimeWindow:   window,
					},
				}
				o.Stamp(ts)
				out = append(out, o)
			}
		}
	}
	return out
}

// FlashUrgency grades a gross spread.
func FlashUrgency(grossPct float64) (opportunity.Urgency, time.Duration) {
	switch {
	case grossPct > 2:
		return opportunity.UrgencyHigh, 30 * time.Second
	case grossPct > 1:
		return opportunity.UrgencyMedium, 120 * time.Second
	default:
		return opportunity.UrgencyLow, 300 * time.Second
	}
}
