package detector

import (
	"time"

	"crypto-arb-scanner/internal/fees"
	"crypto-arb-scanner/internal/market"
	"crypto-arb-scanner/internal/opportunity"
	"crypto-arb-scanner/internal/validation"
)

// SpatialDetector buys a pair on one exchange and sells it on another.
type SpatialDetector struct {
	params Params
	model  *fees.Model
}

var _ Detector = (*SpatialDetector)(nil)

// NewSpatial builds the spatial detector.
func NewSpatial(params Params, model *fees.Model) *SpatialDetector {
	return &SpatialDetector{params: params.normalized(), model: model}
}

func (d *SpatialDetector) Kind() opportunity.Kind { return opportunity.Spatial }

func (d *SpatialDetector) Detect(snapshots []market.Snapshot, ts time.Time) []opportunity.Opportunity {
	b := newBook(snapshots, ts)
	var out []opportunity.Opportunity
	for _, symbol := range b.symbols {
		quotes := b.quotes[symbol]
		for i, buy := range quotes {
			for j, sell := range quotes {
				if i == j || buy.exchange == sell.exchange {
					continue
				}
				if o, ok := d.evaluate(symbol, buy, sell, ts); ok {
					out = append(out, o)
				}
			}
		}
	}
	return out
}

func (d *SpatialDetector) evaluate(symbol string, buy, sell quote, ts time.Time) (opportunity.Opportunity, bool) {
	buyPrice, sellPrice := buy.ticker.Ask, sell.ticker.Bid
	if !validation.ValidateArbitrage(buyPrice, sellPrice, d.params.MinProfitPct).Valid {
		return opportunity.Opportunity{}, false
	}
	calc := d.model.Spatial(fees.SpatialTrade{
		BuyExchange:   buy.exchange,
		SellExchange:  sell.exchange,
		Pair:          symbol,
		Amount:        d.params.TradeAmount,
		BuyPrice:      buyPrice,
		SellPrice:     sellPrice,
		BuySpreadPct:  buy.ticker.SpreadPct(),
		SellSpreadPct: sell.ticker.SpreadPct(),
		MarketVolume:  d.params.MarketVolume,
	})
	if !calc.Finite() || calc.NetProfitPct < d.params.MinProfitPct {
		return opportunity.Opportunity{}, false
	}

	o := opportunity.Opportunity{
		Kind:      opportunity.Spatial,
		Pair:      symbol,
		Exchanges: []string{buy.exchange, sell.exchange},
		Profit:    calc.NetProfitPct,
		Fees:      &calc,
		Spatial: &opportunity.SpatialDetail{
			BuyExchange:  buy.exchange,
			SellExchange: sell.exchange,
			BuyPrice:     buyPrice,
			SellPrice:    sellPrice,
			Amount:       d.params.TradeAmount,
			GrossPct:     (sellPrice - buyPrice) / buyPrice * 100,
		},
	}
	o.Stamp(ts)
	return o, true
}
