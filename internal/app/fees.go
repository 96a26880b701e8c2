package app

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"crypto-arb-scanner/internal/fees"
	"crypto-arb-scanner/internal/market"
)

// Fees prints the cost breakdown of one spatial trade and the minimum profit
// threshold for the exchange pair.
func (a *App) Fees(opts FeesOptions) error {
	if opts.BuyPrice <= 0 || opts.SellPrice <= 0 {
		return errors.New("--buy-price and --sell-price must be greater than zero")
	}
	if opts.Amount <= 0 {
		opts.Amount = a.Config.Scanner.TradeAmount
	}
	if opts.MarketVolume <= 0 {
		opts.MarketVolume = a.Config.Scanner.MarketVolume
	}
	if _, err := market.ParsePair(opts.Pair); err != nil {
		return err
	}

	model := fees.NewModel(nil)
	for _, ex := range []string{opts.BuyExchange, opts.SellExchange} {
		if _, ok := model.Schedule(ex); !ok {
			a.Logger.Warn().Str("exchange", ex).Msg("no fee schedule; using fallback rates")
		}
	}

	calc := model.Spatial(fees.SpatialTrade{
		BuyExchange:   opts.BuyExchange,
		SellExchange:  opts.SellExchange,
		Pair:          opts.Pair,
		Amount:        opts.Amount,
		BuyPrice:      opts.BuyPrice,
		SellPrice:     opts.SellPrice,
		BuySpreadPct:  opts.SpreadPct,
		SellSpreadPct: opts.SpreadPct,
		MarketVolume:  opts.MarketVolume,
	})
	threshold := model.MinimumProfitThreshold([]string{opts.BuyExchange, opts.SellExchange}, opts.Pair, opts.Amount)

	money := func(v float64) string { return decimal.NewFromFloat(v).StringFixed(4) }
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Trade\tbuy %s %s @ %s on %s, sell @ %s on %s\n",
		decimal.NewFromFloat(opts.Amount).String(), opts.Pair, money(opts.BuyPrice), opts.BuyExchange,
		money(opts.SellPrice), opts.SellExchange)
	fmt.Fprintf(writer, "Gross profit\t%s\n", money(calc.GrossProfit))
	fmt.Fprintf(writer, "Trading fees\t%s\n", money(calc.TradingFees))
	fmt.Fprintf(writer, "Withdrawal fees\t%s\n", money(calc.WithdrawalFees))
	fmt.Fprintf(writer, "Slippage\t%s (%s impact)\n", money(calc.Slippage),
		fees.ImpactLevel(fees.Slippage(opts.Amount, opts.MarketVolume, opts.SpreadPct)))
	fmt.Fprintf(writer, "Total cost\t%s\n", money(calc.TotalCost))
	fmt.Fprintf(writer, "Net profit\t%s (%s%%)\n", money(calc.NetProfit), decimal.NewFromFloat(calc.NetProfitPct).StringFixed(3))
	fmt.Fprintf(writer, "Min threshold\t%s%%\n", decimal.NewFromFloat(threshold).StringFixed(3))
	return writer.Flush()
}
