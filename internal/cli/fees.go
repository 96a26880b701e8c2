package cli

import (
	"github.com/spf13/cobra"

	"crypto-arb-scanner/internal/app"
)

var feesOpts app.FeesOptions

var feesCmd = &cobra.Command{
	Use:   "fees",
	Short: "Price a spatial trade and print the fee breakdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Fees(feesOpts)
	},
}

func init() {
	f := feesCmd.Flags()
	f.StringVar(&feesOpts.Pair, "pair", "BTC/USDT", "Trading pair")
	f.StringVar(&feesOpts.BuyExchange, "buy", "binance", "Exchange to buy on")
	f.StringVar(&feesOpts.SellExchange, "sell", "kraken", "Exchange to sell on")
	f.Float64Var(&feesOpts.BuyPrice, "buy-price", 0, "Ask price on the buy exchange")
	f.Float64Var(&feesOpts.SellPrice, "sell-price", 0, "Bid price on the sell exchange")
	f.Float64Var(&feesOpts.Amount, "amount", 0, "Trade size in base units (defaults to scanner.trade_amount)")
	f.Float64Var(&feesOpts.SpreadPct, "spread", 0.1, "Bid/ask spread percent applied to both legs")
	f.Float64Var(&feesOpts.MarketVolume, "market-volume", 0, "Market volume for slippage (defaults to scanner.market_volume)")
}
