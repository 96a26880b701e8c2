package fees

import (
	"math"
	"strings"

	"crypto-arb-scanner/internal/market"
)

const (
	// SafetyMarginPct is added on top of estimated costs by MinimumProfitThreshold.
	SafetyMarginPct = 0.05

	triangularMarketVolume   = 5000.0
	marketMakingMarketVolume = 10000.0
	thresholdMarketVolume    = 5000.0
	defaultStepSpreadPct     = 0.1
)

// Calculation is the fee-adjusted outcome of one candidate trade. Amounts are in
// quote (spatial, market-making) or start-currency (triangular) units.
type Calculation struct {
	GrossProfit    float64 `json:"grossProfit"`
	TradingFees    float64 `json:"tradingFees"`
	WithdrawalFees float64 `json:"withdrawalFees"`
	Slippage       float64 `json:"slippage"`
	TotalCost      float64 `json:"totalCost"`
	NetProfit      float64 `json:"netProfit"`
	NetProfitPct   float64 `json:"netProfitPercentage"`
}

// Finite reports whether every figure is a usable number.
func (c Calculation) Finite() bool {
	for _, v := range []float64{c.GrossProfit, c.TradingFees, c.WithdrawalFees, c.Slippage, c.TotalCost, c.NetProfit, c.NetProfitPct} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Model prices trades against per-exchange fee schedules.
type Model struct {
	schedules map[string]Schedule
}

// NewModel builds a Model. A nil map yields DefaultSchedules.
func NewModel(schedules map[string]Schedule) *Model {
	if schedules == nil {
		schedules = DefaultSchedules()
	}
	normalized := make(map[string]Schedule, len(schedules))
	for id, s := range schedules {
		normalized[strings.ToLower(id)] = s
	}
	return &Model{schedules: normalized}
}

// Schedule returns the exchange's schedule and whether it was configured.
func (m *Model) Schedule(exchange string) (Schedule, bool) {
	s, ok := m.schedules[strings.ToLower(exchange)]
	if !ok {
		return fallbackSchedule, false
	}
	return s, true
}

// TakerPct returns the taker rate for exchange.
func (m *Model) TakerPct(exchange string) float64 {
	s, _ := m.Schedule(exchange)
	return s.TakerPct
}

// MakerPct returns the maker rate for exchange.
func (m *Model) MakerPct(exchange string) float64 {
	s, _ := m.Schedule(exchange)
	return s.MakerPct
}

// WithdrawalFee returns the fee, in units of currency, for moving amount off exchange.
// Unknown exchanges or currencies are charged FallbackWithdrawalPct of the amount.
func (m *Model) WithdrawalFee(exchange, currency string, amount float64) float64 {
	s, ok := m.Schedule(exchange)
	if ok {
		if fee, known := s.Withdrawal[strings.ToUpper(currency)]; known {
			return fee
		}
	}
	return math.Abs(amount) * FallbackWithdrawalPct / 100
}

// Slippage estimates price impact in percent: a step function of the share of market
// volume consumed, plus half the instrument spread.
func Slippage(tradeVolume, marketVolume, spreadPct float64) float64 {
	ratio := tradeVolume / math.Max(marketVolume, 1)
	var base float64
	switch {
	case ratio > 0.1:
		base = 0.5
	case ratio > 0.05:
		base = 0.2
	case ratio > 0.01:
		base = 0.1
	default:
		base = 0.05
	}
	return base + math.Max(spreadPct, 0)/2
}

// ImpactLevel buckets a slippage percentage.
func ImpactLevel(slippagePct float64) string {
	switch {
	case slippagePct > 0.5:
		return "HIGH"
	case slippagePct > 0.2:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// SpatialTrade describes buying on one exchange and selling on another.
type SpatialTrade struct {
	BuyExchange   string
	SellExchange  string
	Pair          string
	Amount        float64
	BuyPrice      float64
	SellPrice     float64
	BuySpreadPct  float64
	SellSpreadPct float64
	MarketVolume  float64
}

// Spatial prices a cross-exchange trade: taker fees on both legs, one base-currency
// withdrawal from the buy venue, and slippage on both legs.
func (m *Model) Spatial(t SpatialTrade) Calculation {
	base := t.Pair
	if p, err := market.ParsePair(t.Pair); err == nil {
		base = p.Base
	}

	buyNotional := t.Amount * t.BuyPrice
	sellNotional := t.Amount * t.SellPrice

	var c Calculation
	c.GrossProfit = sellNotional - buyNotional
	c.TradingFees = buyNotional*m.TakerPct(t.BuyExchange)/100 + sellNotional*m.TakerPct(t.SellExchange)/100
	c.WithdrawalFees = m.WithdrawalFee(t.BuyExchange, base, t.Amount) * t.SellPrice
	c.Slippage = buyNotional*Slippage(t.Amount, t.MarketVolume, t.BuySpreadPct)/100 +
		sellNotional*Slippage(t.Amount, t.MarketVolume, t.SellSpreadPct)/100
	c.TotalCost = c.TradingFees + c.WithdrawalFees + c.Slippage
	c.NetProfit = c.GrossProfit - c.TotalCost
	c.NetProfitPct = c.NetProfit / buyNotional * 100
	return c
}

// Action is the side of a conversion step.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// Step is one leg of a conversion path. BUY spends quote to receive base at Price;
// SELL spends base to receive quote at Price.
type Step struct {
	Pair      string  `json:"pair"`
	Action    Action  `json:"action"`
	Price     float64 `json:"price"`
	SpreadPct float64 `json:"spreadPct,omitempty"`
	Exchange  string  `json:"exchange,omitempty"`
	From      string  `json:"from"`
	To        string  `json:"to"`
}

// Triangular walks steps starting from initialAmount of the first step's currency,
// charging taker fee and slippage on every leg. Costs are reported in start-currency
// units; TotalCost equals GrossProfit minus NetProfit.
func (m *Model) Triangular(exchange string, steps []Step, initialAmount float64) Calculation {
	amount := initialAmount
	gross := initialAmount
	toStart := 1.0
	var tradingTally, slippageTally float64

	for _, st := range steps {
		ex := exchange
		if st.Exchange != "" {
			ex = st.Exchange
		}
		fee := m.TakerPct(ex)
		spread := st.SpreadPct
		if spread <= 0 {
			spread = defaultStepSpreadPct
		}

		baseVolume := amount
		if st.Action == Buy {
			baseVolume = amount / st.Price
		}
		slip := Slippage(baseVolume, triangularMarketVolume, spread)

		tradingTally += amount * fee / 100 * toStart
		slippageTally += amount * slip / 100 * toStart

		keep := 1 - (fee+slip)/100
		if st.Action == Buy {
			amount = amount * keep / st.Price
			gross /= st.Price
			toStart *= st.Price
		} else {
			amount = amount * st.Price * keep
			gross *= st.Price
			toStart /= st.Price
		}
	}

	var c Calculation
	c.GrossProfit = gross - initialAmount
	c.NetProfit = amount - initialAmount
	c.TotalCost = c.GrossProfit - c.NetProfit
	if tally := tradingTally + slippageTally; tally > 0 {
		c.TradingFees = c.TotalCost * tradingTally / tally
		c.Slippage = c.TotalCost - c.TradingFees
	}
	c.NetProfitPct = c.NetProfit / initialAmount * 100
	return c
}

// MarketMaking prices capturing the bid/ask spread with maker orders on both sides.
func (m *Model) MarketMaking(exchange, pair string, bid, ask, volume float64) Calculation {
	mid := (bid + ask) / 2
	notional := volume * mid
	spreadPct := 0.0
	if bid > 0 {
		spreadPct = (ask - bid) / bid * 100
	}
	maker := m.MakerPct(exchange)

	var c Calculation
	c.GrossProfit = volume * (ask - bid)
	c.TradingFees = volume*bid*maker/100 + volume*ask*maker/100
	c.Slippage = notional * Slippage(volume, marketMakingMarketVolume, spreadPct) / 100
	c.TotalCost = c.TradingFees + c.Slippage
	c.NetProfit = c.GrossProfit - c.TotalCost
	c.NetProfitPct = c.NetProfit / notional * 100
	return c
}

// MinimumProfitThreshold estimates, in percent, the cost floor of a representative
// trade of amount base units across exchanges, plus SafetyMarginPct.
func (m *Model) MinimumProfitThreshold(exchanges []string, pair string, amount float64) float64 {
	base := pair
	if p, err := market.ParsePair(pair); err == nil {
		base = p.Base
	}
	price, _ := ReferencePrice(base)
	notional := amount * price
	if notional <= 0 || len(exchanges) == 0 {
		return SafetyMarginPct
	}

	var cost float64
	for _, ex := range exchanges {
		cost += notional * m.TakerPct(ex) / 100
	}
	if len(exchanges) > 1 {
		cost += m.WithdrawalFee(exchanges[0], base, amount) * price
	}
	cost += notional * Slippage(amount, thresholdMarketVolume, defaultStepSpreadPct) / 100

	return cost/notional*100 + SafetyMarginPct
}
