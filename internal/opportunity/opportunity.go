package opportunity

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"crypto-arb-scanner/internal/fees"
)

// Kind tags the opportunity variant.
type Kind string

const (
	Spatial         Kind = "spatial"
	Triangular      Kind = "triangular"
	CrossTriangular Kind = "cross-triangular"
	Statistical     Kind = "statistical"
	Flash           Kind = "flash"
	MarketMaking    Kind = "market-making"
	Pairs           Kind = "pairs"
)

// Kinds lists every variant in a stable order.
var Kinds = []Kind{Spatial, Triangular, CrossTriangular, Statistical, Flash, MarketMaking, Pairs}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == strings.ToLower(strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown opportunity kind %q", s)
}

// Opportunity is a ranked arbitrage candidate. Exactly one detail pointer matching
// Kind is set. Profit is a percentage: net after fees for spatial, triangular and
// market-making; gross for cross-triangular and flash; expected return for
// statistical and pairs.
type Opportunity struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"type"`
	Pair      string            `json:"pair"`
	Exchanges []string          `json:"exchanges"`
	Profit    float64           `json:"profit"`
	Timestamp time.Time         `json:"timestamp"`
	Fees      *fees.Calculation `json:"fees,omitempty"`

	Spatial      *SpatialDetail      `json:"spatial,omitempty"`
	Triangle     *TriangleDetail     `json:"triangle,omitempty"`
	Statistical  *StatisticalDetail  `json:"statistical,omitempty"`
	Flash        *FlashDetail        `json:"flash,omitempty"`
	MarketMaking *MarketMakingDetail `json:"marketMaking,omitempty"`
	Pairs        *PairsDetail        `json:"pairs,omitempty"`
}

// SpatialDetail is a buy-here, sell-there trade.
type SpatialDetail struct {
	BuyExchange  string  `json:"buyExchange"`
	SellExchange string  `json:"sellExchange"`
	BuyPrice     float64 `json:"buyPrice"`
	SellPrice    float64 `json:"sellPrice"`
	Amount       float64 `json:"amount"`
	GrossPct     float64 `json:"grossPct"`
}

// TriangleDetail is a three-leg conversion cycle.
type TriangleDetail struct {
	Exchange   string      `json:"exchange,omitempty"`
	Currencies [3]string   `json:"currencies"`
	Steps      []fees.Step `json:"steps"`
	Multiplier float64     `json:"multiplier"`
	GrossPct   float64     `json:"grossPct"`
}

// StatisticalDetail is a same-pair mean-reversion signal between two venues.
type StatisticalDetail struct {
	Exchange1     string  `json:"exchange1"`
	Exchange2     string  `json:"exchange2"`
	Price1        float64 `json:"price1"`
	Price2        float64 `json:"price2"`
	Ratio         float64 `json:"ratio"`
	Mean          float64 `json:"mean"`
	StdDev        float64 `json:"stdDev"`
	ZScore        float64 `json:"zScore"`
	Confidence    float64 `json:"confidence"`
	Stability     float64 `json:"stability"`
	Volatility    float64 `json:"volatility"`
	RiskAdjusted  float64 `json:"riskAdjusted"`
	BuyExchange   string  `json:"buyExchange"`
	SellExchange  string  `json:"sellExchange"`
	CombinedVol   float64 `json:"combinedVolume"`
	HistoryLength int     `json:"historyLength"`
}

// Urgency grades how quickly a flash opportunity should be acted on.
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyHigh   Urgency = "HIGH"
)

// FlashDetail is a large gross spread that is expected to close quickly.
type FlashDetail struct {
	BuyExchange  string        `json:"buyExchange"`
	SellExchange string        `json:"sellExchange"`
	BuyPrice     float64       `json:"buyPrice"`
	SellPrice    float64       `json:"sellPrice"`
	Urgency      Urgency       `json:"urgency"`
	TimeWindow   time.Duration `json:"timeWindow"`
}

// MarketMakingDetail is a spread-capture quote on one venue.
type MarketMakingDetail struct {
	Exchange       string  `json:"exchange"`
	Bid            float64 `json:"bid"`
	Ask            float64 `json:"ask"`
	SpreadPct      float64 `json:"spreadPct"`
	BidVolume      float64 `json:"bidVolume"`
	AskVolume      float64 `json:"askVolume"`
	Volume         float64 `json:"volume"`
	LiquidityScore int     `json:"liquidityScore"`
	RiskLevel      string  `json:"riskLevel"`
}

// PairsDetail is a relative-value trade between two correlated pairs on one venue.
type PairsDetail struct {
	Exchange    string  `json:"exchange"`
	Pair1       string  `json:"pair1"`
	Pair2       string  `json:"pair2"`
	Price1      float64 `json:"price1"`
	Price2      float64 `json:"price2"`
	Ratio       float64 `json:"ratio"`
	MeanRatio   float64 `json:"meanRatio"`
	StdDev      float64 `json:"stdDev"`
	ZScore      float64 `json:"zScore"`
	HedgeRatio  float64 `json:"hedgeRatio"`
	Correlation float64 `json:"correlation"`
	Confidence  float64 `json:"confidence"`
	LongPair    string  `json:"longPair"`
	ShortPair   string  `json:"shortPair"`
}

// Key is the content identity of the opportunity, stable across scans.
func (o Opportunity) Key() string {
	switch o.Kind {
	case Spatial:
		if o.Spatial != nil {
			return join("spatial", o.Pair, o.Spatial.BuyExchange, o.Spatial.SellExchange)
		}
	case Flash:
		if o.Flash != nil {
			return join("flash", o.Pair, o.Flash.BuyExchange, o.Flash.SellExchange)
		}
	case Triangular:
		if o.Triangle != nil {
			c := o.Triangle.Currencies
			return join("tri", o.Triangle.Exchange, c[0], c[1], c[2])
		}
	case CrossTriangular:
		if o.Triangle != nil {
			c := o.Triangle.Currencies
			return join("cross-tri", c[0], c[1], c[2])
		}
	case Statistical:
		if o.Statistical != nil {
			return join("stat", o.Pair, o.Statistical.Exchange1, o.Statistical.Exchange2)
		}
	case MarketMaking:
		if o.MarketMaking != nil {
			return join("mm", o.Pair, o.MarketMaking.Exchange)
		}
	case Pairs:
		if o.Pairs != nil {
			return join("pairs", o.Pairs.Exchange, o.Pairs.Pair1, o.Pairs.Pair2)
		}
	}
	return join(string(o.Kind), o.Pair, strings.Join(o.Exchanges, "-"))
}

// Stamp assigns the timestamp and derives ID from it.
func (o *Opportunity) Stamp(ts time.Time) {
	o.Timestamp = ts
	o.ID = fmt.Sprintf("%s-%d", o.Key(), ts.UnixMilli())
}

func join(parts ...string) string {
	return strings.Join(parts, "-")
}

// Rank sorts by profit descending, ties broken by id.
func Rank(list []Opportunity) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Profit != list[j].Profit {
			return list[i].Profit > list[j].Profit
		}
		return list[i].ID < list[j].ID
	})
}

// Filter keeps opportunities of the given kinds. No kinds keeps everything.
func Filter(list []Opportunity, kinds ...Kind) []Opportunity {
	if len(kinds) == 0 {
		return list
	}
	want := make(map[Kind]struct{}, len(kinds))
	for _, k := range kinds {
		want[k] = struct{}{}
	}
	out := make([]Opportunity, 0, len(list))
	for _, o := range list {
		if _, ok := want[o.Kind]; ok {
			out = append(out, o)
		}
	}
	return out
}
