package analysis

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"crypto-arb-scanner/internal/opportunity"
)

const (
	maxHistory   = 100
	maxAlerts    = 50
	trendWindow  = 3
	alertWindow  = 5
	trendBand    = 0.1
	flashSurge   = 5
	noneStrategy = "none"
)

// Condition classifies the market from one scan.
type Condition string

const (
	ConditionBull     Condition = "BULL"
	ConditionBear     Condition = "BEAR"
	ConditionSideways Condition = "SIDEWAYS"
	ConditionVolatile Condition = "VOLATILE"
	ConditionStable   Condition = "STABLE"
)

// Activity is the activity band.
type Activity string

const (
	ActivityLow     Activity = "LOW"
	ActivityMedium  Activity = "MEDIUM"
	ActivityHigh    Activity = "HIGH"
	ActivityExtreme Activity = "EXTREME"
)

// Trend is the direction over the last few scans.
type Trend string

const (
	TrendIncreasing Trend = "INCREASING"
	TrendDecreasing Trend = "DECREASING"
	TrendStable     Trend = "STABLE"
)

// AlertType names an unusual-activity alert.
type AlertType string

const (
	AlertUnusualActivity AlertType = "UNUSUAL_ACTIVITY"
	AlertHighVolatility  AlertType = "HIGH_VOLATILITY"
	AlertFlashSurge      AlertType = "FLASH_OPPORTUNITY_SURGE"
)

// AlertSeverity grades an alert.
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "INFO"
	AlertWarning  AlertSeverity = "WARNING"
	AlertCritical AlertSeverity = "CRITICAL"
)

// Trends groups the three trend directions.
type Trends struct {
	Profit      Trend `json:"profit"`
	Volume      Trend `json:"volume"`
	Opportunity Trend `json:"opportunity"`
}

// Analysis is the classification of one scan.
type Analysis struct {
	Condition        Condition                `json:"condition"`
	Activity         Activity                 `json:"activity"`
	Volatility       float64                  `json:"volatility"`
	OpportunityCount int                      `json:"opportunityCount"`
	AverageProfit    float64                  `json:"averageProfit"`
	TotalVolume      float64                  `json:"totalVolume"`
	DominantKind     string                   `json:"dominantStrategy"`
	Counts           map[opportunity.Kind]int `json:"counts"`
	RiskLevel        string                   `json:"riskLevel"`
	Timestamp        time.Time                `json:"timestamp"`
	Trends           Trends                   `json:"trends"`
	Alerts           []Alert                  `json:"alerts,omitempty"`
}

// Alert is raised when a scan deviates from recent history.
type Alert struct {
	ID        string        `json:"id"`
	Type      AlertType     `json:"type"`
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message"`
	Current   float64       `json:"current"`
	Average   float64       `json:"average,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Snapshot is the per-scan summary kept in history.
type Snapshot struct {
	Timestamp        time.Time
	OpportunityCount int
	AverageProfit    float64
	TotalVolume      float64
	Volatility       float64
	Counts           map[opportunity.Kind]int
}

// Analyzer keeps a bounded scan history and classifies each new scan against it.
type Analyzer struct {
	mu      sync.Mutex
	history []Snapshot
	alerts  []Alert
	logger  zerolog.Logger
}

// New returns an empty analyzer.
func New(logger zerolog.Logger) *Analyzer {
	return &Analyzer{logger: logger.With().Str("component", "analyzer").Logger()}
}

// Analyze classifies opps and appends the scan to history. Alerts raised by this
// scan are returned on the analysis.
func (a *Analyzer) Analyze(opps []opportunity.Opportunity, now time.Time) Analysis {
	profits := make([]float64, len(opps))
	counts := make(map[opportunity.Kind]int)
	var volume float64
	for i, o := range opps {
		profits[i] = o.Profit
		counts[o.Kind]++
		volume += EstimateVolume(o)
	}
	avg := mean(profits)
	vol := volatility(profits)

	res := Analysis{
		Volatility:       vol,
		OpportunityCount: len(opps),
		AverageProfit:    avg,
		TotalVolume:      volume,
		DominantKind:     dominant(counts),
		Counts:           counts,
		Timestamp:        now,
	}
	res.Condition = classify(len(opps), avg, vol)
	res.Activity = activity(len(opps), avg, vol)
	res.RiskLevel = riskLevel(vol, res.Condition, res.Activity)

	snap := Snapshot{
		Timestamp:        now,
		OpportunityCount: len(opps),
		AverageProfit:    avg,
		TotalVolume:      volume,
		Volatility:       vol,
		Counts:           counts,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	res.Trends = a.trends()
	a.history = append(a.history, snap)
	if over := len(a.history) - maxHistory; over > 0 {
		a.history = append([]Snapshot(nil), a.history[over:]...)
	}
	res.Alerts = a.checkUnusual(snap)
	return res
}

// EstimateVolume is the notional attributed to one opportunity.
func EstimateVolume(o opportunity.Opportunity) float64 {
	switch o.Kind {
	case opportunity.Spatial, opportunity.Flash:
		return 35000
	case opportunity.Triangular, opportunity.CrossTriangular:
		return 17500
	case opportunity.MarketMaking:
		if o.MarketMaking != nil && o.MarketMaking.Volume > 0 {
			return o.MarketMaking.Volume
		}
		return 15000
	case opportunity.Statistical, opportunity.Pairs:
		return 23000
	default:
		return 10000
	}
}

func classify(count int, avg, vol float64) Condition {
	switch {
	case vol > 2:
		return ConditionVolatile
	case vol < 0.5 && count > 0:
		return ConditionStable
	case avg > 1:
		return ConditionBull
	case avg < 0.3:
		return ConditionBear
	default:
		return ConditionSideways
	}
}

func activity(count int, avg, vol float64) Activity {
	score := float64(count)*0.4 + avg*20 + vol*10
	switch {
	case score > 50:
		return ActivityExtreme
	case score > 30:
		return ActivityHigh
	case score > 15:
		return ActivityMedium
	default:
		return ActivityLow
	}
}

func riskLevel(vol float64, c Condition, act Activity) string {
	score := 0
	switch {
	case vol > 2:
		score += 3
	case vol > 1:
		score += 2
	case vol > 0.5:
		score++
	}
	switch c {
	case ConditionVolatile:
		score += 2
	case ConditionBear:
		score++
	}
	switch act {
	case ActivityExtreme:
		score += 2
	case ActivityHigh:
		score++
	}
	switch {
	case score >= 5:
		return "HIGH"
	case score >= 3:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// trends reads the history before the current scan is appended.
func (a *Analyzer) trends() Trends {
	if len(a.history) < trendWindow {
		return Trends{Profit: TrendStable, Volume: TrendStable, Opportunity: TrendStable}
	}
	recent := a.history[len(a.history)-trendWindow:]
	pick := func(f func(Snapshot) float64) Trend {
		return trend(f(recent[0]), f(recent[len(recent)-1]))
	}
	return Trends{
		Profit:      pick(func(s Snapshot) float64 { return s.AverageProfit }),
		Volume:      pick(func(s Snapshot) float64 { return s.TotalVolume }),
		Opportunity: pick(func(s Snapshot) float64 { return float64(s.OpportunityCount) }),
	}
}

func trend(first, last float64) Trend {
	if first == 0 {
		if last > 0 {
			return TrendIncreasing
		}
		return TrendStable
	}
	change := (last - first) / math.Abs(first)
	switch {
	case change > trendBand:
		return TrendIncreasing
	case change < -trendBand:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func (a *Analyzer) checkUnusual(s Snapshot) []Alert {
	if len(a.history) < alertWindow {
		return nil
	}
	recent := a.history[len(a.history)-alertWindow:]
	var avgCount, avgProfit float64
	for _, h := range recent {
		avgCount += float64(h.OpportunityCount)
		avgProfit += h.AverageProfit
	}
	avgCount /= alertWindow
	avgProfit /= alertWindow

	var raised []Alert
	if float64(s.OpportunityCount) > avgCount*2 {
		raised = append(raised, a.raise(s.Timestamp, AlertUnusualActivity, AlertWarning,
			fmt.Sprintf("opportunity count jumped to %d (average %.0f)", s.OpportunityCount, avgCount),
			float64(s.OpportunityCount), avgCount))
	}
	if s.AverageProfit > avgProfit*1.5 {
		raised = append(raised, a.raise(s.Timestamp, AlertHighVolatility, AlertInfo,
			fmt.Sprintf("average profit jumped to %.2f%% (average %.2f%%)", s.AverageProfit, avgProfit),
			s.AverageProfit, avgProfit))
	}
	if n := s.Counts[opportunity.Flash]; n > flashSurge {
		raised = append(raised, a.raise(s.Timestamp, AlertFlashSurge, AlertCritical,
			fmt.Sprintf("%d flash opportunities detected", n), float64(n), 0))
	}
	return raised
}

func (a *Analyzer) raise(ts time.Time, typ AlertType, sev AlertSeverity, msg string, current, average float64) Alert {
	al := Alert{
		ID:        uuid.NewString(),
		Type:      typ,
		Severity:  sev,
		Message:   msg,
		Current:   current,
		Average:   average,
		Timestamp: ts,
	}
	a.alerts = append([]Alert{al}, a.alerts...)
	if len(a.alerts) > maxAlerts {
		a.alerts = a.alerts[:maxAlerts]
	}

	ev := a.logger.Info()
	if sev != AlertInfo {
		ev = a.logger.Warn()
	}
	ev.Str("type", string(typ)).Str("severity", string(sev)).Msg(msg)
	return al
}

// RecentAlerts returns up to n alerts, newest first.
func (a *Analyzer) RecentAlerts(n int) []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n <= 0 || n > len(a.alerts) {
		n = len(a.alerts)
	}
	return append([]Alert(nil), a.alerts[:n]...)
}

// History returns the snapshots at or after since, oldest first.
func (a *Analyzer) History(since time.Time) []Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Snapshot
	for _, s := range a.history {
		if !s.Timestamp.Before(since) {
			out = append(out, s)
		}
	}
	return out
}

// Clear drops history and alerts.
func (a *Analyzer) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
	a.alerts = nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// volatility is the population standard deviation of profits.
func volatility(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var v float64
	for _, x := range xs {
		v += (x - m) * (x - m)
	}
	return math.Sqrt(v / float64(len(xs)))
}

// dominant picks the most frequent kind, breaking ties by kind name.
func dominant(counts map[opportunity.Kind]int) string {
	kinds := make([]opportunity.Kind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	best, bestN := noneStrategy, 0
	for _, k := range kinds {
		if counts[k] > bestN {
			best, bestN = string(k), counts[k]
		}
	}
	return best
}
