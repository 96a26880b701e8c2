package validation

import (
	"fmt"
	"math"
	"time"

	"crypto-arb-scanner/internal/market"
)

// Severity grades anomalies.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Anomaly describes a suspicious quote.
type Anomaly struct {
	Symbol   string
	Kind     string
	Severity Severity
	Message  string
}

// DetectPriceAnomalies flags last-price deviation from mid and wide spreads.
func DetectPriceAnomalies(t market.Ticker) []Anomaly {
	var out []Anomaly
	mid := t.Mid()
	if mid > 0 && t.Last > 0 {
		dev := math.Abs(t.Last-mid) / mid * 100
		if dev > 5 {
			sev := SeverityMedium
			if dev > 10 {
				sev = SeverityHigh
			}
			out = append(out, Anomaly{
				Symbol:   t.Symbol,
				Kind:     "price_deviation",
				Severity: sev,
				Message:  fmt.Sprintf("%s last %.8g deviates %.2f%% from mid %.8g", t.Symbol, t.Last, dev, mid),
			})
		}
	}
	if spread := t.SpreadPct(); spread > 2 {
		sev := SeverityMedium
		if spread > 5 {
			sev = SeverityHigh
		}
		out = append(out, Anomaly{
			Symbol:   t.Symbol,
			Kind:     "wide_spread",
			Severity: sev,
			Message:  fmt.Sprintf("%s spread %.2f%%", t.Symbol, spread),
		})
	}
	return out
}

// QualityReport scores a scan's input data on a 0-100 scale.
type QualityReport struct {
	Completeness float64 `json:"completeness"`
	Freshness    float64 `json:"freshness"`
	Accuracy     float64 `json:"accuracy"`
	Consistency  float64 `json:"consistency"`
	Overall      float64 `json:"overall"`
}

// Quality scores the raw snapshots against the requested pair universe.
func Quality(snapshots []market.Snapshot, requiredPairs []string, now time.Time) QualityReport {
	var (
		available  int
		checks     int
		errorCount int
		ageSum     time.Duration
		aged       int
		spreadDev  float64
		spreadN    int
	)

	for _, s := range snapshots {
		for symbol, t := range s.Tickers {
			tk := t
			checks++
			res := ValidateTicker(&tk, symbol, now)
			if !res.Valid {
				errorCount++
				continue
			}
			available++
			if !t.Timestamp.IsZero() {
				ageSum += now.Sub(t.Timestamp)
				aged++
			}
			if sp := t.SpreadPct(); sp > 0 && sp < 10 {
				spreadDev += math.Abs(sp - 0.1)
				spreadN++
			}
		}
	}

	var r QualityReport
	if required := len(snapshots) * len(requiredPairs); required > 0 {
		r.Completeness = math.Min(100, float64(available)/float64(required)*100)
	}
	if aged > 0 {
		avgMinutes := (ageSum / time.Duration(aged)).Minutes()
		r.Freshness = math.Max(0, 100-avgMinutes)
	}
	if spreadN > 0 {
		r.Accuracy = math.Min(100, 100-spreadDev/float64(spreadN))
	}
	if checks > 0 {
		r.Consistency = math.Max(0, 100-float64(errorCount)/float64(checks)*20)
	}

	r.Completeness = math.Round(r.Completeness)
	r.Freshness = math.Round(r.Freshness)
	r.Accuracy = math.Round(r.Accuracy)
	r.Consistency = math.Round(r.Consistency)
	r.Overall = math.Round((r.Completeness + r.Freshness + r.Accuracy + r.Consistency) / 4)
	return r
}
