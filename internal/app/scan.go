package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"crypto-arb-scanner/internal/alerting"
	"crypto-arb-scanner/internal/analysis"
	"crypto-arb-scanner/internal/opportunity"
	"crypto-arb-scanner/internal/resilience"
	"crypto-arb-scanner/internal/validation"
)

// scanReport is the JSON shape of the scan command.
type scanReport struct {
	RunID         string                    `json:"runId"`
	Timestamp     time.Time                 `json:"timestamp"`
	Synthetic     bool                      `json:"synthetic"`
	DurationMS    int64                     `json:"durationMs"`
	Quality       validation.QualityReport  `json:"quality"`
	Analysis      analysis.Analysis         `json:"analysis"`
	FetchErrors   map[string]string         `json:"fetchErrors,omitempty"`
	Breakers      map[string]string         `json:"breakers,omitempty"`
	Errors        resilience.Stats          `json:"errors"`
	Opportunities []opportunity.Opportunity `json:"opportunities"`
}

// Scan runs one cycle and prints the ranking.
func (a *App) Scan(ctx context.Context, opts ScanOptions) error {
	kinds, err := parseKinds(opts.Kind)
	if err != nil {
		return err
	}
	format := strings.ToLower(opts.Format)
	if format == "" {
		format = "table"
	}
	if format != "table" && format != "json" {
		return fmt.Errorf("unsupported --format %q (table|json)", opts.Format)
	}

	rt, err := a.build(ctx, buildOptions{persist: true, cache: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	out, err := rt.service.ProcessCycle(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	opps := limit(opportunity.Filter(out.Scan.Opportunities, kinds...), opts.Limit)

	if format == "json" {
		report := scanReport{
			RunID:         out.RunID.String(),
			Timestamp:     out.Scan.Timestamp,
			Synthetic:     out.Scan.Synthetic,
			DurationMS:    out.Scan.Duration.Milliseconds(),
			Quality:       out.Scan.Quality,
			Analysis:      out.Analysis,
			FetchErrors:   make(map[string]string, len(out.Scan.FetchErrors)),
			Breakers:      make(map[string]string),
			Errors:        rt.tracker.Stats(),
			Opportunities: opps,
		}
		for ex, ferr := range out.Scan.FetchErrors {
			report.FetchErrors[ex] = ferr.Error()
		}
		for ex, st := range rt.breakers.States() {
			report.Breakers[ex] = st.String()
		}
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	status := make(map[string]string, len(out.Entries))
	for _, e := range out.Entries {
		status[e.Key] = string(e.Status)
	}
	if err := writeOpportunityTable(a.Out, opps, status); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "\nmarket: %s  activity: %s  risk: %s  quality: %s  synthetic: %t  failed: %d  took: %s\n",
		out.Analysis.Condition, out.Analysis.Activity, out.Analysis.RiskLevel,
		decimal.NewFromFloat(out.Scan.Quality.Overall).StringFixed(1),
		out.Scan.Synthetic, len(out.Scan.FetchErrors), out.Scan.Duration.Round(time.Millisecond))
	for _, al := range out.Analysis.Alerts {
		fmt.Fprintf(a.Out, "alert [%s] %s: %s\n", al.Severity, al.Type, al.Message)
	}
	return nil
}

func writeOpportunityTable(w io.Writer, opps []opportunity.Opportunity, status map[string]string) error {
	if len(opps) == 0 {
		fmt.Fprintln(w, "no opportunities found")
		return nil
	}
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "#\tType\tPair\tRoute\tProfit%\tStatus")
	for i, o := range opps {
		st := status[o.Key()]
		if st == "" {
			st = "-"
		}
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\n",
			i+1, o.Kind, o.Pair, sanitizeInline(alerting.Route(o)),
			decimal.NewFromFloat(o.Profit).StringFixed(3), st)
	}
	return writer.Flush()
}

func parseKinds(csv string) ([]opportunity.Kind, error) {
	var kinds []opportunity.Kind
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, err := opportunity.ParseKind(part)
		if err != nil {
			return nil, fmt.Errorf("invalid --kind: %w", err)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func limit[T any](xs []T, n int) []T {
	if n > 0 && len(xs) > n {
		return xs[:n]
	}
	return xs
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
