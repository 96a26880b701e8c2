package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"crypto-arb-scanner/internal/storage"
)

// maxChartSeries caps how many opportunity keys get their own line.
const maxChartSeries = 8

// Export renders sighting history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer store.Close()

	from, to, err := a.exportWindow(opts)
	if err != nil {
		return err
	}

	sightings, err := store.ListSightings(ctx, from, to, opts.Key)
	if err != nil {
		return err
	}
	if len(sightings) == 0 {
		a.Logger.Info().Msg("no sightings found for export window")
		return nil
	}

	downsampled := downsample(sightings, opts.MaxPoints)
	a.Logger.Info().Int("total", len(sightings)).Int("exported", len(downsampled)).Msg("exporting sightings")

	if opts.CSVPath != "" {
		if err := writeSightingsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSightingsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) exportWindow(opts ExportOptions) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}

func downsample[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	if max == 1 {
		return items[len(items)-1:]
	}

	result := make([]T, 0, max)
	step := float64(len(items)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}

func writeSightingsCSV(path string, sightings []storage.Sighting) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"observed_at", "run_id", "opportunity_key", "profit_pct", "status"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, s := range sightings {
		record := []string{
			s.ObservedAt.UTC().Format(time.RFC3339),
			s.RunID.String(),
			s.OpportunityKey,
			s.ProfitPct.String(),
			s.Status,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// seriesByKey groups sightings per opportunity key, keeping the most sighted
// keys when there are more than maxChartSeries.
func seriesByKey(sightings []storage.Sighting) []chart.Series {
	type line struct {
		key string
		x   []time.Time
		y   []float64
	}
	index := make(map[string]*line)
	for _, s := range sightings {
		l, ok := index[s.OpportunityKey]
		if !ok {
			l = &line{key: s.OpportunityKey}
			index[s.OpportunityKey] = l
		}
		l.x = append(l.x, s.ObservedAt)
		l.y = append(l.y, s.ProfitPct.InexactFloat64())
	}

	lines := make([]*line, 0, len(index))
	for _, l := range index {
		lines = append(lines, l)
	}
	sort.Slice(lines, func(i, j int) bool {
		if len(lines[i].x) != len(lines[j].x) {
			return len(lines[i].x) > len(lines[j].x)
		}
		return lines[i].key < lines[j].key
	})
	lines = limit(lines, maxChartSeries)

	series := make([]chart.Series, 0, len(lines))
	for _, l := range lines {
		// go-chart needs at least two points to draw a line.
		if len(l.x) == 1 {
			l.x = append(l.x, l.x[0].Add(time.Second))
			l.y = append(l.y, l.y[0])
		}
		series = append(series, chart.TimeSeries{Name: l.key, XValues: l.x, YValues: l.y})
	}
	return series
}

func writeSightingsPNG(path string, sightings []storage.Sighting) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Profit (%)",
			ValueFormatter: pctFormatter,
		},
		Series: seriesByKey(sightings),
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
