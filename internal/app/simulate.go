package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"crypto-arb-scanner/internal/alerting"
	"crypto-arb-scanner/internal/lifecycle"
)

// Simulate 在合成行情上离线运行若干周期，不写入数据库。
// 模拟时钟每个周期前进一个调度间隔，生命周期 TTL 与线上一致。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Cycles <= 0 {
		return errors.New("--cycles must be greater than zero")
	}

	var channels []alerting.Channel
	if opts.Notify {
		if !a.Config.Alerting.Enabled {
			return errors.New("alerting 未启用")
		}
		channels = a.newChannels()
		if len(channels) == 0 {
			return errors.New("未配置任何告警通道")
		}
	}

	interval := a.Config.Scheduler.Interval
	var mu sync.Mutex
	now := time.Now().UTC().Truncate(interval)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	seed := opts.Seed
	rt, err := a.build(ctx, buildOptions{synthetic: true, seed: &seed, clock: clock})
	if err != nil {
		return err
	}
	defer rt.Close()

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Cycle\tTime (UTC)\tFound\tNew\tUpdated\tActive\tBest%\tMarket\tRisk\tExecuted")
	for i := 1; i <= opts.Cycles; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		bucket := clock()
		out, err := rt.service.ProcessCycle(ctx, bucket)
		if err != nil {
			return err
		}

		counts := make(map[lifecycle.Status]int)
		for _, e := range out.Entries {
			counts[e.Status]++
		}
		best := "-"
		if len(out.Scan.Opportunities) > 0 {
			best = decimal.NewFromFloat(out.Scan.Opportunities[0].Profit).StringFixed(3)
		}
		executed := "-"
		if opts.Execute {
			if key, ok := bestLive(out.Entries); ok {
				if err := rt.lifecycle.MarkExecuted(key); err != nil {
					return err
				}
				executed = key
			}
		}
		fmt.Fprintf(writer, "%d\t%s\t%d\t%d\t%d\t%d\t%s\t%s\t%s\t%s\n",
			i, bucket.Format(time.RFC3339), len(out.Scan.Opportunities),
			counts[lifecycle.StatusNew], counts[lifecycle.StatusUpdated], counts[lifecycle.StatusActive],
			best, out.Analysis.Condition, out.Analysis.RiskLevel, executed)

		mu.Lock()
		now = now.Add(interval)
		mu.Unlock()
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	stats := rt.lifecycle.Stats()
	fmt.Fprintf(a.Out, "\ntracked: %d  live: %d  expired: %d  executed: %d  avg profit: %s%%\n",
		stats.Total,
		stats.ByStatus[lifecycle.StatusNew]+stats.ByStatus[lifecycle.StatusActive]+stats.ByStatus[lifecycle.StatusUpdated],
		stats.ByStatus[lifecycle.StatusExpired],
		stats.ByStatus[lifecycle.StatusExecuted],
		decimal.NewFromFloat(stats.AverageProfit).StringFixed(3))
	for _, al := range rt.analyzer.RecentAlerts(5) {
		fmt.Fprintf(a.Out, "alert [%s] %s: %s\n", al.Severity, al.Type, al.Message)
	}

	if !opts.Notify {
		return nil
	}
	active := rt.lifecycle.Active()
	if len(active) == 0 {
		return errors.New("模拟结束时没有可告警的机会")
	}
	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = ch.Name
	}
	note := alerting.FromEntry(active[0], a.Config.Alerting.ThresholdPct, names, clock())
	note.AdditionalMsg = "(simulated)"
	for _, ch := range channels {
		if err := ch.Notifier.Notify(ctx, note); err != nil {
			return fmt.Errorf("send test alert via %s: %w", ch.Name, err)
		}
	}
	fmt.Fprintf(a.Out, "test alert sent for %s via %d channel(s)\n", note.Key, len(channels))
	return nil
}

// bestLive picks the most profitable live entry of a cycle.
func bestLive(entries []lifecycle.Entry) (string, bool) {
	var key string
	best := -1.0
	found := false
	for _, e := range entries {
		if !e.Status.Live() {
			continue
		}
		if !found || e.Opportunity.Profit > best {
			key, best, found = e.Key, e.Opportunity.Profit, true
		}
	}
	return key, found
}
