package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"crypto-arb-scanner/internal/cache"
	"crypto-arb-scanner/internal/opportunity"
	"crypto-arb-scanner/internal/storage"
)

// Show prints recently tracked opportunities from Postgres, or the latest
// published ranking from Redis.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	kinds, err := parseKinds(opts.Kind)
	if err != nil {
		return err
	}
	if len(kinds) > 1 {
		return errors.New("--kind accepts a single kind for show")
	}
	if opts.FromCache {
		return a.showCache(ctx, opts, kinds)
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show opportunities (try --cache)")
	}
	defer store.Close()

	kind := ""
	if len(kinds) == 1 {
		kind = string(kinds[0])
	}
	records, err := store.ListRecentOpportunities(ctx, opts.Limit, kind)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no opportunities found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Last seen (UTC)\tType\tPair\tExchanges\tStatus\tProfit%\tUpdates\tExpires")
	for _, r := range records {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.LastSeen.UTC().Format(time.RFC3339),
			r.Kind,
			r.Pair,
			strings.Join(r.Exchanges, ","),
			r.Status,
			r.ProfitPct.StringFixed(3),
			r.UpdateCount,
			r.ExpiresAt.UTC().Format(time.RFC3339),
		)
	}
	return writer.Flush()
}

func (a *App) showCache(ctx context.Context, opts ShowOptions, kinds []opportunity.Kind) error {
	cfg := a.Config.Cache
	c, err := cache.New(ctx, cache.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB, Prefix: cfg.Prefix, TTL: cfg.TTL})
	if err != nil {
		return err
	}
	defer c.Close()

	ranking, err := c.LatestRanking(ctx)
	if errors.Is(err, cache.ErrMiss) {
		fmt.Fprintln(a.Out, "no ranking published yet")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "ranking at %s (market %s, synthetic %t)\n\n",
		ranking.Timestamp.UTC().Format(time.RFC3339), ranking.Condition, ranking.Synthetic)
	opps := limit(opportunity.Filter(ranking.Opportunities, kinds...), opts.Limit)
	if err := writeOpportunityTable(a.Out, opps, nil); err != nil {
		return err
	}

	states, err := c.BreakerStates(ctx)
	if err != nil {
		return err
	}
	if len(states) > 0 {
		ids := make([]string, 0, len(states))
		for id := range states {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = id + "=" + states[id]
		}
		fmt.Fprintf(a.Out, "\nbreakers: %s\n", strings.Join(parts, " "))
	}
	return nil
}
