package scanner

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"crypto-arb-scanner/internal/detector"
	"crypto-arb-scanner/internal/fees"
	"crypto-arb-scanner/internal/fetcher"
	"crypto-arb-scanner/internal/market"
	"crypto-arb-scanner/internal/opportunity"
	"crypto-arb-scanner/internal/resilience"
	"crypto-arb-scanner/internal/validation"
)

const minUsableExchanges = 2

// Options configure one scanner.
type Options struct {
	Exchanges []market.Exchange
	Pairs     []string
	Params    detector.Params
	Kinds     []opportunity.Kind
	Policy    resilience.Policy
	// Fallback replaces the working set when too few exchanges are usable.
	// Nil disables the fallback.
	Fallback *fetcher.Synthetic
}

// Result is the outcome of one scan cycle.
type Result struct {
	Timestamp     time.Time
	Snapshots     []market.Snapshot
	Opportunities []opportunity.Opportunity
	Synthetic     bool
	Quality       validation.QualityReport
	FetchErrors   map[string]error
	// Anomalies are suspicious but valid quotes, keyed by exchange id.
	Anomalies map[string][]validation.Anomaly
	Duration  time.Duration
}

// Scanner fetches every exchange, runs the detectors and ranks the output.
type Scanner struct {
	opts     Options
	source   fetcher.Source
	registry *detector.Registry
	executor *resilience.Executor
	tracker  *resilience.Tracker
	logger   zerolog.Logger
}

// New wires a scanner. A nil executor or tracker gets a default one.
func New(opts Options, source fetcher.Source, model *fees.Model, executor *resilience.Executor, tracker *resilience.Tracker, logger zerolog.Logger) *Scanner {
	if len(opts.Pairs) == 0 {
		opts.Pairs = market.DefaultPairs
	}
	if opts.Policy == (resilience.Policy{}) {
		opts.Policy = resilience.FetchPolicy()
	}
	registry := detector.NewDefaultRegistry(opts.Params, model)
	if len(opts.Kinds) > 0 {
		registry = registry.Only(opts.Kinds...)
	}
	if executor == nil {
		executor = resilience.NewExecutor(nil, resilience.DefaultBackoff(), logger)
	}
	if tracker == nil {
		tracker = resilience.NewTracker(logger)
	}
	return &Scanner{
		opts:     opts,
		source:   source,
		registry: registry,
		executor: executor,
		tracker:  tracker,
		logger:   logger.With().Str("component", "scanner").Logger(),
	}
}

// Tracker exposes the error tracker.
func (s *Scanner) Tracker() *resilience.Tracker {
	return s.tracker
}

// Breakers exposes the per-exchange circuit breakers.
func (s *Scanner) Breakers() *resilience.Breakers {
	return s.executor.Breakers()
}

// detectAnomalies checks every valid ticker of snap and logs what it finds.
func (s *Scanner) detectAnomalies(snap market.Snapshot) []validation.Anomaly {
	symbols := make([]string, 0, len(snap.Tickers))
	for symbol := range snap.Tickers {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var found []validation.Anomaly
	for _, symbol := range symbols {
		for _, a := range validation.DetectPriceAnomalies(snap.Tickers[symbol]) {
			s.logger.Warn().Str("exchange", snap.Exchange.ID).Str("symbol", a.Symbol).
				Str("kind", a.Kind).Str("severity", string(a.Severity)).
				Msg(a.Message)
			found = append(found, a)
		}
	}
	return found
}

// Scan runs one cycle. It never fails: fetch errors are recorded in the result
// and the opportunity list may be empty.
func (s *Scanner) Scan(ctx context.Context, ts time.Time) Result {
	start := time.Now()
	if ts.IsZero() {
		ts = start
	}
	res := Result{
		Timestamp:   ts,
		FetchErrors: make(map[string]error),
		Anomalies:   make(map[string][]validation.Anomaly),
	}

	raw := s.fetchAll(ctx, res.FetchErrors)

	working := make([]market.Snapshot, 0, len(raw))
	usable := 0
	for _, snap := range raw {
		if v := validation.ValidateExchangeData(snap); !v.Valid {
			s.logger.Warn().Str("exchange", snap.Exchange.ID).Strs("errors", v.Errors).Msg("exchange data rejected")
			continue
		}
		filtered, issues := validation.FilterValid(snap, ts)
		for _, is := range issues {
			s.logger.Warn().Str("exchange", snap.Exchange.ID).Str("symbol", is.Symbol).
				Strs("errors", is.Errors).Strs("warnings", is.Warnings).
				Msg("ticker validation issues")
		}
		if dropped := len(snap.Tickers) - len(filtered.Tickers); dropped > 0 {
			s.logger.Debug().Str("exchange", snap.Exchange.ID).Int("dropped", dropped).Msg("invalid tickers filtered")
		}
		if found := s.detectAnomalies(filtered); len(found) > 0 {
			res.Anomalies[snap.Exchange.ID] = found
		}
		if !filtered.Empty() {
			usable++
		}
		working = append(working, filtered)
	}

	if usable < minUsableExchanges && s.opts.Fallback != nil {
		s.logger.Warn().Int("usable", usable).Msg("too few exchanges with data, using synthetic snapshots")
		raw = s.opts.Fallback.Generate(s.opts.Exchanges, s.opts.Pairs, ts)
		working = raw
		res.Synthetic = true
	} else if len(working) > 0 {
		res.Synthetic = allSynthetic(working)
	}

	res.Snapshots = working
	res.Opportunities = detector.RunAll(s.registry, working, ts, s.logger)
	opportunity.Rank(res.Opportunities)
	res.Quality = validation.Quality(raw, s.opts.Pairs, ts)
	res.Duration = time.Since(start)

	s.logger.Info().
		Int("exchanges", len(s.opts.Exchanges)).
		Int("usable", usable).
		Int("failed", len(res.FetchErrors)).
		Int("opportunities", len(res.Opportunities)).
		Bool("synthetic", res.Synthetic).
		Dur("duration", res.Duration).
		Msg("scan finished")
	return res
}

func (s *Scanner) fetchAll(ctx context.Context, fetchErrors map[string]error) []market.Snapshot {
	snaps := make([]market.Snapshot, len(s.opts.Exchanges))
	if len(snaps) == 0 {
		return snaps
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(s.opts.Exchanges))
	for i, ex := range s.opts.Exchanges {
		g.Go(func() error {
			// A timed-out attempt may still complete after a retry has started.
			var fetched atomic.Pointer[market.Snapshot]
			err := s.executor.Execute(gctx, ex.ID, s.opts.Policy, func(ctx context.Context) error {
				got, err := s.source.FetchSnapshot(ctx, ex, s.opts.Pairs)
				if err != nil {
					return err
				}
				fetched.Store(&got)
				return nil
			})
			if err != nil {
				s.tracker.Record(err, ex.ID)
				mu.Lock()
				fetchErrors[ex.ID] = err
				mu.Unlock()
				snaps[i] = market.NewSnapshot(ex, time.Now())
				return nil
			}
			snaps[i] = *fetched.Load()
			return nil
		})
	}
	_ = g.Wait()
	return snaps
}

func allSynthetic(snaps []market.Snapshot) bool {
	for _, s := range snaps {
		if !s.Synthetic {
			return false
		}
	}
	return true
}
