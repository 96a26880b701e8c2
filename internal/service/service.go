package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-arb-scanner/internal/alerting"
	"crypto-arb-scanner/internal/analysis"
	"crypto-arb-scanner/internal/cache"
	"crypto-arb-scanner/internal/lifecycle"
	"crypto-arb-scanner/internal/metrics"
	"crypto-arb-scanner/internal/resilience"
	"crypto-arb-scanner/internal/scanner"
	"crypto-arb-scanner/internal/scheduler"
	"crypto-arb-scanner/internal/storage"
)

var (
	// ErrCycleInFlight is returned when a cycle starts while another is running.
	ErrCycleInFlight = errors.New("scan cycle already in flight")
	// ErrLockHeld is returned when another instance holds the advisory lock.
	ErrLockHeld = errors.New("advisory lock held elsewhere")
)

// ScanRunner runs one scan. *scanner.Scanner satisfies it.
type ScanRunner interface {
	Scan(ctx context.Context, ts time.Time) scanner.Result
}

// RankingPublisher pushes the latest ranking somewhere fast to read. *cache.Cache
// satisfies it.
type RankingPublisher interface {
	PublishRanking(ctx context.Context, r cache.Ranking, breakers map[string]string) error
}

// Deps are the collaborators of a Service. Only Scanner, Lifecycle and Analyzer
// are required; every other field is an optional sink.
type Deps struct {
	Scanner    ScanRunner
	Lifecycle  *lifecycle.Manager
	Analyzer   *analysis.Analyzer
	Breakers   *resilience.Breakers
	Scheduler  *scheduler.Scheduler
	Store      storage.ScanStore
	AlertStore storage.AlertStore
	Locker     storage.AdvisoryLocker
	Cache      RankingPublisher
	Metrics    *metrics.Collector
	Gate       *alerting.Gate
	Channels   []alerting.Channel
}

// Options tune alerting and locking.
type Options struct {
	AlertsEnabled bool
	ThresholdPct  float64
	LockKey       int64
}

// Outcome is everything one cycle produced.
type Outcome struct {
	RunID    uuid.UUID
	Bucket   time.Time
	Scan     scanner.Result
	Entries  []lifecycle.Entry
	Analysis analysis.Analysis
	Alerted  []string
}

// Service orchestrates scanning, lifecycle tracking, persistence and alerting.
type Service struct {
	deps     Deps
	opts     Options
	logger   zerolog.Logger
	inFlight atomic.Bool
}

// New constructs the service.
func New(deps Deps, opts Options, logger zerolog.Logger) (*Service, error) {
	if deps.Scanner == nil || deps.Lifecycle == nil || deps.Analyzer == nil {
		return nil, fmt.Errorf("service requires scanner, lifecycle and analyzer")
	}
	return &Service{
		deps:   deps,
		opts:   opts,
		logger: logger.With().Str("component", "service").Logger(),
	}, nil
}

// WithScheduler attaches the scheduler used by Run.
func (s *Service) WithScheduler(sched *scheduler.Scheduler) *Service {
	s.deps.Scheduler = sched
	return s
}

// Run drives ProcessCycle from the scheduler until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, func(ctx context.Context, bucket time.Time) error {
		_, err := s.ProcessCycle(ctx, bucket)
		switch {
		case errors.Is(err, ErrCycleInFlight):
			s.deps.Metrics.CycleSkipped("in_flight")
			s.logger.Warn().Time("bucket", bucket).Msg("skip tick because previous cycle is still running")
			return nil
		case errors.Is(err, ErrLockHeld):
			s.deps.Metrics.CycleSkipped("locked")
			s.logger.Debug().Time("bucket", bucket).Msg("skip tick because advisory lock held elsewhere")
			return nil
		}
		return err
	})
}

// ProcessCycle runs one scan cycle for bucket.
func (s *Service) ProcessCycle(ctx context.Context, bucket time.Time) (Outcome, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return Outcome{}, ErrCycleInFlight
	}
	defer s.inFlight.Store(false)

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if !proceed {
		return Outcome{}, ErrLockHeld
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeCycle(ctx, bucket), nil
}

func (s *Service) executeCycle(ctx context.Context, bucket time.Time) Outcome {
	res := s.deps.Scanner.Scan(ctx, bucket)
	entries := s.deps.Lifecycle.Update(res.Opportunities)
	an := s.deps.Analyzer.Analyze(res.Opportunities, res.Timestamp)

	out := Outcome{
		RunID:    storage.NewRunID(),
		Bucket:   bucket,
		Scan:     res,
		Entries:  entries,
		Analysis: an,
	}

	s.persist(ctx, out)
	s.publish(ctx, out)
	s.observe(out)
	out.Alerted = s.alert(ctx, out)

	s.logger.Info().Time("bucket", bucket).
		Str("run_id", out.RunID.String()).
		Int("opportunities", len(res.Opportunities)).
		Int("tracked", len(entries)).
		Str("condition", string(an.Condition)).
		Str("risk", an.RiskLevel).
		Int("alerts", len(out.Alerted)).
		Msg("cycle complete")
	return out
}

func (s *Service) persist(ctx context.Context, out Outcome) {
	if s.deps.Store == nil {
		return
	}
	res := out.Scan
	usable := 0
	for _, snap := range res.Snapshots {
		if !snap.Empty() {
			usable++
		}
	}
	run := storage.ScanRun{
		ID:               out.RunID,
		Bucket:           out.Bucket,
		StartedAt:        res.Timestamp,
		Duration:         res.Duration,
		Exchanges:        usable,
		FailedExchanges:  len(res.FetchErrors),
		OpportunityCount: len(res.Opportunities),
		Synthetic:        res.Synthetic,
		QualityOverall:   decimal.NewFromFloat(res.Quality.Overall).Round(2),
		Condition:        string(out.Analysis.Condition),
		Activity:         string(out.Analysis.Activity),
		RiskLevel:        out.Analysis.RiskLevel,
	}
	if err := s.deps.Store.InsertScanRun(ctx, run); err != nil {
		s.logger.Error().Err(err).Time("bucket", out.Bucket).Msg("failed to insert scan run")
		return
	}

	records := make([]storage.OpportunityRecord, 0, len(out.Entries))
	sightings := make([]storage.Sighting, 0, len(out.Entries))
	for _, e := range out.Entries {
		records = append(records, toRecord(e))
		sightings = append(sightings, storage.Sighting{
			RunID:          out.RunID,
			OpportunityKey: e.Key,
			ObservedAt:     res.Timestamp,
			ProfitPct:      profitDecimal(e.Opportunity.Profit),
			Status:         string(e.Status),
		})
	}
	// Expired entries are upserted too so the table reflects the terminal state.
	for _, e := range s.deps.Lifecycle.Expired() {
		records = append(records, toRecord(e))
	}
	if err := s.deps.Store.UpsertOpportunities(ctx, records); err != nil {
		s.logger.Error().Err(err).Msg("failed to upsert opportunities")
		return
	}
	if _, err := s.deps.Store.InsertSightings(ctx, sightings); err != nil {
		s.logger.Error().Err(err).Msg("failed to insert sightings")
	}
}

func toRecord(e lifecycle.Entry) storage.OpportunityRecord {
	o := e.Opportunity
	detail, err := json.Marshal(o)
	if err != nil {
		detail = nil
	}
	return storage.OpportunityRecord{
		Key:         e.Key,
		Kind:        string(o.Kind),
		Pair:        o.Pair,
		Exchanges:   o.Exchanges,
		Status:      string(e.Status),
		ProfitPct:   profitDecimal(o.Profit),
		FirstSeen:   e.CreatedAt,
		LastSeen:    e.LastUpdated,
		ExpiresAt:   e.ExpiresAt,
		UpdateCount: e.UpdateCount,
		Detail:      detail,
	}
}

func profitDecimal(p float64) decimal.Decimal {
	return decimal.NewFromFloat(p).Round(6)
}

func (s *Service) publish(ctx context.Context, out Outcome) {
	if s.deps.Cache == nil {
		return
	}
	ranking := cache.Ranking{
		Timestamp:     out.Scan.Timestamp,
		Synthetic:     out.Scan.Synthetic,
		Condition:     string(out.Analysis.Condition),
		Opportunities: out.Scan.Opportunities,
	}
	if err := s.deps.Cache.PublishRanking(ctx, ranking, s.breakerStates()); err != nil {
		s.logger.Error().Err(err).Msg("failed to publish ranking to cache")
	}
}

func (s *Service) breakerStates() map[string]string {
	if s.deps.Breakers == nil {
		return nil
	}
	states := s.deps.Breakers.States()
	out := make(map[string]string, len(states))
	for ex, st := range states {
		out[ex] = st.String()
	}
	return out
}

func (s *Service) observe(out Outcome) {
	if s.deps.Metrics == nil {
		return
	}
	obs := metrics.ScanObservation{
		Duration:      out.Scan.Duration,
		Opportunities: out.Scan.Opportunities,
		FetchErrors:   out.Scan.FetchErrors,
		Synthetic:     out.Scan.Synthetic,
		Quality:       out.Scan.Quality.Overall,
		Anomalies:     out.Scan.Anomalies,
	}
	if s.deps.Breakers != nil {
		obs.Breakers = s.deps.Breakers.States()
	}
	s.deps.Metrics.ObserveScan(obs)
}

// alert notifies on fresh or materially changed entries above the threshold and
// returns the keys that were sent.
func (s *Service) alert(ctx context.Context, out Outcome) []string {
	if !s.opts.AlertsEnabled || len(s.deps.Channels) == 0 {
		return nil
	}
	now := out.Scan.Timestamp
	var sent []string
	for _, e := range out.Entries {
		if e.Status != lifecycle.StatusNew && e.Status != lifecycle.StatusUpdated {
			continue
		}
		if e.Opportunity.Profit < s.opts.ThresholdPct {
			continue
		}
		if s.deps.Gate != nil {
			ok, err := s.deps.Gate.Allow(ctx, e.Key, now)
			if err != nil {
				s.logger.Warn().Err(err).Str("key", e.Key).Msg("cooldown lookup failed")
			}
			if !ok {
				s.logger.Debug().Str("key", e.Key).Msg("alert suppressed by cooldown")
				continue
			}
		}

		delivered := s.dispatch(ctx, e, now)
		if len(delivered) == 0 {
			continue
		}
		if s.deps.Gate != nil {
			s.deps.Gate.Record(e.Key, now)
		}
		sent = append(sent, e.Key)

		if s.deps.AlertStore != nil {
			record := storage.AlertRecord{
				OpportunityKey: e.Key,
				Kind:           string(e.Opportunity.Kind),
				ProfitPct:      profitDecimal(e.Opportunity.Profit),
				ThresholdPct:   decimal.NewFromFloat(s.opts.ThresholdPct),
				Channels:       delivered,
			}
			if _, err := s.deps.AlertStore.InsertAlert(ctx, record); err != nil {
				s.logger.Error().Err(err).Str("key", e.Key).Msg("failed to persist alert record")
			}
		}
	}
	return sent
}

func (s *Service) dispatch(ctx context.Context, e lifecycle.Entry, now time.Time) []string {
	names := make([]string, len(s.deps.Channels))
	for i, ch := range s.deps.Channels {
		names[i] = ch.Name
	}
	note := alerting.FromEntry(e, s.opts.ThresholdPct, names, now)

	var delivered []string
	for _, ch := range s.deps.Channels {
		err := ch.Notifier.Notify(ctx, note)
		s.deps.Metrics.AlertSent(ch.Name, err)
		if err != nil {
			s.logger.Error().Err(err).Str("channel", ch.Name).Str("key", e.Key).Msg("failed to dispatch alert")
			continue
		}
		delivered = append(delivered, ch.Name)
	}
	return delivered
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
