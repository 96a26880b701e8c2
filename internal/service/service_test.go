package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"crypto-arb-scanner/internal/alerting"
	"crypto-arb-scanner/internal/analysis"
	"crypto-arb-scanner/internal/cache"
	"crypto-arb-scanner/internal/lifecycle"
	"crypto-arb-scanner/internal/opportunity"
	"crypto-arb-scanner/internal/scanner"
	"crypto-arb-scanner/internal/storage"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeScanner struct {
	mu      sync.Mutex
	opps    []opportunity.Opportunity
	calls   int
	started chan struct{}
	release chan struct{}
}

func (f *fakeScanner) Scan(_ context.Context, ts time.Time) scanner.Result {
	f.mu.Lock()
	f.calls++
	opps := append([]opportunity.Opportunity(nil), f.opps...)
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
		<-f.release
	}
	for i := range opps {
		opps[i].Stamp(ts)
	}
	return scanner.Result{Timestamp: ts, Opportunities: opps, FetchErrors: map[string]error{}, Duration: time.Millisecond}
}

type fakeStore struct {
	mu         sync.Mutex
	runs       []storage.ScanRun
	records    []storage.OpportunityRecord
	sightings  []storage.Sighting
	alerts     []storage.AlertRecord
	runErr     error
	lastAlerts map[string]time.Time
}

func (f *fakeStore) InsertScanRun(_ context.Context, run storage.ScanRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runErr != nil {
		return f.runErr
	}
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeStore) UpsertOpportunities(_ context.Context, recs []storage.OpportunityRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, recs...)
	return nil
}

func (f *fakeStore) InsertSightings(_ context.Context, s []storage.Sighting) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sightings = append(f.sightings, s...)
	return int64(len(s)), nil
}

func (f *fakeStore) InsertAlert(_ context.Context, a storage.AlertRecord) (storage.AlertRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a.ID = int64(len(f.alerts) + 1)
	f.alerts = append(f.alerts, a)
	return a, nil
}

func (f *fakeStore) ListRecentAlerts(context.Context, int) ([]storage.AlertRecord, error) {
	return f.alerts, nil
}

func (f *fakeStore) LastAlertAt(_ context.Context, key string) (time.Time, bool, error) {
	at, ok := f.lastAlerts[key]
	return at, ok, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
	err   error
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.notes = append(r.notes, n)
	return nil
}

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) PublishRanking(ctx context.Context, r cache.Ranking, breakers map[string]string) error {
	return m.Called(ctx, r, breakers).Error(0)
}

type lockerMock struct {
	mock.Mock
}

func (m *lockerMock) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	args := m.Called(ctx, key)
	return func() {}, args.Bool(0), args.Error(1)
}

func spatial(pair, buy, sell string, profit float64) opportunity.Opportunity {
	return opportunity.Opportunity{
		Kind:      opportunity.Spatial,
		Pair:      pair,
		Exchanges: []string{buy, sell},
		Profit:    profit,
		Spatial:   &opportunity.SpatialDetail{BuyExchange: buy, SellExchange: sell, BuyPrice: 100, SellPrice: 101},
	}
}

type harness struct {
	svc      *Service
	scanner  *fakeScanner
	store    *fakeStore
	notifier *recordingNotifier
	now      *time.Time
}

func newHarness(t *testing.T, opps ...opportunity.Opportunity) harness {
	t.Helper()
	now := t0
	h := harness{
		scanner:  &fakeScanner{opps: opps},
		store:    &fakeStore{},
		notifier: &recordingNotifier{},
		now:      &now,
	}
	clock := func() time.Time { return *h.now }
	svc, err := New(Deps{
		Scanner:    h.scanner,
		Lifecycle:  lifecycle.NewManager(lifecycle.DefaultSettings(), clock),
		Analyzer:   analysis.New(zerolog.Nop()),
		Store:      h.store,
		AlertStore: h.store,
		Gate:       alerting.NewGate(30*time.Minute, h.store),
		Channels:   []alerting.Channel{{Name: "telegram", Notifier: h.notifier}},
	}, Options{AlertsEnabled: true, ThresholdPct: 0.5}, zerolog.Nop())
	require.NoError(t, err)
	h.svc = svc
	return h
}

func TestProcessCyclePersistsAndAlerts(t *testing.T) {
	h := newHarness(t,
		spatial("BTC/USDT", "kucoin", "binance", 0.8),
		spatial("ETH/USDT", "kraken", "okx", 0.2),
	)
	ctx := context.Background()

	out, err := h.svc.ProcessCycle(ctx, t0)
	require.NoError(t, err)
	require.Len(t, out.Entries, 2)
	assert.Equal(t, analysis.ConditionStable, out.Analysis.Condition)

	require.Len(t, h.store.runs, 1)
	run := h.store.runs[0]
	assert.Equal(t, out.RunID, run.ID)
	assert.Equal(t, 2, run.OpportunityCount)
	require.Len(t, h.store.records, 2)
	assert.Equal(t, "NEW", h.store.records[0].Status)
	assert.NotEmpty(t, h.store.records[0].Detail)
	require.Len(t, h.store.sightings, 2)
	assert.Equal(t, out.RunID, h.store.sightings[0].RunID)

	hot := spatial("BTC/USDT", "kucoin", "binance", 0.8).Key()
	assert.Equal(t, []string{hot}, out.Alerted)
	require.Len(t, h.notifier.notes, 1)
	assert.Equal(t, hot, h.notifier.notes[0].Key)
	require.Len(t, h.store.alerts, 1)
	assert.Equal(t, []string{"telegram"}, h.store.alerts[0].Channels)
	assert.Equal(t, "0.5", h.store.alerts[0].ThresholdPct.String())

	// Same profit next cycle: ACTIVE, no new alert.
	*h.now = t0.Add(30 * time.Second)
	out, err = h.svc.ProcessCycle(ctx, t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusActive, out.Entries[0].Status)
	assert.Empty(t, out.Alerted)
	if len(h.notifier.notes) != 1 {
		t.Fatalf("未变化的机会不应重复告警, got %d", len(h.notifier.notes))
	}
}

func TestUpdatedAlertRespectsCooldown(t *testing.T) {
	h := newHarness(t, spatial("BTC/USDT", "kucoin", "binance", 0.8))
	ctx := context.Background()

	_, err := h.svc.ProcessCycle(ctx, t0)
	require.NoError(t, err)

	h.scanner.opps = []opportunity.Opportunity{spatial("BTC/USDT", "kucoin", "binance", 1.2)}
	*h.now = t0.Add(time.Minute)
	out, err := h.svc.ProcessCycle(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusUpdated, out.Entries[0].Status)
	assert.Empty(t, out.Alerted, "冷却期内的 UPDATED 不应告警")

	*h.now = t0.Add(31 * time.Minute)
	h.scanner.opps = []opportunity.Opportunity{spatial("BTC/USDT", "kucoin", "binance", 1.5)}
	out, err = h.svc.ProcessCycle(ctx, t0.Add(31*time.Minute))
	require.NoError(t, err)
	assert.Len(t, out.Alerted, 1)
	assert.Len(t, h.notifier.notes, 2)
}

func TestSinkFailuresDoNotAbort(t *testing.T) {
	h := newHarness(t, spatial("BTC/USDT", "kucoin", "binance", 0.8))
	h.store.runErr = errors.New("db down")
	pub := &publisherMock{}
	pub.On("PublishRanking", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down")).Once()
	h.svc.deps.Cache = pub

	out, err := h.svc.ProcessCycle(context.Background(), t0)
	require.NoError(t, err)
	assert.Len(t, out.Alerted, 1)
	assert.Empty(t, h.store.records, "scan run 失败后不应写入机会")
	pub.AssertExpectations(t)
}

func TestFailedNotifierSkipsRecord(t *testing.T) {
	h := newHarness(t, spatial("BTC/USDT", "kucoin", "binance", 0.8))
	h.notifier.err = errors.New("telegram down")

	out, err := h.svc.ProcessCycle(context.Background(), t0)
	require.NoError(t, err)
	assert.Empty(t, out.Alerted)
	assert.Empty(t, h.store.alerts)
}

func TestCycleInFlight(t *testing.T) {
	h := newHarness(t)
	h.scanner.started = make(chan struct{})
	h.scanner.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.ProcessCycle(context.Background(), t0)
		done <- err
	}()
	<-h.scanner.started

	_, err := h.svc.ProcessCycle(context.Background(), t0)
	if !errors.Is(err, ErrCycleInFlight) {
		t.Fatalf("并发周期应返回 ErrCycleInFlight, got %v", err)
	}
	close(h.scanner.release)
	require.NoError(t, <-done)
}

func TestAdvisoryLockHeld(t *testing.T) {
	h := newHarness(t)
	locker := &lockerMock{}
	locker.On("TryAdvisoryLock", mock.Anything, int64(7)).Return(false, nil)
	h.svc.deps.Locker = locker
	h.svc.opts.LockKey = 7

	_, err := h.svc.ProcessCycle(context.Background(), t0)
	assert.ErrorIs(t, err, ErrLockHeld)
	assert.Zero(t, h.scanner.calls)
}

func TestNewRequiresCore(t *testing.T) {
	_, err := New(Deps{}, Options{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestRunWithoutScheduler(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.svc.Run(context.Background()))
}
