package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"crypto-arb-scanner/internal/alerting"
	"crypto-arb-scanner/internal/analysis"
	"crypto-arb-scanner/internal/cache"
	"crypto-arb-scanner/internal/config"
	"crypto-arb-scanner/internal/detector"
	"crypto-arb-scanner/internal/fees"
	"crypto-arb-scanner/internal/fetcher"
	"crypto-arb-scanner/internal/lifecycle"
	"crypto-arb-scanner/internal/market"
	"crypto-arb-scanner/internal/metrics"
	"crypto-arb-scanner/internal/resilience"
	"crypto-arb-scanner/internal/scanner"
	"crypto-arb-scanner/internal/scheduler"
	"crypto-arb-scanner/internal/service"
	"crypto-arb-scanner/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// buildOptions select which optional sinks a command needs.
type buildOptions struct {
	persist   bool
	cache     bool
	metrics   bool
	notify    bool
	synthetic bool
	streaming bool
	seed      *uint64
	clock     func() time.Time
}

// runtime is one fully wired object graph for a command.
type runtime struct {
	model     *fees.Model
	tracker   *resilience.Tracker
	breakers  *resilience.Breakers
	scanner   *scanner.Scanner
	lifecycle *lifecycle.Manager
	analyzer  *analysis.Analyzer
	stream    *fetcher.Stream
	store     *storage.Store
	cache     *cache.Cache
	metrics   *metrics.Collector
	gate      *alerting.Gate
	channels  []alerting.Channel
	service   *service.Service

	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *App) build(ctx context.Context, opts buildOptions) (*runtime, error) {
	cfg := a.Config
	rt := &runtime{}

	exchanges, err := market.ResolveExchanges(cfg.Scanner.Exchanges)
	if err != nil {
		return nil, err
	}
	kinds, err := cfg.DetectorKinds()
	if err != nil {
		return nil, err
	}

	seed := cfg.Scanner.Seed
	if opts.seed != nil {
		seed = *opts.seed
	}
	synthetic := fetcher.NewSynthetic(seed)
	if opts.clock != nil {
		synthetic.WithClock(opts.clock)
	}

	rt.model = fees.NewModel(nil)
	rt.tracker = resilience.NewTracker(a.Logger)
	rt.breakers = resilience.NewBreakers(cfg.Resilience.Breaker)
	executor := resilience.NewExecutor(rt.breakers, cfg.Resilience.Backoff, a.Logger)

	var source fetcher.Source = synthetic
	if cfg.Sources.Kind == config.SourceLive && !opts.synthetic {
		source = a.liveSource(rt, opts.streaming)
	}

	scanOpts := scanner.Options{
		Exchanges: exchanges,
		Pairs:     cfg.Scanner.Pairs,
		Kinds:     kinds,
		Policy:    cfg.Resilience.Retry,
		Params:    detector.Params{
			MinProfitPct: cfg.Scanner.MinProfitPct,
			TradeAmount:  cfg.Scanner.TradeAmount,
			MarketVolume: cfg.Scanner.MarketVolume,
		},
	}
	if cfg.Scanner.Fallback {
		scanOpts.Fallback = synthetic
	}
	rt.scanner = scanner.New(scanOpts, source, rt.model, executor, rt.tracker, a.Logger)
	rt.lifecycle = lifecycle.NewManager(cfg.Lifecycle, opts.clock)
	rt.analyzer = analysis.New(a.Logger)

	if opts.persist {
		store, err := storage.Open(ctx, cfg.Database)
		if err != nil {
			rt.Close()
			return nil, err
		}
		if store == nil {
			a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
		} else {
			rt.store = store
			rt.closers = append(rt.closers, store.Close)
		}
	}

	if opts.cache && cfg.Cache.Enabled {
		c, err := cache.New(ctx, cache.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			Prefix:   cfg.Cache.Prefix,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			a.Logger.Error().Err(err).Msg("redis unavailable; ranking cache disabled")
		} else {
			rt.cache = c
			rt.closers = append(rt.closers, func() { _ = c.Close() })
		}
	}

	if opts.metrics && cfg.Metrics.Enabled {
		rt.metrics = metrics.New(cfg.Metrics.Namespace)
	}

	if opts.notify {
		rt.channels = a.newChannels()
	}
	var lookup alerting.LastAlertLookup
	if rt.store != nil {
		lookup = rt.store
	}
	rt.gate = alerting.NewGate(cfg.Alerting.Cooldown, lookup)

	deps := service.Deps{
		Scanner:   rt.scanner,
		Lifecycle: rt.lifecycle,
		Analyzer:  rt.analyzer,
		Breakers:  rt.breakers,
		Metrics:   rt.metrics,
		Gate:      rt.gate,
		Channels:  rt.channels,
	}
	if rt.store != nil {
		deps.Store = rt.store
		deps.AlertStore = rt.store
		deps.Locker = rt.store
	}
	if rt.cache != nil {
		deps.Cache = rt.cache
	}
	rt.service, err = service.New(deps, service.Options{
		AlertsEnabled: cfg.Alerting.Enabled && opts.notify,
		ThresholdPct:  cfg.Alerting.ThresholdPct,
		LockKey:       cfg.Scheduler.AdvisoryLockKey,
	}, a.Logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// liveSource routes every exchange to REST polling, with the stream and on-chain
// reader taking over the exchanges they cover. The stream is only routed when
// the caller keeps it connected.
func (a *App) liveSource(rt *runtime, streaming bool) fetcher.Source {
	src := a.Config.Sources
	rest := fetcher.NewREST(fetcher.RESTOptions{
		Endpoints: src.REST.Endpoints,
		Timeout:   src.REST.Timeout,
		UserAgent: src.REST.UserAgent,
	}, a.Logger)
	router := fetcher.NewRouter(rest)

	if src.Stream.Enabled && streaming {
		opts := fetcher.StreamOptions{
			URL:          src.Stream.URL,
			Subscribe:    src.Stream.Subscribe,
			SymbolFormat: src.Stream.SymbolFormat,
			Fields:       src.Stream.Fields,
			StaleAfter:   src.Stream.StaleAfter,
			MaxBackoff:   src.Stream.MaxBackoff,
		}
		if opts.URL == "" && strings.EqualFold(src.Stream.Exchange, "binance") {
			opts = fetcher.DefaultBinanceStream()
		}
		rt.stream = fetcher.NewStream(src.Stream.Exchange, opts, a.Logger)
		router.Route(src.Stream.Exchange, rt.stream)
	}
	if src.OnChain.Enabled {
		router.Route("uniswap", fetcher.NewOnChain(fetcher.OnChainOptions{
			RPCURL:  src.OnChain.RPCURL,
			Pools:   src.OnChain.Pools,
			Timeout: src.OnChain.Timeout,
		}, a.Logger))
	}
	return router
}

func (a *App) newChannels() []alerting.Channel {
	cfg := a.Config.Alerting
	var out []alerting.Channel
	for _, name := range cfg.Channels {
		switch name {
		case "telegram":
			if !cfg.Telegram.Enabled {
				a.Logger.Warn().Msg("telegram channel listed but alerting.telegram.enabled is false")
				continue
			}
			out = append(out, alerting.Channel{
				Name:     name,
				Notifier: alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, 10*time.Second, a.Logger),
			})
		case "log":
			out = append(out, alerting.Channel{Name: name, Notifier: alerting.NewLogNotifier(a.Logger)})
		default:
			a.Logger.Warn().Str("channel", name).Msg("unknown alert channel ignored")
		}
	}
	return out
}

// Run executes the long-running scanning service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.build(ctx, buildOptions{persist: true, cache: true, metrics: true, notify: true, streaming: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	sched, err := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToBucket:  a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: a.Config.Scheduler.RunImmediately,
	}, a.Logger)
	if err != nil {
		return err
	}
	svc := rt.service.WithScheduler(sched)

	g, gctx := errgroup.WithContext(ctx)
	if rt.stream != nil {
		g.Go(func() error { return rt.stream.Run(gctx) })
	}
	if rt.metrics != nil {
		g.Go(func() error { return a.serveMetrics(gctx, rt.metrics) })
	}
	if stop, err := a.startRetention(gctx, rt); err != nil {
		return err
	} else if stop != nil {
		defer stop()
	}

	a.Logger.Info().
		Str("source", a.Config.Sources.Kind).
		Dur("interval", a.Config.Scheduler.Interval).
		Int("channels", len(rt.channels)).
		Msg("starting scanning service")
	g.Go(func() error { return svc.Run(gctx) })

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error { return a.watchBreakerResets(gctx, hup, rt.breakers) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("scanning service stopped")
	return nil
}

// watchBreakerResets closes every circuit breaker each time a signal arrives,
// until ctx is done.
func (a *App) watchBreakerResets(ctx context.Context, sigs <-chan os.Signal, breakers *resilience.Breakers) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigs:
			breakers.ResetAll()
			a.Logger.Warn().Str("signal", sig.String()).Msg("all circuit breakers reset")
		}
	}
}

func (a *App) serveMetrics(ctx context.Context, m *metrics.Collector) error {
	mux := http.NewServeMux()
	mux.Handle(a.Config.Metrics.Path, m.Handler())
	srv := &http.Server{Addr: a.Config.Metrics.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.Logger.Info().Str("addr", srv.Addr).Str("path", a.Config.Metrics.Path).Msg("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}
	return ctx.Err()
}

// startRetention schedules the prune job. It returns nil when retention is off
// or there is no database.
func (a *App) startRetention(ctx context.Context, rt *runtime) (func(), error) {
	cfg := a.Config.Retention
	if !cfg.Enabled {
		return nil, nil
	}
	if rt.store == nil {
		a.Logger.Warn().Msg("retention enabled without a database; skipping")
		return nil, nil
	}

	c := cron.New()
	_, err := c.AddFunc(cfg.Schedule, func() {
		cutoff := time.Now().UTC().Add(-cfg.MaxAge)
		res, err := rt.store.Prune(context.WithoutCancel(ctx), cutoff)
		if err != nil {
			a.Logger.Error().Err(err).Msg("retention prune failed")
			return
		}
		rt.gate.Forget(cutoff)
		a.Logger.Info().
			Time("cutoff", cutoff).
			Int64("scan_runs", res.ScanRuns).
			Int64("opportunities", res.Opportunities).
			Int64("alerts", res.Alerts).
			Msg("retention prune complete")
	})
	if err != nil {
		return nil, fmt.Errorf("parse retention.schedule: %w", err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

// ScanOptions configure the one-shot scan command.
type ScanOptions struct {
	Format string
	Limit  int
	Kind   string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit     int
	Kind      string
	FromCache bool
}

// ExportOptions hold parameters for exporting sighting history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	Key       string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// SimulateOptions configure the offline simulation.
type SimulateOptions struct {
	Cycles  int
	Seed    uint64
	Notify  bool
	Execute bool
}

// FeesOptions describe a spatial trade to price.
type FeesOptions struct {
	Pair         string
	BuyExchange  string
	SellExchange string
	BuyPrice     float64
	SellPrice    float64
	Amount       float64
	SpreadPct    float64
	MarketVolume float64
}
