package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"crypto-arb-scanner/internal/fetcher"
	"crypto-arb-scanner/internal/lifecycle"
	"crypto-arb-scanner/internal/logging"
	"crypto-arb-scanner/internal/market"
	"crypto-arb-scanner/internal/opportunity"
	"crypto-arb-scanner/internal/resilience"
)

// Source kinds.
const (
	SourceSynthetic = "synthetic"
	SourceLive      = "live"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig          `mapstructure:"app"`
	Logging    logging.Config     `mapstructure:"logging"`
	Scanner    ScannerConfig      `mapstructure:"scanner"`
	Resilience ResilienceConfig   `mapstructure:"resilience"`
	Lifecycle  lifecycle.Settings `mapstructure:"lifecycle"`
	Database   DatabaseConfig     `mapstructure:"database"`
	Scheduler  SchedulerConfig    `mapstructure:"scheduler"`
	Cache      CacheConfig        `mapstructure:"cache"`
	Metrics    MetricsConfig      `mapstructure:"metrics"`
	Alerting   AlertingConfig     `mapstructure:"alerting"`
	Export     ExportConfig       `mapstructure:"export"`
	Retention  RetentionConfig    `mapstructure:"retention"`
	Sources    SourcesConfig      `mapstructure:"sources"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ScannerConfig selects the scan universe and detector thresholds.
type ScannerConfig struct {
	Exchanges    []string `mapstructure:"exchanges"`
	Pairs        []string `mapstructure:"pairs"`
	Kinds        []string `mapstructure:"kinds"`
	MinProfitPct float64  `mapstructure:"min_profit_pct"`
	TradeAmount  float64  `mapstructure:"trade_amount"`
	MarketVolume float64  `mapstructure:"market_volume"`
	Seed         uint64   `mapstructure:"seed"`
	Fallback     bool     `mapstructure:"fallback"`
}

// ResilienceConfig tunes retries and circuit breakers around fetches.
type ResilienceConfig struct {
	Retry   resilience.Policy        `mapstructure:"retry"`
	Backoff resilience.Backoff       `mapstructure:"backoff"`
	Breaker resilience.BreakerConfig `mapstructure:"breaker"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs scan cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunImmediately  bool          `mapstructure:"run_immediately"`
}

// CacheConfig configures the Redis ranking cache.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Path       string `mapstructure:"path"`
	Namespace  string `mapstructure:"namespace"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	ThresholdPct float64        `mapstructure:"threshold_pct"`
	Cooldown     time.Duration  `mapstructure:"cooldown"`
	Channels     []string       `mapstructure:"channels"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// RetentionConfig drives the periodic prune job.
type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

// SourcesConfig selects where snapshots come from.
type SourcesConfig struct {
	Kind    string        `mapstructure:"kind"`
	REST    RESTConfig    `mapstructure:"rest"`
	Stream  StreamConfig  `mapstructure:"stream"`
	OnChain OnChainConfig `mapstructure:"onchain"`
}

// RESTConfig configures polling. Empty endpoints use the built-in set.
type RESTConfig struct {
	Timeout   time.Duration                   `mapstructure:"timeout"`
	UserAgent string                          `mapstructure:"user_agent"`
	Endpoints map[string]fetcher.RESTEndpoint `mapstructure:"endpoints"`
}

// StreamConfig configures the WebSocket feed for one exchange.
type StreamConfig struct {
	Enabled      bool                 `mapstructure:"enabled"`
	Exchange     string               `mapstructure:"exchange"`
	URL          string               `mapstructure:"url"`
	Subscribe    string               `mapstructure:"subscribe"`
	SymbolFormat string               `mapstructure:"symbol_format"`
	Fields       fetcher.StreamFields `mapstructure:"fields"`
	StaleAfter   time.Duration        `mapstructure:"stale_after"`
	MaxBackoff   time.Duration        `mapstructure:"max_backoff"`
}

// OnChainConfig configures AMM reserve reads for the uniswap venue.
type OnChainConfig struct {
	Enabled bool           `mapstructure:"enabled"`
	RPCURL  string         `mapstructure:"rpc_url"`
	Timeout time.Duration  `mapstructure:"timeout"`
	Pools   []fetcher.Pool `mapstructure:"pools"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ARBSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "arbscan")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("scanner.exchanges", market.DefaultExchangeIDs)
	v.SetDefault("scanner.pairs", market.DefaultPairs)
	v.SetDefault("scanner.kinds", []string{})
	v.SetDefault("scanner.min_profit_pct", 0.1)
	v.SetDefault("scanner.trade_amount", 1.0)
	v.SetDefault("scanner.market_volume", 10000.0)
	v.SetDefault("scanner.seed", 0)
	v.SetDefault("scanner.fallback", true)

	v.SetDefault("resilience.retry.max_retries", 2)
	v.SetDefault("resilience.retry.base_delay", "2s")
	v.SetDefault("resilience.retry.timeout", "30s")
	v.SetDefault("resilience.backoff.max_delay", "30s")
	v.SetDefault("resilience.backoff.multiplier", 2.0)
	v.SetDefault("resilience.backoff.jitter", true)
	v.SetDefault("resilience.breaker.failure_threshold", 5)
	v.SetDefault("resilience.breaker.success_threshold", 3)
	v.SetDefault("resilience.breaker.recovery_timeout", "60s")

	v.SetDefault("lifecycle.default_ttl", "300s")
	v.SetDefault("lifecycle.profit_change_threshold", 0.1)
	v.SetDefault("lifecycle.highlight_duration", "10s")
	v.SetDefault("lifecycle.grace_period", "1h")

	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x61726273))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_immediately", true)

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.prefix", "arbscan")
	v.SetDefault("cache.ttl", "5m")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9108")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "arbscan")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_pct", 0.5)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("retention.enabled", false)
	v.SetDefault("retention.schedule", "0 3 * * *")
	v.SetDefault("retention.max_age", "720h")

	v.SetDefault("sources.kind", SourceSynthetic)
	v.SetDefault("sources.rest.timeout", "10s")
	v.SetDefault("sources.rest.user_agent", "arbscan/1.0")
	v.SetDefault("sources.stream.enabled", false)
	v.SetDefault("sources.stream.exchange", "binance")
	v.SetDefault("sources.stream.stale_after", "30s")
	v.SetDefault("sources.stream.max_backoff", "16s")
	v.SetDefault("sources.onchain.enabled", false)
	v.SetDefault("sources.onchain.timeout", "10s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.auto_migrate", false)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scanner.MinProfitPct < 0 {
		return fmt.Errorf("scanner.min_profit_pct cannot be negative")
	}
	if c.Scanner.TradeAmount <= 0 {
		return fmt.Errorf("scanner.trade_amount must be greater than zero")
	}
	if len(c.Scanner.Exchanges) == 0 {
		return fmt.Errorf("scanner.exchanges must not be empty")
	}
	if _, err := market.ResolveExchanges(c.Scanner.Exchanges); err != nil {
		return fmt.Errorf("scanner.exchanges: %w", err)
	}
	if len(c.Scanner.Pairs) == 0 {
		return fmt.Errorf("scanner.pairs must not be empty")
	}
	for _, p := range c.Scanner.Pairs {
		if _, err := market.ParsePair(p); err != nil {
			return fmt.Errorf("scanner.pairs: %w", err)
		}
	}
	if _, err := c.DetectorKinds(); err != nil {
		return err
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	switch c.Sources.Kind {
	case SourceSynthetic, SourceLive:
	default:
		return fmt.Errorf("sources.kind must be %q or %q, got %q", SourceSynthetic, SourceLive, c.Sources.Kind)
	}
	if c.Sources.Stream.Enabled && c.Sources.Stream.URL == "" {
		return fmt.Errorf("sources.stream.url is required when the stream is enabled")
	}
	if c.Sources.OnChain.Enabled {
		if c.Sources.OnChain.RPCURL == "" {
			return fmt.Errorf("sources.onchain.rpc_url is required when on-chain pricing is enabled")
		}
		if len(c.Sources.OnChain.Pools) == 0 {
			return fmt.Errorf("sources.onchain.pools must not be empty")
		}
	}
	if c.Retention.Enabled && c.Retention.MaxAge <= 0 {
		return fmt.Errorf("retention.max_age must be greater than zero")
	}
	return nil
}

// DetectorKinds parses scanner.kinds. An empty list means every kind.
func (c *Config) DetectorKinds() ([]opportunity.Kind, error) {
	kinds := make([]opportunity.Kind, 0, len(c.Scanner.Kinds))
	for _, s := range c.Scanner.Kinds {
		if strings.TrimSpace(s) == "" {
			continue
		}
		k, err := opportunity.ParseKind(s)
		if err != nil {
			return nil, fmt.Errorf("scanner.kinds: %w", err)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
