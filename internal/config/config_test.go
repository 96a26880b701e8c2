package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-arb-scanner/internal/market"
	"crypto-arb-scanner/internal/opportunity"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: arbscan-test\n"))
	require.NoError(t, err)

	assert.Equal(t, "arbscan-test", cfg.App.Name)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, market.DefaultExchangeIDs, cfg.Scanner.Exchanges)
	assert.Len(t, cfg.Scanner.Pairs, len(market.DefaultPairs))
	assert.InDelta(t, 0.1, cfg.Scanner.MinProfitPct, 1e-12)
	assert.Equal(t, SourceSynthetic, cfg.Sources.Kind)
	assert.Equal(t, 2, cfg.Resilience.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Resilience.Retry.BaseDelay)
	assert.Equal(t, 5, cfg.Resilience.Breaker.FailureThreshold)
	assert.Equal(t, 300*time.Second, cfg.Lifecycle.DefaultTTL)
	assert.Equal(t, time.Hour, cfg.Lifecycle.GracePeriod)
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, 720*time.Hour, cfg.Retention.MaxAge)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"scanner:",
		"  exchanges: [binance, kraken]",
		"  pairs: [BTC/USDT, ETH/USDT]",
		"  kinds: [spatial, market-making]",
		"sources:",
		"  kind: live",
		"  onchain:",
		"    enabled: true",
		"    rpc_url: http://localhost:8545",
		"    pools:",
		"      - pair: ETH/USDC",
		"        address: \"0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc\"",
		"        base_decimals: 18",
		"        quote_decimals: 6",
		"",
	}, "\n"))
	t.Setenv("ARBSCAN_SCANNER_MIN_PROFIT_PCT", "0.25")
	t.Setenv("ARBSCAN_SCHEDULER_INTERVAL", "1m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"binance", "kraken"}, cfg.Scanner.Exchanges)
	assert.InDelta(t, 0.25, cfg.Scanner.MinProfitPct, 1e-12)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	require.Len(t, cfg.Sources.OnChain.Pools, 1)
	assert.Equal(t, int32(18), cfg.Sources.OnChain.Pools[0].BaseDecimals)

	kinds, err := cfg.DetectorKinds()
	require.NoError(t, err)
	assert.Equal(t, []opportunity.Kind{opportunity.Spatial, opportunity.MarketMaking}, kinds)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, "{}\n"))
		require.NoError(t, err)
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"interval", func(c *Config) { c.Scheduler.Interval = 0 }},
		{"negative threshold", func(c *Config) { c.Scanner.MinProfitPct = -1 }},
		{"unknown exchange", func(c *Config) { c.Scanner.Exchanges = []string{"mtgox"} }},
		{"bad pair", func(c *Config) { c.Scanner.Pairs = []string{"BTCUSDT"} }},
		{"bad kind", func(c *Config) { c.Scanner.Kinds = []string{"arb"} }},
		{"source kind", func(c *Config) { c.Sources.Kind = "csv" }},
		{"telegram token", func(c *Config) { c.Alerting.Telegram.Enabled = true }},
		{"stream url", func(c *Config) { c.Sources.Stream.Enabled = true }},
		{"onchain rpc", func(c *Config) { c.Sources.OnChain.Enabled = true }},
		{"export points", func(c *Config) { c.Export.MaxDataPoints = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("%s: 非法配置应报错", tc.name)
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	assert.Equal(t, 500, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 10, cfg.ResolveMaxPoints(10))
}
