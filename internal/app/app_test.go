package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-arb-scanner/internal/config"
	"crypto-arb-scanner/internal/resilience"
	"crypto-arb-scanner/internal/storage"
)

func testApp(t *testing.T, yaml string) (*App, *bytes.Buffer) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = buf
	return a, buf
}

func TestScanJSON(t *testing.T) {
	a, buf := testApp(t, "scanner:\n  seed: 7\n")
	require.NoError(t, a.Scan(context.Background(), ScanOptions{Format: "json", Limit: 5}))

	var report scanReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	assert.True(t, report.Synthetic)
	assert.LessOrEqual(t, len(report.Opportunities), 5)
	assert.InDelta(t, 100, report.Quality.Completeness, 1e-9)
	_, err := uuid.Parse(report.RunID)
	assert.NoError(t, err)
	for i := 1; i < len(report.Opportunities); i++ {
		if report.Opportunities[i].Profit > report.Opportunities[i-1].Profit {
			t.Fatalf("结果应按利润降序排列: %v", report.Opportunities)
		}
	}
}

func TestScanTableAndKindFilter(t *testing.T) {
	a, buf := testApp(t, "scanner:\n  seed: 7\n")
	require.NoError(t, a.Scan(context.Background(), ScanOptions{Kind: "market-making"}))

	out := buf.String()
	assert.Contains(t, out, "market:")
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "spatial") {
			t.Fatalf("--kind 过滤后不应出现 spatial: %q", line)
		}
	}
}

func TestScanRejectsBadInput(t *testing.T) {
	a, _ := testApp(t, "{}\n")
	assert.Error(t, a.Scan(context.Background(), ScanOptions{Format: "xml"}))
	assert.Error(t, a.Scan(context.Background(), ScanOptions{Kind: "arb"}))
}

func TestSimulate(t *testing.T) {
	a, buf := testApp(t, "scheduler:\n  interval: 1m\n")
	require.NoError(t, a.Simulate(context.Background(), SimulateOptions{Cycles: 3, Seed: 42}))

	out := buf.String()
	assert.Contains(t, out, "Cycle")
	assert.Contains(t, out, "tracked:")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.GreaterOrEqual(t, len(lines), 5)
	assert.True(t, strings.HasPrefix(lines[1], "1 "))
	assert.True(t, strings.HasPrefix(lines[3], "3 "))

	assert.Error(t, a.Simulate(context.Background(), SimulateOptions{Cycles: 0}))
	if err := a.Simulate(context.Background(), SimulateOptions{Cycles: 1, Notify: true}); err == nil {
		t.Fatal("未启用告警时 --notify 应报错")
	}
}

func TestSimulateExecute(t *testing.T) {
	a, buf := testApp(t, "scheduler:\n  interval: 1m\n")
	require.NoError(t, a.Simulate(context.Background(), SimulateOptions{Cycles: 4, Seed: 42, Execute: true}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 6)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(lines[0]), "Executed"))

	executed := map[string]bool{}
	for _, line := range lines[1:5] {
		fields := strings.Fields(line)
		if key := fields[len(fields)-1]; key != "-" {
			if executed[key] {
				t.Fatalf("已执行的机会不应再次被执行: %s", key)
			}
			executed[key] = true
		}
	}

	var tracked string
	for _, line := range lines {
		if strings.HasPrefix(line, "tracked:") {
			tracked = line
		}
	}
	require.NotEmpty(t, tracked)
	assert.Contains(t, tracked, fmt.Sprintf("executed: %d ", len(executed)))
}

func TestWatchBreakerResets(t *testing.T) {
	a, _ := testApp(t, "{}\n")
	breakers := resilience.NewBreakers(resilience.BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, RecoveryTimeout: time.Hour})
	breakers.Get("kraken").RecordFailure(errors.New("boom"))
	require.Equal(t, resilience.StateOpen, breakers.Get("kraken").State())

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- a.watchBreakerResets(ctx, sigs, breakers) }()

	sigs <- syscall.SIGHUP
	require.Eventually(t, func() bool {
		return breakers.Get("kraken").State() == resilience.StateClosed
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("取消后应退出")
	}
}

func TestFees(t *testing.T) {
	a, buf := testApp(t, "{}\n")
	err := a.Fees(FeesOptions{
		Pair: "BTC/USDT", BuyExchange: "binance", SellExchange: "kraken",
		BuyPrice: 43000, SellPrice: 43500, Amount: 1, SpreadPct: 0.1, MarketVolume: 10000,
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "Gross profit")
	assert.Contains(t, out, "500.0000")
	assert.Contains(t, out, "Min threshold")

	assert.Error(t, a.Fees(FeesOptions{Pair: "BTC/USDT", BuyPrice: 0, SellPrice: 1}))
	assert.Error(t, a.Fees(FeesOptions{Pair: "BTCUSDT", BuyPrice: 1, SellPrice: 1}))
}

func TestShowAndExportNeedDatabase(t *testing.T) {
	a, _ := testApp(t, "{}\n")
	assert.Error(t, a.Show(context.Background(), ShowOptions{Limit: 10}))
	assert.Error(t, a.Export(context.Background(), ExportOptions{CSVPath: "x.csv"}))
	assert.Error(t, a.Export(context.Background(), ExportOptions{}))
}

func TestExportWindow(t *testing.T) {
	a, _ := testApp(t, "scheduler:\n  interval: 1m\n")
	to := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	from, gotTo, err := a.exportWindow(ExportOptions{To: &to, MaxPoints: 60})
	require.NoError(t, err)
	assert.Equal(t, to, gotTo)
	assert.Equal(t, to.Add(-time.Hour), from)

	_, _, err = a.exportWindow(ExportOptions{From: &to, To: &to, MaxPoints: 1})
	assert.Error(t, err)
}

func TestDownsample(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.Equal(t, []int{0, 3, 6, 9}, downsample(items, 4))
	assert.Equal(t, items, downsample(items, 0))
	assert.Equal(t, []int{9}, downsample(items, 1))
}

func TestExportFiles(t *testing.T) {
	dir := t.TempDir()
	run := uuid.New()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var sightings []storage.Sighting
	for i := 0; i < 4; i++ {
		sightings = append(sightings,
			storage.Sighting{RunID: run, OpportunityKey: "spatial-BTC/USDT-kucoin-binance", ObservedAt: t0.Add(time.Duration(i) * time.Minute), ProfitPct: decimal.NewFromFloat(0.4 + float64(i)/10), Status: "ACTIVE"},
		)
	}
	sightings = append(sightings, storage.Sighting{RunID: run, OpportunityKey: "mm-ETH/USDT-kraken", ObservedAt: t0, ProfitPct: decimal.NewFromFloat(0.25), Status: "NEW"})

	csvPath := filepath.Join(dir, "out", "sightings.csv")
	require.NoError(t, writeSightingsCSV(csvPath, sightings))
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "observed_at,run_id,opportunity_key,profit_pct,status", lines[0])
	assert.Contains(t, lines[1], "2024-01-01T00:00:00Z,"+run.String()+",spatial-BTC/USDT-kucoin-binance,0.4,ACTIVE")

	series := seriesByKey(sightings)
	require.Len(t, series, 2)
	assert.Equal(t, "spatial-BTC/USDT-kucoin-binance", series[0].GetName())

	pngPath := filepath.Join(dir, "chart.png")
	require.NoError(t, writeSightingsPNG(pngPath, sightings))
	info, err := os.Stat(pngPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}
