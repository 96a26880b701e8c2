package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-arb-scanner/internal/opportunity"
	"crypto-arb-scanner/internal/resilience"
	"crypto-arb-scanner/internal/validation"
)

func TestObserveScan(t *testing.T) {
	c := New("test")
	c.ObserveScan(ScanObservation{
		Duration: 250 * time.Millisecond,
		Opportunities: []opportunity.Opportunity{
			{Kind: opportunity.Spatial},
			{Kind: opportunity.Spatial},
			{Kind: opportunity.MarketMaking},
		},
		FetchErrors: map[string]error{
			"kraken": resilience.Errorf(resilience.KindRateLimit, "kraken", "fetch", "status 429"),
		},
		Synthetic: true,
		Quality:   87.5,
		Breakers:  map[string]resilience.State{"kraken": resilience.StateOpen, "binance": resilience.StateClosed},
		Anomalies: map[string][]validation.Anomaly{
			"kucoin": {
				{Symbol: "BTC/USDT", Kind: "price_deviation", Severity: validation.SeverityHigh},
				{Symbol: "ETH/USDT", Kind: "wide_spread", Severity: validation.SeverityHigh},
			},
		},
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.opportunities.WithLabelValues(string(opportunity.Spatial))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.opportunities.WithLabelValues(string(opportunity.MarketMaking))))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.opportunities.WithLabelValues(string(opportunity.Flash))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fetchErrors.WithLabelValues("kraken", "RATE_LIMIT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerState.WithLabelValues("kraken")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.breakerState.WithLabelValues("binance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fallbacks))
	assert.Equal(t, 87.5, testutil.ToFloat64(c.quality))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycles.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.anomalies.WithLabelValues("kucoin", "HIGH")))

	// Second scan without spatial results clears the gauge.
	c.ObserveScan(ScanObservation{Opportunities: []opportunity.Opportunity{{Kind: opportunity.Flash}}})
	if got := testutil.ToFloat64(c.opportunities.WithLabelValues(string(opportunity.Spatial))); got != 0 {
		t.Fatalf("旧的 spatial 计数应被清零, got %v", got)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fallbacks))
}

func TestAlertsAndSkips(t *testing.T) {
	c := New("")
	c.AlertSent("telegram", nil)
	c.AlertSent("telegram", io.EOF)
	c.CycleSkipped("in_flight")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.alertsSent.WithLabelValues("telegram", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.alertsSent.WithLabelValues("telegram", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycles.WithLabelValues("in_flight")))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.ObserveScan(ScanObservation{})
	c.AlertSent("telegram", nil)
	c.CycleSkipped("locked")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestHandlerExposition(t *testing.T) {
	c := New("arbscan")
	c.ObserveScan(ScanObservation{Quality: 50})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "arbscan_scan_data_quality 50"), body)
	assert.True(t, strings.Contains(body, "arbscan_scan_cycles_total{outcome=\"ok\"} 1"))
}
