// Package metrics exposes scan-cycle instrumentation in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crypto-arb-scanner/internal/opportunity"
	"crypto-arb-scanner/internal/resilience"
	"crypto-arb-scanner/internal/validation"
)

// Collector owns a private registry so tests and multiple apps never collide.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	scanDuration  prometheus.Histogram
	opportunities *prometheus.GaugeVec
	fetchErrors   *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	fallbacks     prometheus.Counter
	quality       prometheus.Gauge
	alertsSent    *prometheus.CounterVec
	anomalies     *prometheus.CounterVec
}

// New registers every collector under namespace.
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = "arbscan"
	}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "cycles_total",
			Help:      "Scan cycles by outcome.",
		}, []string{"outcome"}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Wall time of a scan including fetches.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		opportunities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "opportunities",
			Help:      "Opportunities found in the latest scan by kind.",
		}, []string{"kind"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "errors_total",
			Help:      "Snapshot fetch failures by exchange and error kind.",
		}, []string{"exchange", "kind"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per exchange (0 closed, 1 open, 2 half-open).",
		}, []string{"exchange"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "synthetic_fallback_total",
			Help:      "Scans that fell back to synthetic data.",
		}),
		quality: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scan",
			Name:      "data_quality",
			Help:      "Overall data quality score of the latest scan (0-100).",
		}),
		alertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "sent_total",
			Help:      "Alerts dispatched by channel and result.",
		}, []string{"channel", "result"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "price_anomalies_total",
			Help:      "Suspicious quotes by exchange and severity.",
		}, []string{"exchange", "severity"}),
	}
	c.registry.MustRegister(
		c.cycles,
		c.scanDuration,
		c.opportunities,
		c.fetchErrors,
		c.breakerState,
		c.fallbacks,
		c.quality,
		c.alertsSent,
		c.anomalies,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in text exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ScanObservation is what one cycle reports.
type ScanObservation struct {
	Duration      time.Duration
	Opportunities []opportunity.Opportunity
	FetchErrors   map[string]error
	Synthetic     bool
	Quality       float64
	Breakers      map[string]resilience.State
	Anomalies     map[string][]validation.Anomaly
}

// ObserveScan records a completed scan.
func (c *Collector) ObserveScan(obs ScanObservation) {
	if c == nil {
		return
	}
	c.cycles.WithLabelValues("ok").Inc()
	c.scanDuration.Observe(obs.Duration.Seconds())

	counts := make(map[opportunity.Kind]int, len(opportunity.Kinds))
	for _, o := range obs.Opportunities {
		counts[o.Kind]++
	}
	// Reset to zero so kinds that vanished do not keep stale values.
	for _, k := range opportunity.Kinds {
		c.opportunities.WithLabelValues(string(k)).Set(float64(counts[k]))
	}

	for ex, err := range obs.FetchErrors {
		c.fetchErrors.WithLabelValues(ex, string(resilience.KindOf(err))).Inc()
	}
	for ex, found := range obs.Anomalies {
		for _, a := range found {
			c.anomalies.WithLabelValues(ex, string(a.Severity)).Inc()
		}
	}
	for ex, st := range obs.Breakers {
		c.breakerState.WithLabelValues(ex).Set(float64(st))
	}
	if obs.Synthetic {
		c.fallbacks.Inc()
	}
	c.quality.Set(obs.Quality)
}

// CycleSkipped counts a cycle that did not run (overlap or lock held).
func (c *Collector) CycleSkipped(reason string) {
	if c == nil {
		return
	}
	c.cycles.WithLabelValues(reason).Inc()
}

// AlertSent counts one alert dispatch attempt.
func (c *Collector) AlertSent(channel string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.alertsSent.WithLabelValues(channel, result).Inc()
}
