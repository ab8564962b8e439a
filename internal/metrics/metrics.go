// Package metrics exposes Prometheus collectors for the spread monitor. All
// methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spreadbot"

// Metrics bundles every collector the engine reports to.
type Metrics struct {
	registry *prometheus.Registry

	rateWait      *prometheus.HistogramVec
	fetches       *prometheus.CounterVec
	retries       *prometheus.CounterVec
	degraded      *prometheus.GaugeVec
	cycleDuration prometheus.Histogram
	cycleTokens   prometheus.Gauge
	opportunities *prometheus.CounterVec
	discards      *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rateWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for rate budget.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"exchange", "class"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Adapter calls by outcome.",
		}, []string{"exchange", "op", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Retried adapter calls.",
		}, []string{"exchange", "op"}),
		degraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exchange_degraded",
			Help:      "1 when an exchange was disabled after a permanent failure.",
		}, []string{"exchange"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of a full orchestration cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		cycleTokens: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_tokens",
			Help:      "Tokens in the working set of the last cycle.",
		}),
		opportunities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_total",
			Help:      "Qualifying spreads by gate decision.",
		}, []string{"decision"}),
		discards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spread_discards_total",
			Help:      "Quote pairs dropped as bad data.",
		}, []string{"reason"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Alert deliveries by sender and outcome.",
		}, []string{"sender", "outcome"}),
	}
	m.registry.MustRegister(
		m.rateWait, m.fetches, m.retries, m.degraded,
		m.cycleDuration, m.cycleTokens, m.opportunities, m.discards, m.notifications,
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRateWait(exchange, class string, d time.Duration) {
	if m == nil {
		return
	}
	m.rateWait.WithLabelValues(exchange, class).Observe(d.Seconds())
}

func (m *Metrics) Fetch(exchange, op, outcome string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(exchange, op, outcome).Inc()
}

func (m *Metrics) Retry(exchange, op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(exchange, op).Inc()
}

func (m *Metrics) Degraded(exchange string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(exchange).Set(1)
}

func (m *Metrics) Cycle(d time.Duration, tokens int) {
	if m == nil {
		return
	}
	m.cycleDuration.Observe(d.Seconds())
	m.cycleTokens.Set(float64(tokens))
}

func (m *Metrics) Opportunity(decision string) {
	if m == nil {
		return
	}
	m.opportunities.WithLabelValues(decision).Inc()
}

func (m *Metrics) Discard(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.discards.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) Notification(sender, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(sender, outcome).Inc()
}
