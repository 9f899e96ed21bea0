// Package metrics exposes Prometheus counters and gauges for the
// selector and dispatcher, grounded on the teacher's internal/metrics
// package (Srskip-shadowgate) and on chalabi2-caddy-blockchain-health's
// use of github.com/prometheus/client_golang for per-node health
// metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge this balancer exports.
type Metrics struct {
	registry *prometheus.Registry

	SelectorTierPicks *prometheus.CounterVec // labels: tier
	RaceOutcomes      *prometheus.CounterVec // labels: outcome (win, lose, fail)
	RaceBytesWon      prometheus.Histogram
	BackendHealth     *prometheus.GaugeVec // labels: addr; value -1 for Dead
	SequentialRetries prometheus.Counter
}

// New creates a Metrics instance registered on a private registry (so
// multiple instances — e.g. in tests — never collide on the default
// global one).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SelectorTierPicks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "inferlb_selector_tier_picks_total",
			Help: "Number of backends selected, by tier (active, inactive, resurrect).",
		}, []string{"tier"}),
		RaceOutcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "inferlb_race_outcomes_total",
			Help: "Outcome of each racer dispatched for a streaming request.",
		}, []string{"outcome"}),
		RaceBytesWon: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "inferlb_race_winner_bytes",
			Help:    "Bytes received by the winning racer within the measurement window.",
			Buckets: prometheus.ExponentialBuckets(16, 4, 8),
		}),
		BackendHealth: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "inferlb_backend_health_score",
			Help: "Current health score per backend; -1 means Dead.",
		}, []string{"addr"}),
		SequentialRetries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "inferlb_sequential_retries_total",
			Help: "Number of times the sequential dispatcher advanced to the next candidate after a failure.",
		}),
	}
	return m
}

// Handler returns the http.Handler serving this instance's Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHealth records a backend's current score (-1 for Dead) for the
// /admin/metrics gauge.
func (m *Metrics) ObserveHealth(addr string, dead bool, score float64) {
	if dead {
		m.BackendHealth.WithLabelValues(addr).Set(-1)
		return
	}
	m.BackendHealth.WithLabelValues(addr).Set(score)
}
