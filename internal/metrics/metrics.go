// Package metrics holds the Prometheus instruments of the chat service.
// Every method is a no-op on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Turns         *prometheus.CounterVec
	Tokens        *prometheus.CounterVec
	Cost          *prometheus.CounterVec
	TurnLatency   *prometheus.HistogramVec
	RecallMatches prometheus.Histogram
	Prunes        *prometheus.CounterVec
	Outbox        *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the instruments on reg. A nil reg uses a fresh registry so
// tests can build many instances.
func New(namespace string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by provider and status.",
		}, []string{"provider", "status"}),
		Tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Estimated tokens by provider, model and direction.",
		}, []string{"provider", "model", "direction"}),
		Cost: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimated_cost_usd_total",
			Help:      "Estimated USD cost by provider and model.",
		}, []string{"provider", "model"}),
		TurnLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_ms",
			Help:      "Completion call latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		}, []string{"provider"}),
		RecallMatches: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recall_matches",
			Help:      "Number of recalled records injected per turn.",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8},
		}),
		Prunes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prune_outcomes_total",
			Help:      "Pruning attempts by outcome.",
		}, []string{"outcome"}),
		Outbox: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_jobs_total",
			Help:      "Outbox jobs applied to the search index by op and result.",
		}, []string{"op", "result"}),
		gatherer: reg,
	}
}

func (m *Metrics) ObserveTurn(provider, model string, ok bool, latency time.Duration, in, out int, cost float64) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.Turns.WithLabelValues(provider, status).Inc()
	m.TurnLatency.WithLabelValues(provider).Observe(float64(latency.Milliseconds()))
	if !ok {
		return
	}
	m.Tokens.WithLabelValues(provider, model, "input").Add(float64(in))
	m.Tokens.WithLabelValues(provider, model, "output").Add(float64(out))
	m.Cost.WithLabelValues(provider, model).Add(cost)
}

func (m *Metrics) ObserveRecall(n int) {
	if m == nil {
		return
	}
	m.RecallMatches.Observe(float64(n))
}

func (m *Metrics) ObservePrune(outcome string) {
	if m == nil {
		return
	}
	m.Prunes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveOutbox(op string, ok bool) {
	if m == nil {
		return
	}
	result := "done"
	if !ok {
		result = "failed"
	}
	m.Outbox.WithLabelValues(op, result).Inc()
}

// Handler serves the registry this instance was built on.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
