// Package metrics exposes the proxy's Prometheus surface, grounded on
// mercator-hq-jupiter's pkg/telemetry/metrics.Collector (a dedicated
// registry plus CounterVec/HistogramVec per concern, served through
// promhttp). Scaled down from jupiter's cost/cache/policy breadth to the
// handful of series a single-tenant-per-app proxy actually produces.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synebula/cc-switch/internal/domain"
)

const namespace = "cc_switch"

// Collector owns every series the proxy records and the registry they're
// bound to, so a control-plane /metrics handler has exactly one thing to
// mount.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec
	failoversTotal  *prometheus.CounterVec
	circuitState    *prometheus.GaugeVec
}

// New builds a Collector with its own registry, isolated from the global
// default so tests never leak series across runs.
func New() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total proxied requests by app, provider and status.",
		}, []string{"app", "provider", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Upstream round-trip duration by app and provider.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"app", "provider"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Total tokens accounted by app, provider and kind (input/output/cache_read/cache_creation).",
		}, []string{"app", "provider", "kind"}),
		failoversTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failovers_total",
			Help:      "Total provider switches by app and reason.",
		}, []string{"app", "reason"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Current circuit state per (app, provider): 0=closed, 1=half_open, 2=open.",
		}, []string{"app", "provider"}),
	}

	registry.MustRegister(c.requestsTotal, c.requestDuration, c.tokensTotal, c.failoversTotal, c.circuitState)
	return c
}

// Handler serves the registry in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}

// RecordRequest accounts one completed proxied request.
func (c *Collector) RecordRequest(app domain.App, providerID string, status domain.RequestStatus, duration float64) {
	c.requestsTotal.WithLabelValues(string(app), providerID, string(status)).Inc()
	c.requestDuration.WithLabelValues(string(app), providerID).Observe(duration)
}

// RecordUsage adds one request's token counters to the running totals.
func (c *Collector) RecordUsage(app domain.App, providerID string, usage domain.UsageCounters) {
	c.tokensTotal.WithLabelValues(string(app), providerID, "input").Add(float64(usage.InputTokens))
	c.tokensTotal.WithLabelValues(string(app), providerID, "output").Add(float64(usage.OutputTokens))
	c.tokensTotal.WithLabelValues(string(app), providerID, "cache_read").Add(float64(usage.CacheReadTokens))
	c.tokensTotal.WithLabelValues(string(app), providerID, "cache_creation").Add(float64(usage.CacheCreationTokens))
}

// RecordFailover counts one automatic or manual provider switch.
func (c *Collector) RecordFailover(app domain.App, reason string) {
	c.failoversTotal.WithLabelValues(string(app), reason).Inc()
}

// SetCircuitState publishes the current circuit state for (app, providerId).
func (c *Collector) SetCircuitState(app domain.App, providerID string, state domain.CircuitStateKind) {
	var value float64
	switch state {
	case domain.CircuitHalfOpen:
		value = 1
	case domain.CircuitOpen:
		value = 2
	}
	c.circuitState.WithLabelValues(string(app), providerID).Set(value)
}
