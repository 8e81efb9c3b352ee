// Package metrics provides Prometheus metrics for SCEMS.
// Counters, gauges and histograms for the LTM cache, routing, dispatch,
// agent health and the HTTP surface of both roles.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── LTM ────────────────────────────────────────────────────────────────────

// LTMLookups tracks cache lookups by result (hit, miss).
var LTMLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "scems",
	Name:      "ltm_lookups_total",
	Help:      "LTM lookups by result.",
}, []string{"result"})

// LTMComputations tracks capability computations actually executed.
var LTMComputations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "scems",
	Name:      "ltm_computations_total",
	Help:      "Capability computations run on cache miss.",
}, []string{"capability"})

// LTMFallbacks tracks switches from the durable backend to the fallback store.
var LTMFallbacks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "scems",
	Name:      "ltm_fallbacks_total",
	Help:      "Times the LTM fell back from its durable backend.",
})

// LTMSwept tracks expired entries removed by sweeps.
var LTMSwept = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "scems",
	Name:      "ltm_swept_total",
	Help:      "Expired LTM entries removed.",
})

// ─── Routing & Dispatch ─────────────────────────────────────────────────────

// RouteDecisions tracks intent router outcomes ("no_match" for misses).
var RouteDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "scems",
	Name:      "route_decisions_total",
	Help:      "Intent routing outcomes by capability.",
}, []string{"capability"})

// DispatchLatency tracks task dispatch round trips.
var DispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "scems",
	Name:      "dispatch_latency_seconds",
	Help:      "Task dispatch duration in seconds.",
	Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
}, []string{"capability", "mode"})

// DispatchFailures tracks synthesized FAILURE reports by reason.
var DispatchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "scems",
	Name:      "dispatch_failures_total",
	Help:      "Dispatches converted into FAILURE reports.",
}, []string{"reason"})

// ─── Registry & Health ──────────────────────────────────────────────────────

// AgentsRegistered tracks the registry size.
var AgentsRegistered = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "scems",
	Name:      "agents_registered",
	Help:      "Number of agents in the registry.",
})

// AgentHealthy tracks the last probe verdict per agent (1=healthy, 0=unhealthy).
var AgentHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "scems",
	Name:      "agent_healthy",
	Help:      "Last health probe result per agent (1=healthy, 0=unhealthy).",
}, []string{"agent"})

// HealthProbeLatency tracks health probe round trips.
var HealthProbeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "scems",
	Name:      "health_probe_latency_seconds",
	Help:      "Agent health probe duration in seconds.",
	Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// HTTPRequests tracks served requests per role.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "scems",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "Total HTTP requests.",
}, []string{"role", "method", "path", "status"})

// HTTPDuration tracks request handling time per role.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "scems",
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"role", "method", "path"})

// RecordHTTPRequest observes one served request.
func RecordHTTPRequest(role, method, path string, status int, d time.Duration) {
	HTTPRequests.WithLabelValues(role, method, path, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(role, method, path).Observe(d.Seconds())
}

// SetAgentHealth records a probe verdict.
func SetAgentHealth(agent string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	AgentHealthy.WithLabelValues(agent).Set(v)
}
