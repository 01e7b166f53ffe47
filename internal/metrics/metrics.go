// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Buckets for tunnel lifetimes, which run much longer than plain requests.
var tunnelDurationBuckets = []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	TunnelsTotal   prometheus.Counter
	TunnelsActive  prometheus.Gauge
	TunnelMessages *prometheus.CounterVec
	TunnelDuration prometheus.Histogram
	TunnelErrors   *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_proxy_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "client"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_proxy_upstream_responses_total",
			Help: "Total upstream responses by method, status code, and client pool.",
		}, []string{"method", "status_code", "client"}),

		TunnelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_proxy_websocket_tunnels_total",
			Help: "Total websocket tunnels established.",
		}),

		TunnelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_proxy_websocket_tunnels_active",
			Help: "Number of currently active websocket tunnels.",
		}),

		TunnelMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_proxy_websocket_messages_total",
			Help: "Total websocket messages relayed, by direction.",
		}, []string{"direction"}),

		TunnelDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_proxy_websocket_tunnel_duration_seconds",
			Help:    "Websocket tunnel lifetime in seconds.",
			Buckets: tunnelDurationBuckets,
		}),

		TunnelErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_proxy_websocket_errors_total",
			Help: "Total websocket tunnel errors by type.",
		}, []string{"error_type"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.TunnelsTotal,
		m.TunnelsActive,
		m.TunnelMessages,
		m.TunnelDuration,
		m.TunnelErrors,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the local (non-proxied) path label values.
var knownPrefixes = []string{"/healthz", "/proxy/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
// Everything outside the proxy's own endpoints is forwarded upstream and
// labeled "proxy" to keep cardinality bounded.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "proxy"
}
