// Package metrics provides Prometheus metrics for the gateway.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Default histogram buckets. Inference calls are slow, so the range extends to minutes.
var defaultBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}

// Metrics holds all Prometheus metric collectors for the gateway.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	RoutedRequests    *prometheus.CounterVec
	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	GatewayErrors     *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelgate_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modelgate_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modelgate_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		RoutedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelgate_routed_requests_total",
			Help: "Requests routed to a provider, by operation and streaming mode.",
		}, []string{"provider", "operation", "stream"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "modelgate_upstream_request_duration_seconds",
			Help:    "Upstream time to response headers in seconds.",
			Buckets: defaultBuckets,
		}, []string{"provider"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelgate_upstream_responses_total",
			Help: "Total upstream responses by provider and status code.",
		}, []string{"provider", "status_code"}),

		GatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelgate_gateway_errors_total",
			Help: "Requests answered with a gateway error, by provider and error type.",
		}, []string{"provider", "type"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.RoutedRequests,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.GatewayErrors,
	)

	return m
}

// Handler returns the exposition handler for the gateway registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
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

// PathLabels maps request paths to a bounded set of label values. Only the
// routes the gateway actually serves get their own label; everything else,
// including paths that merely end like an operation, is "other".
type PathLabels struct {
	exact map[string]string
}

// NewPathLabels builds the label table for the configured route prefix and
// metrics path. An empty prefix mounts the operations at the root.
func NewPathLabels(prefix, metricsPath string) *PathLabels {
	prefix = strings.TrimRight(prefix, "/")
	exact := map[string]string{
		prefix + "/chat/completions": "/chat/completions",
		prefix + "/embeddings":       "/embeddings",
		"/health":                    "/health",
		"/status":                    "/status",
	}
	if metricsPath != "" {
		exact[metricsPath] = "/metrics"
	}
	return &PathLabels{exact: exact}
}

// Normalize returns the label for path.
func (p *PathLabels) Normalize(path string) string {
	if label, ok := p.exact[path]; ok {
		return label
	}
	return "other"
}
