// Package metrics instruments the preflight service's HTTP surface for Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type label string

// LabelPath keys the request path inside instrumented handler contexts.
const LabelPath label = "path"

// Outcome values recorded for preflight version lookups.
const (
	OutcomeVersion       = "version"
	OutcomeNoVersion     = "no_version"
	OutcomeInvalid       = "invalid"
	OutcomeForbiddenRoot = "forbidden_root"
	OutcomeFetchError    = "fetch_error"
)

// Middleware instruments HTTP handlers with request counters, latency
// histograms and in-flight gauges.
type Middleware struct {
	registry prometheus.Registerer
	buckets  []float64
}

// NewMiddleware creates a Middleware registering on the provided registry.
func NewMiddleware(registry prometheus.Registerer) *Middleware {
	return &Middleware{
		registry: registry,
		// Lookups are bounded by the outbound fetch timeout, so latencies
		// cluster well under a second. The top bucket sits just past the 5s
		// fetch cutoff.
		buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	}
}

// WrapEndpoint instruments a single endpoint handler, labeled with handlerName.
func (m *Middleware) WrapEndpoint(handlerName string, handler http.Handler) http.HandlerFunc {
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"handler": handlerName}, m.registry)
	labels := []string{"method", "code", string(LabelPath)}

	requestsTotal := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "preflight_endpoint_requests_total",
			Help: "Number of HTTP requests handled by the endpoint.",
		}, labels,
	)
	requestDuration := promauto.With(reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "preflight_endpoint_request_duration_seconds",
			Help:    "Latencies of HTTP requests handled by the endpoint.",
			Buckets: m.buckets,
		}, labels,
	)
	inFlight := promauto.With(reg).NewGauge(
		prometheus.GaugeOpts{
			Name: "preflight_endpoint_requests_in_flight",
			Help: "Number of HTTP requests the endpoint is currently handling.",
		},
	)

	instrumented := promhttp.InstrumentHandlerInFlight(inFlight,
		promhttp.InstrumentHandlerCounter(
			requestsTotal,
			promhttp.InstrumentHandlerDuration(
				requestDuration,
				handler,
				promhttp.WithLabelFromCtx("path", pathLabelFromCtx),
			),
			promhttp.WithLabelFromCtx("path", pathLabelFromCtx),
		),
	)

	return instrumented.ServeHTTP
}

// WrapMux instruments the whole mux with a method/code counter, catching
// requests no endpoint claims.
func (m *Middleware) WrapMux(handler http.Handler) http.HandlerFunc {
	requestsTotal := promauto.With(m.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "preflight_requests_total",
			Help: "Number of HTTP requests received, including unroutable ones.",
		}, []string{"method", "code"},
	)

	return promhttp.InstrumentHandlerCounter(requestsTotal, handler)
}

// NewPreflightOutcomes registers and returns a counter tracking the terminal
// outcome of preflight version lookups.
func NewPreflightOutcomes(registry prometheus.Registerer) *prometheus.CounterVec {
	return promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "preflight_lookup_outcomes_total",
			Help: "Tracks the terminal outcome of preflight version lookups.",
		}, []string{"outcome"},
	)
}

// WithPathLabel stores the request path in the context so the endpoint
// metrics can label series by path.
func WithPathLabel(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), LabelPath, r.URL.Path)
		handler.ServeHTTP(w, r.WithContext(ctx))
	})
}

func pathLabelFromCtx(ctx context.Context) string {
	if path, ok := ctx.Value(LabelPath).(string); ok {
		return path
	}
	return "unknown"
}
