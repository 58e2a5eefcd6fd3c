package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	policyDecisions      *prometheus.CounterVec
	capabilityExecutions *prometheus.CounterVec
	aggregationDuration  prometheus.Histogram
	sourceHealth         *prometheus.GaugeVec
}

// NewMetrics initialises the registry with the HTTP and domain metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetglass_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fleetglass_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	policyDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetglass_policy_decisions_total",
		Help: "Permission decisions by outcome.",
	}, []string{"outcome"})
	capabilityExecutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetglass_capability_executions_total",
		Help: "Capability executions by capability and outcome.",
	}, []string{"capability", "outcome"})
	aggregationDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleetglass_inventory_aggregation_duration_seconds",
		Help:    "Duration of uncached inventory aggregation passes.",
		Buckets: prometheus.DefBuckets,
	})
	sourceHealth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetglass_source_healthy",
		Help: "Source health as reported by the last check (1 healthy, 0 not).",
	}, []string{"source"})

	registry.MustRegister(requests, duration, policyDecisions, capabilityExecutions, aggregationDuration, sourceHealth)
	return &Metrics{
		registry:             registry,
		handler:              promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:        requests,
		requestDuration:      duration,
		policyDecisions:      policyDecisions,
		capabilityExecutions: capabilityExecutions,
		aggregationDuration:  aggregationDuration,
		sourceHealth:         sourceHealth,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// RecordPolicyDecision counts one permission decision.
func (m *Metrics) RecordPolicyDecision(allowed bool) {
	if m == nil {
		return
	}
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	m.policyDecisions.WithLabelValues(outcome).Inc()
}

// RecordCapabilityExecution counts one capability execution.
func (m *Metrics) RecordCapabilityExecution(capability, outcome string) {
	if m == nil {
		return
	}
	m.capabilityExecutions.WithLabelValues(capability, outcome).Inc()
}

// ObserveAggregation records the duration of one aggregation pass.
func (m *Metrics) ObserveAggregation(d time.Duration) {
	if m == nil {
		return
	}
	m.aggregationDuration.Observe(d.Seconds())
}

// SetSourceHealth reflects a source's last health check.
func (m *Metrics) SetSourceHealth(source string, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.sourceHealth.WithLabelValues(source).Set(value)
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
