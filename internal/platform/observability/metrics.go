package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "cyna"

// Metrics owns the Prometheus registry exposed on /metrics.
type Metrics struct {
	registry        *prometheus.Registry
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	reconciled      *prometheus.CounterVec
	authChecks      *prometheus.CounterVec
	authDuration    *prometheus.HistogramVec
	webhookRejected prometheus.Counter
}

// NewMetrics registers the service collectors plus the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "payments",
			Name:      "events_reconciled_total",
			Help:      "Payment gateway events by type and reconciliation outcome.",
		}, []string{"event_type", "outcome"}),
		authChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "auth",
			Name:      "verifications_total",
			Help:      "Bearer token verifications by result.",
		}, []string{"kind", "result", "reason"}),
		authDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "auth",
			Name:      "verification_duration_seconds",
			Help:      "Bearer token verification latency.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		}, []string{"kind"}),
		webhookRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "payments",
			Name:      "webhook_signature_rejected_total",
			Help:      "Webhook deliveries rejected for an invalid signature.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.reconciled,
		m.authChecks,
		m.authDuration,
		m.webhookRejected,
	)
	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveReconcile counts one reconciled payment event.
func (m *Metrics) ObserveReconcile(eventType, outcome string) {
	m.reconciled.WithLabelValues(eventType, outcome).Inc()
}

// RecordVerification counts one bearer token verification.
func (m *Metrics) RecordVerification(_ context.Context, kind string, success bool, reason string, duration time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	m.authChecks.WithLabelValues(kind, result, reason).Inc()
	m.authDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveWebhookRejected counts a webhook delivery that failed signature verification.
func (m *Metrics) ObserveWebhookRejected() {
	m.webhookRejected.Inc()
}

// Middleware records request counts and latency keyed by the matched route pattern.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := newResponseRecorder(w)
			start := time.Now()
			next.ServeHTTP(recorder, r)

			route := routePattern(r)
			method := SanitizeMethod(r.Method)
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(recorder.Status())).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		})
	}
}
