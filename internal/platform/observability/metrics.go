package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/artisan-market/api/internal/services"
)

const metricsNamespace = "artisan"

// Metrics exposes business and transport counters to Prometheus. It satisfies
// services.Metrics and auth.MetricsRecorder.
type Metrics struct {
	registry *prometheus.Registry

	ordersCreated        prometheus.Counter
	paymentOutcomes      *prometheus.CounterVec
	holdsExpired         *prometheus.CounterVec
	notificationsDropped *prometheus.CounterVec
	notificationsSent    *prometheus.CounterVec
	verifications        *prometheus.CounterVec
	verificationLatency  *prometheus.HistogramVec
	httpRequests         *prometheus.CounterVec
	httpRequestsInFlight prometheus.Gauge
	httpRequestLatency   *prometheus.HistogramVec
}

var _ services.Metrics = (*Metrics)(nil)

// NewMetrics registers collectors on a dedicated registry. Passing nil creates one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	}
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ordersCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "orders_created_total",
			Help:      "Orders placed, including those later expired.",
		}),
		paymentOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "payment_outcomes_total",
			Help:      "Payment outcomes received per reference kind; applied=false marks duplicates.",
		}, []string{"kind", "outcome", "applied"}),
		holdsExpired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "holds_expired_total",
			Help:      "Unpaid orders and tickets cancelled by the expiry sweep.",
		}, []string{"kind"}),
		notificationsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications discarded before delivery.",
		}, []string{"reason"}),
		notificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "notifications_sent_total",
			Help:      "Notification delivery attempts per sink.",
		}, []string{"sink", "status"}),
		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auth_verifications_total",
			Help:      "Token and webhook signature verifications.",
		}, []string{"kind", "result", "reason"}),
		verificationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "auth_verification_duration_seconds",
			Help:      "Verification latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"kind"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpRequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_in_flight",
			Help:      "Requests currently being served.",
		}),
		httpRequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// OrderCreated implements services.Metrics.
func (m *Metrics) OrderCreated() { m.ordersCreated.Inc() }

// PaymentOutcomeApplied implements services.Metrics.
func (m *Metrics) PaymentOutcomeApplied(kind string, outcome services.PaymentOutcome, applied bool) {
	m.paymentOutcomes.WithLabelValues(kind, string(outcome), strconv.FormatBool(applied)).Inc()
}

// HoldsExpired implements services.Metrics.
func (m *Metrics) HoldsExpired(kind string, count int) {
	if count <= 0 {
		return
	}
	m.holdsExpired.WithLabelValues(kind).Add(float64(count))
}

// NotificationDropped implements services.Metrics.
func (m *Metrics) NotificationDropped(reason string) {
	m.notificationsDropped.WithLabelValues(reason).Inc()
}

// NotificationSent implements services.Metrics.
func (m *Metrics) NotificationSent(sink string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.notificationsSent.WithLabelValues(sink, status).Inc()
}

// RecordVerification implements auth.MetricsRecorder.
func (m *Metrics) RecordVerification(_ context.Context, kind string, success bool, reason string, duration time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	m.verifications.WithLabelValues(kind, result, reason).Inc()
	m.verificationLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// HTTPMiddleware records request counts and latency labelled by chi route pattern.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		recorder := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r)

		route := routePattern(r)
		method := SanitizeMethod(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(recorder.Status())).Inc()
		m.httpRequestLatency.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}
