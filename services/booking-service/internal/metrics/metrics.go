// Package metrics owns the service's Prometheus registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	retries         prometheus.Counter
	duplicates      *prometheus.CounterVec
	reconciled      *prometheus.CounterVec
	published       *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_transitions_total",
			Help: "Persisted booking state transitions",
		}, []string{"from", "to"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_concurrency_retries_total",
			Help: "Booking writes retried after a concurrent update",
		}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_duplicate_events_total",
			Help: "Events dropped because their idempotency key was already recorded",
		}, []string{"source"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_reconciliations_total",
			Help: "Payment signals processed, by source and result",
		}, []string{"source", "result"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Outbox events written to Kafka",
		}, []string{"event_type"}),
	}

	registry.MustRegister(
		m.requestDuration, m.requestTotal, m.transitions, m.retries, m.duplicates, m.reconciled, m.published,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest matches httpx.Observer.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	code := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
	m.requestTotal.WithLabelValues(method, route, code).Inc()
}

func (m *Metrics) Transition(from, to model.BookingStatus) {
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) ConcurrencyRetry() { m.retries.Inc() }

func (m *Metrics) DuplicateEvent(source string) { m.duplicates.WithLabelValues(source).Inc() }

func (m *Metrics) Reconciled(source, result string) {
	m.reconciled.WithLabelValues(source, result).Inc()
}

func (m *Metrics) Published(eventType string) { m.published.WithLabelValues(eventType).Inc() }
