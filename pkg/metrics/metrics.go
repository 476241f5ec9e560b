// Package metrics exposes the relay's Prometheus collectors on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Webhook delivery outcomes.
const (
	DeliveryDispatched   = "dispatched"
	DeliveryIgnored      = "ignored"
	DeliveryMalformed    = "malformed"
	DeliveryUnauthorized = "unauthorized"
	DeliveryFault        = "fault"
)

// Backend call outcomes. Absent covers both errors and empty output.
const (
	OutcomeOK     = "ok"
	OutcomeAbsent = "absent"
)

// Metrics holds every collector the relay updates.
type Metrics struct {
	registry *prometheus.Registry

	WebhookDeliveries *prometheus.CounterVec
	Intents           *prometheus.CounterVec
	BackendCalls      *prometheus.CounterVec
	BackendDuration   *prometheus.HistogramVec
	SinkFailures      *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec
	HTTPRequests      *prometheus.CounterVec
}

// New creates the collectors on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		WebhookDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lunarelay_webhook_deliveries_total",
				Help: "Inbound webhook deliveries by outcome",
			},
			[]string{"outcome"},
		),
		Intents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lunarelay_intents_total",
				Help: "Dispatched messages by classified intent",
			},
			[]string{"intent"},
		),
		BackendCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lunarelay_backend_calls_total",
				Help: "Text and image backend calls by outcome",
			},
			[]string{"backend", "outcome"},
		),
		BackendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lunarelay_backend_call_duration_seconds",
				Help:    "Duration of backend calls in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
			},
			[]string{"backend"},
		),
		SinkFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lunarelay_sink_failures_total",
				Help: "Outbound deliveries the platform rejected, by kind",
			},
			[]string{"kind"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "lunarelay_backend_breaker_state",
				Help: "Circuit breaker state per backend (0 closed, 1 half-open, 2 open)",
			},
			[]string{"backend"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lunarelay_http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
	}

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	for _, outcome := range []string{DeliveryDispatched, DeliveryIgnored, DeliveryMalformed, DeliveryUnauthorized, DeliveryFault} {
		m.WebhookDeliveries.WithLabelValues(outcome).Add(0)
	}

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// TrackSessions publishes the live conversation count read from count at scrape time.
func (m *Metrics) TrackSessions(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "lunarelay_conversation_sessions",
			Help: "Conversation sessions held in memory",
		},
		func() float64 { return float64(count()) },
	))
}

func (m *Metrics) ObserveDelivery(outcome string) {
	m.WebhookDeliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveIntent(intent string) {
	m.Intents.WithLabelValues(intent).Inc()
}

func (m *Metrics) ObserveBackend(backend string, ok bool, elapsed time.Duration) {
	outcome := OutcomeAbsent
	if ok {
		outcome = OutcomeOK
	}
	m.BackendCalls.WithLabelValues(backend, outcome).Inc()
	m.BackendDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveSinkFailure(kind string) {
	m.SinkFailures.WithLabelValues(kind).Inc()
}

// ObserveBreaker records a gobreaker state transition ("closed", "half-open", "open").
func (m *Metrics) ObserveBreaker(backend string, state string) {
	value := 0.0
	switch state {
	case "half-open":
		value = 1
	case "open":
		value = 2
	}
	m.BreakerState.WithLabelValues(backend).Set(value)
}

const unmatchedRoute = "unmatched"

// Middleware counts requests by chi route pattern. Requests that match no
// route share the unmatched label so arbitrary paths never become labels.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}
