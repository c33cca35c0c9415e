// Package metrics provides Prometheus metrics for the pharmacy platform.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	PrescriptionsUploaded    prometheus.Counter
	PrescriptionsVerified    prometheus.Counter
	PrescriptionsRejected    prometheus.Counter
	UploadValidationFailures *prometheus.CounterVec
	OrdersPlaced             prometheus.Counter
	OrderTransitions         *prometheus.CounterVec
	HTTPRequestDuration      *prometheus.HistogramVec
	RateLimitRejections      *prometheus.CounterVec
	OutboxPending            prometheus.Gauge
	OutboxFailed             prometheus.Gauge
	AuditRecordsWritten      prometheus.Counter
	KafkaMessagesProduced    prometheus.Counter
	KafkaMessagesConsumed    prometheus.Counter
	CircuitBreakerState      *prometheus.GaugeVec
}

// New creates all metrics and registers them with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates all metrics on the given registerer. Tests pass a
// fresh registry to avoid duplicate registration across cases.
func NewWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PrescriptionsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_uploaded_total",
			Help: "Total prescription images accepted for verification",
		}),
		PrescriptionsVerified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_verified_total",
			Help: "Total prescriptions verified by pharmacy admins",
		}),
		PrescriptionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_rejected_total",
			Help: "Total prescriptions rejected by pharmacy admins",
		}),
		UploadValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prescription_upload_validation_failures_total",
			Help: "Upload validation failures by stage",
		}, []string{"stage"}),
		OrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orders_placed_total",
			Help: "Total orders placed",
		}),
		OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_status_transitions_total",
			Help: "Order status transitions by target status",
		}, []string{"to_status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration by route",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route", "status"}),
		RateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter, by scope",
		}, []string{"scope"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Outbox entries awaiting publication",
		}),
		OutboxFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_failed_entries",
			Help: "Outbox entries that exhausted retries",
		}),
		AuditRecordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_records_written_total",
			Help: "Audit trail rows written",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.PrescriptionsUploaded,
		m.PrescriptionsVerified,
		m.PrescriptionsRejected,
		m.UploadValidationFailures,
		m.OrdersPlaced,
		m.OrderTransitions,
		m.HTTPRequestDuration,
		m.RateLimitRejections,
		m.OutboxPending,
		m.OutboxFailed,
		m.AuditRecordsWritten,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.CircuitBreakerState,
	)

	return m
}

// RecordBreakerState maps a breaker state name onto the gauge.
func (m *Metrics) RecordBreakerState(name, state string) {
	var v float64
	switch state {
	case "open":
		v = 1
	case "half-open":
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
