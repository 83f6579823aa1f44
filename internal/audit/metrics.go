package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Published counts publish attempts by channel and result (ok, failed, dropped).
	Published *prometheus.CounterVec

	// QueueFill is the number of records waiting in the async queue (backpressure).
	QueueFill prometheus.Gauge

	// ErrorsIntercepted counts error dispatches handled, split by whether the response was already committed.
	ErrorsIntercepted *prometheus.CounterVec

	BodyLines prometheus.Counter

	// CircuitBreakerState: 0 closed, 0.5 half-open, 1 open.
	CircuitBreakerState *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// unregistered sink when the host does not export metrics
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Published: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "audit_records_published_total",
			Help: "Total number of audit records handed to the transport.",
		}, []string{"channel", "result"}),

		QueueFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "audit_queue_utilization",
			Help: "Current number of records in the audit queue.",
		}),

		ErrorsIntercepted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "audit_errors_intercepted_total",
			Help: "Total number of failed requests seen by the error interceptor.",
		}, []string{"committed"}),

		BodyLines: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "audit_body_lines_total",
			Help: "Total number of request body log lines emitted.",
		}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "audit_circuit_breaker_state",
			Help: "Current state of the transport circuit breaker (0=closed, 1=open).",
		}, []string{"sink"}),
	}
}
