// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "call_coach"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsSuccess prometheus.Counter
	SessionsFailed  prometheus.Counter
	SessionDuration prometheus.Histogram

	// Event / turn metrics
	FragmentsReceived *prometheus.CounterVec
	FragmentsDropped  *prometheus.CounterVec
	TurnsClosed       *prometheus.CounterVec
	TurnsDiscarded    prometheus.Counter

	// Guardrail metrics
	GuardrailChecks    prometheus.Counter
	GuardrailTriggered *prometheus.CounterVec

	// Coach metrics
	EvaluationsDispatched prometheus.Counter
	EvaluationsDebounced  prometheus.Counter
	EvaluationsCompleted  prometheus.Counter
	EvaluationsFailed     *prometheus.CounterVec
	EvaluationLatency     prometheus.Histogram
	SummariesGenerated    prometheus.Counter

	// Persona model metrics
	PersonaInvocations prometheus.Counter
	PersonaErrors      prometheus.Counter
	PersonaLatency     prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Store metrics
	StoreAppendErrors *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of coaching sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active coaching sessions",
		}),
		SessionsSuccess: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_success_total",
			Help:      "Total number of sessions finalized with a summary",
		}),
		SessionsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions aborted by a fatal error",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of coaching sessions in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		}),

		FragmentsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_received_total",
			Help:      "Total transcription fragments received",
		}, []string{"speaker"}),
		FragmentsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_dropped_total",
			Help:      "Total malformed transcription fragments dropped",
		}, []string{"reason"}),
		TurnsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_closed_total",
			Help:      "Total conversational turns closed by the aggregator",
		}, []string{"speaker"}),
		TurnsDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_discarded_total",
			Help:      "Total empty turns discarded without consuming an index",
		}),

		GuardrailChecks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_checks_total",
			Help:      "Total guardrail checks performed",
		}),
		GuardrailTriggered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_triggered_total",
			Help:      "Total guardrail reminder injections",
		}, []string{"scenario"}),

		EvaluationsDispatched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_dispatched_total",
			Help:      "Total turn evaluations dispatched to the evaluator",
		}),
		EvaluationsDebounced: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_debounced_total",
			Help:      "Total duplicate evaluation requests suppressed",
		}),
		EvaluationsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_completed_total",
			Help:      "Total turn evaluations completed successfully",
		}),
		EvaluationsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_failed_total",
			Help:      "Total turn evaluations failed",
		}, []string{"reason"}),
		EvaluationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_latency_seconds",
			Help:      "Latency of evaluator invocations in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 15, 30},
		}),
		SummariesGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_generated_total",
			Help:      "Total session summaries generated",
		}),

		PersonaInvocations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persona_invocations_total",
			Help:      "Total persona model invocations",
		}),
		PersonaErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persona_errors_total",
			Help:      "Total persona model invocation errors",
		}),
		PersonaLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persona_latency_seconds",
			Help:      "Latency of persona model invocations in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total Kafka publish attempts",
		}, []string{"topic", "eventType"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total Kafka publish errors",
		}, []string{"topic", "eventType"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Latency of Kafka publishes in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"topic"}),

		StoreAppendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_append_errors_total",
			Help:      "Total session store append failures after retry",
		}, []string{"artifact"}),
	}
}

// RecordKafkaPublish records one publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, seconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(seconds)
}

// RecordEvaluation records one evaluator invocation outcome.
func (m *Metrics) RecordEvaluation(err error, reason string, elapsed time.Duration) {
	m.EvaluationLatency.Observe(elapsed.Seconds())
	if err != nil {
		m.EvaluationsFailed.WithLabelValues(reason).Inc()
		return
	}
	m.EvaluationsCompleted.Inc()
}
