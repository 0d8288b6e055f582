package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements payarmor.Metrics using Prometheus.
type Metrics struct {
	admissionTotal             *prometheus.CounterVec
	admissionDuration          *prometheus.HistogramVec
	storeOpsDuration           *prometheus.HistogramVec
	storeOpsErrors             *prometheus.CounterVec
	usageWritesTotal           *prometheus.CounterVec
	retryAttemptsTotal         *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		admissionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_checks_total",
			Help:      "Total number of rate limit admission checks.",
		}, []string{"rule", "allowed"}),

		admissionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_check_duration_seconds",
			Help:      "Latency of rate limit admission checks.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"rule"}),

		storeOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Latency of backing store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storeOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operation_errors_total",
			Help:      "Total number of backing store operation errors.",
		}, []string{"operation"}),

		usageWritesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_writes_total",
			Help:      "Total number of billing usage write attempts.",
		}, []string{"metric", "success"}),

		retryAttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total number of payment retry attempts by outcome.",
		}, []string{"error_code", "outcome"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of counter store circuit breaker state changes.",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordAdmission(_, rule string, allowed bool, duration time.Duration) {
	m.admissionTotal.WithLabelValues(rule, strconv.FormatBool(allowed)).Inc()
	m.admissionDuration.WithLabelValues(rule).Observe(duration.Seconds())
}

func (m *Metrics) RecordStoreOperation(operation string, duration time.Duration, err error) {
	m.storeOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storeOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordUsageWrite(metric string, err error) {
	m.usageWritesTotal.WithLabelValues(metric, strconv.FormatBool(err == nil)).Inc()
}

func (m *Metrics) RecordRetryAttempt(errorCode, outcome string) {
	m.retryAttemptsTotal.WithLabelValues(errorCode, outcome).Inc()
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default
// Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
