package payarmor

import "time"

// Metrics defines the interface for tracking admission, retry and storage
// operations.
type Metrics interface {
	// RecordAdmission records the outcome of one rate limit check.
	RecordAdmission(tenantID, rule string, allowed bool, duration time.Duration)

	// RecordStoreOperation records the duration and status of a backing
	// store operation.
	RecordStoreOperation(operation string, duration time.Duration, err error)

	// RecordUsageWrite records a billing usage write attempt.
	RecordUsageWrite(metric string, err error)

	// RecordRetryAttempt records one scheduler re-attempt and its outcome
	// ("succeeded", "requeued", "exhausted", "skipped").
	RecordRetryAttempt(errorCode, outcome string)

	// RecordCircuitBreakerStateChange records a counter store breaker
	// state change.
	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordAdmission(tenantID, rule string, allowed bool, duration time.Duration) {}
func (n *NoopMetrics) RecordStoreOperation(operation string, duration time.Duration, err error)    {}
func (n *NoopMetrics) RecordUsageWrite(metric string, err error)                                   {}
func (n *NoopMetrics) RecordRetryAttempt(errorCode, outcome string)                                {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(state string)                                {}
