package payarmor

import (
	"fmt"
	"time"
)

// RuleScope identifies where a rate limit rule comes from.
type RuleScope string

const (
	// ScopeTier marks a base rule attached to a plan tier.
	ScopeTier RuleScope = "tier"
	// ScopeEndpoint marks a rule attached to a specific endpoint prefix.
	ScopeEndpoint RuleScope = "endpoint"
)

// Rule is an immutable rate limit rule. Multiple rules compose with AND
// semantics: a request is admitted only when every applicable rule admits it.
type Rule struct {
	// Name identifies the rule in results, keys and metrics
	// (e.g. "starter_per_minute", "payments_burst").
	Name string

	// Window is the fixed time bucket the counter is quantized to.
	Window time.Duration

	// MaxRequests is the admission ceiling within one window.
	MaxRequests int64

	// Scope records whether the rule came from a tier or an endpoint set.
	Scope RuleScope

	// IPSensitive appends the caller IP to the counter key. Used for
	// endpoints where a single stolen tenant credential must not be the
	// only throttle axis (auth, payment creation, webhook ingestion).
	IPSensitive bool
}

// CheckRequest describes one admission decision.
type CheckRequest struct {
	// TenantID is the billing/isolation unit whose traffic is limited.
	TenantID string

	// PlanTier selects the base rule set (e.g. "starter", "business").
	PlanTier string

	// Endpoint is the logical path being called (e.g. "/v1/payments").
	Endpoint string

	// CallerIP is optional; it is folded into keys only for IP-sensitive rules.
	CallerIP string
}

// Result is the outcome of an admission check. When Allowed is false the
// fields describe the single rule that blocked the request; callers must not
// merge or average results across rules.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Rule is the name of the reported rule (the blocking rule when not
	// allowed, otherwise the tightest evaluated rule).
	Rule string

	// Limit is the reported rule's ceiling for one window.
	Limit int64

	// Remaining is the number of requests left in the current window.
	Remaining int64

	// ResetTime is when the current window rolls over.
	ResetTime time.Time

	// TotalHits is the counter value after this request was accounted.
	TotalHits int64

	// Degraded is set when the counter store was unreachable and the
	// engine failed open. The request is allowed but unaccounted.
	Degraded bool
}

// UsageRecord is a billable usage aggregate for one tenant, calendar month
// and metric. It is only ever mutated by increment.
type UsageRecord struct {
	TenantID  string
	Period    string // "YYYY-MM"
	Metric    string
	Quantity  int64
	Cost      float64
	UpdatedAt time.Time
}

// PerfSample is a probabilistically sampled latency observation.
type PerfSample struct {
	ID         string
	TenantID   string
	Endpoint   string
	Success    bool
	DurationMs int64
	At         time.Time
}

// Strategy is the retry policy derived from a payment error code.
type Strategy struct {
	// ShouldRetry reports whether the error class is worth retrying at all.
	ShouldRetry bool

	// MaxAttempts caps the number of re-attempts.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff between attempts.
	BaseDelay time.Duration

	// Immediate schedules the first re-attempt with zero delay.
	Immediate bool
}

// RetryStatus is the lifecycle state of a retry entry.
type RetryStatus string

const (
	StatusQueued    RetryStatus = "queued"
	StatusRetrying  RetryStatus = "retrying"
	StatusSucceeded RetryStatus = "succeeded"
	StatusExhausted RetryStatus = "exhausted"
	StatusCancelled RetryStatus = "cancelled"
)

// Terminal reports whether no further automatic transition occurs from s.
func (s RetryStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusExhausted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Metadata carries the context needed to re-submit a payment.
type Metadata struct {
	UserID           string            `json:"user_id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	GatewayReference string            `json:"gateway_reference"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// RetryEntry is the scheduling record for one failed transaction. At most one
// non-terminal entry exists per transaction id.
type RetryEntry struct {
	TransactionID string
	ErrorCode     string
	AttemptCount  int
	MaxAttempts   int
	BaseDelay     time.Duration
	Immediate     bool
	NextRetryAt   time.Time
	Status        RetryStatus
	Metadata      Metadata
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone returns a deep copy so stores can hand out entries without aliasing.
func (e *RetryEntry) Clone() *RetryEntry {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Metadata.Extra != nil {
		cp.Metadata.Extra = make(map[string]string, len(e.Metadata.Extra))
		for k, v := range e.Metadata.Extra {
			cp.Metadata.Extra[k] = v
		}
	}
	return &cp
}

// PaymentError is a classified failure reported by the payment gateway
// integration. Code must be one of the taxonomy codes understood by the
// Classifier.
type PaymentError struct {
	Code    string
	Message string
}

func (e *PaymentError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
