package api

import "time"

// RetryResponse represents the externally visible state of a payment retry
type RetryResponse struct {
	TransactionID string     `json:"transaction_id"`
	Status        string     `json:"status"`
	ErrorCode     string     `json:"error_code"`
	AttemptCount  int        `json:"attempt_count"`
	MaxAttempts   int        `json:"max_attempts"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// UsageResponse represents a monthly usage rollup for one tenant metric
type UsageResponse struct {
	TenantID string  `json:"tenant_id"`
	Period   string  `json:"period"`
	Metric   string  `json:"metric"`
	Quantity int64   `json:"quantity"`
	Cost     float64 `json:"cost"`
}

// ErrorResponse is the JSON error envelope
type ErrorResponse struct {
	Error string `json:"error"`
}
