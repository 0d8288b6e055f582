package payarmor

import "time"

// Payment error taxonomy. The classifier is total over these codes; anything
// else is treated as permanent and never retried.
const (
	// Transient network or processing failures.
	CodeNetworkError       = "network_error"
	CodeProcessingError    = "processing_error"
	CodeGatewayTimeout     = "gateway_timeout"
	CodeServiceUnavailable = "service_unavailable"

	// Throttled by the upstream gateway.
	CodeRateLimited = "rate_limited"

	// Declines that occasionally clear on their own.
	CodeCardDeclined      = "card_declined"
	CodeInsufficientFunds = "insufficient_funds"

	// Permanent validation or auth failures.
	CodeInvalidCard          = "invalid_card"
	CodeAuthenticationFailed = "authentication_failed"
	CodeValidationError      = "validation_error"
	CodeFraudBlocked         = "fraud_blocked"
)

// ClassifierConfig tunes the strategy table.
type ClassifierConfig struct {
	// DeclineAttempts caps retries for card_declined / insufficient_funds.
	// Zero disables retrying declines entirely. Default: 1.
	DeclineAttempts *int

	// Overrides replaces the strategy for individual codes.
	Overrides map[string]Strategy
}

// Classifier maps a payment error code to its retry strategy. It is pure and
// stateless; the same code always yields the same strategy. Every component
// that needs a retry decision consults it rather than re-deriving one.
type Classifier struct {
	table map[string]Strategy
}

// NewClassifier builds a classifier from the default taxonomy and any
// configured overrides.
func NewClassifier(config ClassifierConfig) *Classifier {
	transient := Strategy{ShouldRetry: true, MaxAttempts: 4, BaseDelay: 2 * time.Second}
	throttled := Strategy{ShouldRetry: true, MaxAttempts: 3, BaseDelay: 30 * time.Second, Immediate: true}
	permanent := Strategy{}

	declineAttempts := 1
	if config.DeclineAttempts != nil {
		declineAttempts = *config.DeclineAttempts
	}
	decline := Strategy{ShouldRetry: declineAttempts > 0, MaxAttempts: declineAttempts, BaseDelay: time.Hour}

	table := map[string]Strategy{
		CodeNetworkError:       transient,
		CodeProcessingError:    transient,
		CodeGatewayTimeout:     transient,
		CodeServiceUnavailable: transient,

		CodeRateLimited: throttled,

		CodeCardDeclined:      decline,
		CodeInsufficientFunds: decline,

		CodeInvalidCard:          permanent,
		CodeAuthenticationFailed: permanent,
		CodeValidationError:      permanent,
		CodeFraudBlocked:         permanent,
	}
	for code, strat := range config.Overrides {
		table[code] = strat
	}

	return &Classifier{table: table}
}

// Classify returns the retry strategy for an error code. Unknown codes get
// the permanent no-retry strategy: retrying an unclassified failure wastes
// attempts without evidence it can succeed.
func (c *Classifier) Classify(code string) Strategy {
	if strat, ok := c.table[code]; ok {
		return strat
	}
	return Strategy{}
}
