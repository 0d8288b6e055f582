package payarmor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mihaimyh/payarmor/pkg/payarmor"
)

func TestClassifyStrategies(t *testing.T) {
	c := payarmor.NewClassifier(payarmor.ClassifierConfig{})

	tests := []struct {
		code        string
		shouldRetry bool
		maxAttempts int
		immediate   bool
	}{
		{payarmor.CodeNetworkError, true, 4, false},
		{payarmor.CodeProcessingError, true, 4, false},
		{payarmor.CodeGatewayTimeout, true, 4, false},
		{payarmor.CodeServiceUnavailable, true, 4, false},
		{payarmor.CodeRateLimited, true, 3, true},
		{payarmor.CodeCardDeclined, true, 1, false},
		{payarmor.CodeInsufficientFunds, true, 1, false},
		{payarmor.CodeInvalidCard, false, 0, false},
		{payarmor.CodeAuthenticationFailed, false, 0, false},
		{payarmor.CodeValidationError, false, 0, false},
		{payarmor.CodeFraudBlocked, false, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			strat := c.Classify(tt.code)
			assert.Equal(t, tt.shouldRetry, strat.ShouldRetry)
			assert.Equal(t, tt.maxAttempts, strat.MaxAttempts)
			assert.Equal(t, tt.immediate, strat.Immediate)
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := payarmor.NewClassifier(payarmor.ClassifierConfig{})

	for i := 0; i < 10; i++ {
		assert.Equal(t, c.Classify(payarmor.CodeNetworkError), c.Classify(payarmor.CodeNetworkError))
	}
}

func TestClassifyUnknownCodeNeverRetries(t *testing.T) {
	c := payarmor.NewClassifier(payarmor.ClassifierConfig{})

	strat := c.Classify("some_future_code")
	assert.False(t, strat.ShouldRetry)
	assert.Equal(t, 0, strat.MaxAttempts)
}

func TestClassifyDeclineAttemptsZeroDisablesDeclineRetries(t *testing.T) {
	zero := 0
	c := payarmor.NewClassifier(payarmor.ClassifierConfig{DeclineAttempts: &zero})

	assert.False(t, c.Classify(payarmor.CodeCardDeclined).ShouldRetry)
	assert.False(t, c.Classify(payarmor.CodeInsufficientFunds).ShouldRetry)
	// Other classes are unaffected.
	assert.True(t, c.Classify(payarmor.CodeNetworkError).ShouldRetry)
}

func TestClassifyOverrides(t *testing.T) {
	c := payarmor.NewClassifier(payarmor.ClassifierConfig{
		Overrides: map[string]payarmor.Strategy{
			payarmor.CodeGatewayTimeout: {ShouldRetry: true, MaxAttempts: 10, BaseDelay: time.Second},
		},
	})

	strat := c.Classify(payarmor.CodeGatewayTimeout)
	assert.Equal(t, 10, strat.MaxAttempts)
	assert.Equal(t, time.Second, strat.BaseDelay)
}
