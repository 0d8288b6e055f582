package payarmor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := newCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Hour}, nil)

	assert.True(t, cb.Allow())
	cb.Failure()
	cb.Failure()
	assert.True(t, cb.Allow(), "still closed below the threshold")

	cb.Failure()
	assert.False(t, cb.Allow())
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := newCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour}, nil)

	cb.Failure()
	cb.Success()
	cb.Failure()
	assert.True(t, cb.Allow(), "success resets the consecutive failure count")
}

func TestCircuitBreakerHalfOpenAfterResetTimeout(t *testing.T) {
	cb := newCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond}, nil)

	cb.Failure()
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.Allow(), "half-open admits a probe")

	cb.Success()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := newCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 10 * time.Millisecond}, nil)

	cb.Failure()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.Failure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestCircuitBreakerStateChangeCallback(t *testing.T) {
	var states []CircuitBreakerState
	cb := newCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour},
		func(s CircuitBreakerState) { states = append(states, s) })

	cb.Failure()
	cb.Success()
	assert.Equal(t, []CircuitBreakerState{StateOpen, StateClosed}, states)
}
