// Package stripe adapts the Stripe payment gateway to the retry scheduler.
// It maps Stripe API errors onto the closed payment error taxonomy and
// re-confirms payment intents on retry.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/payarmor/pkg/payarmor"
)

// Attempter retries failed payments by confirming their payment intent again.
// It satisfies the scheduler's AttemptFunc via Attempt.
type Attempter struct {
	client *stripe.Client
}

// NewAttempter creates a Stripe retry attempter.
func NewAttempter(apiKey string) (*Attempter, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("stripe api key is required")
	}
	return &Attempter{client: stripe.NewClient(apiKey)}, nil
}

// Attempt confirms the payment intent referenced by the entry's gateway
// reference. Each attempt carries an idempotency key derived from the
// transaction and attempt number so Stripe never double-charges a replayed
// request.
func (a *Attempter) Attempt(ctx context.Context, e *payarmor.RetryEntry) error {
	intentID := e.Metadata.GatewayReference
	if intentID == "" {
		return &payarmor.PaymentError{
			Code:    payarmor.CodeValidationError,
			Message: "retry entry has no gateway reference",
		}
	}

	params := &stripe.PaymentIntentConfirmParams{}
	params.SetIdempotencyKey(fmt.Sprintf("retry-%s-%d", e.TransactionID, e.AttemptCount))

	intent, err := a.client.V1PaymentIntents.Confirm(ctx, intentID, params)
	if err != nil {
		return MapError(err)
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusProcessing:
		return nil
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return &payarmor.PaymentError{
			Code:    payarmor.CodeCardDeclined,
			Message: "payment intent requires a new payment method",
		}
	case stripe.PaymentIntentStatusRequiresAction:
		return &payarmor.PaymentError{
			Code:    payarmor.CodeAuthenticationFailed,
			Message: "payment intent requires customer authentication",
		}
	case stripe.PaymentIntentStatusCanceled:
		return &payarmor.PaymentError{
			Code:    payarmor.CodeValidationError,
			Message: "payment intent was cancelled",
		}
	default:
		return &payarmor.PaymentError{
			Code:    payarmor.CodeProcessingError,
			Message: fmt.Sprintf("payment intent in unexpected status %q", intent.Status),
		}
	}
}

// MapError converts a Stripe API error into a *payarmor.PaymentError carrying
// one of the taxonomy codes. Non-Stripe errors (timeouts, connection resets)
// map to network_error.
func MapError(err error) *payarmor.PaymentError {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return &payarmor.PaymentError{
			Code:    payarmor.CodeNetworkError,
			Message: err.Error(),
		}
	}

	code := payarmor.CodeProcessingError
	switch se.Type {
	case stripe.ErrorTypeCard:
		code = mapDecline(se)
	case stripe.ErrorTypeInvalidRequest:
		code = payarmor.CodeValidationError
	case stripe.ErrorTypeAPI:
		code = payarmor.CodeServiceUnavailable
	}
	// Stripe has no dedicated error type for auth failures; a bad or revoked
	// API key surfaces as a 401, and a card needing 3DS carries the
	// authentication_required code.
	switch {
	case se.Code == stripe.ErrorCodeRateLimit:
		code = payarmor.CodeRateLimited
	case se.HTTPStatusCode == http.StatusUnauthorized,
		se.Code == stripe.ErrorCodeAuthenticationRequired:
		code = payarmor.CodeAuthenticationFailed
	}

	msg := se.Msg
	if msg == "" {
		msg = string(se.Code)
	}
	return &payarmor.PaymentError{Code: code, Message: msg}
}

func mapDecline(se *stripe.Error) string {
	switch se.DeclineCode {
	case stripe.DeclineCodeInsufficientFunds:
		return payarmor.CodeInsufficientFunds
	case stripe.DeclineCodeFraudulent, stripe.DeclineCodeStolenCard, stripe.DeclineCodeLostCard:
		return payarmor.CodeFraudBlocked
	case stripe.DeclineCodeExpiredCard, stripe.DeclineCodeIncorrectNumber, stripe.DeclineCodeInvalidNumber:
		return payarmor.CodeInvalidCard
	default:
		if se.Code == stripe.ErrorCodeExpiredCard || se.Code == stripe.ErrorCodeIncorrectNumber {
			return payarmor.CodeInvalidCard
		}
		return payarmor.CodeCardDeclined
	}
}
