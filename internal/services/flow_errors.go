package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spacebook/booking-flow/internal/models"
	"github.com/spacebook/booking-flow/pkg/backend"
	"github.com/spacebook/booking-flow/pkg/retry"
)

var (
	// ErrFlowBusy is returned when a call is already in flight for the flow
	ErrFlowBusy = errors.New("booking flow is busy")
	// ErrInvalidTransition is returned when an operation is not allowed in the current state
	ErrInvalidTransition = errors.New("operation not allowed in current booking state")
	// ErrSlotNotFound is returned when a slot id does not exist for the requested date
	ErrSlotNotFound = errors.New("time slot not found")
)

// MissingRecoveryInfoMessage is shown when the gateway return cannot be matched to a booking
const MissingRecoveryInfoMessage = "missing payment or booking information"

// ValidationError is raised locally, before any network call
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// PaymentIntentError wraps a failure to create a payment intent. The flow stays in confirm.
type PaymentIntentError struct {
	Err error
}

func (e *PaymentIntentError) Error() string {
	return fmt.Sprintf("could not start payment: %v", e.Err)
}

func (e *PaymentIntentError) Unwrap() error { return e.Err }

// GatewayError wraps a gateway refusal such as a declined card. The flow stays in payment.
type GatewayError struct {
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment was not accepted: %v", e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// ConfirmationFailure is terminal: the reservation could not be materialized
type ConfirmationFailure struct {
	Attempts int
	Err      error
}

func (e *ConfirmationFailure) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("booking confirmation failed after %d attempt(s): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("booking confirmation failed: %v", e.Err)
}

func (e *ConfirmationFailure) Unwrap() error { return e.Err }

// ErrorKindOf maps a flow error to the kind reported in snapshots
func ErrorKindOf(err error) models.ErrorKind {
	var (
		validationErr *ValidationError
		intentErr     *PaymentIntentError
		gatewayErr    *GatewayError
	)
	switch {
	case errors.As(err, &validationErr):
		return models.ErrorKindValidation
	case errors.As(err, &intentErr):
		return models.ErrorKindPaymentIntent
	case errors.As(err, &gatewayErr):
		return models.ErrorKindGateway
	default:
		return models.ErrorKindConfirmationFailure
	}
}

// Structured backend codes. Matched before any message text.
var (
	conflictCodes = map[string]bool{
		"SLOT_ALREADY_RESERVED": true,
		"ALREADY_RESERVED":      true,
		"RESERVATION_CONFLICT":  true,
		"SLOT_CONFLICT":         true,
		"CONFLICT":              true,
	}
	transientCodes = map[string]bool{
		"RATE_LIMITED":      true,
		"TOO_MANY_REQUESTS": true,
		"LOCK_TIMEOUT":      true,
	}
	conflictPhrases  = []string{"already reserved", "conflict"}
	transientPhrases = []string{"rate limit", "rate-limit", "too many requests", "lock timeout", "lock wait timeout", "lock_timeout", "lock-timeout"}
)

// ClassifyConfirmError decides how a confirm-payment failure is handled:
// a conflict means a concurrent confirm already won, transient conditions are
// retried, everything else is terminal.
func ClassifyConfirmError(err error) retry.Decision {
	if err == nil {
		return retry.Fail
	}

	apiErr, ok := backend.AsAPIError(err)
	if ok {
		code := strings.ToUpper(apiErr.Code)
		switch {
		case conflictCodes[code]:
			return retry.Resolve
		case transientCodes[code]:
			return retry.Retry
		case apiErr.StatusCode == http.StatusConflict:
			return retry.Resolve
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return retry.Retry
		}
	}

	msg := strings.ToLower(err.Error())
	if ok {
		msg = strings.ToLower(apiErr.Message)
	}
	if containsAny(msg, conflictPhrases) {
		return retry.Resolve
	}
	if containsAny(msg, transientPhrases) {
		return retry.Retry
	}
	return retry.Fail
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
