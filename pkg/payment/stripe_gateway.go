package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// DeclineError is returned when the gateway refuses the charge
type DeclineError struct {
	PaymentIntentID string
	Code            string
	DeclineCode     string
	Message         string
}

func (e *DeclineError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment declined (%s): %s", e.Code, e.Message)
	}
	return "payment declined: " + e.Message
}

// GatewayResult is the gateway's view of a payment intent
type GatewayResult struct {
	PaymentIntentID string
	Status          string
	Amount          float64 // Major currency units
	Currency        string
	RedirectURL     string // Set when the customer must complete an action (3-D Secure)
	FailureMessage  string
}

// Succeeded reports whether the charge went through. An authorized
// manual-capture intent counts: the backend captures it on confirm.
func (r GatewayResult) Succeeded() bool {
	return r.Status == string(stripe.PaymentIntentStatusSucceeded) ||
		r.Status == string(stripe.PaymentIntentStatusRequiresCapture)
}

// Pending reports whether the gateway is still settling the charge
func (r GatewayResult) Pending() bool {
	return r.Status == string(stripe.PaymentIntentStatusProcessing)
}

// RequiresAction reports whether the customer must be redirected
func (r GatewayResult) RequiresAction() bool {
	return r.Status == string(stripe.PaymentIntentStatusRequiresAction)
}

// Failed reports whether the intent can no longer succeed with the current method
func (r GatewayResult) Failed() bool {
	return r.Status == string(stripe.PaymentIntentStatusRequiresPaymentMethod) ||
		r.Status == string(stripe.PaymentIntentStatusCanceled)
}

// StripeConfig holds configuration for the Stripe gateway
type StripeConfig struct {
	SecretKey         string
	APIURL            string // Optional override (stripe-mock, tests)
	Timeout           time.Duration
	MaxNetworkRetries int64
}

// StripeGateway confirms and inspects payment intents through the Stripe API
type StripeGateway struct {
	api    *client.API
	logger *logrus.Logger
}

// NewStripeGateway creates a Stripe gateway with its own API client
func NewStripeGateway(cfg StripeConfig, logger *logrus.Logger) *StripeGateway {
	if logger == nil {
		logger = logrus.New()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		LeveledLogger:     logger,
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}

	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	}

	return &StripeGateway{
		api:    client.New(cfg.SecretKey, backends),
		logger: logger,
	}
}

// ConfirmIntent confirms the intent with a payment method collected in the browser
func (g *StripeGateway) ConfirmIntent(ctx context.Context, intentID, paymentMethodID, returnURL string) (*GatewayResult, error) {
	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(paymentMethodID),
	}
	if returnURL != "" {
		params.ReturnURL = stripe.String(returnURL)
	}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Confirm(intentID, params)
	if err != nil {
		return nil, g.translateError(intentID, err)
	}

	result := toResult(pi)
	g.logger.WithFields(logrus.Fields{
		"payment_intent_id": result.PaymentIntentID,
		"status":            result.Status,
	}).Info("Payment intent confirmed with gateway")

	if result.Failed() {
		return result, &DeclineError{PaymentIntentID: intentID, Message: failureMessage(result)}
	}
	return result, nil
}

// RetrieveIntent reads the current gateway status of an intent
func (g *StripeGateway) RetrieveIntent(ctx context.Context, intentID, clientSecret string) (*GatewayResult, error) {
	params := &stripe.PaymentIntentParams{}
	if clientSecret != "" {
		params.ClientSecret = stripe.String(clientSecret)
	}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, g.translateError(intentID, err)
	}
	return toResult(pi), nil
}

func (g *StripeGateway) translateError(intentID string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
		g.logger.WithFields(logrus.Fields{
			"payment_intent_id": intentID,
			"code":              stripeErr.Code,
			"decline_code":      stripeErr.DeclineCode,
		}).Warn("Card declined by gateway")
		return &DeclineError{
			PaymentIntentID: intentID,
			Code:            string(stripeErr.Code),
			DeclineCode:     string(stripeErr.DeclineCode),
			Message:         stripeErr.Msg,
		}
	}
	return fmt.Errorf("stripe request failed: %w", err)
}

func toResult(pi *stripe.PaymentIntent) *GatewayResult {
	result := &GatewayResult{
		PaymentIntentID: pi.ID,
		Status:          string(pi.Status),
		Amount:          float64(pi.Amount) / 100,
		Currency:        string(pi.Currency),
	}
	if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
		result.RedirectURL = pi.NextAction.RedirectToURL.URL
	}
	if pi.LastPaymentError != nil {
		result.FailureMessage = pi.LastPaymentError.Msg
	}
	return result
}

func failureMessage(r *GatewayResult) string {
	if r.FailureMessage != "" {
		return r.FailureMessage
	}
	return "payment was not completed (status " + r.Status + ")"
}
