package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/spacebook/booking-flow/internal/models"
)

const (
	pathCreatePaymentIntent = "/api/payments/create-payment-intent"
	pathConfirmPayment      = "/api/payments/confirm-payment"
	pathPaymentConfig       = "/api/payments/config"
	pathTimeSlotsRange      = "/api/timeslots/date-range"
	pathMyReservations      = "/api/reservations/my-reservations"

	maxErrorBody = 64 * 1024
)

// APIError is returned for every non-2xx backend response
type APIError struct {
	StatusCode int    // HTTP status
	Code       string // Structured error code, when the backend sends one
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("backend error %d: %s", e.StatusCode, e.Message)
}

// AsAPIError extracts an *APIError from err
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Config holds configuration for the reservation backend client
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	RequestsPerSec float64 // 0 disables pacing
	Burst          int
}

// Client talks to the reservation backend REST API
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewClient creates a new backend client
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSec > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst)
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger,
	}
}

// CreatePaymentIntent asks the payment service for an intent bound to (slotId, teamSize)
func (c *Client) CreatePaymentIntent(ctx context.Context, token string, req models.CreatePaymentIntentRequest) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := c.do(ctx, http.MethodPost, pathCreatePaymentIntent, token, req, &intent); err != nil {
		return nil, err
	}
	if intent.PaymentIntentID == "" || intent.ClientSecret == "" {
		return nil, fmt.Errorf("payment intent response missing identifier or client secret")
	}
	return &intent, nil
}

// ConfirmPayment asks the payment service to materialize the reservation
func (c *Client) ConfirmPayment(ctx context.Context, token string, req models.ConfirmPaymentRequest) (*models.ReservationConfirmation, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, pathConfirmPayment, token, req, &raw); err != nil {
		return nil, err
	}

	confirmation := &models.ReservationConfirmation{Raw: raw}
	if len(raw) > 0 {
		var fields struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
		}
		// Body is opaque; unreadable fields are not an error
		if err := json.Unmarshal(raw, &fields); err == nil {
			confirmation.ID = fields.ID
			confirmation.Status = fields.Status
		}
	}
	return confirmation, nil
}

// GetPaymentConfig returns the publishable gateway key
func (c *Client) GetPaymentConfig(ctx context.Context) (*models.PaymentConfig, error) {
	var cfg models.PaymentConfig
	if err := c.do(ctx, http.MethodGet, pathPaymentConfig, "", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetTimeSlots returns the slots between startDate and endDate inclusive (YYYY-MM-DD)
func (c *Client) GetTimeSlots(ctx context.Context, token, startDate, endDate string) ([]models.TimeSlot, error) {
	query := url.Values{}
	query.Set("startDate", startDate)
	query.Set("endDate", endDate)

	var slots []models.TimeSlot
	if err := c.do(ctx, http.MethodGet, pathTimeSlotsRange+"?"+query.Encode(), token, nil, &slots); err != nil {
		return nil, err
	}
	return slots, nil
}

// GetMyReservations returns the reservations of the token's owner
func (c *Client) GetMyReservations(ctx context.Context, token string) ([]models.Reservation, error) {
	var reservations []models.Reservation
	if err := c.do(ctx, http.MethodGet, pathMyReservations, token, nil, &reservations); err != nil {
		return nil, err
	}
	return reservations, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("backend rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"method":     method,
		"path":       path,
		"status":     resp.StatusCode,
		"latency_ms": time.Since(start).Milliseconds(),
	}).Debug("Backend call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return parseAPIError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = payload.Code
		switch {
		case payload.Message != "":
			apiErr.Message = payload.Message
		case payload.Error != "":
			apiErr.Message = payload.Error
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
