package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ============================================================================
// FLOW STATES
// ============================================================================

// FlowState is a state of the booking-and-payment state machine
type FlowState string

const (
	FlowStateSelect  FlowState = "select"  // Browsing, no slot chosen
	FlowStateConfirm FlowState = "confirm" // Slot chosen, team size editable
	FlowStatePayment FlowState = "payment" // Payment intent issued, waiting for the gateway
	FlowStateSuccess FlowState = "success" // Reservation materialized server-side
	FlowStateError   FlowState = "error"   // Confirmation failed for good
)

// ErrorKind classifies errors surfaced to the browser
type ErrorKind string

const (
	ErrorKindValidation          ErrorKind = "validation"
	ErrorKindPaymentIntent       ErrorKind = "payment_intent"
	ErrorKindGateway             ErrorKind = "gateway"
	ErrorKindConfirmationFailure ErrorKind = "confirmation_failure"
)

// Actions offered on the terminal error screen
const (
	ActionBrowseRooms      = "browse_rooms"
	ActionViewReservations = "view_reservations"
)

// ============================================================================
// DRAFT & PAYMENT PAYLOADS
// ============================================================================

// BookingDraft is the recovery record persisted while a payment is in progress
type BookingDraft struct {
	SlotID          int64     `json:"slotId" validate:"gt=0"`
	TeamSize        int       `json:"teamSize" validate:"gt=0"`
	PaymentIntentID string    `json:"paymentIntentId,omitempty"`
	SavedAt         time.Time `json:"savedAt"`
}

// Validate checks the draft fields
func (d BookingDraft) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid booking draft: %w", err)
	}
	return nil
}

// CreatePaymentIntentRequest is sent to the payment service
type CreatePaymentIntentRequest struct {
	SlotID   int64 `json:"slotId" validate:"gt=0"`
	TeamSize int   `json:"teamSize" validate:"gt=0"`
}

// Validate checks the create-intent request fields
func (r CreatePaymentIntentRequest) Validate() error {
	return validate.Struct(r)
}

// PaymentIntent is issued by the payment service for one (slotId, teamSize) pair.
// Amount is server-computed and authoritative.
type PaymentIntent struct {
	ClientSecret    string  `json:"clientSecret"`
	PaymentIntentID string  `json:"paymentIntentId"`
	Amount          float64 `json:"amount"`
}

// ConfirmPaymentRequest asks the payment service to materialize the reservation
type ConfirmPaymentRequest struct {
	PaymentIntentID string `json:"paymentIntentId" validate:"required"`
	SlotID          int64  `json:"slotId" validate:"gt=0"`
	TeamSize        int    `json:"teamSize" validate:"gt=0"`
}

// Validate checks the confirm request fields
func (r ConfirmPaymentRequest) Validate() error {
	return validate.Struct(r)
}

// ReservationConfirmation is the confirm-payment response. The body is opaque;
// only the identifier and status are read.
type ReservationConfirmation struct {
	ID     int64           `json:"id,omitempty"`
	Status string          `json:"status,omitempty"`
	Raw    json.RawMessage `json:"raw,omitempty"`
}

// Reservation is a row of the user's reservation list
type Reservation struct {
	ID        int64    `json:"id"`
	Status    string   `json:"status"`
	TeamSize  int      `json:"teamSize"`
	TotalCost float64  `json:"totalCost,omitempty"`
	TimeSlot  TimeSlot `json:"timeSlot"`
}

// PaymentConfig carries the publishable gateway key for the browser
type PaymentConfig struct {
	PublishableKey string `json:"publishableKey"`
}

// GatewayReturn holds the query parameters appended by the gateway redirect
type GatewayReturn struct {
	PaymentIntentID string `form:"payment_intent"`
	ClientSecret    string `form:"payment_intent_client_secret"`
	RedirectStatus  string `form:"redirect_status"`
}

// ============================================================================
// SNAPSHOT (read model)
// ============================================================================

// FlowError is the error block of a snapshot
type FlowError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// FlowSnapshot is what the browser renders for the current flow
type FlowSnapshot struct {
	State             FlowState                `json:"state"`
	Slot              *TimeSlot                `json:"slot,omitempty"`
	SlotID            int64                    `json:"slotId,omitempty"`
	TeamSize          int                      `json:"teamSize,omitempty"`
	EstimatedCost     *float64                 `json:"estimatedCost,omitempty"`
	Amount            *float64                 `json:"amount,omitempty"`
	DisplayCost       string                   `json:"displayCost,omitempty"`
	CanProceed        bool                     `json:"canProceed"`
	ValidationMessage string                   `json:"validationMessage,omitempty"`
	PaymentIntentID   string                   `json:"paymentIntentId,omitempty"`
	ClientSecret      string                   `json:"clientSecret,omitempty"`
	RedirectURL       string                   `json:"redirectUrl,omitempty"`
	PaymentPending    bool                     `json:"paymentPending,omitempty"`
	Confirmation      *ReservationConfirmation `json:"confirmation,omitempty"`
	AlreadyReserved   bool                     `json:"alreadyReserved,omitempty"`
	Attempts          int                      `json:"attempts,omitempty"`
	Error             *FlowError               `json:"error,omitempty"`
	Loading           bool                     `json:"loading"`
	Actions           []string                 `json:"actions,omitempty"`
}
