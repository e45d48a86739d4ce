package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventIntentCreated      PaymentEventType = "intent_created"
	PaymentEventIntentFailed       PaymentEventType = "intent_failed"
	PaymentEventGatewayConfirmed   PaymentEventType = "gateway_confirmed"
	PaymentEventGatewayActionReq   PaymentEventType = "gateway_action_required"
	PaymentEventGatewayDeclined    PaymentEventType = "gateway_declined"
	PaymentEventGatewayProcessing  PaymentEventType = "gateway_processing"
	PaymentEventConfirmAttemptFail PaymentEventType = "confirm_attempt_failed"
	PaymentEventBookingConfirmed   PaymentEventType = "booking_confirmed"
	PaymentEventConflictResolved   PaymentEventType = "conflict_resolved"
	PaymentEventConfirmFailed      PaymentEventType = "booking_confirmation_failed"
	PaymentEventRecoveryStarted    PaymentEventType = "recovery_started"
	PaymentEventFlowAbandoned      PaymentEventType = "flow_abandoned"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceFlow    PaymentEventSource = "flow"
	PaymentSourceGateway PaymentEventSource = "stripe"
	PaymentSourceBackend PaymentEventSource = "backend"
	PaymentSourceUser    PaymentEventSource = "user"
)

// JSONB is a custom type for handling JSONB fields
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("unsupported JSONB source %T", value)
	}
}

// PaymentAudit is an append-only record of a money-touching flow transition
type PaymentAudit struct {
	ID              uuid.UUID          `json:"id" db:"id"`
	UserID          string             `json:"user_id" db:"user_id"`
	EventType       PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource     PaymentEventSource `json:"event_source" db:"event_source"`
	SlotID          *int64             `json:"slot_id,omitempty" db:"slot_id"`
	TeamSize        *int               `json:"team_size,omitempty" db:"team_size"`
	PaymentIntentID *string            `json:"payment_intent_id,omitempty" db:"payment_intent_id"`
	Amount          *float64           `json:"amount,omitempty" db:"amount"`
	Attempt         *int               `json:"attempt,omitempty" db:"attempt"`
	FlowState       *string            `json:"flow_state,omitempty" db:"flow_state"`
	ErrorMessage    *string            `json:"error_message,omitempty" db:"error_message"`
	HTTPStatusCode  *int               `json:"http_status_code,omitempty" db:"http_status_code"`
	Device          JSONB              `json:"device,omitempty" db:"device"`
	IPAddress       *string            `json:"ip_address,omitempty" db:"ip_address"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(userID string, eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		UserID:      userID,
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetBooking records the slot and team size the event refers to
func (pa *PaymentAudit) SetBooking(slotID int64, teamSize int) *PaymentAudit {
	if slotID > 0 {
		pa.SlotID = &slotID
	}
	if teamSize > 0 {
		pa.TeamSize = &teamSize
	}
	return pa
}

// SetIntent sets the payment intent id and, when known, the server amount
func (pa *PaymentAudit) SetIntent(intentID string, amount *float64) *PaymentAudit {
	if intentID != "" {
		pa.PaymentIntentID = &intentID
	}
	if amount != nil {
		a := *amount
		pa.Amount = &a
	}
	return pa
}

// SetAttempt sets the 1-based confirm attempt number
func (pa *PaymentAudit) SetAttempt(attempt int) *PaymentAudit {
	pa.Attempt = &attempt
	return pa
}

// SetState sets the flow state at the time of the event
func (pa *PaymentAudit) SetState(state FlowState) *PaymentAudit {
	s := string(state)
	pa.FlowState = &s
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(err error, statusCode int) *PaymentAudit {
	if err != nil {
		msg := err.Error()
		pa.ErrorMessage = &msg
	}
	if statusCode > 0 {
		pa.HTTPStatusCode = &statusCode
	}
	return pa
}

// SetSession copies device and IP details from the caller session
func (pa *PaymentAudit) SetSession(session Session) *PaymentAudit {
	if session.IP != "" {
		ip := session.IP
		pa.IPAddress = &ip
	}
	if session.Device.Raw != "" {
		pa.Device = JSONB{
			"device_type": session.Device.DeviceType,
			"os":          session.Device.OS,
			"browser":     session.Device.Browser,
			"platform":    session.Device.Platform,
			"is_bot":      session.Device.IsBot,
		}
	}
	return pa
}
