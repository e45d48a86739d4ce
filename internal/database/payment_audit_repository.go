package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/spacebook/booking-flow/internal/models"
)

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log creates a new payment audit entry
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_audits (
			id, user_id, event_type, event_source,
			slot_id, team_size, payment_intent_id, amount,
			attempt, flow_state, error_message, http_status_code,
			device, ip_address, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.UserID, audit.EventType, audit.EventSource,
		audit.SlotID, audit.TeamSize, audit.PaymentIntentID, audit.Amount,
		audit.Attempt, audit.FlowState, audit.ErrorMessage, audit.HTTPStatusCode,
		audit.Device, audit.IPAddress, audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":        audit.EventType,
			"payment_intent_id": audit.PaymentIntentID,
		}).Error("Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
	}).Debug("Payment audit logged")

	return nil
}

// ListByIntent returns the audit trail of one payment intent, oldest first
func (r *PaymentAuditRepository) ListByIntent(ctx context.Context, paymentIntentID string) ([]models.PaymentAudit, error) {
	var audits []models.PaymentAudit
	query := `
		SELECT id, user_id, event_type, event_source,
			slot_id, team_size, payment_intent_id, amount,
			attempt, flow_state, error_message, http_status_code,
			device, ip_address, created_at
		FROM payment_audits
		WHERE payment_intent_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &audits, query, paymentIntentID); err != nil {
		return nil, fmt.Errorf("failed to list payment audits: %w", err)
	}
	return audits, nil
}
