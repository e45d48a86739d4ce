package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spacebook/booking-flow/internal/models"
)

const auditWriteTimeout = 5 * time.Second

// PaymentAuditLogger persists audit entries
type PaymentAuditLogger interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
}

// AuditService records payment events to the log and, when configured, to Postgres
type AuditService struct {
	repo    PaymentAuditLogger
	logger  *logrus.Logger
	enabled bool
}

// NewAuditService creates a new audit service. repo may be nil.
func NewAuditService(repo PaymentAuditLogger, enabled bool, logger *logrus.Logger) *AuditService {
	return &AuditService{
		repo:    repo,
		logger:  logger,
		enabled: enabled,
	}
}

// Record writes one entry. Failures are logged and swallowed.
func (s *AuditService) Record(ctx context.Context, entry *models.PaymentAudit) {
	if !s.enabled || entry == nil {
		return
	}

	fields := logrus.Fields{
		"audit":        true,
		"audit_id":     entry.ID,
		"user_id":      entry.UserID,
		"event_type":   entry.EventType,
		"event_source": entry.EventSource,
	}
	if entry.PaymentIntentID != nil {
		fields["payment_intent_id"] = *entry.PaymentIntentID
	}
	if entry.SlotID != nil {
		fields["slot_id"] = *entry.SlotID
	}
	if entry.Attempt != nil {
		fields["attempt"] = *entry.Attempt
	}
	if entry.ErrorMessage != nil {
		fields["error"] = *entry.ErrorMessage
	}
	s.logger.WithFields(fields).Info("Payment event")

	if s.repo == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
	defer cancel()
	if err := s.repo.Log(writeCtx, entry); err != nil {
		s.logger.WithError(err).WithField("event_type", entry.EventType).Error("Failed to persist payment audit")
	}
}
