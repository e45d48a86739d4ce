package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spacebook/booking-flow/internal/models"
	"github.com/spacebook/booking-flow/internal/storage"
)

// DraftRepository stores recovery drafts in the booking_drafts table.
// It satisfies storage.DraftStore.
type DraftRepository struct {
	db     DB
	ttl    time.Duration
	logger *logrus.Logger
}

type draftRow struct {
	DraftKey        string         `db:"draft_key"`
	SlotID          int64          `db:"slot_id"`
	TeamSize        int            `db:"team_size"`
	PaymentIntentID sql.NullString `db:"payment_intent_id"`
	SavedAt         time.Time      `db:"saved_at"`
}

// NewDraftRepository creates a new draft repository; ttl <= 0 disables expiry on read
func NewDraftRepository(db DB, ttl time.Duration, logger *logrus.Logger) *DraftRepository {
	return &DraftRepository{db: db, ttl: ttl, logger: logger}
}

// Save upserts the draft under key
func (r *DraftRepository) Save(ctx context.Context, key string, draft models.BookingDraft) error {
	if err := draft.Validate(); err != nil {
		return err
	}
	if draft.SavedAt.IsZero() {
		draft.SavedAt = time.Now()
	}

	query := `
		INSERT INTO booking_drafts (draft_key, slot_id, team_size, payment_intent_id, saved_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (draft_key) DO UPDATE SET
			slot_id = EXCLUDED.slot_id,
			team_size = EXCLUDED.team_size,
			payment_intent_id = EXCLUDED.payment_intent_id,
			saved_at = EXCLUDED.saved_at`

	intentID := sql.NullString{String: draft.PaymentIntentID, Valid: draft.PaymentIntentID != ""}
	if _, err := r.db.ExecContext(ctx, query, key, draft.SlotID, draft.TeamSize, intentID, draft.SavedAt); err != nil {
		return fmt.Errorf("failed to save draft: %w", err)
	}
	return nil
}

// Load returns the draft stored under key
func (r *DraftRepository) Load(ctx context.Context, key string) (*models.BookingDraft, error) {
	var row draftRow
	query := `
		SELECT draft_key, slot_id, team_size, payment_intent_id, saved_at
		FROM booking_drafts
		WHERE draft_key = $1`

	err := r.db.GetContext(ctx, &row, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrDraftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}

	if r.ttl > 0 && time.Since(row.SavedAt) > r.ttl {
		return nil, storage.ErrDraftNotFound
	}

	return &models.BookingDraft{
		SlotID:          row.SlotID,
		TeamSize:        row.TeamSize,
		PaymentIntentID: row.PaymentIntentID.String,
		SavedAt:         row.SavedAt,
	}, nil
}

// Delete removes the draft stored under key
func (r *DraftRepository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM booking_drafts WHERE draft_key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}

// DeleteOlderThan purges drafts saved before cutoff and returns how many were removed
func (r *DraftRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM booking_drafts WHERE saved_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge drafts: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purge result: %w", err)
	}

	if removed > 0 {
		r.logger.WithFields(logrus.Fields{
			"removed": removed,
			"cutoff":  cutoff,
		}).Info("Purged stale booking drafts")
	}
	return removed, nil
}

// TTL returns the configured draft lifetime
func (r *DraftRepository) TTL() time.Duration {
	return r.ttl
}
