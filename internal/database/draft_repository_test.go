package database

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacebook/booking-flow/internal/models"
	"github.com/spacebook/booking-flow/internal/storage"
)

func newMockDB(t *testing.T) (*PostgresDB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &PostgresDB{DB: sqlx.NewDb(db, "sqlmock")}, mock
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestDraftRepository_Save(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDraftRepository(db, 0, quietLogger())

	t.Run("Upsert", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO booking_drafts`).
			WithArgs("booking:draft:u1", 42, 3, "pi_1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Save(context.Background(), "booking:draft:u1", models.BookingDraft{SlotID: 42, TeamSize: 3, PaymentIntentID: "pi_1"})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Without intent", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO booking_drafts`).
			WithArgs("booking:draft:u1", 42, 3, nil, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.Save(context.Background(), "booking:draft:u1", models.BookingDraft{SlotID: 42, TeamSize: 3})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Invalid draft never reaches the database", func(t *testing.T) {
		err := repo.Save(context.Background(), "booking:draft:u1", models.BookingDraft{SlotID: 0, TeamSize: 3})
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Database error", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO booking_drafts`).
			WillReturnError(fmt.Errorf("connection reset"))

		err := repo.Save(context.Background(), "booking:draft:u1", models.BookingDraft{SlotID: 1, TeamSize: 1})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to save draft")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDraftRepository_Load(t *testing.T) {
	db, mock := newMockDB(t)
	columns := []string{"draft_key", "slot_id", "team_size", "payment_intent_id", "saved_at"}

	t.Run("Found", func(t *testing.T) {
		repo := NewDraftRepository(db, 0, quietLogger())
		savedAt := time.Now().Add(-time.Minute)

		mock.ExpectQuery(`SELECT (.+) FROM booking_drafts WHERE draft_key`).
			WithArgs("booking:draft:u1").
			WillReturnRows(sqlmock.NewRows(columns).AddRow("booking:draft:u1", 42, 3, "pi_1", savedAt))

		draft, err := repo.Load(context.Background(), "booking:draft:u1")
		require.NoError(t, err)
		assert.Equal(t, int64(42), draft.SlotID)
		assert.Equal(t, 3, draft.TeamSize)
		assert.Equal(t, "pi_1", draft.PaymentIntentID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing", func(t *testing.T) {
		repo := NewDraftRepository(db, 0, quietLogger())

		mock.ExpectQuery(`SELECT (.+) FROM booking_drafts`).
			WithArgs("booking:draft:u2").
			WillReturnRows(sqlmock.NewRows(columns))

		_, err := repo.Load(context.Background(), "booking:draft:u2")
		assert.ErrorIs(t, err, storage.ErrDraftNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Expired", func(t *testing.T) {
		repo := NewDraftRepository(db, time.Hour, quietLogger())

		mock.ExpectQuery(`SELECT (.+) FROM booking_drafts`).
			WithArgs("booking:draft:u3").
			WillReturnRows(sqlmock.NewRows(columns).AddRow("booking:draft:u3", 42, 3, nil, time.Now().Add(-2*time.Hour)))

		_, err := repo.Load(context.Background(), "booking:draft:u3")
		assert.ErrorIs(t, err, storage.ErrDraftNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDraftRepository_DeleteOlderThan(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDraftRepository(db, time.Hour, quietLogger())
	cutoff := time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM booking_drafts WHERE saved_at`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := repo.DeleteOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDraftRepository_Delete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDraftRepository(db, 0, quietLogger())

	mock.ExpectExec(`DELETE FROM booking_drafts WHERE draft_key`).
		WithArgs("booking:draft:u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "booking:draft:u1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDraftRepository_IsDraftStore(t *testing.T) {
	var _ storage.DraftStore = (*DraftRepository)(nil)
}
