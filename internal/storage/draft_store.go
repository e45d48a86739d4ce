package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spacebook/booking-flow/internal/models"
)

const (
	draftKeyPrefix     = "booking:draft:"
	completedKeyPrefix = "booking:completed:"
)

// ErrDraftNotFound is returned when no draft is stored under a key
var ErrDraftNotFound = errors.New("booking draft not found")

// DraftStore persists the booking draft so a payment can be recovered after a
// redirect or a reload. Reads and writes are whole-record.
type DraftStore interface {
	Save(ctx context.Context, key string, draft models.BookingDraft) error
	Load(ctx context.Context, key string) (*models.BookingDraft, error)
	Delete(ctx context.Context, key string) error
}

// DraftKey returns the fixed storage name for a user's draft
func DraftKey(userID string) string {
	return draftKeyPrefix + userID
}

// CompletedKey names the record of a user's last confirmed booking. It lets a
// reloaded return URL show success after the draft is gone.
func CompletedKey(userID string) string {
	return completedKeyPrefix + userID
}

// MemoryDraftStore keeps drafts in process memory
type MemoryDraftStore struct {
	mu     sync.RWMutex
	drafts map[string]models.BookingDraft
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryDraftStore creates an in-memory store; ttl <= 0 keeps drafts forever
func NewMemoryDraftStore(ttl time.Duration) *MemoryDraftStore {
	return &MemoryDraftStore{
		drafts: make(map[string]models.BookingDraft),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (s *MemoryDraftStore) Save(ctx context.Context, key string, draft models.BookingDraft) error {
	if err := draft.Validate(); err != nil {
		return err
	}
	if draft.SavedAt.IsZero() {
		draft.SavedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[key] = draft
	return nil
}

func (s *MemoryDraftStore) Load(ctx context.Context, key string) (*models.BookingDraft, error) {
	s.mu.RLock()
	draft, ok := s.drafts[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrDraftNotFound
	}
	if s.ttl > 0 && s.now().Sub(draft.SavedAt) > s.ttl {
		_ = s.Delete(ctx, key)
		return nil, ErrDraftNotFound
	}
	return &draft, nil
}

func (s *MemoryDraftStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, key)
	return nil
}

// Len returns the number of stored drafts
func (s *MemoryDraftStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.drafts)
}
