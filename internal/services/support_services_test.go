package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacebook/booking-flow/internal/models"
)

type fakeConfigSource struct {
	cfg   *models.PaymentConfig
	err   error
	calls int
}

func (f *fakeConfigSource) GetPaymentConfig(ctx context.Context) (*models.PaymentConfig, error) {
	f.calls++
	return f.cfg, f.err
}

func TestPaymentConfigService(t *testing.T) {
	t.Run("caches backend key", func(t *testing.T) {
		source := &fakeConfigSource{cfg: &models.PaymentConfig{PublishableKey: "pk_backend"}}
		svc := NewPaymentConfigService(source, "pk_fallback", time.Minute, quietLogger())

		for i := 0; i < 3; i++ {
			cfg, err := svc.Get(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "pk_backend", cfg.PublishableKey)
		}
		assert.Equal(t, 1, source.calls)
	})

	t.Run("falls back when backend fails", func(t *testing.T) {
		source := &fakeConfigSource{err: errors.New("unreachable")}
		svc := NewPaymentConfigService(source, "pk_fallback", time.Minute, quietLogger())

		cfg, err := svc.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "pk_fallback", cfg.PublishableKey)
	})

	t.Run("error without fallback", func(t *testing.T) {
		source := &fakeConfigSource{cfg: &models.PaymentConfig{}}
		svc := NewPaymentConfigService(source, "", time.Minute, quietLogger())

		_, err := svc.Get(context.Background())
		assert.Error(t, err)
	})
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []*models.PaymentAudit
	err     error
}

func (f *fakeAuditRepo) Log(ctx context.Context, audit *models.PaymentAudit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, audit)
	return f.err
}

func TestAuditService_Record(t *testing.T) {
	t.Run("persists when enabled", func(t *testing.T) {
		repo := &fakeAuditRepo{}
		svc := NewAuditService(repo, true, quietLogger())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		svc.Record(ctx, models.NewPaymentAudit("u1", models.PaymentEventBookingConfirmed, models.PaymentSourceBackend))

		assert.Len(t, repo.entries, 1, "cancelled request context does not drop audit rows")
	})

	t.Run("disabled is a no-op", func(t *testing.T) {
		repo := &fakeAuditRepo{}
		svc := NewAuditService(repo, false, quietLogger())
		svc.Record(context.Background(), models.NewPaymentAudit("u1", models.PaymentEventIntentCreated, models.PaymentSourceFlow))
		assert.Empty(t, repo.entries)
	})

	t.Run("repository error is swallowed", func(t *testing.T) {
		repo := &fakeAuditRepo{err: errors.New("db down")}
		svc := NewAuditService(repo, true, quietLogger())
		assert.NotPanics(t, func() {
			svc.Record(context.Background(), models.NewPaymentAudit("u1", models.PaymentEventConfirmFailed, models.PaymentSourceBackend))
		})
	})

	t.Run("log only without repository", func(t *testing.T) {
		svc := NewAuditService(nil, true, quietLogger())
		assert.NotPanics(t, func() {
			svc.Record(context.Background(), models.NewPaymentAudit("u1", models.PaymentEventIntentCreated, models.PaymentSourceFlow))
		})
	})
}

type fakePurger struct {
	cutoffs []time.Time
}

func (f *fakePurger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return 2, nil
}

func TestCronService(t *testing.T) {
	t.Run("schedules both jobs", func(t *testing.T) {
		m, _ := newTestManager(time.Hour)
		purger := &fakePurger{}
		svc := NewCronService(m, purger, CronConfig{PruneSchedule: "0 */5 * * * *", PurgeSchedule: "0 0 * * * *", DraftTTL: 24 * time.Hour}, quietLogger())

		require.NoError(t, svc.Start())
		defer svc.Stop()
		assert.Equal(t, 2, svc.Entries())
	})

	t.Run("skips purge without postgres drafts", func(t *testing.T) {
		m, _ := newTestManager(time.Hour)
		svc := NewCronService(m, nil, CronConfig{PruneSchedule: "0 */5 * * * *", PurgeSchedule: "0 0 * * * *", DraftTTL: 24 * time.Hour}, quietLogger())

		require.NoError(t, svc.Start())
		defer svc.Stop()
		assert.Equal(t, 1, svc.Entries())
	})

	t.Run("extra job", func(t *testing.T) {
		m, _ := newTestManager(time.Hour)
		svc := NewCronService(m, nil, CronConfig{PruneSchedule: "0 */5 * * * *"}, quietLogger())

		require.NoError(t, svc.AddJob("cleanup", "0 */10 * * * *", func() {}))
		assert.Error(t, svc.AddJob("broken", "soon", func() {}))
		require.NoError(t, svc.Start())
		defer svc.Stop()
		assert.Equal(t, 2, svc.Entries())
	})

	t.Run("invalid schedule", func(t *testing.T) {
		m, _ := newTestManager(time.Hour)
		svc := NewCronService(m, nil, CronConfig{PruneSchedule: "every five minutes"}, quietLogger())
		assert.Error(t, svc.Start())
	})

	t.Run("run now purges with ttl cutoff", func(t *testing.T) {
		m, _ := newTestManager(time.Hour)
		purger := &fakePurger{}
		svc := NewCronService(m, purger, CronConfig{DraftTTL: 24 * time.Hour}, quietLogger())

		before := time.Now().Add(-24 * time.Hour)
		svc.RunNow()

		require.Len(t, purger.cutoffs, 1)
		assert.WithinDuration(t, before, purger.cutoffs[0], 5*time.Second)
	})
}
