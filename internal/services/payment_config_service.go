package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spacebook/booking-flow/internal/models"
)

// PaymentConfigService serves the publishable gateway key, cached for ttl.
// The configured fallback key is used when the backend cannot be reached.
type PaymentConfigService struct {
	source      PaymentConfigSource
	fallbackKey string
	ttl         time.Duration
	logger      *logrus.Logger

	mu        sync.RWMutex
	cached    *models.PaymentConfig
	fetchedAt time.Time
	now       func() time.Time
}

// NewPaymentConfigService creates a new payment config service
func NewPaymentConfigService(source PaymentConfigSource, fallbackKey string, ttl time.Duration, logger *logrus.Logger) *PaymentConfigService {
	return &PaymentConfigService{
		source:      source,
		fallbackKey: fallbackKey,
		ttl:         ttl,
		logger:      logger,
		now:         time.Now,
	}
}

// Get returns the payment gateway config
func (s *PaymentConfigService) Get(ctx context.Context) (*models.PaymentConfig, error) {
	s.mu.RLock()
	if s.cached != nil && s.now().Sub(s.fetchedAt) < s.ttl {
		cfg := *s.cached
		s.mu.RUnlock()
		return &cfg, nil
	}
	s.mu.RUnlock()

	cfg, err := s.source.GetPaymentConfig(ctx)
	if err == nil && cfg.PublishableKey != "" {
		s.mu.Lock()
		s.cached = cfg
		s.fetchedAt = s.now()
		s.mu.Unlock()
		out := *cfg
		return &out, nil
	}

	if err == nil {
		err = fmt.Errorf("backend returned an empty publishable key")
	}
	if s.fallbackKey != "" {
		s.logger.WithError(err).Warn("Using configured publishable key")
		return &models.PaymentConfig{PublishableKey: s.fallbackKey}, nil
	}
	return nil, fmt.Errorf("failed to get payment config: %w", err)
}
