package services

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spacebook/booking-flow/internal/models"
	"github.com/spacebook/booking-flow/internal/storage"
)

// FlowManager keeps one BookingFlowController per user
type FlowManager struct {
	mu      sync.Mutex
	flows   map[string]*BookingFlowController
	idleTTL time.Duration

	payments PaymentAPI
	gateway  PaymentGateway
	drafts   storage.DraftStore
	audit    AuditRecorder
	config   BookingFlowConfig
	logger   *logrus.Logger
	now      func() time.Time
}

// NewFlowManager creates a new flow manager
func NewFlowManager(
	payments PaymentAPI,
	gateway PaymentGateway,
	drafts storage.DraftStore,
	audit AuditRecorder,
	config BookingFlowConfig,
	idleTTL time.Duration,
	logger *logrus.Logger,
) *FlowManager {
	return &FlowManager{
		flows:    make(map[string]*BookingFlowController),
		idleTTL:  idleTTL,
		payments: payments,
		gateway:  gateway,
		drafts:   drafts,
		audit:    audit,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// Get returns the caller's controller, creating it on first use. The session is
// refreshed on every access so rotated tokens reach the backend.
func (m *FlowManager) Get(session models.Session) *BookingFlowController {
	m.mu.Lock()
	defer m.mu.Unlock()

	if flow, ok := m.flows[session.UserID]; ok {
		flow.SetSession(session)
		return flow
	}

	flow := NewBookingFlowController(session, m.payments, m.gateway, m.drafts, m.audit, m.config, m.logger)
	flow.now = m.now
	flow.lastActivity = m.now()
	m.flows[session.UserID] = flow
	return flow
}

// Prune drops controllers idle longer than the TTL. Busy flows are kept.
func (m *FlowManager) Prune() int {
	if m.idleTTL <= 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for userID, flow := range m.flows {
		if flow.Loading() || flow.IdleSince(now) <= m.idleTTL {
			continue
		}
		delete(m.flows, userID)
		removed++
	}

	if removed > 0 {
		m.logger.WithFields(logrus.Fields{
			"removed":   removed,
			"remaining": len(m.flows),
		}).Info("Pruned idle booking flows")
	}
	return removed
}

// Len returns the number of live controllers
func (m *FlowManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.flows)
}
