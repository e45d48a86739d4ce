package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spacebook/booking-flow/internal/models"
	"github.com/spacebook/booking-flow/internal/storage"
	"github.com/spacebook/booking-flow/pkg/backend"
	"github.com/spacebook/booking-flow/pkg/payment"
	"github.com/spacebook/booking-flow/pkg/retry"
)

// BookingFlowConfig holds configuration for a booking flow
type BookingFlowConfig struct {
	Retry          retry.Policy    // Confirm-payment retry policy
	ConfirmTimeout time.Duration   // Upper bound for one detached confirm sequence
	Sleep          retry.SleepFunc // Optional, replaces the real backoff timer
}

// DefaultBookingFlowConfig returns default configuration
func DefaultBookingFlowConfig() BookingFlowConfig {
	return BookingFlowConfig{
		Retry:          retry.DefaultPolicy(),
		ConfirmTimeout: 2 * time.Minute,
	}
}

// BookingFlowController drives one user's reservation lifecycle:
// select -> confirm -> payment -> success, with error reachable from payment.
// Operations are serialized; a second submission while a call is in flight
// gets ErrFlowBusy.
type BookingFlowController struct {
	mu sync.Mutex

	session models.Session
	state   models.FlowState

	slot     *models.TimeSlot
	slotID   int64
	teamSize int
	intent   *models.PaymentIntent

	redirectURL     string
	paymentPending  bool
	confirmation    *models.ReservationConfirmation
	alreadyReserved bool
	attempts        int
	completedIntent string
	lastErr         *models.FlowError

	loading      bool
	lastActivity time.Time

	payments PaymentAPI
	gateway  PaymentGateway
	drafts   storage.DraftStore
	audit    AuditRecorder
	retrier  *retry.Retrier
	config   BookingFlowConfig
	logger   *logrus.Logger
	now      func() time.Time
}

// NewBookingFlowController creates a controller in the select state
func NewBookingFlowController(
	session models.Session,
	payments PaymentAPI,
	gateway PaymentGateway,
	drafts storage.DraftStore,
	audit AuditRecorder,
	config BookingFlowConfig,
	logger *logrus.Logger,
) *BookingFlowController {
	opts := []retry.Option{}
	if config.Sleep != nil {
		opts = append(opts, retry.WithSleep(config.Sleep))
	}
	if config.ConfirmTimeout <= 0 {
		config.ConfirmTimeout = DefaultBookingFlowConfig().ConfirmTimeout
	}

	c := &BookingFlowController{
		session:  session,
		state:    models.FlowStateSelect,
		payments: payments,
		gateway:  gateway,
		drafts:   drafts,
		audit:    audit,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
	opts = append(opts, retry.WithObserver(c.onConfirmRetry))
	c.retrier = retry.New(config.Retry, opts...)
	c.lastActivity = c.now()
	return c
}

// ============================================================================
// READ MODEL
// ============================================================================

// Snapshot returns the current view of the flow
func (c *BookingFlowController) Snapshot() models.FlowSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns the current state
func (c *BookingFlowController) State() models.FlowState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Loading reports whether a call is in flight
func (c *BookingFlowController) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// IdleSince returns how long the flow has been untouched
func (c *BookingFlowController) IdleSince(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastActivity)
}

// SetSession refreshes the caller session (token rotation, new device)
func (c *BookingFlowController) SetSession(session models.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = session
	c.lastActivity = c.now()
}

// EstimatedCost is the display-only mirror of the price: hours * pricePerHour
func (c *BookingFlowController) EstimatedCost() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimatedCostLocked()
}

func (c *BookingFlowController) estimatedCostLocked() (float64, bool) {
	if c.slot == nil {
		return 0, false
	}
	cost, err := c.slot.Cost()
	if err != nil {
		return 0, false
	}
	return cost, true
}

func (c *BookingFlowController) teamSizeValidLocked() bool {
	return c.slot != nil && c.slot.FitsTeam(c.teamSize)
}

func (c *BookingFlowController) snapshotLocked() models.FlowSnapshot {
	snap := models.FlowSnapshot{
		State:           c.state,
		SlotID:          c.slotID,
		TeamSize:        c.teamSize,
		RedirectURL:     c.redirectURL,
		PaymentPending:  c.paymentPending,
		Confirmation:    c.confirmation,
		AlreadyReserved: c.alreadyReserved,
		Attempts:        c.attempts,
		Loading:         c.loading,
	}

	if c.slot != nil {
		slot := *c.slot
		snap.Slot = &slot
	}
	if cost, ok := c.estimatedCostLocked(); ok {
		snap.EstimatedCost = &cost
		snap.DisplayCost = models.FormatCost(cost)
	}
	if c.intent != nil {
		amount := c.intent.Amount
		snap.Amount = &amount
		snap.DisplayCost = models.FormatCost(amount)
		snap.PaymentIntentID = c.intent.PaymentIntentID
		snap.ClientSecret = c.intent.ClientSecret
	}

	if c.state == models.FlowStateConfirm {
		snap.CanProceed = c.teamSizeValidLocked() && !c.loading
		if c.slot != nil && !c.slot.FitsTeam(c.teamSize) {
			snap.ValidationMessage = fmt.Sprintf("team size must be between 1 and %d", c.slot.Room.Capacity)
		}
	}

	if c.lastErr != nil {
		e := *c.lastErr
		snap.Error = &e
	}
	if c.state == models.FlowStateError {
		snap.Actions = []string{models.ActionBrowseRooms, models.ActionViewReservations}
	}
	return snap
}

// ============================================================================
// SELECT & CONFIRM
// ============================================================================

// SelectSlot stores the chosen slot, resets team size to 1 and moves to confirm.
// Availability is the calendar's concern; booked slots never reach this call.
func (c *BookingFlowController) SelectSlot(slot models.TimeSlot) (models.FlowSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = c.now()

	if c.loading {
		return c.snapshotLocked(), ErrFlowBusy
	}
	if c.state != models.FlowStateSelect && c.state != models.FlowStateConfirm {
		return c.snapshotLocked(), ErrInvalidTransition
	}
	if _, err := slot.Hours(); err != nil {
		return c.snapshotLocked(), &ValidationError{Field: "slot", Message: "time slot has invalid start or end time"}
	}

	c.slot = &slot
	c.slotID = slot.ID
	c.teamSize = 1
	c.intent = nil
	c.redirectURL = ""
	c.paymentPending = false
	c.lastErr = nil
	c.state = models.FlowStateConfirm

	c.logger.WithFields(logrus.Fields{
		"user_id": c.session.UserID,
		"slot_id": slot.ID,
	}).Debug("Slot selected")

	return c.snapshotLocked(), nil
}

// SetTeamSize stores the team size. Out-of-range values are kept but disable proceeding.
func (c *BookingFlowController) SetTeamSize(n int) (models.FlowSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = c.now()

	if c.loading {
		return c.snapshotLocked(), ErrFlowBusy
	}
	if c.state != models.FlowStateConfirm {
		return c.snapshotLocked(), ErrInvalidTransition
	}

	c.teamSize = n
	c.lastErr = nil
	return c.snapshotLocked(), nil
}

// ProceedToPayment persists the draft, then asks the payment service for an intent
func (c *BookingFlowController) ProceedToPayment(ctx context.Context) (models.FlowSnapshot, error) {
	c.mu.Lock()
	c.lastActivity = c.now()
	if c.loading {
		defer c.mu.Unlock()
		return c.snapshotLocked(), ErrFlowBusy
	}
	if c.state != models.FlowStateConfirm {
		defer c.mu.Unlock()
		return c.snapshotLocked(), ErrInvalidTransition
	}
	if c.slot == nil {
		defer c.mu.Unlock()
		return c.snapshotLocked(), &ValidationError{Field: "slot", Message: "no time slot selected"}
	}
	if !c.teamSizeValidLocked() {
		defer c.mu.Unlock()
		return c.snapshotLocked(), &ValidationError{
			Field:   "teamSize",
			Message: fmt.Sprintf("team size must be between 1 and %d", c.slot.Room.Capacity),
		}
	}

	createReq := models.CreatePaymentIntentRequest{SlotID: c.slotID, TeamSize: c.teamSize}
	if err := createReq.Validate(); err != nil {
		defer c.mu.Unlock()
		return c.snapshotLocked(), &ValidationError{Field: "slotId", Message: "selected time slot has no identifier"}
	}

	c.loading = true
	session := c.session
	slotID, teamSize := c.slotID, c.teamSize
	c.mu.Unlock()

	draft := models.BookingDraft{SlotID: slotID, TeamSize: teamSize, SavedAt: c.now()}
	var intent *models.PaymentIntent
	err := c.drafts.Save(ctx, storage.DraftKey(session.UserID), draft)
	if err != nil {
		err = fmt.Errorf("failed to persist booking draft: %w", err)
	} else {
		intent, err = c.payments.CreatePaymentIntent(ctx, session.Token, createReq)
	}

	if err != nil {
		flowErr := &PaymentIntentError{Err: err}
		c.record(ctx, session, models.NewPaymentAudit(session.UserID, models.PaymentEventIntentFailed, models.PaymentSourceBackend).
			SetBooking(slotID, teamSize).
			SetState(models.FlowStateConfirm).
			SetError(err, statusOf(err)))
		c.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": session.UserID,
			"slot_id": slotID,
		}).Warn("Failed to create payment intent")

		c.mu.Lock()
		defer c.mu.Unlock()
		c.loading = false
		c.lastErr = &models.FlowError{Kind: models.ErrorKindPaymentIntent, Message: flowErr.Error()}
		return c.snapshotLocked(), flowErr
	}

	draft.PaymentIntentID = intent.PaymentIntentID
	if saveErr := c.drafts.Save(ctx, storage.DraftKey(session.UserID), draft); saveErr != nil {
		c.logger.WithError(saveErr).WithField("user_id", session.UserID).Warn("Failed to attach intent to booking draft")
	}

	amount := intent.Amount
	c.record(ctx, session, models.NewPaymentAudit(session.UserID, models.PaymentEventIntentCreated, models.PaymentSourceBackend).
		SetBooking(slotID, teamSize).
		SetIntent(intent.PaymentIntentID, &amount).
		SetState(models.FlowStatePayment))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	c.intent = intent
	c.lastErr = nil
	c.state = models.FlowStatePayment

	c.logger.WithFields(logrus.Fields{
		"user_id":           session.UserID,
		"slot_id":           slotID,
		"team_size":         teamSize,
		"payment_intent_id": intent.PaymentIntentID,
		"amount":            intent.Amount,
	}).Info("Payment intent created")

	return c.snapshotLocked(), nil
}

// ============================================================================
// PAYMENT
// ============================================================================

// ConfirmPayment confirms the intent with the gateway using a collected payment
// method, then materializes the reservation.
func (c *BookingFlowController) ConfirmPayment(ctx context.Context, paymentMethodID, returnURL string) (models.FlowSnapshot, error) {
	c.mu.Lock()
	c.lastActivity = c.now()
	if c.loading {
		defer c.mu.Unlock()
		return c.snapshotLocked(), ErrFlowBusy
	}
	if c.state != models.FlowStatePayment || c.intent == nil {
		defer c.mu.Unlock()
		return c.snapshotLocked(), ErrInvalidTransition
	}
	if paymentMethodID == "" {
		defer c.mu.Unlock()
		return c.snapshotLocked(), &ValidationError{Field: "paymentMethodId", Message: "payment method is required"}
	}

	c.loading = true
	session := c.session
	intent := *c.intent
	c.mu.Unlock()

	result, err := c.gateway.ConfirmIntent(ctx, intent.PaymentIntentID, paymentMethodID, returnURL)
	return c.afterGateway(ctx, session, intent, result, err)
}

// CompletePayment handles the browser reporting that the gateway confirmed the
// charge. The intent is re-checked with the gateway before finalizing.
func (c *BookingFlowController) CompletePayment(ctx context.Context, paymentIntentID string) (models.FlowSnapshot, error) {
	c.mu.Lock()
	c.lastActivity = c.now()
	if c.loading {
		defer c.mu.Unlock()
		return c.snapshotLocked(), ErrFlowBusy
	}
	if c.state != models.FlowStatePayment || c.intent == nil {
		defer c.mu.Unlock()
		return c.snapshotLocked(), ErrInvalidTransition
	}
	if paymentIntentID != c.intent.PaymentIntentID {
		defer c.mu.Unlock()
		return c.snapshotLocked(), &ValidationError{Field: "paymentIntentId", Message: "payment intent does not belong to this booking"}
	}

	c.loading = true
	session := c.session
	intent := *c.intent
	c.mu.Unlock()

	result, err := c.gateway.RetrieveIntent(ctx, intent.PaymentIntentID, intent.ClientSecret)
	return c.afterGateway(ctx, session, intent, result, err)
}

// ResumeFromReturn continues a payment after the gateway redirect or a reload.
// It needs both return parameters and the persisted draft.
func (c *BookingFlowController) ResumeFromReturn(ctx context.Context, ret models.GatewayReturn) (models.FlowSnapshot, error) {
	c.mu.Lock()
	c.lastActivity = c.now()
	if c.loading {
		defer c.mu.Unlock()
		return c.snapshotLocked(), ErrFlowBusy
	}
	if c.state == models.FlowStateSuccess && ret.PaymentIntentID != "" && ret.PaymentIntentID == c.completedIntent {
		defer c.mu.Unlock()
		return c.snapshotLocked(), nil
	}
	c.loading = true
	session := c.session
	c.mu.Unlock()

	if ret.PaymentIntentID == "" || ret.ClientSecret == "" {
		return c.failMissingInfo(ctx, session, errors.New("return URL lacks payment intent parameters"))
	}

	if done, err := c.drafts.Load(ctx, storage.CompletedKey(session.UserID)); err == nil && done.PaymentIntentID == ret.PaymentIntentID {
		c.logger.WithFields(logrus.Fields{
			"user_id":           session.UserID,
			"payment_intent_id": ret.PaymentIntentID,
		}).Info("Return URL reloaded for a completed booking")

		c.mu.Lock()
		defer c.mu.Unlock()
		c.loading = false
		c.state = models.FlowStateSuccess
		c.slotID = done.SlotID
		c.teamSize = done.TeamSize
		if c.slot != nil && c.slot.ID != done.SlotID {
			c.slot = nil
		}
		c.completedIntent = done.PaymentIntentID
		c.redirectURL = ""
		c.paymentPending = false
		c.lastErr = nil
		return c.snapshotLocked(), nil
	}

	draft, err := c.drafts.Load(ctx, storage.DraftKey(session.UserID))
	if err != nil {
		return c.failMissingInfo(ctx, session, err)
	}
	if draft.PaymentIntentID != "" && draft.PaymentIntentID != ret.PaymentIntentID {
		c.logger.WithFields(logrus.Fields{
			"user_id":      session.UserID,
			"draft_intent": draft.PaymentIntentID,
			"url_intent":   ret.PaymentIntentID,
		}).Warn("Return URL intent differs from draft, using URL intent")
	}

	c.record(ctx, session, models.NewPaymentAudit(session.UserID, models.PaymentEventRecoveryStarted, models.PaymentSourceUser).
		SetBooking(draft.SlotID, draft.TeamSize).
		SetIntent(ret.PaymentIntentID, nil))

	c.mu.Lock()
	c.slotID = draft.SlotID
	c.teamSize = draft.TeamSize
	if c.slot != nil && c.slot.ID != draft.SlotID {
		c.slot = nil
	}
	prev := c.intent
	c.intent = &models.PaymentIntent{
		PaymentIntentID: ret.PaymentIntentID,
		ClientSecret:    ret.ClientSecret,
	}
	if prev != nil && prev.PaymentIntentID == ret.PaymentIntentID {
		c.intent.Amount = prev.Amount
	}
	c.confirmation = nil
	c.alreadyReserved = false
	c.lastErr = nil
	c.state = models.FlowStatePayment
	intent := *c.intent
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"user_id":           session.UserID,
		"slot_id":           draft.SlotID,
		"payment_intent_id": ret.PaymentIntentID,
	}).Info("Resuming booking from gateway return")

	result, err := c.gateway.RetrieveIntent(ctx, intent.PaymentIntentID, intent.ClientSecret)
	return c.afterGateway(ctx, session, intent, result, err)
}

// afterGateway applies a gateway answer; called with loading set and the lock released
func (c *BookingFlowController) afterGateway(ctx context.Context, session models.Session, intent models.PaymentIntent, result *payment.GatewayResult, err error) (models.FlowSnapshot, error) {
	if result != nil && result.Amount > 0 && intent.Amount == 0 {
		intent.Amount = result.Amount
	}

	audit := func(event models.PaymentEventType) *models.PaymentAudit {
		c.mu.Lock()
		slotID, teamSize := c.slotID, c.teamSize
		c.mu.Unlock()
		amount := intent.Amount
		return models.NewPaymentAudit(session.UserID, event, models.PaymentSourceGateway).
			SetBooking(slotID, teamSize).
			SetIntent(intent.PaymentIntentID, &amount)
	}

	switch {
	case err == nil && result != nil && result.Succeeded():
		c.record(ctx, session, audit(models.PaymentEventGatewayConfirmed))
		c.mu.Lock()
		if c.intent != nil {
			c.intent.Amount = intent.Amount
		}
		c.redirectURL = ""
		c.paymentPending = false
		c.mu.Unlock()
		return c.finalize(ctx, session, intent)

	case err == nil && result != nil && result.Pending():
		c.record(ctx, session, audit(models.PaymentEventGatewayProcessing))
		c.logger.WithFields(logrus.Fields{
			"user_id":           session.UserID,
			"payment_intent_id": intent.PaymentIntentID,
		}).Info("Payment still processing at gateway")
		c.mu.Lock()
		defer c.mu.Unlock()
		c.loading = false
		if c.intent != nil {
			c.intent.Amount = intent.Amount
		}
		c.redirectURL = ""
		c.paymentPending = true
		c.lastErr = nil
		return c.snapshotLocked(), nil

	case err == nil && result != nil && result.RequiresAction():
		c.record(ctx, session, audit(models.PaymentEventGatewayActionReq))
		c.mu.Lock()
		defer c.mu.Unlock()
		c.loading = false
		if c.intent != nil {
			c.intent.Amount = intent.Amount
		}
		c.redirectURL = result.RedirectURL
		c.paymentPending = false
		c.lastErr = nil
		return c.snapshotLocked(), nil
	}

	if err == nil {
		status := "unknown"
		if result != nil {
			status = result.Status
		}
		err = fmt.Errorf("payment not completed (status %s)", status)
	}
	gatewayErr := &GatewayError{Err: err}
	c.record(ctx, session, audit(models.PaymentEventGatewayDeclined).SetError(err, 0))

	var decline *payment.DeclineError
	entry := c.logger.WithError(err).WithFields(logrus.Fields{
		"user_id":           session.UserID,
		"payment_intent_id": intent.PaymentIntentID,
	})
	if errors.As(err, &decline) {
		entry.Info("Payment declined by gateway")
	} else {
		entry.Warn("Gateway confirmation failed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	c.paymentPending = false
	c.lastErr = &models.FlowError{Kind: models.ErrorKindGateway, Message: gatewayErr.Error()}
	return c.snapshotLocked(), gatewayErr
}

// finalize confirms with the payment service under the retry policy. The call
// runs detached from the caller so navigating away never cancels it.
func (c *BookingFlowController) finalize(ctx context.Context, session models.Session, intent models.PaymentIntent) (models.FlowSnapshot, error) {
	c.mu.Lock()
	req := models.ConfirmPaymentRequest{
		PaymentIntentID: intent.PaymentIntentID,
		SlotID:          c.slotID,
		TeamSize:        c.teamSize,
	}
	c.mu.Unlock()

	confirmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.ConfirmTimeout)
	defer cancel()

	var (
		confirmation *models.ReservationConfirmation
		outcome      retry.Outcome
		err          error
	)
	if err = req.Validate(); err != nil {
		err = fmt.Errorf("incomplete booking for confirmation: %w", err)
	} else {
		outcome, err = c.retrier.Do(confirmCtx, ClassifyConfirmError, func(ctx context.Context) error {
			var callErr error
			confirmation, callErr = c.payments.ConfirmPayment(ctx, session.Token, req)
			return callErr
		})
	}

	amount := intent.Amount
	base := func(event models.PaymentEventType, source models.PaymentEventSource) *models.PaymentAudit {
		return models.NewPaymentAudit(session.UserID, event, source).
			SetBooking(req.SlotID, req.TeamSize).
			SetIntent(req.PaymentIntentID, &amount).
			SetAttempt(outcome.Attempts)
	}

	if err != nil {
		failure := &ConfirmationFailure{Attempts: outcome.Attempts, Err: err}
		c.record(confirmCtx, session, base(models.PaymentEventConfirmFailed, models.PaymentSourceBackend).
			SetState(models.FlowStateError).
			SetError(err, statusOf(err)))
		c.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":           session.UserID,
			"payment_intent_id": req.PaymentIntentID,
			"attempts":          outcome.Attempts,
		}).Error("Booking confirmation failed")

		c.mu.Lock()
		defer c.mu.Unlock()
		c.loading = false
		c.attempts = outcome.Attempts
		c.state = models.FlowStateError
		c.lastErr = &models.FlowError{Kind: models.ErrorKindConfirmationFailure, Message: failure.Error()}
		return c.snapshotLocked(), failure
	}

	if outcome.Resolved != nil {
		c.record(confirmCtx, session, base(models.PaymentEventConflictResolved, models.PaymentSourceBackend).
			SetState(models.FlowStateSuccess).
			SetError(outcome.Resolved, statusOf(outcome.Resolved)))
		c.logger.WithFields(logrus.Fields{
			"user_id":           session.UserID,
			"payment_intent_id": req.PaymentIntentID,
			"reason":            outcome.Resolved.Error(),
		}).Info("Confirmation conflict treated as success")
	} else {
		c.record(confirmCtx, session, base(models.PaymentEventBookingConfirmed, models.PaymentSourceBackend).
			SetState(models.FlowStateSuccess))
		c.logger.WithFields(logrus.Fields{
			"user_id":           session.UserID,
			"payment_intent_id": req.PaymentIntentID,
			"attempts":          outcome.Attempts,
		}).Info("Booking confirmed")
	}

	completed := models.BookingDraft{
		SlotID:          req.SlotID,
		TeamSize:        req.TeamSize,
		PaymentIntentID: req.PaymentIntentID,
		SavedAt:         c.now(),
	}
	if saveErr := c.drafts.Save(confirmCtx, storage.CompletedKey(session.UserID), completed); saveErr != nil {
		c.logger.WithError(saveErr).WithField("user_id", session.UserID).Warn("Failed to record completed booking")
	}
	if delErr := c.drafts.Delete(confirmCtx, storage.DraftKey(session.UserID)); delErr != nil {
		c.logger.WithError(delErr).WithField("user_id", session.UserID).Warn("Failed to delete booking draft")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	c.attempts = outcome.Attempts
	c.state = models.FlowStateSuccess
	c.completedIntent = req.PaymentIntentID
	c.alreadyReserved = outcome.Resolved != nil
	if outcome.Resolved == nil {
		c.confirmation = confirmation
	}
	c.lastErr = nil
	return c.snapshotLocked(), nil
}

func (c *BookingFlowController) failMissingInfo(ctx context.Context, session models.Session, cause error) (models.FlowSnapshot, error) {
	failure := &ConfirmationFailure{Err: errors.New(MissingRecoveryInfoMessage)}
	c.logger.WithError(cause).WithField("user_id", session.UserID).Warn("Cannot resume booking")

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	c.state = models.FlowStateError
	c.lastErr = &models.FlowError{Kind: models.ErrorKindConfirmationFailure, Message: MissingRecoveryInfoMessage}
	return c.snapshotLocked(), failure
}

// ============================================================================
// BACK
// ============================================================================

// Back returns to select from any state, discarding the slot, the intent and the
// draft. An unused intent is left to expire server-side.
func (c *BookingFlowController) Back(ctx context.Context) (models.FlowSnapshot, error) {
	c.mu.Lock()
	c.lastActivity = c.now()
	if c.loading {
		defer c.mu.Unlock()
		return c.snapshotLocked(), ErrFlowBusy
	}

	session := c.session
	var abandoned *models.PaymentAudit
	if c.intent != nil && c.state == models.FlowStatePayment {
		abandoned = models.NewPaymentAudit(session.UserID, models.PaymentEventFlowAbandoned, models.PaymentSourceUser).
			SetBooking(c.slotID, c.teamSize).
			SetIntent(c.intent.PaymentIntentID, nil).
			SetState(c.state)
	}

	c.state = models.FlowStateSelect
	c.slot = nil
	c.slotID = 0
	c.teamSize = 0
	c.intent = nil
	c.redirectURL = ""
	c.paymentPending = false
	c.confirmation = nil
	c.alreadyReserved = false
	c.attempts = 0
	c.lastErr = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if abandoned != nil {
		c.record(ctx, session, abandoned)
	}
	if err := c.drafts.Delete(ctx, storage.DraftKey(session.UserID)); err != nil {
		c.logger.WithError(err).WithField("user_id", session.UserID).Warn("Failed to delete booking draft")
	}
	return snap, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func (c *BookingFlowController) onConfirmRetry(attempt int, delay time.Duration, err error) {
	c.mu.Lock()
	session := c.session
	slotID, teamSize := c.slotID, c.teamSize
	var intentID string
	if c.intent != nil {
		intentID = c.intent.PaymentIntentID
	}
	c.attempts = attempt
	c.mu.Unlock()

	c.logger.WithError(err).WithFields(logrus.Fields{
		"user_id":           session.UserID,
		"payment_intent_id": intentID,
		"attempt":           attempt,
		"delay_ms":          delay.Milliseconds(),
	}).Warn("Transient confirmation failure, retrying")

	c.record(context.Background(), session, models.NewPaymentAudit(session.UserID, models.PaymentEventConfirmAttemptFail, models.PaymentSourceBackend).
		SetBooking(slotID, teamSize).
		SetIntent(intentID, nil).
		SetAttempt(attempt).
		SetError(err, statusOf(err)))
}

func (c *BookingFlowController) record(ctx context.Context, session models.Session, entry *models.PaymentAudit) {
	if c.audit == nil {
		return
	}
	c.audit.Record(ctx, entry.SetSession(session))
}

func statusOf(err error) int {
	if apiErr, ok := backend.AsAPIError(err); ok {
		return apiErr.StatusCode
	}
	return 0
}
