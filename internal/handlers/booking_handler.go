package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/spacebook/booking-flow/internal/models"
	"github.com/spacebook/booking-flow/internal/services"
)

// SlotFinder resolves a clicked slot for a date
type SlotFinder interface {
	FindSlot(ctx context.Context, session models.Session, slotID int64, date string) (*models.TimeSlot, error)
}

// BookingHandler exposes the per-user booking flow
type BookingHandler struct {
	flows     *services.FlowManager
	slots     SlotFinder
	returnURL string
	logger    *logrus.Logger
}

// NewBookingHandler creates a new booking handler. returnURL is where the
// gateway sends the browser after an authentication challenge.
func NewBookingHandler(flows *services.FlowManager, slots SlotFinder, returnURL string, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		flows:     flows,
		slots:     slots,
		returnURL: returnURL,
		logger:    logger,
	}
}

// SelectSlotRequest is the body of POST /booking/select
type SelectSlotRequest struct {
	SlotID int64  `json:"slotId" binding:"required,gt=0"`
	Date   string `json:"date" binding:"required"`
}

// TeamSizeRequest is the body of PUT /booking/team-size
type TeamSizeRequest struct {
	TeamSize *int `json:"teamSize" binding:"required"`
}

// ConfirmPaymentRequest is the body of POST /booking/confirm
type ConfirmPaymentRequest struct {
	PaymentMethodID string `json:"paymentMethodId" binding:"required"`
}

// CompletePaymentRequest is the body of POST /booking/complete
type CompletePaymentRequest struct {
	PaymentIntentID string `json:"paymentIntentId" binding:"required"`
}

// GetBooking handles GET /api/v1/booking
func (h *BookingHandler) GetBooking(c *gin.Context) {
	session, ok := sessionOrAbort(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, BookingResponse{Booking: h.flows.Get(session).Snapshot()})
}

// SelectSlot handles POST /api/v1/booking/select
func (h *BookingHandler) SelectSlot(c *gin.Context) {
	session, ok := sessionOrAbort(c)
	if !ok {
		return
	}

	var req SelectSlotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "slotId and date are required")
		return
	}

	slot, err := h.slots.FindSlot(c.Request.Context(), session, req.SlotID, req.Date)
	if err != nil {
		var validationErr *services.ValidationError
		switch {
		case errors.As(err, &validationErr):
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				Error:   "validation_error",
				Message: validationErr.Message,
				Code:    "VALIDATION_FAILED",
				Field:   validationErr.Field,
			})
		case errors.Is(err, services.ErrSlotNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Time slot not found",
				Code:    "SLOT_NOT_FOUND",
			})
		default:
			h.logger.WithError(err).WithField("slot_id", req.SlotID).Error("Failed to resolve time slot")
			c.JSON(http.StatusBadGateway, ErrorResponse{
				Error:   "backend_error",
				Message: "Failed to load time slot",
				Code:    "BACKEND_UNAVAILABLE",
			})
		}
		return
	}

	// Booked slots open a read-only detail and never enter the flow.
	if !slot.Available {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "slot_booked",
			Message: "This time slot is already booked",
			Code:    "SLOT_BOOKED",
			Slot:    slot,
		})
		return
	}

	snap, err := h.flows.Get(session).SelectSlot(*slot)
	respondFlow(c, h.logger, snap, err)
}

// SetTeamSize handles PUT /api/v1/booking/team-size
func (h *BookingHandler) SetTeamSize(c *gin.Context) {
	session, ok := sessionOrAbort(c)
	if !ok {
		return
	}

	var req TeamSizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "teamSize is required")
		return
	}

	snap, err := h.flows.Get(session).SetTeamSize(*req.TeamSize)
	respondFlow(c, h.logger, snap, err)
}

// CreatePaymentIntent handles POST /api/v1/booking/payment-intent
func (h *BookingHandler) CreatePaymentIntent(c *gin.Context) {
	session, ok := sessionOrAbort(c)
	if !ok {
		return
	}

	snap, err := h.flows.Get(session).ProceedToPayment(c.Request.Context())
	respondFlow(c, h.logger, snap, err)
}

// ConfirmPayment handles POST /api/v1/booking/confirm
func (h *BookingHandler) ConfirmPayment(c *gin.Context) {
	session, ok := sessionOrAbort(c)
	if !ok {
		return
	}

	var req ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "paymentMethodId is required")
		return
	}

	snap, err := h.flows.Get(session).ConfirmPayment(c.Request.Context(), req.PaymentMethodID, h.returnURL)
	respondFlow(c, h.logger, snap, err)
}

// CompletePayment handles POST /api/v1/booking/complete
func (h *BookingHandler) CompletePayment(c *gin.Context) {
	session, ok := sessionOrAbort(c)
	if !ok {
		return
	}

	var req CompletePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "paymentIntentId is required")
		return
	}

	snap, err := h.flows.Get(session).CompletePayment(c.Request.Context(), req.PaymentIntentID)
	respondFlow(c, h.logger, snap, err)
}

// ResumeFromReturn handles GET /api/v1/booking/return
func (h *BookingHandler) ResumeFromReturn(c *gin.Context) {
	session, ok := sessionOrAbort(c)
	if !ok {
		return
	}

	var ret models.GatewayReturn
	if err := c.ShouldBindQuery(&ret); err != nil {
		badRequest(c, "Invalid return parameters")
		return
	}

	snap, err := h.flows.Get(session).ResumeFromReturn(c.Request.Context(), ret)
	respondFlow(c, h.logger, snap, err)
}

// Back handles POST /api/v1/booking/back
func (h *BookingHandler) Back(c *gin.Context) {
	session, ok := sessionOrAbort(c)
	if !ok {
		return
	}

	snap, err := h.flows.Get(session).Back(c.Request.Context())
	respondFlow(c, h.logger, snap, err)
}
