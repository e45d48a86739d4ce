package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/spacebook/booking-flow/internal/services"
)

// PaymentHandler serves gateway configuration and the caller's reservations
type PaymentHandler struct {
	config       *services.PaymentConfigService
	reservations services.ReservationStore
	logger       *logrus.Logger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(config *services.PaymentConfigService, reservations services.ReservationStore, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{
		config:       config,
		reservations: reservations,
		logger:       logger,
	}
}

// GetPaymentConfig handles GET /api/v1/payments/config
func (h *PaymentHandler) GetPaymentConfig(c *gin.Context) {
	cfg, err := h.config.Get(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to load payment config")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "payment_unavailable",
			Message: "Payments are temporarily unavailable",
			Code:    "PAYMENT_CONFIG_UNAVAILABLE",
		})
		return
	}

	c.JSON(http.StatusOK, cfg)
}

// GetMyReservations handles GET /api/v1/reservations
func (h *PaymentHandler) GetMyReservations(c *gin.Context) {
	session, ok := sessionOrAbort(c)
	if !ok {
		return
	}

	reservations, err := h.reservations.GetMyReservations(c.Request.Context(), session.Token)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", session.UserID).Error("Failed to load reservations")
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "backend_error",
			Message: "Failed to load reservations",
			Code:    "BACKEND_UNAVAILABLE",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reservations": reservations,
		"total":        len(reservations),
	})
}
