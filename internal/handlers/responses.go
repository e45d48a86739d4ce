package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/spacebook/booking-flow/internal/middleware"
	"github.com/spacebook/booking-flow/internal/models"
	"github.com/spacebook/booking-flow/internal/services"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string               `json:"error"`
	Message string               `json:"message"`
	Code    string               `json:"code,omitempty"`
	Field   string               `json:"field,omitempty"`
	Booking *models.FlowSnapshot `json:"booking,omitempty"`
	Slot    *models.TimeSlot     `json:"slot,omitempty"`
}

// BookingResponse wraps the flow snapshot returned by every booking endpoint
type BookingResponse struct {
	Booking models.FlowSnapshot `json:"booking"`
}

// sessionOrAbort returns the caller's session, answering 401 when the auth middleware did not run
func sessionOrAbort(c *gin.Context) (models.Session, bool) {
	session, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "User context not found",
			Code:    "MISSING_USER_CONTEXT",
		})
		return models.Session{}, false
	}
	return session, true
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid_request",
		Message: message,
		Code:    "INVALID_REQUEST",
	})
}

// respondFlow writes the snapshot, or maps a flow error to its HTTP status.
// A confirmation failure is a terminal flow state, not a request failure:
// the snapshot in the error state is returned with 200.
func respondFlow(c *gin.Context, logger *logrus.Logger, snap models.FlowSnapshot, err error) {
	if err == nil {
		c.JSON(http.StatusOK, BookingResponse{Booking: snap})
		return
	}

	var (
		validationErr *services.ValidationError
		intentErr     *services.PaymentIntentError
		gatewayErr    *services.GatewayError
		failure       *services.ConfirmationFailure
	)

	switch {
	case errors.As(err, &failure):
		c.JSON(http.StatusOK, BookingResponse{Booking: snap})

	case errors.As(err, &validationErr):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "validation_error",
			Message: validationErr.Message,
			Code:    "VALIDATION_FAILED",
			Field:   validationErr.Field,
			Booking: &snap,
		})

	case errors.Is(err, services.ErrFlowBusy):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "flow_busy",
			Message: "A booking request is already in progress",
			Code:    "FLOW_BUSY",
			Booking: &snap,
		})

	case errors.Is(err, services.ErrInvalidTransition):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "invalid_transition",
			Message: "This action is not available at the current booking step",
			Code:    "INVALID_TRANSITION",
			Booking: &snap,
		})

	case errors.As(err, &intentErr):
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "payment_intent_failed",
			Message: intentErr.Error(),
			Code:    "PAYMENT_INTENT_FAILED",
			Booking: &snap,
		})

	case errors.As(err, &gatewayErr):
		c.JSON(http.StatusPaymentRequired, ErrorResponse{
			Error:   "payment_declined",
			Message: gatewayErr.Error(),
			Code:    "PAYMENT_DECLINED",
			Booking: &snap,
		})

	default:
		logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Unexpected booking flow error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Something went wrong",
			Code:    "INTERNAL_ERROR",
			Booking: &snap,
		})
	}
}
