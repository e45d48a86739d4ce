package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/spacebook/booking-flow/internal/models"
	"github.com/spacebook/booking-flow/internal/services"
)

// CalendarHandler serves the availability grid
type CalendarHandler struct {
	calendar *services.CalendarService
	logger   *logrus.Logger
	now      func() time.Time
}

// NewCalendarHandler creates a new calendar handler
func NewCalendarHandler(calendar *services.CalendarService, logger *logrus.Logger) *CalendarHandler {
	return &CalendarHandler{calendar: calendar, logger: logger, now: time.Now}
}

// GetCalendar handles GET /api/v1/calendar?view=week&date=2025-12-15&roomId=3
func (h *CalendarHandler) GetCalendar(c *gin.Context) {
	session, ok := sessionOrAbort(c)
	if !ok {
		return
	}

	mode, err := services.ParseViewMode(c.Query("view"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	anchor := h.now().UTC()
	if raw := c.Query("date"); raw != "" {
		anchor, err = time.Parse(models.DateLayout, raw)
		if err != nil {
			badRequest(c, "date must be YYYY-MM-DD")
			return
		}
	}

	var roomID int64
	if raw := c.Query("roomId"); raw != "" {
		roomID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || roomID < 0 {
			badRequest(c, "roomId must be a positive integer")
			return
		}
	}

	view, err := h.calendar.GetView(c.Request.Context(), session, services.CalendarQuery{
		Mode:   mode,
		Date:   anchor,
		RoomID: roomID,
	})
	if err != nil {
		if c.Request.Context().Err() != nil {
			// client went away
			return
		}
		h.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": session.UserID,
			"view":    mode,
		}).Error("Failed to load calendar")
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "backend_error",
			Message: "Failed to load time slots",
			Code:    "BACKEND_UNAVAILABLE",
		})
		return
	}

	c.JSON(http.StatusOK, view)
}
