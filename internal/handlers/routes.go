package handlers

import (
	"github.com/gin-gonic/gin"
)

// Handlers groups the HTTP handlers mounted under /api/v1
type Handlers struct {
	Booking  *BookingHandler
	Calendar *CalendarHandler
	Payment  *PaymentHandler
}

// RegisterRoutes mounts the authenticated API on group
func RegisterRoutes(v1 *gin.RouterGroup, auth gin.HandlerFunc, h Handlers) {
	protected := v1.Group("")
	protected.Use(auth)

	protected.GET("/payments/config", h.Payment.GetPaymentConfig)
	protected.GET("/reservations", h.Payment.GetMyReservations)
	protected.GET("/calendar", h.Calendar.GetCalendar)

	booking := protected.Group("/booking")
	{
		booking.GET("", h.Booking.GetBooking)
		booking.POST("/select", h.Booking.SelectSlot)
		booking.PUT("/team-size", h.Booking.SetTeamSize)
		booking.POST("/payment-intent", h.Booking.CreatePaymentIntent)
		booking.POST("/confirm", h.Booking.ConfirmPayment)
		booking.POST("/complete", h.Booking.CompletePayment)
		booking.GET("/return", h.Booking.ResumeFromReturn)
		booking.POST("/back", h.Booking.Back)
	}
}
