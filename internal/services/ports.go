package services

import (
	"context"

	"github.com/spacebook/booking-flow/internal/models"
	"github.com/spacebook/booking-flow/pkg/payment"
)

// PaymentAPI is the backend payment service
type PaymentAPI interface {
	CreatePaymentIntent(ctx context.Context, token string, req models.CreatePaymentIntentRequest) (*models.PaymentIntent, error)
	ConfirmPayment(ctx context.Context, token string, req models.ConfirmPaymentRequest) (*models.ReservationConfirmation, error)
}

// PaymentConfigSource returns the publishable gateway configuration
type PaymentConfigSource interface {
	GetPaymentConfig(ctx context.Context) (*models.PaymentConfig, error)
}

// TimeSlotProvider returns slots over an inclusive date range (YYYY-MM-DD)
type TimeSlotProvider interface {
	GetTimeSlots(ctx context.Context, token, startDate, endDate string) ([]models.TimeSlot, error)
}

// ReservationStore lists the caller's reservations
type ReservationStore interface {
	GetMyReservations(ctx context.Context, token string) ([]models.Reservation, error)
}

// PaymentGateway confirms and inspects charges with the card processor
type PaymentGateway interface {
	ConfirmIntent(ctx context.Context, intentID, paymentMethodID, returnURL string) (*payment.GatewayResult, error)
	RetrieveIntent(ctx context.Context, intentID, clientSecret string) (*payment.GatewayResult, error)
}

// AuditRecorder records money-touching flow events. It never fails the flow.
type AuditRecorder interface {
	Record(ctx context.Context, entry *models.PaymentAudit)
}
