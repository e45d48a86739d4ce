package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spacebook/booking-flow/internal/models"
	"github.com/spacebook/booking-flow/pkg/payment"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testSession() models.Session {
	return models.Session{UserID: "user-1", Token: "token-1", IP: "10.0.0.1"}
}

// 25 $/hour, 10:00-11:00, up to 4 people
func testSlot() models.TimeSlot {
	return models.TimeSlot{
		ID:        42,
		Date:      "2025-12-15",
		StartTime: "10:00",
		EndTime:   "11:00",
		Available: true,
		Room:      models.Room{ID: 3, Name: "Blue", Type: models.RoomTypeMeeting, Capacity: 4, PricePerHour: 25},
	}
}

type fakePayments struct {
	mu sync.Mutex

	createCalls  []models.CreatePaymentIntentRequest
	createTokens []string
	createResp   *models.PaymentIntent
	createErr    error
	onCreate     func()

	confirmCalls []models.ConfirmPaymentRequest
	confirmCtxs  []error
	confirmErrs  []error // consumed in order; success once empty
	confirmResp  *models.ReservationConfirmation
}

func newFakePayments() *fakePayments {
	return &fakePayments{
		createResp:  &models.PaymentIntent{PaymentIntentID: "pi_1", ClientSecret: "pi_1_secret", Amount: 25},
		confirmResp: &models.ReservationConfirmation{ID: 7, Status: "CONFIRMED"},
	}
}

func (f *fakePayments) CreatePaymentIntent(ctx context.Context, token string, req models.CreatePaymentIntentRequest) (*models.PaymentIntent, error) {
	if f.onCreate != nil {
		f.onCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, req)
	f.createTokens = append(f.createTokens, token)
	if f.createErr != nil {
		return nil, f.createErr
	}
	intent := *f.createResp
	return &intent, nil
}

func (f *fakePayments) ConfirmPayment(ctx context.Context, token string, req models.ConfirmPaymentRequest) (*models.ReservationConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmCalls = append(f.confirmCalls, req)
	f.confirmCtxs = append(f.confirmCtxs, ctx.Err())
	if len(f.confirmErrs) > 0 {
		err := f.confirmErrs[0]
		f.confirmErrs = f.confirmErrs[1:]
		return nil, err
	}
	return f.confirmResp, nil
}

func (f *fakePayments) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.createCalls)
}

func (f *fakePayments) confirmCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.confirmCalls)
}

type fakeGateway struct {
	mu sync.Mutex

	confirmResult *payment.GatewayResult
	confirmErr    error
	confirmCalls  int

	retrieveResult *payment.GatewayResult
	retrieveErr    error
	retrieveCalls  []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		confirmResult:  &payment.GatewayResult{PaymentIntentID: "pi_1", Status: "succeeded", Amount: 25},
		retrieveResult: &payment.GatewayResult{PaymentIntentID: "pi_1", Status: "succeeded", Amount: 25},
	}
}

func (f *fakeGateway) ConfirmIntent(ctx context.Context, intentID, paymentMethodID, returnURL string) (*payment.GatewayResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmCalls++
	return f.confirmResult, f.confirmErr
}

func (f *fakeGateway) RetrieveIntent(ctx context.Context, intentID, clientSecret string) (*payment.GatewayResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retrieveCalls = append(f.retrieveCalls, intentID+"|"+clientSecret)
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	result := *f.retrieveResult
	result.PaymentIntentID = intentID
	return &result, nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []*models.PaymentAudit
}

func (f *fakeAudit) Record(ctx context.Context, entry *models.PaymentAudit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
}

func (f *fakeAudit) events() []models.PaymentEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PaymentEventType, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.EventType)
	}
	return out
}

type fakeSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (f *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
	return ctx.Err()
}

func (f *fakeSleeper) waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

type fakeSlots struct {
	slots  []models.TimeSlot
	err    error
	ranges [][2]string
}

func (f *fakeSlots) GetTimeSlots(ctx context.Context, token, startDate, endDate string) ([]models.TimeSlot, error) {
	f.ranges = append(f.ranges, [2]string{startDate, endDate})
	if f.err != nil {
		return nil, f.err
	}
	var out []models.TimeSlot
	for _, s := range f.slots {
		if s.Date >= startDate && s.Date <= endDate {
			out = append(out, s)
		}
	}
	return out, nil
}
