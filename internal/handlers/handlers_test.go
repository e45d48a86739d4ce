package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacebook/booking-flow/internal/middleware"
	"github.com/spacebook/booking-flow/internal/models"
	"github.com/spacebook/booking-flow/internal/services"
	"github.com/spacebook/booking-flow/internal/storage"
	"github.com/spacebook/booking-flow/pkg/backend"
	"github.com/spacebook/booking-flow/pkg/payment"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// fakeBackend plays the reservation backend: slots, intents, confirmations, reservations
type fakeBackend struct {
	mu sync.Mutex

	slots        []models.TimeSlot
	slotsErr     error
	createErr    error
	confirmErr   error
	reservations []models.Reservation
	publishable  string

	confirmCalls int
}

func (f *fakeBackend) GetTimeSlots(ctx context.Context, token, startDate, endDate string) ([]models.TimeSlot, error) {
	if f.slotsErr != nil {
		return nil, f.slotsErr
	}
	var out []models.TimeSlot
	for _, s := range f.slots {
		if s.Date >= startDate && s.Date <= endDate {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeBackend) CreatePaymentIntent(ctx context.Context, token string, req models.CreatePaymentIntentRequest) (*models.PaymentIntent, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &models.PaymentIntent{PaymentIntentID: "pi_1", ClientSecret: "pi_1_secret", Amount: 25 * float64(req.TeamSize)}, nil
}

func (f *fakeBackend) ConfirmPayment(ctx context.Context, token string, req models.ConfirmPaymentRequest) (*models.ReservationConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmCalls++
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return &models.ReservationConfirmation{ID: 77, Status: "CONFIRMED"}, nil
}

func (f *fakeBackend) GetPaymentConfig(ctx context.Context) (*models.PaymentConfig, error) {
	return &models.PaymentConfig{PublishableKey: f.publishable}, nil
}

func (f *fakeBackend) GetMyReservations(ctx context.Context, token string) ([]models.Reservation, error) {
	return f.reservations, nil
}

type fakeGateway struct {
	result *payment.GatewayResult
	err    error
}

func (f *fakeGateway) ConfirmIntent(ctx context.Context, intentID, paymentMethodID, returnURL string) (*payment.GatewayResult, error) {
	return f.result, f.err
}

func (f *fakeGateway) RetrieveIntent(ctx context.Context, intentID, clientSecret string) (*payment.GatewayResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	result := *f.result
	result.PaymentIntentID = intentID
	return &result, nil
}

type testEnv struct {
	router  *gin.Engine
	backend *fakeBackend
	gateway *fakeGateway
	drafts  *storage.MemoryDraftStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	be := &fakeBackend{
		publishable: "pk_test_1",
		slots: []models.TimeSlot{
			{ID: 42, Date: "2025-12-15", StartTime: "10:00", EndTime: "11:00", Available: true,
				Room: models.Room{ID: 3, Name: "Blue", Capacity: 4, PricePerHour: 25}},
			{ID: 43, Date: "2025-12-15", StartTime: "11:00", EndTime: "12:00", Available: false,
				Room: models.Room{ID: 3, Name: "Blue", Capacity: 4, PricePerHour: 25}},
		},
	}
	gw := &fakeGateway{result: &payment.GatewayResult{PaymentIntentID: "pi_1", Status: "succeeded", Amount: 50}}
	drafts := storage.NewMemoryDraftStore(0)
	logger := quietLogger()

	cfg := services.DefaultBookingFlowConfig()
	cfg.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	flows := services.NewFlowManager(be, gw, drafts, nil, cfg, time.Hour, logger)
	calendar := services.NewCalendarService(be, logger)

	router := gin.New()
	fakeAuth := func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Set(middleware.UserContextKey, models.Session{UserID: "user-1", Token: "token-1"})
		c.Next()
	}
	RegisterRoutes(router.Group("/api/v1"), fakeAuth, Handlers{
		Booking:  NewBookingHandler(flows, calendar, "https://app.example.com/booking/return", logger),
		Calendar: NewCalendarHandler(calendar, logger),
		Payment:  NewPaymentHandler(services.NewPaymentConfigService(be, "", time.Minute, logger), be, logger),
	})

	return &testEnv{router: router, backend: be, gateway: gw, drafts: drafts}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer token-1")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBooking(t *testing.T, w *httptest.ResponseRecorder) models.FlowSnapshot {
	t.Helper()
	var resp BookingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp.Booking
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func (e *testEnv) toPayment(t *testing.T) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/booking/select", gin.H{"slotId": 42, "date": "2025-12-15"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(t, http.MethodPut, "/api/v1/booking/team-size", gin.H{"teamSize": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(t, http.MethodPost, "/api/v1/booking/payment-intent", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestBooking_HappyPath(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/booking", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.FlowStateSelect, decodeBooking(t, w).State)

	w = env.do(t, http.MethodPost, "/api/v1/booking/select", gin.H{"slotId": 42, "date": "2025-12-15"})
	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeBooking(t, w)
	assert.Equal(t, models.FlowStateConfirm, snap.State)
	assert.Equal(t, 1, snap.TeamSize)
	assert.True(t, snap.CanProceed)

	w = env.do(t, http.MethodPut, "/api/v1/booking/team-size", gin.H{"teamSize": 2})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/booking/payment-intent", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap = decodeBooking(t, w)
	assert.Equal(t, models.FlowStatePayment, snap.State)
	assert.Equal(t, "pi_1_secret", snap.ClientSecret)
	assert.Equal(t, "50.000 $", snap.DisplayCost)

	draft, err := env.drafts.Load(context.Background(), storage.DraftKey("user-1"))
	require.NoError(t, err)
	assert.Equal(t, "pi_1", draft.PaymentIntentID)

	w = env.do(t, http.MethodPost, "/api/v1/booking/confirm", gin.H{"paymentMethodId": "pm_card_visa"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	snap = decodeBooking(t, w)
	assert.Equal(t, models.FlowStateSuccess, snap.State)
	require.NotNil(t, snap.Confirmation)
	assert.Equal(t, int64(77), snap.Confirmation.ID)

	_, err = env.drafts.Load(context.Background(), storage.DraftKey("user-1"))
	assert.ErrorIs(t, err, storage.ErrDraftNotFound)
}

func TestBooking_SelectSlotErrors(t *testing.T) {
	env := newTestEnv(t)

	t.Run("booked slot returns detail", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/booking/select", gin.H{"slotId": 43, "date": "2025-12-15"})
		assert.Equal(t, http.StatusConflict, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, "SLOT_BOOKED", resp.Code)
		require.NotNil(t, resp.Slot)
		assert.Equal(t, int64(43), resp.Slot.ID)

		state := decodeBooking(t, env.do(t, http.MethodGet, "/api/v1/booking", nil)).State
		assert.Equal(t, models.FlowStateSelect, state)
	})

	t.Run("unknown slot", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/booking/select", gin.H{"slotId": 99, "date": "2025-12-15"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("bad date", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/booking/select", gin.H{"slotId": 42, "date": "15.12.2025"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "date", decodeError(t, w).Field)
	})

	t.Run("missing body fields", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/booking/select", gin.H{"date": "2025-12-15"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("backend unavailable", func(t *testing.T) {
		env.backend.slotsErr = errors.New("connection refused")
		defer func() { env.backend.slotsErr = nil }()
		w := env.do(t, http.MethodPost, "/api/v1/booking/select", gin.H{"slotId": 42, "date": "2025-12-15"})
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestBooking_ErrorMapping(t *testing.T) {
	t.Run("team size over capacity", func(t *testing.T) {
		env := newTestEnv(t)
		env.do(t, http.MethodPost, "/api/v1/booking/select", gin.H{"slotId": 42, "date": "2025-12-15"})
		w := env.do(t, http.MethodPut, "/api/v1/booking/team-size", gin.H{"teamSize": 9})
		require.Equal(t, http.StatusOK, w.Code)
		assert.False(t, decodeBooking(t, w).CanProceed)

		w = env.do(t, http.MethodPost, "/api/v1/booking/payment-intent", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, "teamSize", resp.Field)
		require.NotNil(t, resp.Booking)
		assert.Equal(t, models.FlowStateConfirm, resp.Booking.State)
	})

	t.Run("team size missing", func(t *testing.T) {
		env := newTestEnv(t)
		env.do(t, http.MethodPost, "/api/v1/booking/select", gin.H{"slotId": 42, "date": "2025-12-15"})
		w := env.do(t, http.MethodPut, "/api/v1/booking/team-size", gin.H{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid transition", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.do(t, http.MethodPost, "/api/v1/booking/payment-intent", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "INVALID_TRANSITION", decodeError(t, w).Code)
	})

	t.Run("intent creation fails", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.createErr = &backend.APIError{StatusCode: http.StatusInternalServerError, Message: "stripe unavailable"}
		env.do(t, http.MethodPost, "/api/v1/booking/select", gin.H{"slotId": 42, "date": "2025-12-15"})

		w := env.do(t, http.MethodPost, "/api/v1/booking/payment-intent", nil)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, "PAYMENT_INTENT_FAILED", resp.Code)
		assert.Equal(t, models.FlowStateConfirm, resp.Booking.State)
	})

	t.Run("card declined", func(t *testing.T) {
		env := newTestEnv(t)
		env.toPayment(t)
		env.gateway.result = &payment.GatewayResult{PaymentIntentID: "pi_1", Status: "requires_payment_method"}
		env.gateway.err = &payment.DeclineError{PaymentIntentID: "pi_1", Code: "card_declined", Message: "Your card was declined."}

		w := env.do(t, http.MethodPost, "/api/v1/booking/confirm", gin.H{"paymentMethodId": "pm_card_chargeDeclined"})
		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, models.FlowStatePayment, resp.Booking.State)
		assert.Equal(t, 0, env.backend.confirmCalls)
	})

	t.Run("confirmation failure is an error snapshot", func(t *testing.T) {
		env := newTestEnv(t)
		env.toPayment(t)
		env.backend.confirmErr = &backend.APIError{StatusCode: http.StatusInternalServerError, Message: "database unavailable"}

		w := env.do(t, http.MethodPost, "/api/v1/booking/confirm", gin.H{"paymentMethodId": "pm_card_visa"})
		require.Equal(t, http.StatusOK, w.Code)
		snap := decodeBooking(t, w)
		assert.Equal(t, models.FlowStateError, snap.State)
		require.NotNil(t, snap.Error)
		assert.Equal(t, models.ErrorKindConfirmationFailure, snap.Error.Kind)
		assert.Contains(t, snap.Actions, models.ActionViewReservations)
	})

	t.Run("conflict counts as success", func(t *testing.T) {
		env := newTestEnv(t)
		env.toPayment(t)
		env.backend.confirmErr = &backend.APIError{StatusCode: http.StatusConflict, Message: "Time slot already reserved"}

		w := env.do(t, http.MethodPost, "/api/v1/booking/confirm", gin.H{"paymentMethodId": "pm_card_visa"})
		require.Equal(t, http.StatusOK, w.Code)
		snap := decodeBooking(t, w)
		assert.Equal(t, models.FlowStateSuccess, snap.State)
		assert.True(t, snap.AlreadyReserved)
	})
}

func TestBooking_ReturnAndBack(t *testing.T) {
	t.Run("missing return parameters", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.do(t, http.MethodGet, "/api/v1/booking/return?payment_intent=pi_1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		snap := decodeBooking(t, w)
		assert.Equal(t, models.FlowStateError, snap.State)
		assert.Equal(t, services.MissingRecoveryInfoMessage, snap.Error.Message)
	})

	t.Run("resume after redirect", func(t *testing.T) {
		env := newTestEnv(t)
		env.toPayment(t)

		w := env.do(t, http.MethodGet, "/api/v1/booking/return?payment_intent=pi_1&payment_intent_client_secret=pi_1_secret&redirect_status=succeeded", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, models.FlowStateSuccess, decodeBooking(t, w).State)

		w = env.do(t, http.MethodGet, "/api/v1/booking/return?payment_intent=pi_1&payment_intent_client_secret=pi_1_secret", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, env.backend.confirmCalls, "reload does not confirm twice")
	})

	t.Run("complete with foreign intent", func(t *testing.T) {
		env := newTestEnv(t)
		env.toPayment(t)
		w := env.do(t, http.MethodPost, "/api/v1/booking/complete", gin.H{"paymentIntentId": "pi_other"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("back clears draft", func(t *testing.T) {
		env := newTestEnv(t)
		env.toPayment(t)
		w := env.do(t, http.MethodPost, "/api/v1/booking/back", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, models.FlowStateSelect, decodeBooking(t, w).State)
		assert.Equal(t, 0, env.drafts.Len())
	})
}

func TestCalendarHandler(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/calendar?view=week&date=2025-12-17", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view services.CalendarView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "2025-12-15", view.StartDate)
	assert.Len(t, view.Days, 7)
	assert.Equal(t, 1, view.Available)
	assert.Equal(t, 1, view.Booked)

	tests := []struct {
		name  string
		query string
	}{
		{"bad view", "?view=year"},
		{"bad date", "?date=tomorrow"},
		{"bad room", "?roomId=blue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/v1/calendar"+tt.query, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	env.backend.slotsErr = errors.New("timeout")
	w = env.do(t, http.MethodGet, "/api/v1/calendar?view=day&date=2025-12-15", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestPaymentHandler(t *testing.T) {
	env := newTestEnv(t)
	env.backend.reservations = []models.Reservation{{ID: 1, Status: "CONFIRMED", TeamSize: 2}}

	w := env.do(t, http.MethodGet, "/api/v1/payments/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pk_test_1")

	w = env.do(t, http.MethodGet, "/api/v1/reservations", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestRoutesRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/booking", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlersWithoutSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/booking", nil)

	handler := NewBookingHandler(nil, nil, "", quietLogger())
	handler.GetBooking(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decodeError(t, w).Error)
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	healthy := NewHealthHandler("1.0.0", map[string]HealthCheck{
		"redis": func(ctx context.Context) error { return nil },
	})
	router := gin.New()
	router.GET("/health", healthy.Health)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	unhealthy := NewHealthHandler("1.0.0", map[string]HealthCheck{
		"database": func(ctx context.Context) error { return errors.New("connection refused") },
	})
	router = gin.New()
	router.GET("/health", unhealthy.Health)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
