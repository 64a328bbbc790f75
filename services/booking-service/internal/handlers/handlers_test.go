package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/md-rashed-zaman/sessionbook/libs/auth"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/booking/bookingtest"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/payments/paymentstest"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/reconcile"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/timemath"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/webhook"
	"github.com/shopspring/decimal"
)

const (
	stripeSecret   = "whsec_test"
	calendlySecret = "calendly_test"
)

// Monday 2026-03-02 08:00 UTC.
var fixedNow = time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

type nopCalendar struct{}

func (nopCalendar) CancelEvent(context.Context, string, string) error { return nil }

type server struct {
	handler http.Handler
	store   *bookingtest.Store
	pay     *paymentstest.Fake
	tokens  *auth.Verifier
}

func newServer(t *testing.T) *server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := bookingtest.NewStore()
	catalog := bookingtest.NewCatalog()
	pay := paymentstest.New()
	ctx := context.Background()
	for _, st := range []model.SessionType{
		{ID: "st-paid", BuilderID: "builder-1", Title: "Mentoring", DurationMinutes: 60, Price: decimal.NewFromInt(50), Currency: "USD", IsActive: true},
		{ID: "st-free", BuilderID: "builder-1", Title: "Intro", DurationMinutes: 30, Price: decimal.Zero, Currency: "USD", IsActive: true},
	} {
		if _, err := catalog.CreateSessionType(ctx, st); err != nil {
			t.Fatalf("seed session type: %v", err)
		}
	}
	_ = catalog.ReplaceAvailability(ctx, model.BuilderAvailability{
		BuilderID: "builder-1",
		Timezone:  "UTC",
		Rules: []model.AvailabilityRule{{
			DayOfWeek:   time.Monday,
			StartTime:   timemath.Clock{Hour: 9},
			EndTime:     timemath.Clock{Hour: 12},
			IsRecurring: true,
		}},
	})

	engine := booking.NewEngine(store, logger, booking.WithEngineClock(func() time.Time { return fixedNow }))
	svc := booking.NewService(engine, store, catalog, booking.NewReleaser(pay, nopCalendar{}, logger), logger).
		WithClock(func() time.Time { return fixedNow })
	stripeVerifier := &webhook.Verifier{Provider: "stripe", Scheme: webhook.SchemeTimestamped, Secret: stripeSecret}
	calendlyVerifier := &webhook.Verifier{Provider: "calendly", Scheme: webhook.SchemeTimestamped, Secret: calendlySecret}
	rec := reconcile.New(engine, store, pay, stripeVerifier, logger, reconcile.Config{})
	tokens := auth.NewVerifier("jwt-secret", "sessionbook")

	mux := http.NewServeMux()
	NewBookingHandler(svc, rec, logger).Register(mux, tokens.Middleware)
	NewWebhookHandler(rec, svc, calendlyVerifier, logger).Register(mux)
	return &server{handler: mux, store: store, pay: pay, tokens: tokens}
}

func (s *server) do(t *testing.T, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		token, err := s.tokens.Sign(userID, role, time.Hour)
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rw := httptest.NewRecorder()
	s.handler.ServeHTTP(rw, req)
	return rw
}

func (s *server) post(t *testing.T, path, header, signature string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set(header, signature)
	rw := httptest.NewRecorder()
	s.handler.ServeHTTP(rw, req)
	return rw
}

func decode[T any](t *testing.T, rw *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rw.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rw.Body.String(), err)
	}
	return v
}

func (s *server) createBooking(t *testing.T, sessionType, start string) bookingResponse {
	t.Helper()
	rw := s.do(t, http.MethodPost, "/api/v1/bookings", "client-1", auth.RoleClient, map[string]any{
		"session_type_id": sessionType,
		"start_time":      start,
	})
	if rw.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rw.Code, rw.Body.String())
	}
	return decode[bookingResponse](t, rw)
}

func TestCreateAndGetBooking(t *testing.T) {
	s := newServer(t)
	created := s.createBooking(t, "st-paid", "2026-03-02T10:00:00Z")
	if created.Status != string(model.StatusSessionTypeSelected) || created.Amount != "50.00" {
		t.Fatalf("unexpected booking %+v", created)
	}

	rw := s.do(t, http.MethodGet, "/api/v1/bookings/"+created.ID, "builder-1", auth.RoleBuilder, nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("builder get: %d", rw.Code)
	}
	if rw := s.do(t, http.MethodGet, "/api/v1/bookings/"+created.ID, "client-2", auth.RoleClient, nil); rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a stranger, got %d", rw.Code)
	}
	if rw := s.do(t, http.MethodGet, "/api/v1/bookings/"+created.ID, "", "", nil); rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rw.Code)
	}
	if rw := s.do(t, http.MethodGet, "/api/v1/bookings/missing", "client-1", auth.RoleClient, nil); rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rw.Code)
	}
}

func TestCreateBooking_Errors(t *testing.T) {
	s := newServer(t)
	s.createBooking(t, "st-paid", "2026-03-02T10:00:00Z")

	rw := s.do(t, http.MethodPost, "/api/v1/bookings", "client-2", auth.RoleClient, map[string]any{
		"session_type_id": "st-paid",
		"start_time":      "2026-03-02T10:00:00Z",
	})
	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a taken slot, got %d", rw.Code)
	}
	rw = s.do(t, http.MethodPost, "/api/v1/bookings", "client-2", auth.RoleClient, map[string]any{
		"session_type_id": "st-paid",
		"start_time":      "tomorrow",
	})
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad time, got %d", rw.Code)
	}
	rw = s.do(t, http.MethodPost, "/api/v1/bookings", "client-2", auth.RoleClient, map[string]any{"bogus": true})
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown fields, got %d", rw.Code)
	}
}

func TestSlots(t *testing.T) {
	s := newServer(t)
	s.createBooking(t, "st-paid", "2026-03-02T10:00:00Z")

	rw := s.do(t, http.MethodGet, "/api/v1/public/builders/builder-1/slots?session_type_id=st-paid&from=2026-03-02", "", "", nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("slots: %d %s", rw.Code, rw.Body.String())
	}
	days := decode[[]daySlotsResponse](t, rw)
	if len(days) != 1 || days[0].Date != "2026-03-02" {
		t.Fatalf("unexpected days %+v", days)
	}
	var starts []string
	for _, slot := range days[0].Slots {
		starts = append(starts, slot.StartTime)
	}
	if len(starts) != 2 || starts[0] != "2026-03-02T09:00:00Z" || starts[1] != "2026-03-02T11:00:00Z" {
		t.Fatalf("booked slot must be excluded, got %v", starts)
	}

	if rw := s.do(t, http.MethodGet, "/api/v1/public/builders/builder-1/slots?session_type_id=st-paid&from=March", "", "", nil); rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad date, got %d", rw.Code)
	}
}

func TestCatalogRoutes(t *testing.T) {
	s := newServer(t)
	rw := s.do(t, http.MethodPost, "/api/v1/session-types", "builder-1", auth.RoleBuilder, map[string]any{
		"title":            "Deep dive",
		"duration_minutes": 90,
		"price":            "120",
		"currency":         "usd",
	})
	if rw.Code != http.StatusCreated {
		t.Fatalf("create session type: %d %s", rw.Code, rw.Body.String())
	}
	created := decode[sessionTypeDTO](t, rw)
	if created.BuilderID != "builder-1" || created.Currency != "USD" || created.Price != "120.00" {
		t.Fatalf("unexpected session type %+v", created)
	}
	if rw := s.do(t, http.MethodPost, "/api/v1/session-types", "client-1", auth.RoleClient, map[string]any{"title": "x"}); rw.Code != http.StatusForbidden {
		t.Fatalf("clients cannot manage catalogs, got %d", rw.Code)
	}

	rw = s.do(t, http.MethodPut, "/api/v1/builders/builder-1/availability", "builder-1", auth.RoleBuilder, map[string]any{
		"timezone":       "Europe/Berlin",
		"buffer_minutes": 10,
		"rules":          []map[string]any{{"day_of_week": 2, "start_time": "09:00", "end_time": "17:00"}},
		"exceptions":     []map[string]any{{"date": "2026-03-10", "is_available": false}},
	})
	if rw.Code != http.StatusOK {
		t.Fatalf("set availability: %d %s", rw.Code, rw.Body.String())
	}
	rw = s.do(t, http.MethodGet, "/api/v1/public/builders/builder-1/availability", "", "", nil)
	avail := decode[availabilityDTO](t, rw)
	if avail.Timezone != "Europe/Berlin" || len(avail.Rules) != 1 || avail.Rules[0].StartTime != "09:00" || len(avail.Exceptions) != 1 {
		t.Fatalf("unexpected availability %+v", avail)
	}
	rw = s.do(t, http.MethodPut, "/api/v1/builders/builder-1/availability", "builder-1", auth.RoleBuilder, map[string]any{
		"timezone": "Nowhere/Land",
		"rules":    []map[string]any{},
	})
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad timezone, got %d", rw.Code)
	}
}

func stripeEvent(t *testing.T, id, sessionID, bookingID string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":     id,
		"object": "event",
		"type":   "checkout.session.completed",
		"data": map[string]any{"object": map[string]any{
			"id":             sessionID,
			"object":         "checkout.session",
			"status":         "complete",
			"payment_status": "paid",
			"metadata":       map[string]string{"booking_id": bookingID},
		}},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestPaidFlowOverHTTP(t *testing.T) {
	s := newServer(t)
	b := s.createBooking(t, "st-paid", "2026-03-02T10:00:00Z")

	calendly := calendlyPayload(t, "invitee.created", b.ID, "2026-03-02T10:00:00Z", "2026-03-02T11:00:00Z")
	if rw := s.post(t, "/webhooks/calendly", calendlySignatureHeader, webhook.SignTimestamped(calendly, calendlySecret, time.Now()), calendly); rw.Code != http.StatusOK {
		t.Fatalf("calendly webhook: %d %s", rw.Code, rw.Body.String())
	}

	rw := s.do(t, http.MethodPost, "/api/v1/bookings/"+b.ID+"/checkout", "client-1", auth.RoleClient, nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("checkout: %d %s", rw.Code, rw.Body.String())
	}
	co := decode[checkoutResponse](t, rw)
	if co.SessionID == "" || co.CheckoutURL == "" || co.Booking.Status != string(model.StatusPaymentProcessing) {
		t.Fatalf("unexpected checkout %+v", co)
	}

	payload := stripeEvent(t, "evt_1", co.SessionID, b.ID)
	if rw := s.post(t, "/webhooks/stripe", stripeSignatureHeader, webhook.SignTimestamped(payload, "wrong", time.Now()), payload); rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad signature, got %d", rw.Code)
	}
	if rw := s.post(t, "/webhooks/stripe", stripeSignatureHeader, webhook.SignTimestamped(payload, stripeSecret, time.Now()), payload); rw.Code != http.StatusOK {
		t.Fatalf("stripe webhook: %d %s", rw.Code, rw.Body.String())
	}

	s.pay.Complete(co.SessionID)
	rw = s.do(t, http.MethodGet, "/api/v1/bookings/"+b.ID+"/payment", "client-1", auth.RoleClient, nil)
	if rw.Code != http.StatusOK {
		t.Fatalf("poll: %d %s", rw.Code, rw.Body.String())
	}
	poll := decode[pollResponse](t, rw)
	if poll.Applied || poll.Booking.Status != string(model.StatusBookingConfirmed) || poll.Booking.PaymentStatus != string(model.PaymentPaid) {
		t.Fatalf("poll after webhook must be a no-op on a confirmed booking: %+v", poll)
	}
}

func TestStripeWebhook_UnknownBookingIsAcknowledged(t *testing.T) {
	s := newServer(t)
	payload := stripeEvent(t, "evt_2", "cs_gone", "b-gone")
	if rw := s.post(t, "/webhooks/stripe", stripeSignatureHeader, webhook.SignTimestamped(payload, stripeSecret, time.Now()), payload); rw.Code != http.StatusOK {
		t.Fatalf("expected 200 for an unknown booking, got %d", rw.Code)
	}
	bad := []byte(`{"id":"evt_3","type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`)
	if rw := s.post(t, "/webhooks/stripe", stripeSignatureHeader, webhook.SignTimestamped(bad, stripeSecret, time.Now()), bad); rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a session without booking reference, got %d", rw.Code)
	}
}

func calendlyPayload(t *testing.T, eventType, bookingID, start, end string) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"event": eventType,
		"payload": map[string]any{
			"uri":      "https://api.calendly.test/scheduled_events/ev-1/invitees/inv-1",
			"tracking": map[string]string{"utm_content": bookingID},
			"scheduled_event": map[string]string{
				"uri":        "https://api.calendly.test/scheduled_events/ev-1",
				"start_time": start,
				"end_time":   end,
			},
			"cancellation": map[string]string{"reason": "conflict"},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestCalendlyWebhook_FreeBookingLifecycle(t *testing.T) {
	s := newServer(t)
	b := s.createBooking(t, "st-free", "2026-03-02T09:00:00Z")

	created := calendlyPayload(t, "invitee.created", b.ID, "2026-03-02T09:00:00Z", "2026-03-02T09:30:00Z")
	sig := webhook.SignTimestamped(created, calendlySecret, time.Now())
	for i := 0; i < 2; i++ {
		if rw := s.post(t, "/webhooks/calendly", calendlySignatureHeader, sig, created); rw.Code != http.StatusOK {
			t.Fatalf("delivery %d: %d %s", i, rw.Code, rw.Body.String())
		}
	}
	got, _ := s.store.Get(context.Background(), b.ID)
	if got.Status != model.StatusBookingConfirmed || got.PaymentStatus != model.PaymentWaived {
		t.Fatalf("free booking must be confirmed on scheduling, got %s/%s", got.Status, got.PaymentStatus)
	}

	if rw := s.post(t, "/webhooks/calendly", calendlySignatureHeader, "t=1,v1=00", created); rw.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad signature, got %d", rw.Code)
	}

	canceled := calendlyPayload(t, "invitee.canceled", b.ID, "2026-03-02T09:00:00Z", "2026-03-02T09:30:00Z")
	if rw := s.post(t, "/webhooks/calendly", calendlySignatureHeader, webhook.SignTimestamped(canceled, calendlySecret, time.Now()), canceled); rw.Code != http.StatusOK {
		t.Fatalf("cancel webhook: %d %s", rw.Code, rw.Body.String())
	}
	got, _ = s.store.Get(context.Background(), b.ID)
	if got.Status != model.StatusCancelled || got.CancelReason != "conflict" {
		t.Fatalf("expected cancelled booking, got %+v", got)
	}
}
