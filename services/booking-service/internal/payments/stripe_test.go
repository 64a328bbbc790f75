package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/md-rashed-zaman/sessionbook/libs/retry"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
)

func testProvider(t *testing.T, h http.Handler) *StripeProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewStripeProvider(StripeConfig{
		SecretKey: "sk_test_123",
		BaseURL:   srv.URL,
		Retry:     retry.Policy{MaxTries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	}, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestCreateCheckoutSession_ForwardsIdempotencyKeyAndMetadata(t *testing.T) {
	var gotKey, gotBooking, gotAmount, gotCurrency string
	p := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = r.ParseForm()
		gotKey = r.Header.Get("Idempotency-Key")
		gotBooking = r.PostForm.Get("metadata[booking_id]")
		gotAmount = r.PostForm.Get("line_items[0][price_data][unit_amount]")
		gotCurrency = r.PostForm.Get("line_items[0][price_data][currency]")
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "cs_test_1", "object": "checkout.session", "url": "https://checkout.stripe.com/c/pay/cs_test_1",
		})
	}))

	sess, err := p.CreateCheckoutSession(context.Background(), CheckoutParams{
		BookingID:      "bk-1",
		ClientID:       "client-1",
		Description:    "Intro call",
		Amount:         decimal.RequireFromString("49.99"),
		Currency:       "USD",
		SuccessURL:     "https://app.test/ok",
		CancelURL:      "https://app.test/cancel",
		IdempotencyKey: "checkout:bk-1:client-1:1",
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession: %v", err)
	}
	if sess.ID != "cs_test_1" || !strings.Contains(sess.URL, "cs_test_1") {
		t.Fatalf("unexpected session %+v", sess)
	}
	if gotKey != "checkout:bk-1:client-1:1" {
		t.Fatalf("idempotency key not forwarded: %q", gotKey)
	}
	if gotBooking != "bk-1" || gotAmount != "4999" || gotCurrency != "usd" {
		t.Fatalf("unexpected form: booking=%q amount=%q currency=%q", gotBooking, gotAmount, gotCurrency)
	}
}

func TestCreateCheckoutSession_RetriesTransientWithSameKey(t *testing.T) {
	var calls atomic.Int32
	keys := make(chan string, 3)
	p := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys <- r.Header.Get("Idempotency-Key")
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": map[string]any{"type": "api_error", "message": "down"}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "cs_test_2", "object": "checkout.session"})
	}))

	sess, err := p.CreateCheckoutSession(context.Background(), CheckoutParams{
		BookingID: "bk-2", Amount: decimal.NewFromInt(10), Currency: "usd", IdempotencyKey: "k-2",
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if sess.ID != "cs_test_2" || calls.Load() != 3 {
		t.Fatalf("unexpected result %+v after %d calls", sess, calls.Load())
	}
	close(keys)
	for k := range keys {
		if k != "k-2" {
			t.Fatalf("retry used a different idempotency key %q", k)
		}
	}
}

func TestRetrieveSession_NotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	p := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{
			"type": "invalid_request_error", "code": "resource_missing", "message": "No such checkout.session",
		}})
	}))
	_, err := p.RetrieveSession(context.Background(), "cs_missing")
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("not found must not be retried, calls=%d", calls.Load())
	}
}

func TestRetrieveSession_MapsStatus(t *testing.T) {
	p := testProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "cs_test_3", "object": "checkout.session", "status": "complete", "payment_status": "paid",
			"payment_intent": "pi_123", "metadata": map[string]string{"booking_id": "bk-3"},
		})
	}))
	sess, err := p.RetrieveSession(context.Background(), "cs_test_3")
	if err != nil {
		t.Fatalf("RetrieveSession: %v", err)
	}
	if sess.Outcome() != OutcomePaid || sess.BookingID() != "bk-3" || sess.PaymentIntentID != "pi_123" {
		t.Fatalf("unexpected session %+v", sess)
	}
}

func TestSessionOutcome(t *testing.T) {
	cases := []struct {
		s    Session
		want Outcome
	}{
		{Session{Status: SessionOpen, PaymentStatus: ProviderUnpaid}, OutcomePending},
		{Session{Status: SessionComplete, PaymentStatus: ProviderUnpaid}, OutcomePending},
		{Session{Status: SessionComplete, PaymentStatus: ProviderPaid}, OutcomePaid},
		{Session{Status: SessionComplete, PaymentStatus: ProviderNoPaymentRequired}, OutcomePaid},
		{Session{Status: SessionExpired}, OutcomeFailed},
	}
	for _, tc := range cases {
		if got := tc.s.Outcome(); got != tc.want {
			t.Fatalf("%+v: expected %s, got %s", tc.s, tc.want, got)
		}
	}
}

func TestToMinorUnits(t *testing.T) {
	if got := ToMinorUnits(decimal.RequireFromString("12.345"), "usd"); got != 1235 {
		t.Fatalf("expected 1235, got %d", got)
	}
	if got := ToMinorUnits(decimal.RequireFromString("1500"), "JPY"); got != 1500 {
		t.Fatalf("expected 1500 for zero-decimal currency, got %d", got)
	}
}

func TestSessionFromEvent(t *testing.T) {
	raw := []byte(`{"id":"cs_1","object":"checkout.session","status":"expired","payment_status":"unpaid","metadata":{"booking_id":"bk-9"}}`)
	sess, err := SessionFromEvent(stripe.Event{ID: "evt_1", Data: &stripe.EventData{Raw: raw}})
	if err != nil {
		t.Fatalf("SessionFromEvent: %v", err)
	}
	if sess.BookingID() != "bk-9" || sess.Outcome() != OutcomeFailed {
		t.Fatalf("unexpected session %+v", sess)
	}
	if _, err := SessionFromEvent(stripe.Event{ID: "evt_2"}); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for empty data, got %v", err)
	}
}
