package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
)

var slotStart = time.Date(2026, 1, 26, 9, 0, 0, 0, time.UTC)

func selected(amount int64, policy model.PaymentPolicy) Event {
	return Event{
		Type:          SessionTypeSelected,
		BuilderID:     "builder-1",
		ClientID:      "client-1",
		SessionTypeID: "st-1",
		Amount:        decimal.NewFromInt(amount),
		Currency:      "usd",
		Policy:        policy,
		StartTime:     slotStart,
		EndTime:       slotStart.Add(30 * time.Minute),
	}
}

func scheduled() Event {
	return Event{Type: ExternalEventScheduled, CalendlyEventURI: "https://api.calendly.com/scheduled_events/ev1", CalendlyEventID: "ev1"}
}

func mustRun(t *testing.T, b model.Booking, events ...Event) Result {
	t.Helper()
	res, err := Run(b, events...)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return res
}

func TestHappyPath_PaidBooking(t *testing.T) {
	res := mustRun(t, model.Booking{ID: "bk-1"},
		selected(50, model.PaymentRequired),
		Event{Type: SchedulingStarted},
		scheduled(),
		Event{Type: PaymentInitiated, IdempotencyKey: "checkout:bk-1:client-1:1"},
		Event{Type: CheckoutCreated, CheckoutSessionID: "cs_1"},
		Event{Type: PaymentConfirmed, CheckoutSessionID: "cs_1"},
		Event{Type: BookingConfirmed},
	)
	b := res.Booking
	if b.Status != model.StatusBookingConfirmed || b.PaymentStatus != model.PaymentPaid {
		t.Fatalf("unexpected final booking %s/%s", b.Status, b.PaymentStatus)
	}
	if b.PaymentAttempts != 1 || b.StripeSessionID != "cs_1" || b.Currency != "USD" {
		t.Fatalf("unexpected booking fields %+v", b)
	}
	persists := 0
	for _, e := range res.Effects {
		if e.Kind == EffectPersist {
			persists++
		}
	}
	if persists != 1 {
		t.Fatalf("Run must emit a single persist effect, got %d", persists)
	}
	if !res.HasEffect(EffectSendConfirmation) {
		t.Fatal("expected confirmation email effect")
	}
	want := []model.BookingStatus{
		model.StatusIdle, model.StatusSessionTypeSelected, model.StatusSchedulingInitiated, model.StatusScheduled,
		model.StatusPaymentProcessing, model.StatusPaymentProcessing, model.StatusPaymentSucceeded, model.StatusBookingConfirmed,
	}
	if len(res.Path) != len(want) {
		t.Fatalf("unexpected path %v", res.Path)
	}
	for i := range want {
		if res.Path[i] != want[i] {
			t.Fatalf("unexpected path %v", res.Path)
		}
	}
}

func TestPaymentConfirmedFromIdleRejected(t *testing.T) {
	in := model.Booking{ID: "bk-1", Status: model.StatusIdle}
	res, err := Transition(in, Event{Type: PaymentConfirmed})
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.From != model.StatusIdle || invalid.Event != PaymentConfirmed {
		t.Fatalf("unexpected error fields %+v", invalid)
	}
	if apperr.KindOf(err) != apperr.KindInvalidTransition {
		t.Fatalf("expected invalid_transition kind, got %s", apperr.KindOf(err))
	}
	if res.Booking.Status != model.StatusIdle || res.To != model.StatusIdle || len(res.Effects) != 0 {
		t.Fatalf("state must be unchanged, got %+v", res)
	}
}

func TestDeclineAndRetry(t *testing.T) {
	b := mustRun(t, model.Booking{ID: "bk-1"},
		selected(50, model.PaymentRequired),
		scheduled(),
		Event{Type: PaymentInitiated, IdempotencyKey: "k1"},
		Event{Type: CheckoutCreated, CheckoutSessionID: "cs_1"},
	).Booking

	declined, err := Transition(b, Event{Type: PaymentDeclined, Reason: "card_declined"})
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if declined.To != model.StatusPaymentFailed || declined.Booking.PaymentStatus != model.PaymentFailed {
		t.Fatalf("unexpected decline result %+v", declined.Booking)
	}
	if !declined.HasEffect(EffectNotifyPaymentFailed) {
		t.Fatal("expected payment failed notification")
	}

	retried := mustRun(t, declined.Booking,
		Event{Type: PaymentInitiated, IdempotencyKey: "k2"},
		Event{Type: PaymentConfirmed, CheckoutSessionID: "cs_2"},
	)
	if retried.To != model.StatusPaymentSucceeded || retried.Booking.PaymentAttempts != 2 {
		t.Fatalf("unexpected retry result %s attempts=%d", retried.To, retried.Booking.PaymentAttempts)
	}
	if retried.Path[1] != model.StatusPaymentProcessing {
		t.Fatalf("expected PAYMENT_FAILED -> PAYMENT_PROCESSING -> PAYMENT_SUCCEEDED, got %v", retried.Path)
	}
}

func TestWaivedPolicyConfirmsWithoutPayment(t *testing.T) {
	b := mustRun(t, model.Booking{ID: "bk-1"}, selected(50, model.PaymentNotNeeded), scheduled()).Booking
	if _, err := Transition(b, Event{Type: PaymentInitiated, IdempotencyKey: "k"}); err == nil {
		t.Fatal("waived bookings must not start checkout")
	}
	res, err := Transition(b, Event{Type: PaymentWaived})
	if err != nil {
		t.Fatalf("waive: %v", err)
	}
	if res.To != model.StatusBookingConfirmed || res.Booking.PaymentStatus != model.PaymentWaived {
		t.Fatalf("unexpected waived result %+v", res.Booking)
	}

	paid := mustRun(t, model.Booking{ID: "bk-2"}, selected(50, model.PaymentRequired), scheduled()).Booking
	if _, err := Transition(paid, Event{Type: PaymentWaived}); err == nil {
		t.Fatal("paid session types must not be waived")
	}
}

func TestCancellationEffects(t *testing.T) {
	paid := mustRun(t, model.Booking{ID: "bk-1"},
		selected(50, model.PaymentRequired),
		scheduled(),
		Event{Type: PaymentInitiated, IdempotencyKey: "k1"},
		Event{Type: CheckoutCreated, CheckoutSessionID: "cs_1"},
		Event{Type: PaymentConfirmed},
		Event{Type: BookingConfirmed},
	).Booking

	req, err := Transition(paid, Event{Type: CancellationRequested, Reason: " schedule conflict "})
	if err != nil {
		t.Fatalf("cancel request: %v", err)
	}
	if !req.HasEffect(EffectRefundPayment) || !req.HasEffect(EffectCancelCalendarEvent) || req.HasEffect(EffectExpireCheckoutSession) {
		t.Fatalf("unexpected effects %+v", req.Effects)
	}
	if req.Booking.CancelReason != "schedule conflict" {
		t.Fatalf("reason not trimmed: %q", req.Booking.CancelReason)
	}

	done, err := Transition(req.Booking, Event{Type: CancellationCompleted, Refunded: true})
	if err != nil {
		t.Fatalf("cancel complete: %v", err)
	}
	if done.To != model.StatusCancelled || done.Booking.PaymentStatus != model.PaymentRefunded {
		t.Fatalf("unexpected cancelled booking %s/%s", done.To, done.Booking.PaymentStatus)
	}
	if _, err := Transition(done.Booking, Event{Type: CancellationRequested}); err == nil {
		t.Fatal("cancelled bookings are terminal")
	}

	processing := mustRun(t, model.Booking{ID: "bk-2"},
		selected(50, model.PaymentRequired),
		scheduled(),
		Event{Type: PaymentInitiated, IdempotencyKey: "k1"},
		Event{Type: CheckoutCreated, CheckoutSessionID: "cs_9"},
	).Booking
	req, err = Transition(processing, Event{Type: CancellationRequested})
	if err != nil {
		t.Fatalf("cancel request: %v", err)
	}
	if !req.HasEffect(EffectExpireCheckoutSession) || req.HasEffect(EffectRefundPayment) {
		t.Fatalf("unexpected effects %+v", req.Effects)
	}
}

func TestResetFromAnyState(t *testing.T) {
	for _, s := range model.AllStatuses() {
		res, err := Transition(model.Booking{ID: "bk", Status: s}, Event{Type: Reset})
		if err != nil {
			t.Fatalf("reset from %s: %v", s, err)
		}
		if res.To != model.StatusIdle {
			t.Fatalf("reset from %s ended in %s", s, res.To)
		}
	}
}

func TestResetKeepsPaidMonotone(t *testing.T) {
	b := model.Booking{
		ID: "bk", Status: model.StatusBookingConfirmed, PaymentStatus: model.PaymentPaid,
		StripeSessionID: "cs_1", CalendlyEventURI: "uri", PaymentAttempts: 1,
	}
	res, err := Transition(b, Event{Type: Reset})
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if res.Booking.PaymentStatus != model.PaymentPaid {
		t.Fatalf("PAID must not regress on reset, got %s", res.Booking.PaymentStatus)
	}
	if res.Booking.StripeSessionID != "" || res.Booking.CalendlyEventURI != "" || res.Booking.PaymentAttempts != 0 {
		t.Fatalf("external refs must be cleared: %+v", res.Booking)
	}
	if !res.HasEffect(EffectRefundPayment) || !res.HasEffect(EffectCancelCalendarEvent) {
		t.Fatalf("reset must list release effects, got %+v", res.Effects)
	}

	refunded, err := Transition(b, Event{Type: Reset, Refunded: true})
	if err != nil || refunded.Booking.PaymentStatus != model.PaymentRefunded {
		t.Fatalf("expected REFUNDED after refunded reset, got %s %v", refunded.Booking.PaymentStatus, err)
	}
}

func TestMalformedEvents(t *testing.T) {
	if _, err := Transition(model.Booking{}, Event{Type: SessionTypeSelected}); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	b := mustRun(t, model.Booking{ID: "bk"}, selected(10, model.PaymentRequired)).Booking
	if _, err := Transition(b, Event{Type: ExternalEventScheduled}); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for missing event uri, got %v", err)
	}
	if _, err := Transition(b, Event{Type: "Teleport"}); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for unknown event, got %v", err)
	}
}

func TestRunStopsAtFirstError(t *testing.T) {
	in := model.Booking{ID: "bk"}
	res, err := Run(in, selected(10, model.PaymentRequired), Event{Type: PaymentConfirmed})
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Booking.Status != "" || res.To != model.StatusIdle {
		t.Fatalf("input must be returned unchanged, got %+v", res.Booking)
	}
}

func TestCompleteOnlyFromConfirmed(t *testing.T) {
	if Allowed(model.StatusScheduled, SessionCompleted) {
		t.Fatal("scheduled bookings cannot complete")
	}
	res, err := Transition(model.Booking{Status: model.StatusBookingConfirmed}, Event{Type: SessionCompleted})
	if err != nil || res.To != model.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s %v", res.To, err)
	}
}
