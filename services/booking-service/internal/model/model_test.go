package model

import (
	"testing"
	"time"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/timemath"
	"github.com/shopspring/decimal"
)

func TestPaymentStatusMonotone(t *testing.T) {
	if PaymentPaid.CanMoveTo(PaymentUnpaid) || PaymentPaid.CanMoveTo(PaymentFailed) {
		t.Fatal("PAID must never regress")
	}
	if !PaymentPaid.CanMoveTo(PaymentRefunded) {
		t.Fatal("PAID -> REFUNDED must be allowed")
	}
	if PaymentRefunded.CanMoveTo(PaymentPaid) {
		t.Fatal("REFUNDED is final")
	}
	if !PaymentFailed.CanMoveTo(PaymentProcessing) {
		t.Fatal("FAILED should be retryable")
	}
}

func TestSessionTypeValidate(t *testing.T) {
	ok := SessionType{BuilderID: "b1", Title: "Intro", DurationMinutes: 30, Price: decimal.NewFromInt(50), Currency: "USD"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid session type, got %v", err)
	}
	bad := ok
	bad.DurationMinutes = 0
	bad.Price = decimal.NewFromInt(-1)
	if err := bad.Validate(); err == nil {
		t.Fatal("expected validation errors")
	}
	free := ok
	free.Price = decimal.Zero
	if free.RequiresPayment() {
		t.Fatal("free session must not require payment")
	}
	waived := ok
	waived.PaymentPolicy = PaymentNotNeeded
	if waived.RequiresPayment() {
		t.Fatal("waived policy must not require payment")
	}
}

func TestRuleAppliesOn_InclusiveBounds(t *testing.T) {
	exp := timemath.NewDate(2026, time.February, 2)
	eff := timemath.NewDate(2026, time.January, 26)
	rule := AvailabilityRule{DayOfWeek: time.Monday, IsRecurring: true, EffectiveDate: &eff, ExpirationDate: &exp}

	if !rule.AppliesOn(eff) || !rule.AppliesOn(exp) {
		t.Fatal("bounds must be inclusive")
	}
	if rule.AppliesOn(exp.AddDays(7)) || rule.AppliesOn(eff.AddDays(-7)) {
		t.Fatal("dates outside bounds must not apply")
	}
	if rule.AppliesOn(exp.AddDays(1)) {
		t.Fatal("wrong weekday must not apply")
	}
	rule.IsRecurring = false
	if rule.AppliesOn(eff) {
		t.Fatal("non-recurring rule must not apply")
	}
}

func TestStatusHelpers(t *testing.T) {
	if !StatusCancelled.Terminal() || !StatusCompleted.Terminal() || StatusBookingConfirmed.Terminal() {
		t.Fatal("unexpected terminal set")
	}
	if StatusCancelled.Occupying() || !StatusPaymentProcessing.Occupying() {
		t.Fatal("unexpected occupying set")
	}
	if BookingStatus("LIMBO").Valid() {
		t.Fatal("unknown status must be invalid")
	}
}
