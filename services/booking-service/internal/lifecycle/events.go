package lifecycle

import (
	"time"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	SessionTypeSelected    EventType = "SessionTypeSelected"
	SchedulingStarted      EventType = "SchedulingStarted"
	ExternalEventScheduled EventType = "ExternalEventScheduled"
	PaymentWaived          EventType = "PaymentWaived"
	PaymentInitiated       EventType = "PaymentInitiated"
	CheckoutCreated        EventType = "CheckoutCreated"
	PaymentConfirmed       EventType = "PaymentConfirmed"
	BookingConfirmed       EventType = "BookingConfirmed"
	PaymentDeclined        EventType = "PaymentDeclined"
	CancellationRequested  EventType = "CancellationRequested"
	CancellationCompleted  EventType = "CancellationCompleted"
	SessionCompleted       EventType = "SessionCompleted"
	Reset                  EventType = "Reset"
)

// Event is the input to Transition. Only the fields relevant to Type are read.
type Event struct {
	Type EventType

	// SessionTypeSelected
	BuilderID     string
	ClientID      string
	SessionTypeID string
	Amount        decimal.Decimal
	Currency      string
	Policy        model.PaymentPolicy

	// SessionTypeSelected, ExternalEventScheduled
	StartTime time.Time
	EndTime   time.Time

	// ExternalEventScheduled
	CalendlyEventID    string
	CalendlyEventURI   string
	CalendlyInviteeURI string

	// PaymentInitiated
	IdempotencyKey string

	// CheckoutCreated, PaymentConfirmed
	CheckoutSessionID string

	// PaymentDeclined, CancellationRequested
	Reason string

	// CancellationCompleted, Reset: the payment was refunded before the event.
	Refunded bool
}

type EffectKind string

const (
	EffectPersist               EffectKind = "persist_booking"
	EffectSendConfirmation      EffectKind = "send_confirmation_email"
	EffectNotifyPaymentFailed   EffectKind = "notify_payment_failed"
	EffectCancelCalendarEvent   EffectKind = "cancel_calendar_event"
	EffectExpireCheckoutSession EffectKind = "expire_checkout_session"
	EffectRefundPayment         EffectKind = "refund_payment"
	EffectSendCancellation      EffectKind = "send_cancellation_notice"
)

// Effect is an instruction for the caller. Ref is the external reference the effect
// acts on, if any.
type Effect struct {
	Kind EffectKind
	Ref  string
}

// External reports whether the effect calls out to a provider.
func (e Effect) External() bool {
	switch e.Kind {
	case EffectCancelCalendarEvent, EffectExpireCheckoutSession, EffectRefundPayment:
		return true
	}
	return false
}
