// Package lifecycle is the booking state machine. It performs no I/O: Transition maps a
// booking and an event to the next booking plus the effects the caller must execute.
package lifecycle

import (
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
)

type InvalidTransitionError struct {
	From  model.BookingStatus
	Event EventType
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("event %s is not allowed in state %s", e.Event, e.From)
}

func (e *InvalidTransitionError) Unwrap() error {
	return apperr.New(apperr.KindInvalidTransition, "%s", e.Error())
}

type Result struct {
	Booking model.Booking
	From    model.BookingStatus
	To      model.BookingStatus
	Path    []model.BookingStatus
	Effects []Effect
}

// HasEffect reports whether kind is among the result's effects.
func (r Result) HasEffect(kind EffectKind) bool {
	for _, e := range r.Effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

var allowed = map[EventType][]model.BookingStatus{
	SessionTypeSelected:    {model.StatusIdle},
	SchedulingStarted:      {model.StatusSessionTypeSelected},
	ExternalEventScheduled: {model.StatusSessionTypeSelected, model.StatusSchedulingInitiated},
	PaymentWaived:          {model.StatusScheduled},
	PaymentInitiated:       {model.StatusScheduled, model.StatusPaymentFailed},
	CheckoutCreated:        {model.StatusPaymentProcessing},
	PaymentConfirmed:       {model.StatusPaymentProcessing, model.StatusPaymentFailed},
	BookingConfirmed:       {model.StatusPaymentSucceeded},
	PaymentDeclined:        {model.StatusPaymentProcessing},
	CancellationRequested: {
		model.StatusSessionTypeSelected, model.StatusSchedulingInitiated, model.StatusScheduled,
		model.StatusPaymentProcessing, model.StatusPaymentSucceeded, model.StatusBookingConfirmed,
		model.StatusPaymentFailed,
	},
	CancellationCompleted: {model.StatusCancellationRequested},
	SessionCompleted:      {model.StatusBookingConfirmed},
}

// Allowed reports whether ev is accepted in state s. Reset is accepted everywhere.
func Allowed(s model.BookingStatus, ev EventType) bool {
	if ev == Reset {
		return s.Valid()
	}
	for _, from := range allowed[ev] {
		if from == s {
			return true
		}
	}
	return false
}

// Transition applies ev to b. On error b is returned unchanged inside the result.
func Transition(b model.Booking, ev Event) (Result, error) {
	from := b.Status
	if from == "" {
		from = model.StatusIdle
		b.Status = from
	}
	if _, known := allowed[ev.Type]; !known && ev.Type != Reset {
		return Result{Booking: b, From: from, To: from}, apperr.Validation("unknown event %q", ev.Type)
	}
	if !Allowed(from, ev.Type) {
		return Result{Booking: b, From: from, To: from}, &InvalidTransitionError{From: from, Event: ev.Type}
	}

	next := b
	var effects []Effect
	switch ev.Type {
	case SessionTypeSelected:
		if strings.TrimSpace(ev.SessionTypeID) == "" || strings.TrimSpace(ev.ClientID) == "" || strings.TrimSpace(ev.BuilderID) == "" {
			return Result{Booking: b, From: from, To: from}, apperr.Validation("session type, builder and client are required")
		}
		if ev.Amount.IsNegative() {
			return Result{Booking: b, From: from, To: from}, apperr.Validation("amount must not be negative")
		}
		if !ev.StartTime.IsZero() && !ev.EndTime.After(ev.StartTime) {
			return Result{Booking: b, From: from, To: from}, apperr.Validation("end time must be after start time")
		}
		next.SessionTypeID = ev.SessionTypeID
		next.BuilderID = ev.BuilderID
		next.ClientID = ev.ClientID
		next.Amount = ev.Amount
		next.Currency = strings.ToUpper(ev.Currency)
		next.PaymentPolicy = ev.Policy.OrDefault()
		next.PaymentStatus = model.PaymentUnpaid
		next.StartTime, next.EndTime = ev.StartTime, ev.EndTime
		next.Status = model.StatusSessionTypeSelected

	case SchedulingStarted:
		next.Status = model.StatusSchedulingInitiated

	case ExternalEventScheduled:
		if strings.TrimSpace(ev.CalendlyEventURI) == "" {
			return Result{Booking: b, From: from, To: from}, apperr.Validation("scheduled event reference is required")
		}
		if !ev.StartTime.IsZero() {
			if !ev.EndTime.After(ev.StartTime) {
				return Result{Booking: b, From: from, To: from}, apperr.Validation("end time must be after start time")
			}
			next.StartTime, next.EndTime = ev.StartTime, ev.EndTime
		}
		if !next.HasSlot() {
			return Result{Booking: b, From: from, To: from}, apperr.Validation("scheduled booking has no time slot")
		}
		next.CalendlyEventID = ev.CalendlyEventID
		next.CalendlyEventURI = ev.CalendlyEventURI
		next.CalendlyInviteeURI = ev.CalendlyInviteeURI
		next.Status = model.StatusScheduled

	case PaymentWaived:
		if next.RequiresPayment() {
			return Result{Booking: b, From: from, To: from}, &InvalidTransitionError{From: from, Event: ev.Type}
		}
		next.PaymentStatus = model.PaymentWaived
		next.Status = model.StatusBookingConfirmed
		effects = append(effects, Effect{Kind: EffectSendConfirmation})

	case PaymentInitiated:
		if strings.TrimSpace(ev.IdempotencyKey) == "" {
			return Result{Booking: b, From: from, To: from}, apperr.Validation("idempotency key is required")
		}
		if !next.RequiresPayment() {
			return Result{Booking: b, From: from, To: from}, &InvalidTransitionError{From: from, Event: ev.Type}
		}
		next.CheckoutIdempotencyKey = ev.IdempotencyKey
		next.PaymentAttempts++
		next.StripeSessionID = ""
		next.PaymentStatus = model.PaymentProcessing
		next.Status = model.StatusPaymentProcessing

	case CheckoutCreated:
		if strings.TrimSpace(ev.CheckoutSessionID) == "" {
			return Result{Booking: b, From: from, To: from}, apperr.Validation("checkout session id is required")
		}
		next.StripeSessionID = ev.CheckoutSessionID

	case PaymentConfirmed:
		if !next.PaymentStatus.CanMoveTo(model.PaymentPaid) {
			return Result{Booking: b, From: from, To: from}, &InvalidTransitionError{From: from, Event: ev.Type}
		}
		if ev.CheckoutSessionID != "" {
			next.StripeSessionID = ev.CheckoutSessionID
		}
		next.PaymentStatus = model.PaymentPaid
		next.Status = model.StatusPaymentSucceeded

	case BookingConfirmed:
		next.Status = model.StatusBookingConfirmed
		effects = append(effects, Effect{Kind: EffectSendConfirmation})

	case PaymentDeclined:
		next.PaymentStatus = model.PaymentFailed
		next.Status = model.StatusPaymentFailed
		effects = append(effects, Effect{Kind: EffectNotifyPaymentFailed, Ref: next.StripeSessionID})

	case CancellationRequested:
		next.CancelReason = strings.TrimSpace(ev.Reason)
		next.Status = model.StatusCancellationRequested
		effects = append(effects, ReleaseEffects(b)...)

	case CancellationCompleted:
		if ev.Refunded && next.PaymentStatus == model.PaymentPaid {
			next.PaymentStatus = model.PaymentRefunded
		}
		next.Status = model.StatusCancelled
		effects = append(effects, Effect{Kind: EffectSendCancellation})

	case SessionCompleted:
		next.Status = model.StatusCompleted

	case Reset:
		effects = append(effects, ReleaseEffects(b)...)
		next = resetBooking(b, ev.Refunded)
	}

	effects = append([]Effect{{Kind: EffectPersist}}, effects...)
	return Result{
		Booking: next,
		From:    from,
		To:      next.Status,
		Path:    []model.BookingStatus{from, next.Status},
		Effects: effects,
	}, nil
}

// Run folds events over b so the caller persists a single write. It stops at the first
// error and returns b unchanged.
func Run(b model.Booking, events ...Event) (Result, error) {
	if len(events) == 0 {
		return Result{}, apperr.Validation("no events to apply")
	}
	cur := b
	out := Result{From: b.Status}
	if out.From == "" {
		out.From = model.StatusIdle
	}
	out.Path = []model.BookingStatus{out.From}
	persisted := false
	for _, ev := range events {
		res, err := Transition(cur, ev)
		if err != nil {
			return Result{Booking: b, From: out.From, To: out.From}, err
		}
		for _, eff := range res.Effects {
			if eff.Kind == EffectPersist {
				if persisted {
					continue
				}
				persisted = true
			}
			out.Effects = append(out.Effects, eff)
		}
		out.Path = append(out.Path, res.To)
		cur = res.Booking
	}
	out.Booking = cur
	out.To = cur.Status
	return out, nil
}

// ReleaseEffects lists the provider calls needed so that cancelling or resetting b does
// not orphan an external calendar event or payment.
func ReleaseEffects(b model.Booking) []Effect {
	var effects []Effect
	if b.CalendlyEventURI != "" {
		effects = append(effects, Effect{Kind: EffectCancelCalendarEvent, Ref: b.CalendlyEventURI})
	}
	switch {
	case b.PaymentStatus == model.PaymentPaid && b.StripeSessionID != "":
		effects = append(effects, Effect{Kind: EffectRefundPayment, Ref: b.StripeSessionID})
	case b.PaymentStatus == model.PaymentProcessing && b.StripeSessionID != "":
		effects = append(effects, Effect{Kind: EffectExpireCheckoutSession, Ref: b.StripeSessionID})
	}
	return effects
}

// resetBooking drops in-flight external references. A PAID booking stays PAID unless the
// refund already went through.
func resetBooking(b model.Booking, refunded bool) model.Booking {
	next := b
	next.Status = model.StatusIdle
	next.StripeSessionID = ""
	next.CheckoutIdempotencyKey = ""
	next.PaymentAttempts = 0
	next.CalendlyEventID = ""
	next.CalendlyEventURI = ""
	next.CalendlyInviteeURI = ""
	next.CancelReason = ""
	switch b.PaymentStatus {
	case model.PaymentPaid:
		if refunded {
			next.PaymentStatus = model.PaymentRefunded
		}
	case model.PaymentRefunded:
	default:
		next.PaymentStatus = model.PaymentUnpaid
	}
	return next
}
