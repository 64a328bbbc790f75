package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	StatusIdle                  BookingStatus = "IDLE"
	StatusSessionTypeSelected   BookingStatus = "SESSION_TYPE_SELECTED"
	StatusSchedulingInitiated   BookingStatus = "SCHEDULING_INITIATED"
	StatusScheduled             BookingStatus = "SCHEDULED"
	StatusPaymentProcessing     BookingStatus = "PAYMENT_PROCESSING"
	StatusPaymentSucceeded      BookingStatus = "PAYMENT_SUCCEEDED"
	StatusBookingConfirmed      BookingStatus = "BOOKING_CONFIRMED"
	StatusPaymentFailed         BookingStatus = "PAYMENT_FAILED"
	StatusCancellationRequested BookingStatus = "CANCELLATION_REQUESTED"
	StatusCancelled             BookingStatus = "CANCELLED"
	StatusCompleted             BookingStatus = "COMPLETED"
)

var allStatuses = []BookingStatus{
	StatusIdle, StatusSessionTypeSelected, StatusSchedulingInitiated, StatusScheduled,
	StatusPaymentProcessing, StatusPaymentSucceeded, StatusBookingConfirmed, StatusPaymentFailed,
	StatusCancellationRequested, StatusCancelled, StatusCompleted,
}

func AllStatuses() []BookingStatus {
	return append([]BookingStatus(nil), allStatuses...)
}

func (s BookingStatus) Valid() bool {
	for _, v := range allStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal states never accept further lifecycle events except Reset.
func (s BookingStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Occupying reports whether a booking in this state holds its time slot.
func (s BookingStatus) Occupying() bool {
	switch s {
	case StatusIdle, StatusCancelled:
		return false
	}
	return true
}

type PaymentStatus string

const (
	PaymentUnpaid     PaymentStatus = "UNPAID"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentPaid       PaymentStatus = "PAID"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
	PaymentWaived     PaymentStatus = "WAIVED"
)

// CanMoveTo enforces payment monotonicity: PAID may only become REFUNDED and
// REFUNDED is final.
func (p PaymentStatus) CanMoveTo(next PaymentStatus) bool {
	if p == next {
		return true
	}
	switch p {
	case PaymentPaid:
		return next == PaymentRefunded
	case PaymentRefunded:
		return false
	}
	return true
}

type PaymentPolicy string

const (
	PaymentRequired  PaymentPolicy = "REQUIRED"
	PaymentNotNeeded PaymentPolicy = "WAIVED"
)

func (p PaymentPolicy) OrDefault() PaymentPolicy {
	if p == PaymentNotNeeded {
		return p
	}
	return PaymentRequired
}

type Booking struct {
	ID                     string
	BuilderID              string
	ClientID               string
	SessionTypeID          string
	StartTime              time.Time
	EndTime                time.Time
	Status                 BookingStatus
	PaymentStatus          PaymentStatus
	PaymentPolicy          PaymentPolicy
	Amount                 decimal.Decimal
	Currency               string
	StripeSessionID        string
	CheckoutIdempotencyKey string
	PaymentAttempts        int
	CalendlyEventID        string
	CalendlyEventURI       string
	CalendlyInviteeURI     string
	ClientTimezone         string
	BuilderTimezone        string
	Notes                  string
	CancelReason           string
	Version                int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

func (b Booking) HasSlot() bool {
	return !b.StartTime.IsZero() && b.EndTime.After(b.StartTime)
}

// HasExternalRefs reports whether resetting would orphan a provider-side resource.
func (b Booking) HasExternalRefs() bool {
	return b.StripeSessionID != "" || b.CalendlyEventURI != "" || b.CalendlyEventID != ""
}

// ParticipantOf reports whether userID is the client or builder of b.
func (b Booking) ParticipantOf(userID string) bool {
	return userID != "" && (userID == b.ClientID || userID == b.BuilderID)
}

// RequiresPayment is false for waived policies and free sessions.
func (b Booking) RequiresPayment() bool {
	return b.PaymentPolicy.OrDefault() == PaymentRequired && b.Amount.IsPositive()
}
