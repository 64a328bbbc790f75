// Package payments is the port to the payment processor.
package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/shopspring/decimal"
)

type CheckoutParams struct {
	BookingID      string
	ClientID       string
	BuilderID      string
	Description    string
	Amount         decimal.Decimal
	Currency       string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
	Metadata       map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionComplete SessionStatus = "complete"
	SessionExpired  SessionStatus = "expired"
)

// ProviderPaymentStatus is the processor's own payment status vocabulary.
type ProviderPaymentStatus string

const (
	ProviderPaid              ProviderPaymentStatus = "paid"
	ProviderUnpaid            ProviderPaymentStatus = "unpaid"
	ProviderNoPaymentRequired ProviderPaymentStatus = "no_payment_required"
)

type Session struct {
	ID              string
	Status          SessionStatus
	PaymentStatus   ProviderPaymentStatus
	PaymentIntentID string
	Metadata        map[string]string
}

// BookingID returns the booking reference carried in the session metadata.
func (s Session) BookingID() string {
	return strings.TrimSpace(s.Metadata[MetadataBookingID])
}

type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomePaid    Outcome = "paid"
	OutcomeFailed  Outcome = "failed"
)

// Outcome maps the processor statuses onto what the booking lifecycle cares about.
// A completed but unpaid session is still pending: delayed methods settle later.
func (s Session) Outcome() Outcome {
	switch s.Status {
	case SessionComplete:
		if s.PaymentStatus == ProviderPaid || s.PaymentStatus == ProviderNoPaymentRequired {
			return OutcomePaid
		}
		return OutcomePending
	case SessionExpired:
		return OutcomeFailed
	}
	return OutcomePending
}

const (
	MetadataBookingID = "booking_id"
	MetadataClientID  = "client_id"
	MetadataBuilderID = "builder_id"
)

type Provider interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (Session, error)
	// ExpireSession is a no-op for sessions that are no longer open.
	ExpireSession(ctx context.Context, sessionID string) error
	// Refund refunds the payment collected by the session.
	Refund(ctx context.Context, sessionID, idempotencyKey string) error
}

var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true, "KRW": true,
	"MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true, "VUV": true, "XAF": true,
	"XOF": true, "XPF": true,
}

// ToMinorUnits converts amount to the smallest currency unit, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}

// ErrNotConfigured is returned by Disabled.
var ErrNotConfigured = errors.New("payment processor is not configured")

// Disabled rejects every call. It stands in when no processor key is configured so
// free bookings keep working.
type Disabled struct{}

func (Disabled) CreateCheckoutSession(context.Context, CheckoutParams) (CheckoutSession, error) {
	return CheckoutSession{}, apperr.Transient(ErrNotConfigured, "create checkout session")
}

func (Disabled) RetrieveSession(context.Context, string) (Session, error) {
	return Session{}, apperr.Transient(ErrNotConfigured, "retrieve checkout session")
}

func (Disabled) ExpireSession(context.Context, string) error {
	return apperr.Transient(ErrNotConfigured, "expire checkout session")
}

func (Disabled) Refund(context.Context, string, string) error {
	return apperr.Transient(ErrNotConfigured, "refund")
}
