// Package reconcile drives bookings from payment provider signals. The webhook and the
// client poll feed the same Reconcile path; ledger keys keyed by session and outcome
// make whichever arrives second a no-op.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/md-rashed-zaman/sessionbook/libs/auth"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxAttempts is the first checkout plus two retries after a decline.
const DefaultMaxAttempts = 3

const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
	SourceSweep   = "sweep"
)

type Config struct {
	// SuccessURL and CancelURL may contain {BOOKING_ID}.
	SuccessURL  string
	CancelURL   string
	MaxAttempts int
}

type Recorder interface {
	Reconciled(source, result string)
}

type nopRecorder struct{}

func (nopRecorder) Reconciled(string, string) {}

type Reconciler struct {
	engine   *booking.Engine
	store    booking.Store
	provider payments.Provider
	verifier *webhook.Verifier
	logger   *slog.Logger
	metrics  Recorder
	cfg      Config
	tracer   trace.Tracer
}

func New(engine *booking.Engine, store booking.Store, provider payments.Provider, verifier *webhook.Verifier, logger *slog.Logger, cfg Config) *Reconciler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Reconciler{
		engine:   engine,
		store:    store,
		provider: provider,
		verifier: verifier,
		logger:   logger,
		metrics:  nopRecorder{},
		cfg:      cfg,
		tracer:   otel.Tracer("booking-service/reconcile"),
	}
}

func (r *Reconciler) WithRecorder(rec Recorder) *Reconciler {
	if rec != nil {
		r.metrics = rec
	}
	return r
}

// CheckoutKey is the idempotency key of one checkout attempt. Retries of the same
// attempt reuse it, so the provider never opens two sessions for one attempt.
func CheckoutKey(bookingID, clientID string, attempt int) string {
	return fmt.Sprintf("checkout:%s:%s:%d", bookingID, clientID, attempt)
}

type Checkout struct {
	Booking        model.Booking
	SessionID      string
	URL            string
	IdempotencyKey string
}

// StartCheckout opens (or replays) the checkout for the booking's current attempt.
func (r *Reconciler) StartCheckout(ctx context.Context, p auth.Principal, bookingID string) (Checkout, error) {
	b, err := r.store.Get(ctx, bookingID)
	if err != nil {
		return Checkout{}, err
	}
	if p.UserID == "" {
		return Checkout{}, apperr.Authentication(nil, "authentication required")
	}
	if p.UserID != b.ClientID && !p.IsAdmin() {
		return Checkout{}, apperr.Forbidden("only the booking client can pay for it")
	}
	if !b.RequiresPayment() {
		return Checkout{}, apperr.Validation("booking %s does not require payment", b.ID)
	}
	attempt := b.PaymentAttempts + 1
	if b.Status == model.StatusPaymentProcessing {
		attempt = b.PaymentAttempts
	}
	return r.InitiateCheckout(ctx, b, CheckoutKey(b.ID, b.ClientID, attempt))
}

// InitiateCheckout moves the booking to PAYMENT_PROCESSING before the provider session
// exists, so no webhook can outrun the local state, then records the session id.
// Calling it again with the key of the in-flight attempt replays the same session.
func (r *Reconciler) InitiateCheckout(ctx context.Context, b model.Booking, idempotencyKey string) (Checkout, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.initiate_checkout", trace.WithAttributes(
		attribute.String("booking.id", b.ID),
	))
	defer span.End()

	if strings.TrimSpace(idempotencyKey) == "" {
		return Checkout{}, apperr.Validation("idempotency key is required")
	}
	replay := b.Status == model.StatusPaymentProcessing && b.CheckoutIdempotencyKey == idempotencyKey
	if !replay {
		if b.PaymentAttempts >= r.cfg.MaxAttempts {
			return Checkout{}, apperr.RetryExhausted("booking %s reached %d payment attempts", b.ID, r.cfg.MaxAttempts)
		}
		out, err := r.engine.Apply(ctx, booking.Request{
			BookingID: b.ID,
			Source:    "checkout",
			Decide: func(cur model.Booking) ([]lifecycle.Event, error) {
				if cur.Status == model.StatusPaymentProcessing && cur.CheckoutIdempotencyKey == idempotencyKey {
					return nil, nil
				}
				if cur.PaymentAttempts >= r.cfg.MaxAttempts {
					return nil, apperr.RetryExhausted("booking %s reached %d payment attempts", cur.ID, r.cfg.MaxAttempts)
				}
				return []lifecycle.Event{{Type: lifecycle.PaymentInitiated, IdempotencyKey: idempotencyKey}}, nil
			},
		})
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return Checkout{}, err
		}
		b = out.Booking
	}

	sess, err := r.provider.CreateCheckoutSession(ctx, payments.CheckoutParams{
		BookingID:      b.ID,
		ClientID:       b.ClientID,
		BuilderID:      b.BuilderID,
		Description:    "Session booking " + b.ID,
		Amount:         b.Amount,
		Currency:       b.Currency,
		SuccessURL:     expand(r.cfg.SuccessURL, b.ID),
		CancelURL:      expand(r.cfg.CancelURL, b.ID),
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("create checkout session failed",
			"booking_id", b.ID,
			"effect", "create_checkout_session",
			"ref", idempotencyKey,
			"err", err,
		)
		return Checkout{Booking: b, IdempotencyKey: idempotencyKey}, err
	}

	out, err := r.engine.Apply(ctx, booking.Request{
		BookingID: b.ID,
		Source:    "checkout",
		Decide: func(cur model.Booking) ([]lifecycle.Event, error) {
			if cur.Status != model.StatusPaymentProcessing || cur.CheckoutIdempotencyKey != idempotencyKey || cur.StripeSessionID == sess.ID {
				return nil, nil
			}
			return []lifecycle.Event{{Type: lifecycle.CheckoutCreated, CheckoutSessionID: sess.ID}}, nil
		},
	})
	if err != nil {
		r.logger.Error("checkout session created but not recorded",
			"booking_id", b.ID,
			"effect", "record_checkout_session",
			"ref", sess.ID,
			"err", err,
		)
		return Checkout{}, err
	}
	return Checkout{Booking: out.Booking, SessionID: sess.ID, URL: sess.URL, IdempotencyKey: idempotencyKey}, nil
}

// Signal is one provider observation of a checkout session.
type Signal struct {
	Source    string
	EventID   string
	EventType string
	Session   payments.Session
	// Outcome overrides Session.Outcome() for event types that imply it.
	Outcome payments.Outcome
}

func (s Signal) outcome() payments.Outcome {
	if s.Outcome != "" {
		return s.Outcome
	}
	return s.Session.Outcome()
}

// LedgerKeys lists the idempotency keys recorded when the signal is applied.
func (s Signal) LedgerKeys() []string {
	keys := []string{fmt.Sprintf("checkout:%s:%s", s.Session.ID, s.outcome())}
	if s.EventID != "" {
		keys = append([]string{"stripe:event:" + s.EventID}, keys...)
	}
	return keys
}

type Result struct {
	BookingID string
	Outcome   payments.Outcome
	Applied   bool
	Duplicate bool
	// Ignored explains a no-op that was neither applied nor a duplicate.
	Ignored string
	Booking model.Booking
}

func (res Result) label() string {
	switch {
	case res.Applied:
		return "applied"
	case res.Duplicate:
		return "duplicate"
	}
	return "ignored"
}

// Reconcile maps a verified session observation onto the booking lifecycle.
func (r *Reconciler) Reconcile(ctx context.Context, sig Signal) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile."+sig.Source, trace.WithAttributes(
		attribute.String("checkout.session_id", sig.Session.ID),
		attribute.String("provider.event_id", sig.EventID),
	))
	defer span.End()

	res, err := r.reconcile(ctx, sig)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		r.metrics.Reconciled(sig.Source, "error")
		return res, err
	}
	span.SetAttributes(attribute.String("booking.id", res.BookingID), attribute.String("reconcile.result", res.label()))
	r.metrics.Reconciled(sig.Source, res.label())
	return res, nil
}

func (r *Reconciler) reconcile(ctx context.Context, sig Signal) (Result, error) {
	if strings.TrimSpace(sig.Session.ID) == "" {
		return Result{}, apperr.Validation("checkout session id is missing")
	}
	bookingID := sig.Session.BookingID()
	if bookingID == "" {
		return Result{}, apperr.Validation("checkout session %s carries no booking reference", sig.Session.ID)
	}
	outcome := sig.outcome()
	res := Result{BookingID: bookingID, Outcome: outcome}
	if outcome == payments.OutcomePending {
		res.Ignored = "payment pending"
		return res, nil
	}

	var ignored string
	decide := func(b model.Booking) ([]lifecycle.Event, error) {
		ignored = ""
		if outcome == payments.OutcomePaid {
			return r.decidePaid(b, sig, &ignored), nil
		}
		return r.decideFailed(b, sig, &ignored), nil
	}
	out, err := r.engine.Apply(ctx, booking.Request{
		BookingID:  bookingID,
		LedgerKeys: sig.LedgerKeys(),
		Source:     sig.Source,
		Decide:     decide,
	})
	res.Booking = out.Booking
	res.Applied = out.Applied
	res.Duplicate = out.Duplicate
	if !out.Applied && !out.Duplicate {
		res.Ignored = ignored
	}
	return res, err
}

func (r *Reconciler) decidePaid(b model.Booking, sig Signal, ignored *string) []lifecycle.Event {
	switch {
	case b.PaymentStatus == model.PaymentPaid || b.PaymentStatus == model.PaymentRefunded:
		*ignored = "already paid"
		return nil
	case b.Status == model.StatusPaymentProcessing || b.Status == model.StatusPaymentFailed:
		if b.StripeSessionID != "" && b.StripeSessionID != sig.Session.ID {
			r.logger.Warn("payment collected on a superseded checkout session",
				"booking_id", b.ID,
				"ref", sig.Session.ID,
				"current_session", b.StripeSessionID,
			)
		}
		return []lifecycle.Event{
			{Type: lifecycle.PaymentConfirmed, CheckoutSessionID: sig.Session.ID},
			{Type: lifecycle.BookingConfirmed},
		}
	}
	*ignored = "booking not awaiting payment"
	r.logger.Error("payment received for booking not awaiting payment; manual refund may be needed",
		"booking_id", b.ID,
		"status", b.Status,
		"effect", "refund_payment",
		"ref", sig.Session.ID,
		"source", sig.Source,
	)
	return nil
}

func (r *Reconciler) decideFailed(b model.Booking, sig Signal, ignored *string) []lifecycle.Event {
	if b.Status != model.StatusPaymentProcessing || b.StripeSessionID != sig.Session.ID {
		*ignored = "stale checkout session"
		return nil
	}
	reason := sig.EventType
	if reason == "" {
		reason = "checkout session " + string(sig.Session.Status)
	}
	return []lifecycle.Event{{Type: lifecycle.PaymentDeclined, Reason: reason}}
}

// PollSession is the liveness path used after the client returns from checkout. The
// session is fetched from the provider directly and must belong to the booking.
func (r *Reconciler) PollSession(ctx context.Context, p auth.Principal, bookingID, sessionID string) (Result, error) {
	b, err := r.store.Get(ctx, bookingID)
	if err != nil {
		return Result{}, err
	}
	if p.UserID == "" {
		return Result{}, apperr.Authentication(nil, "authentication required")
	}
	if !b.ParticipantOf(p.UserID) && !p.IsAdmin() {
		return Result{}, apperr.Forbidden("not allowed to act on this booking")
	}
	if sessionID == "" {
		sessionID = b.StripeSessionID
	}
	if sessionID == "" {
		return Result{BookingID: b.ID, Booking: b, Ignored: "no checkout session"}, nil
	}
	sess, err := r.provider.RetrieveSession(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	if sess.BookingID() != b.ID {
		return Result{}, apperr.Validation("checkout session %s does not belong to booking %s", sessionID, b.ID)
	}
	res, err := r.Reconcile(ctx, Signal{Source: SourcePoll, Session: sess})
	if err == nil && res.Booking.Status == "" {
		if cur, getErr := r.store.Get(ctx, b.ID); getErr == nil {
			res.Booking = cur
		}
	}
	return res, err
}

func expand(tmpl, bookingID string) string {
	return strings.ReplaceAll(tmpl, "{BOOKING_ID}", bookingID)
}
