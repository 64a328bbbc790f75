package reconcile

import (
	"context"
	"encoding/json"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/payments"
	"github.com/stripe/stripe-go/v79"
)

const (
	eventCheckoutCompleted      = "checkout.session.completed"
	eventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	eventCheckoutAsyncFailed    = "checkout.session.async_payment_failed"
	eventCheckoutExpired        = "checkout.session.expired"
)

// HandleStripeWebhook verifies the signature before anything else is read, then
// reconciles checkout session events. Other event types are acknowledged and ignored.
func (r *Reconciler) HandleStripeWebhook(ctx context.Context, signatureHeader string, payload []byte) (Result, error) {
	if err := r.verifier.Verify(signatureHeader, payload); err != nil {
		r.metrics.Reconciled(SourceWebhook, "rejected")
		r.logger.Warn("stripe webhook rejected", "provider", "stripe", "err", err)
		return Result{}, err
	}

	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return Result{}, apperr.Validation("invalid stripe event payload: %v", err)
	}
	if evt.ID == "" {
		return Result{}, apperr.Validation("stripe event id is missing")
	}

	var override payments.Outcome
	switch string(evt.Type) {
	case eventCheckoutCompleted, eventCheckoutAsyncSucceeded:
	case eventCheckoutAsyncFailed, eventCheckoutExpired:
		override = payments.OutcomeFailed
	default:
		r.logger.Info("stripe webhook ignored", "provider_event_id", evt.ID, "event_type", evt.Type)
		return Result{Ignored: "unhandled event type"}, nil
	}

	sess, err := payments.SessionFromEvent(evt)
	if err != nil {
		return Result{}, err
	}
	res, err := r.Reconcile(ctx, Signal{
		Source:    SourceWebhook,
		EventID:   evt.ID,
		EventType: string(evt.Type),
		Session:   sess,
		Outcome:   override,
	})
	if err != nil {
		r.logger.Warn("stripe webhook not applied",
			"provider_event_id", evt.ID,
			"event_type", evt.Type,
			"booking_id", res.BookingID,
			"err", err,
		)
		return res, err
	}
	r.logger.Info("stripe webhook processed",
		"provider_event_id", evt.ID,
		"event_type", evt.Type,
		"booking_id", res.BookingID,
		"result", res.label(),
		"ignored", res.Ignored,
	)
	return res, nil
}
