package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/scheduling"
)

// Releaser executes the provider-side effects of cancelling or resetting a booking.
type Releaser struct {
	payments   payments.Provider
	scheduling scheduling.Provider
	logger     *slog.Logger
}

func NewReleaser(pay payments.Provider, sched scheduling.Provider, logger *slog.Logger) *Releaser {
	return &Releaser{payments: pay, scheduling: sched, logger: logger}
}

// RefundKey is the idempotency key used when refunding the payment of sessionID.
func RefundKey(bookingID, sessionID string) string {
	return fmt.Sprintf("refund:%s:%s", bookingID, sessionID)
}

// Release attempts every external effect even when an earlier one fails. Each failure
// is logged with the booking and provider reference so it can be reconciled by hand.
// refunded reports whether a refund went through.
func (r *Releaser) Release(ctx context.Context, b model.Booking, effects []lifecycle.Effect, reason string) (refunded bool, err error) {
	var errs []error
	for _, eff := range effects {
		if !eff.External() {
			continue
		}
		var callErr error
		switch eff.Kind {
		case lifecycle.EffectCancelCalendarEvent:
			callErr = r.scheduling.CancelEvent(ctx, eff.Ref, reason)
		case lifecycle.EffectExpireCheckoutSession:
			callErr = r.payments.ExpireSession(ctx, eff.Ref)
		case lifecycle.EffectRefundPayment:
			callErr = r.payments.Refund(ctx, eff.Ref, RefundKey(b.ID, eff.Ref))
			if callErr == nil {
				refunded = true
			}
		}
		if callErr != nil {
			r.logger.Error("external effect failed",
				"booking_id", b.ID,
				"effect", eff.Kind,
				"ref", eff.Ref,
				"status", b.Status,
				"err", callErr,
			)
			errs = append(errs, fmt.Errorf("%s %s: %w", eff.Kind, eff.Ref, callErr))
			continue
		}
		r.logger.Info("external effect executed", "booking_id", b.ID, "effect", eff.Kind, "ref", eff.Ref)
	}
	return refunded, errors.Join(errs...)
}
