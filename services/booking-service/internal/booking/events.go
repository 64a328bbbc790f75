package booking

import (
	"time"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/outbox"
)

const (
	aggregateBooking = "booking"

	TopicStateChanged  = "booking.state_changed.v1"
	TopicConfirmed     = "booking.confirmed.v1"
	TopicPaymentFailed = "booking.payment_failed.v1"
	TopicCancelled     = "booking.cancelled.v1"
)

// EventPayload is the JSON body of every booking topic. Downstream notification and
// analytics consumers key on booking_id.
type EventPayload struct {
	BookingID     string                `json:"booking_id"`
	BuilderID     string                `json:"builder_id"`
	ClientID      string                `json:"client_id"`
	SessionTypeID string                `json:"session_type_id"`
	From          model.BookingStatus   `json:"from,omitempty"`
	Status        model.BookingStatus   `json:"status"`
	Path          []model.BookingStatus `json:"path,omitempty"`
	PaymentStatus model.PaymentStatus   `json:"payment_status"`
	StartTime     *time.Time            `json:"start_time,omitempty"`
	EndTime       *time.Time            `json:"end_time,omitempty"`
	Amount        string                `json:"amount"`
	Currency      string                `json:"currency"`
	Reason        string                `json:"reason,omitempty"`
	OccurredAt    time.Time             `json:"occurred_at"`
}

func payloadOf(res lifecycle.Result, at time.Time) EventPayload {
	b := res.Booking
	p := EventPayload{
		BookingID:     b.ID,
		BuilderID:     b.BuilderID,
		ClientID:      b.ClientID,
		SessionTypeID: b.SessionTypeID,
		From:          res.From,
		Status:        res.To,
		Path:          res.Path,
		PaymentStatus: b.PaymentStatus,
		Amount:        b.Amount.String(),
		Currency:      b.Currency,
		Reason:        b.CancelReason,
		OccurredAt:    at,
	}
	if b.HasSlot() {
		start, end := b.StartTime.UTC(), b.EndTime.UTC()
		p.StartTime, p.EndTime = &start, &end
	}
	return p
}

// OutboxEvents turns a lifecycle result into the messages written with it: a
// state_changed event for every transition plus one per notification effect.
func OutboxEvents(res lifecycle.Result, at time.Time) ([]outbox.Event, error) {
	payload := payloadOf(res, at)
	topics := []string{TopicStateChanged}
	for _, eff := range res.Effects {
		switch eff.Kind {
		case lifecycle.EffectSendConfirmation:
			topics = append(topics, TopicConfirmed)
		case lifecycle.EffectNotifyPaymentFailed:
			topics = append(topics, TopicPaymentFailed)
		case lifecycle.EffectSendCancellation:
			topics = append(topics, TopicCancelled)
		}
	}
	out := make([]outbox.Event, 0, len(topics))
	for _, topic := range topics {
		evt, err := outbox.NewEvent(aggregateBooking, payload.BookingID, topic, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, nil
}
