package scheduling

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
)

const (
	EventInviteeCreated  = "invitee.created"
	EventInviteeCanceled = "invitee.canceled"
)

// InviteeEvent is the subset of a scheduling webhook the booking lifecycle reacts to.
// The booking id travels in the scheduling link's utm_content tracking parameter.
type InviteeEvent struct {
	Type       string
	BookingID  string
	EventURI   string
	EventID    string
	InviteeURI string
	StartTime  time.Time
	EndTime    time.Time
	Reason     string
}

// LedgerKey identifies one delivery target for idempotency.
func (e InviteeEvent) LedgerKey() string {
	return "calendly:" + e.Type + ":" + e.InviteeURI
}

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		URI      string `json:"uri"`
		Event    string `json:"event"`
		Tracking struct {
			UTMContent string `json:"utm_content"`
		} `json:"tracking"`
		ScheduledEvent struct {
			URI       string    `json:"uri"`
			StartTime time.Time `json:"start_time"`
			EndTime   time.Time `json:"end_time"`
		} `json:"scheduled_event"`
		Cancellation struct {
			Reason string `json:"reason"`
		} `json:"cancellation"`
	} `json:"payload"`
}

func ParseInviteeEvent(body []byte) (InviteeEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return InviteeEvent{}, apperr.Validation("invalid scheduling webhook payload: %v", err)
	}
	ev := InviteeEvent{
		Type:       strings.TrimSpace(env.Event),
		BookingID:  strings.TrimSpace(env.Payload.Tracking.UTMContent),
		InviteeURI: strings.TrimSpace(env.Payload.URI),
		EventURI:   strings.TrimSpace(env.Payload.ScheduledEvent.URI),
		StartTime:  env.Payload.ScheduledEvent.StartTime,
		EndTime:    env.Payload.ScheduledEvent.EndTime,
		Reason:     strings.TrimSpace(env.Payload.Cancellation.Reason),
	}
	if ev.EventURI == "" {
		ev.EventURI = strings.TrimSpace(env.Payload.Event)
	}
	ev.EventID = EventUUID(ev.EventURI)

	switch {
	case ev.Type == "":
		return InviteeEvent{}, apperr.Validation("scheduling webhook missing event type")
	case ev.BookingID == "":
		return InviteeEvent{}, apperr.Validation("scheduling webhook missing booking reference")
	case ev.EventURI == "" || ev.InviteeURI == "":
		return InviteeEvent{}, apperr.Validation("scheduling webhook missing event or invitee uri")
	}
	return ev, nil
}
