package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/reconcile"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/webhook"
)

const (
	stripeSignatureHeader   = "Stripe-Signature"
	calendlySignatureHeader = "Calendly-Webhook-Signature"
	maxWebhookBytes         = 64 << 10
)

type WebhookHandler struct {
	rec      *reconcile.Reconciler
	svc      *booking.Service
	calendly *webhook.Verifier
	logger   *slog.Logger
}

func NewWebhookHandler(rec *reconcile.Reconciler, svc *booking.Service, calendly *webhook.Verifier, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{rec: rec, svc: svc, calendly: calendly, logger: logger}
}

func (h *WebhookHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.Stripe)
	mux.HandleFunc("POST /webhooks/calendly", h.Calendly)
}

func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.readBody(w, r)
	if !ok {
		return
	}
	_, err := h.rec.HandleStripeWebhook(r.Context(), r.Header.Get(stripeSignatureHeader), payload)
	h.acknowledge(w, r, "stripe", err)
}

func (h *WebhookHandler) Calendly(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.readBody(w, r)
	if !ok {
		return
	}
	if err := h.calendly.Verify(r.Header.Get(calendlySignatureHeader), payload); err != nil {
		h.logger.Warn("scheduling webhook rejected", "provider", "calendly", "err", err)
		h.acknowledge(w, r, "calendly", err)
		return
	}
	ev, err := scheduling.ParseInviteeEvent(payload)
	if err != nil {
		h.acknowledge(w, r, "calendly", err)
		return
	}
	h.acknowledge(w, r, "calendly", h.applyInviteeEvent(r.Context(), ev))
}

func (h *WebhookHandler) applyInviteeEvent(ctx context.Context, ev scheduling.InviteeEvent) error {
	switch ev.Type {
	case scheduling.EventInviteeCreated:
		out, err := h.svc.MarkScheduled(ctx, booking.ScheduleInput{
			BookingID:  ev.BookingID,
			EventID:    ev.EventID,
			EventURI:   ev.EventURI,
			InviteeURI: ev.InviteeURI,
			StartTime:  ev.StartTime,
			EndTime:    ev.EndTime,
			LedgerKey:  ev.LedgerKey(),
		})
		if err == nil {
			h.logger.Info("scheduling webhook processed",
				"booking_id", ev.BookingID,
				"event_type", ev.Type,
				"applied", out.Applied,
				"duplicate", out.Duplicate,
				"status", out.Booking.Status,
			)
		}
		return err
	case scheduling.EventInviteeCanceled:
		b, err := h.svc.CancelFromProvider(ctx, ev.BookingID, ev.Reason)
		if err == nil {
			h.logger.Info("scheduling webhook processed", "booking_id", ev.BookingID, "event_type", ev.Type, "status", b.Status)
		}
		return err
	}
	h.logger.Info("scheduling webhook ignored", "booking_id", ev.BookingID, "event_type", ev.Type)
	return nil
}

func (h *WebhookHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return nil, false
	}
	return payload, true
}

// acknowledge answers 2xx for deliveries that can never succeed on retry (unknown
// booking, event no longer applicable) so the provider stops redelivering them.
// Transient failures answer 5xx so it retries.
func (h *WebhookHandler) acknowledge(w http.ResponseWriter, r *http.Request, provider string, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound, apperr.KindInvalidTransition:
		h.logger.Warn("webhook acknowledged without effect", "provider", provider, "err", err)
		err = nil
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
