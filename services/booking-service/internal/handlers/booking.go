package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/reconcile"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/timemath"
)

type BookingHandler struct {
	svc    *booking.Service
	rec    *reconcile.Reconciler
	logger *slog.Logger
}

func NewBookingHandler(svc *booking.Service, rec *reconcile.Reconciler, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{svc: svc, rec: rec, logger: logger}
}

// Register mounts the API. authn wraps every route that needs a caller identity.
func (h *BookingHandler) Register(mux *http.ServeMux, authn func(http.Handler) http.Handler) {
	protect := func(f http.HandlerFunc) http.Handler { return authn(f) }

	mux.Handle("POST /api/v1/bookings", protect(h.Create))
	mux.Handle("GET /api/v1/bookings/{id}", protect(h.Get))
	mux.Handle("POST /api/v1/bookings/{id}/scheduling", protect(h.StartScheduling))
	mux.Handle("POST /api/v1/bookings/{id}/schedule", protect(h.Schedule))
	mux.Handle("POST /api/v1/bookings/{id}/cancel", protect(h.Cancel))
	mux.Handle("POST /api/v1/bookings/{id}/reset", protect(h.Reset))
	mux.Handle("POST /api/v1/bookings/{id}/complete", protect(h.Complete))
	mux.Handle("POST /api/v1/bookings/{id}/checkout", protect(h.Checkout))
	mux.Handle("GET /api/v1/bookings/{id}/payment", protect(h.PollPayment))

	mux.HandleFunc("GET /api/v1/public/builders/{builder_id}/slots", h.Slots)
	mux.HandleFunc("GET /api/v1/public/builders/{builder_id}/session-types", h.ListSessionTypes)
	mux.HandleFunc("GET /api/v1/public/builders/{builder_id}/availability", h.GetAvailability)
	mux.Handle("POST /api/v1/session-types", protect(h.CreateSessionType))
	mux.Handle("DELETE /api/v1/builders/{builder_id}/session-types/{id}", protect(h.DeactivateSessionType))
	mux.Handle("PUT /api/v1/builders/{builder_id}/availability", protect(h.SetAvailability))
}

type createBookingRequest struct {
	SessionTypeID   string `json:"session_type_id"`
	StartTime       string `json:"start_time"`
	ClientTimezone  string `json:"client_timezone"`
	Notes           string `json:"notes"`
	StartScheduling bool   `json:"start_scheduling"`
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	start, err := parseTime("start_time", req.StartTime)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	b, err := h.svc.Create(r.Context(), principal(r), booking.CreateInput{
		SessionTypeID:   strings.TrimSpace(req.SessionTypeID),
		StartTime:       start,
		ClientTimezone:  strings.TrimSpace(req.ClientTimezone),
		Notes:           strings.TrimSpace(req.Notes),
		StartScheduling: req.StartScheduling,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Get(r.Context(), principal(r), r.PathValue("id"))
	h.respondBooking(w, r, b, err)
}

func (h *BookingHandler) StartScheduling(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.StartScheduling(r.Context(), principal(r), r.PathValue("id"))
	h.respondBooking(w, r, b, err)
}

type scheduleRequest struct {
	EventID    string `json:"event_id"`
	EventURI   string `json:"event_uri"`
	InviteeURI string `json:"invitee_uri"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

func (h *BookingHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	start, err := parseTime("start_time", req.StartTime)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	end, err := parseTime("end_time", req.EndTime)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	b, err := h.svc.Schedule(r.Context(), principal(r), booking.ScheduleInput{
		BookingID:  r.PathValue("id"),
		EventID:    strings.TrimSpace(req.EventID),
		EventURI:   strings.TrimSpace(req.EventURI),
		InviteeURI: strings.TrimSpace(req.InviteeURI),
		StartTime:  start,
		EndTime:    end,
	})
	h.respondBooking(w, r, b, err)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	b, err := h.svc.Cancel(r.Context(), principal(r), r.PathValue("id"), strings.TrimSpace(req.Reason))
	h.respondBooking(w, r, b, err)
}

func (h *BookingHandler) Reset(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Reset(r.Context(), principal(r), r.PathValue("id"))
	h.respondBooking(w, r, b, err)
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Complete(r.Context(), principal(r), r.PathValue("id"))
	h.respondBooking(w, r, b, err)
}

type checkoutResponse struct {
	Booking        bookingResponse `json:"booking"`
	SessionID      string          `json:"session_id"`
	CheckoutURL    string          `json:"checkout_url"`
	IdempotencyKey string          `json:"idempotency_key"`
}

func (h *BookingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	co, err := h.rec.StartCheckout(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{
		Booking:        toBookingResponse(co.Booking),
		SessionID:      co.SessionID,
		CheckoutURL:    co.URL,
		IdempotencyKey: co.IdempotencyKey,
	})
}

type pollResponse struct {
	Booking bookingResponse `json:"booking"`
	Outcome string          `json:"outcome,omitempty"`
	Applied bool            `json:"applied"`
}

// PollPayment is hit by the client after returning from checkout.
func (h *BookingHandler) PollPayment(w http.ResponseWriter, r *http.Request) {
	res, err := h.rec.PollSession(r.Context(), principal(r), r.PathValue("id"), strings.TrimSpace(r.URL.Query().Get("session_id")))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pollResponse{
		Booking: toBookingResponse(res.Booking),
		Outcome: string(res.Outcome),
		Applied: res.Applied,
	})
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := timemath.ParseDate(q.Get("from"))
	if err != nil {
		writeError(w, r, h.logger, apperr.Validation("invalid from date"))
		return
	}
	to := from
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		if to, err = timemath.ParseDate(raw); err != nil {
			writeError(w, r, h.logger, apperr.Validation("invalid to date"))
			return
		}
	}
	includeBooked, _ := strconv.ParseBool(q.Get("include_booked"))

	days, err := h.svc.Slots(r.Context(), booking.SlotsQuery{
		BuilderID:      r.PathValue("builder_id"),
		SessionTypeID:  strings.TrimSpace(q.Get("session_type_id")),
		From:           from,
		To:             to,
		ClientTimezone: strings.TrimSpace(q.Get("timezone")),
		IncludeBooked:  includeBooked,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toDaySlots(days))
}

func (h *BookingHandler) respondBooking(w http.ResponseWriter, r *http.Request, b model.Booking, err error) {
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}
