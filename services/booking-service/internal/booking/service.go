package booking

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/sessionbook/libs/auth"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/timemath"
)

type Service struct {
	engine   *Engine
	store    Store
	catalog  Catalog
	resolver *availability.Resolver
	releaser *Releaser
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(engine *Engine, store Store, catalog Catalog, releaser *Releaser, logger *slog.Logger) *Service {
	return &Service{
		engine:   engine,
		store:    store,
		catalog:  catalog,
		resolver: availability.NewResolver(),
		releaser: releaser,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the service clock; slots before now are never offered.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Service) Engine() *Engine { return s.engine }

type CreateInput struct {
	SessionTypeID  string
	StartTime      time.Time
	ClientTimezone string
	Notes          string
	// StartScheduling moves the booking straight to SCHEDULING_INITIATED.
	StartScheduling bool
}

// Create books a session type for the calling client. A requested start time must be
// one of the slots the resolver currently offers.
func (s *Service) Create(ctx context.Context, p auth.Principal, in CreateInput) (model.Booking, error) {
	if err := authenticated(p); err != nil {
		return model.Booking{}, err
	}
	if strings.TrimSpace(in.SessionTypeID) == "" {
		return model.Booking{}, apperr.Validation("session_type_id is required")
	}
	clientTZ := strings.TrimSpace(in.ClientTimezone)
	if clientTZ == "" {
		clientTZ = "UTC"
	}
	if _, err := timemath.LoadLocation(clientTZ); err != nil {
		return model.Booking{}, apperr.Validation("unknown client timezone %q", clientTZ)
	}

	st, err := s.catalog.GetSessionType(ctx, in.SessionTypeID)
	if err != nil {
		return model.Booking{}, err
	}
	if !st.IsActive {
		return model.Booking{}, apperr.Validation("session type %s is not bookable", st.ID)
	}
	if err := st.Validate(); err != nil {
		return model.Booking{}, apperr.Wrap(err, apperr.KindValidation, "invalid session type")
	}
	avail, err := s.catalog.GetAvailability(ctx, st.BuilderID)
	if err != nil {
		return model.Booking{}, err
	}

	var start, end time.Time
	if !in.StartTime.IsZero() {
		start = in.StartTime.UTC()
		end = start.Add(st.Duration())
		ok, err := s.slotOffered(ctx, st, avail, start, end)
		if err != nil {
			return model.Booking{}, err
		}
		if !ok {
			return model.Booking{}, apperr.Conflict("requested slot is not available")
		}
	}

	events := []lifecycle.Event{{
		Type:          lifecycle.SessionTypeSelected,
		BuilderID:     st.BuilderID,
		ClientID:      p.UserID,
		SessionTypeID: st.ID,
		Amount:        st.Price,
		Currency:      st.Currency,
		Policy:        st.PaymentPolicy,
		StartTime:     start,
		EndTime:       end,
	}}
	if in.StartScheduling {
		events = append(events, lifecycle.Event{Type: lifecycle.SchedulingStarted})
	}

	now := s.now().UTC()
	b := model.Booking{
		ID:              uuid.NewString(),
		ClientTimezone:  clientTZ,
		BuilderTimezone: avail.Timezone,
		Notes:           strings.TrimSpace(in.Notes),
	}
	res, err := lifecycle.Run(b, events...)
	if err != nil {
		return model.Booking{}, err
	}
	next := res.Booking
	next.Version = 1
	next.CreatedAt, next.UpdatedAt = now, now
	msgs, err := OutboxEvents(res, now)
	if err != nil {
		return model.Booking{}, err
	}
	if err := s.store.Insert(ctx, next, msgs); err != nil {
		return model.Booking{}, err
	}
	s.logger.Info("booking created", "booking_id", next.ID, "builder_id", next.BuilderID, "status", next.Status)
	return next, nil
}

func (s *Service) Get(ctx context.Context, p auth.Principal, id string) (model.Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Booking{}, err
	}
	if err := authorize(p, b, participantOrAdmin); err != nil {
		return model.Booking{}, err
	}
	return b, nil
}

func (s *Service) StartScheduling(ctx context.Context, p auth.Principal, id string) (model.Booking, error) {
	out, err := s.engine.Apply(ctx, Request{
		BookingID: id,
		Source:    "api",
		Decide: func(b model.Booking) ([]lifecycle.Event, error) {
			if err := authorize(p, b, clientOrAdmin); err != nil {
				return nil, err
			}
			if b.Status == model.StatusSchedulingInitiated {
				return nil, nil
			}
			return []lifecycle.Event{{Type: lifecycle.SchedulingStarted}}, nil
		},
	})
	return out.Booking, err
}

// ScheduleInput describes an event booked on the external scheduling provider.
type ScheduleInput struct {
	BookingID  string
	EventID    string
	EventURI   string
	InviteeURI string
	StartTime  time.Time
	EndTime    time.Time
	// LedgerKey deduplicates provider redeliveries.
	LedgerKey string
}

// MarkScheduled records a provider-confirmed event. It trusts its input, so callers must
// have authenticated the provider. Bookings that need no payment are confirmed in the
// same write.
func (s *Service) MarkScheduled(ctx context.Context, in ScheduleInput) (Outcome, error) {
	return s.schedule(ctx, in, "scheduling_webhook", nil)
}

// Schedule is the manual equivalent of MarkScheduled for the booking's builder.
func (s *Service) Schedule(ctx context.Context, p auth.Principal, in ScheduleInput) (model.Booking, error) {
	out, err := s.schedule(ctx, in, "api", func(b model.Booking) error {
		return authorize(p, b, builderOrAdmin)
	})
	return out.Booking, err
}

func (s *Service) schedule(ctx context.Context, in ScheduleInput, source string, check func(model.Booking) error) (Outcome, error) {
	if strings.TrimSpace(in.BookingID) == "" {
		return Outcome{}, apperr.Validation("booking reference is required")
	}
	var keys []string
	if in.LedgerKey != "" {
		keys = []string{in.LedgerKey}
	}
	return s.engine.Apply(ctx, Request{
		BookingID:  in.BookingID,
		LedgerKeys: keys,
		Source:     source,
		Decide: func(b model.Booking) ([]lifecycle.Event, error) {
			if check != nil {
				if err := check(b); err != nil {
					return nil, err
				}
			}
			if b.CalendlyEventURI != "" && b.CalendlyEventURI == in.EventURI {
				return nil, nil
			}
			events := []lifecycle.Event{{
				Type:               lifecycle.ExternalEventScheduled,
				StartTime:          in.StartTime,
				EndTime:            in.EndTime,
				CalendlyEventID:    in.EventID,
				CalendlyEventURI:   in.EventURI,
				CalendlyInviteeURI: in.InviteeURI,
			}}
			if !b.RequiresPayment() {
				events = append(events, lifecycle.Event{Type: lifecycle.PaymentWaived})
			}
			return events, nil
		},
	})
}

// Cancel runs the two-phase cancellation: the request is persisted first, then the
// provider resources are released, then the booking is completed as CANCELLED. When a
// release fails the booking stays CANCELLATION_REQUESTED and Cancel can be retried.
func (s *Service) Cancel(ctx context.Context, p auth.Principal, id, reason string) (model.Booking, error) {
	return s.cancel(ctx, id, reason, "api", false, func(b model.Booking) error {
		return authorize(p, b, participantOrAdmin)
	})
}

// CancelFromProvider handles a cancellation made on the scheduling provider. The
// calendar event is already gone there, so only payment resources are released.
func (s *Service) CancelFromProvider(ctx context.Context, id, reason string) (model.Booking, error) {
	return s.cancel(ctx, id, reason, "scheduling_webhook", true, nil)
}

func (s *Service) cancel(ctx context.Context, id, reason, source string, calendarGone bool, check func(model.Booking) error) (model.Booking, error) {
	out, err := s.engine.Apply(ctx, Request{
		BookingID: id,
		Source:    source,
		Decide: func(b model.Booking) ([]lifecycle.Event, error) {
			if check != nil {
				if err := check(b); err != nil {
					return nil, err
				}
			}
			switch b.Status {
			case model.StatusCancellationRequested, model.StatusCancelled:
				return nil, nil
			}
			if err := s.checkoutRecorded(b, "cancel"); err != nil {
				return nil, err
			}
			return []lifecycle.Event{{Type: lifecycle.CancellationRequested, Reason: reason}}, nil
		},
	})
	if err != nil {
		return out.Booking, err
	}
	b := out.Booking
	if b.Status == model.StatusCancelled {
		return b, nil
	}

	effects := lifecycle.ReleaseEffects(b)
	if calendarGone {
		effects = withoutKind(effects, lifecycle.EffectCancelCalendarEvent)
	}
	refunded, err := s.releaser.Release(ctx, b, effects, b.CancelReason)
	if err != nil {
		return b, fmt.Errorf("release booking %s: %w", b.ID, err)
	}

	out, err = s.engine.Apply(ctx, Request{
		BookingID: id,
		Source:    source,
		Decide: func(b model.Booking) ([]lifecycle.Event, error) {
			if b.Status != model.StatusCancellationRequested {
				return nil, nil
			}
			return []lifecycle.Event{{Type: lifecycle.CancellationCompleted, Refunded: refunded}}, nil
		},
	})
	return out.Booking, err
}

// Reset returns the booking to IDLE. Provider resources are released first; if any
// release fails nothing is persisted and the error is returned.
func (s *Service) Reset(ctx context.Context, p auth.Principal, id string) (model.Booking, error) {
	before, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Booking{}, err
	}
	if err := authorize(p, before, participantOrAdmin); err != nil {
		return model.Booking{}, err
	}

	if err := s.checkoutRecorded(before, "reset"); err != nil {
		return before, err
	}
	refunded, err := s.releaser.Release(ctx, before, lifecycle.ReleaseEffects(before), "booking reset")
	if err != nil {
		s.logger.Warn("booking reset refused", "booking_id", id, "status", before.Status, "err", err)
		return before, fmt.Errorf("reset booking %s: %w", id, err)
	}

	out, err := s.engine.Apply(ctx, Request{
		BookingID: id,
		Source:    "api",
		Decide: func(b model.Booking) ([]lifecycle.Event, error) {
			if b.StripeSessionID != before.StripeSessionID || b.CalendlyEventURI != before.CalendlyEventURI {
				return nil, apperr.Conflict("booking %s changed during reset", id)
			}
			return []lifecycle.Event{{Type: lifecycle.Reset, Refunded: refunded}}, nil
		},
	})
	if err != nil && refunded {
		s.logger.Error("payment refunded but reset not persisted", "booking_id", id, "ref", before.StripeSessionID, "err", err)
	}
	return out.Booking, err
}

// Complete marks a confirmed session as held. Only the builder or an admin may do so.
func (s *Service) Complete(ctx context.Context, p auth.Principal, id string) (model.Booking, error) {
	out, err := s.engine.Apply(ctx, Request{
		BookingID: id,
		Source:    "api",
		Decide: func(b model.Booking) ([]lifecycle.Event, error) {
			if err := authorize(p, b, builderOrAdmin); err != nil {
				return nil, err
			}
			if b.Status == model.StatusCompleted {
				return nil, nil
			}
			return []lifecycle.Event{{Type: lifecycle.SessionCompleted}}, nil
		},
	})
	return out.Booking, err
}

type SlotsQuery struct {
	BuilderID      string
	SessionTypeID  string
	From           timemath.Date
	To             timemath.Date
	ClientTimezone string
	IncludeBooked  bool
}

// Slots lists bookable slots for a session type over builder-local dates From..To.
func (s *Service) Slots(ctx context.Context, q SlotsQuery) ([]availability.DaySlots, error) {
	if q.SessionTypeID == "" {
		return nil, apperr.Validation("session_type_id is required")
	}
	if q.From.IsZero() {
		return nil, apperr.Validation("from date is required")
	}
	if q.To.IsZero() {
		q.To = q.From
	}
	st, err := s.catalog.GetSessionType(ctx, q.SessionTypeID)
	if err != nil {
		return nil, err
	}
	if q.BuilderID != "" && q.BuilderID != st.BuilderID {
		return nil, apperr.NotFound("session type %s not found for builder %s", st.ID, q.BuilderID)
	}
	avail, err := s.catalog.GetAvailability(ctx, st.BuilderID)
	if err != nil {
		return nil, err
	}
	loc, err := timemath.LoadLocation(avail.Timezone)
	if err != nil {
		return nil, fmt.Errorf("builder %s timezone: %w", st.BuilderID, err)
	}
	booked, err := s.store.ListOccupying(ctx, st.BuilderID,
		timemath.StartOfDay(q.From, loc), timemath.StartOfDay(q.To.AddDays(1), loc))
	if err != nil {
		return nil, err
	}
	return s.resolver.ResolveRange(q.From, q.To, avail, availability.BookedIntervals(booked), q.ClientTimezone, availability.Options{
		SlotLength:    st.Duration(),
		Now:           s.now(),
		IncludeBooked: q.IncludeBooked,
	})
}

func (s *Service) slotOffered(ctx context.Context, st model.SessionType, avail model.BuilderAvailability, start, end time.Time) (bool, error) {
	loc, err := timemath.LoadLocation(avail.Timezone)
	if err != nil {
		return false, fmt.Errorf("builder %s timezone: %w", st.BuilderID, err)
	}
	date := timemath.DateOf(start, loc)
	booked, err := s.store.ListOccupying(ctx, st.BuilderID, timemath.StartOfDay(date, loc), timemath.StartOfDay(date.AddDays(1), loc))
	if err != nil {
		return false, err
	}
	slots, err := s.resolver.ResolveSlots(date, avail, availability.BookedIntervals(booked), "UTC", availability.Options{
		SlotLength: st.Duration(),
		Now:        s.now(),
	})
	if err != nil {
		return false, err
	}
	return availability.Contains(slots, start, end), nil
}

func withoutKind(effects []lifecycle.Effect, kind lifecycle.EffectKind) []lifecycle.Effect {
	out := effects[:0:0]
	for _, e := range effects {
		if e.Kind != kind {
			out = append(out, e)
		}
	}
	return out
}

// checkoutRecorded refuses to release a booking whose checkout was started but whose
// provider session id was never stored. The session may exist under the idempotency key
// and nothing could expire it. Retrying checkout records the session and unblocks this.
func (s *Service) checkoutRecorded(b model.Booking, op string) error {
	if b.PaymentStatus != model.PaymentProcessing || b.CheckoutIdempotencyKey == "" || b.StripeSessionID != "" {
		return nil
	}
	s.logger.Warn("booking release refused: checkout session not recorded",
		"booking_id", b.ID,
		"op", op,
		"effect", string(lifecycle.EffectExpireCheckoutSession),
		"ref", b.CheckoutIdempotencyKey,
	)
	return apperr.Conflict("checkout for booking %s is still being created; retry checkout before %s", b.ID, op)
}
