// Package booking applies lifecycle events to stored bookings and runs the flows built
// on top of them.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/storage"
)

const defaultMaxTries = 5

// Decide maps the current booking to the events to apply. No events means there is
// nothing to do and Apply returns without writing.
type Decide func(b model.Booking) ([]lifecycle.Event, error)

type Request struct {
	BookingID string
	// LedgerKeys are recorded with the write; a key seen before makes the request a
	// duplicate.
	LedgerKeys []string
	Source     string
	Decide     Decide
}

type Outcome struct {
	Booking   model.Booking
	Result    lifecycle.Result
	Applied   bool
	Duplicate bool
}

type Engine struct {
	store    Store
	ledger   Ledger
	metrics  Recorder
	logger   *slog.Logger
	maxTries int
	now      func() time.Time
}

type EngineOption func(*Engine)

func WithLedger(l Ledger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.ledger = l
		}
	}
}

func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.metrics = r
		}
	}
}

func WithMaxTries(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxTries = n
		}
	}
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(store Store, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		ledger:   nopLedger{},
		metrics:  nopRecorder{},
		logger:   logger,
		maxTries: defaultMaxTries,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply reads the booking, asks req.Decide for events and writes the folded result
// conditionally on the version it read. A concurrent writer makes Apply re-read and
// decide again, up to the configured number of tries.
func (e *Engine) Apply(ctx context.Context, req Request) (Outcome, error) {
	if req.Decide == nil {
		return Outcome{}, apperr.Validation("no decision function")
	}
	if e.ledger.Seen(ctx, req.BookingID, req.LedgerKeys...) {
		e.metrics.DuplicateEvent(req.Source)
		return Outcome{Booking: model.Booking{ID: req.BookingID}, Duplicate: true}, nil
	}

	for attempt := 1; ; attempt++ {
		cur, err := e.store.Get(ctx, req.BookingID)
		if err != nil {
			return Outcome{}, err
		}
		events, err := req.Decide(cur)
		if err != nil {
			return Outcome{Booking: cur}, err
		}
		if len(events) == 0 {
			return Outcome{Booking: cur}, nil
		}
		res, err := lifecycle.Run(cur, events...)
		if err != nil {
			return Outcome{Booking: cur}, err
		}
		next := res.Booking
		next.UpdatedAt = e.now().UTC()
		msgs, err := OutboxEvents(res, next.UpdatedAt)
		if err != nil {
			return Outcome{Booking: cur}, err
		}

		err = e.store.Update(ctx, storage.BookingUpdate{
			Booking:         next,
			ExpectedVersion: cur.Version,
			LedgerKeys:      req.LedgerKeys,
			Events:          msgs,
		})
		switch {
		case err == nil:
			next.Version = cur.Version + 1
			res.Booking = next
			e.ledger.Mark(ctx, req.BookingID, req.LedgerKeys...)
			e.metrics.Transition(res.From, res.To)
			e.logger.Info("booking transitioned",
				"booking_id", next.ID,
				"from", res.From,
				"to", res.To,
				"source", req.Source,
				"version", next.Version,
			)
			return Outcome{Booking: next, Result: res, Applied: true}, nil
		case errors.Is(err, storage.ErrDuplicateEvent):
			e.ledger.Mark(ctx, req.BookingID, req.LedgerKeys...)
			e.metrics.DuplicateEvent(req.Source)
			e.logger.Info("duplicate event ignored", "booking_id", cur.ID, "source", req.Source)
			return Outcome{Booking: cur, Duplicate: true}, nil
		case errors.Is(err, storage.ErrStaleWrite):
			e.metrics.ConcurrencyRetry()
			if attempt >= e.maxTries {
				return Outcome{Booking: cur}, apperr.Conflict("booking %s is being modified concurrently", cur.ID)
			}
			e.logger.Debug("stale booking write, retrying", "booking_id", cur.ID, "attempt", attempt)
		default:
			return Outcome{Booking: cur}, err
		}
	}
}
