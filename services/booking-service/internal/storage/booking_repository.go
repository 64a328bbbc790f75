package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/sessionbook/libs/db"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/outbox"
	"github.com/shopspring/decimal"
)

type BookingRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewBookingRepository(pool *db.Pool, ob *outbox.Repository) *BookingRepository {
	return &BookingRepository{pool: pool, outbox: ob}
}

// BookingUpdate is one optimistic write: the booking replaces the row at
// ExpectedVersion, LedgerKeys are recorded in processed_events and Events are queued
// in the outbox, all in a single transaction.
type BookingUpdate struct {
	Booking         model.Booking
	ExpectedVersion int64
	LedgerKeys      []string
	Events          []outbox.Event
}

const bookingColumns = `
	id, builder_id, client_id, session_type_id, start_time, end_time, status, payment_status,
	payment_policy, amount::text, currency, stripe_session_id, checkout_idempotency_key,
	payment_attempts, calendly_event_id, calendly_event_uri, calendly_invitee_uri,
	client_timezone, builder_timezone, notes, cancel_reason, version, created_at, updated_at`

func (r *BookingRepository) Get(ctx context.Context, id string) (model.Booking, error) {
	if !validID(id) {
		return model.Booking{}, apperr.NotFound("booking %s not found", id)
	}
	b, err := scanBooking(r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if missing(err) {
		return model.Booking{}, apperr.NotFound("booking %s not found", id)
	}
	return b, err
}

func (r *BookingRepository) FindByStripeSession(ctx context.Context, sessionID string) (model.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE stripe_session_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, sessionID))
	if missing(err) {
		return model.Booking{}, apperr.NotFound("no booking for checkout session %s", sessionID)
	}
	return b, err
}

// Insert stores a new booking at version 1 together with its outbox events.
func (r *BookingRepository) Insert(ctx context.Context, b model.Booking, events []outbox.Event) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO bookings
				(id, builder_id, client_id, session_type_id, start_time, end_time, status, payment_status,
				payment_policy, amount, currency, stripe_session_id, checkout_idempotency_key,
				payment_attempts, calendly_event_id, calendly_event_uri, calendly_invitee_uri,
				client_timezone, builder_timezone, notes, cancel_reason, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, 1)
		`, bookingArgs(b)...)
		if err != nil {
			return slotTaken(err)
		}
		return r.insertEvents(ctx, tx, events)
	})
}

// Update applies u or returns ErrDuplicateEvent / ErrStaleWrite without writing anything.
func (r *BookingRepository) Update(ctx context.Context, u BookingUpdate) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		for _, key := range u.LedgerKeys {
			tag, err := tx.Exec(ctx, `
				INSERT INTO processed_events (booking_id, event_key)
				VALUES ($1, $2)
				ON CONFLICT (booking_id, event_key) DO NOTHING
			`, u.Booking.ID, key)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return ErrDuplicateEvent
			}
		}

		b := u.Booking
		args := append(bookingArgs(b), u.ExpectedVersion)
		tag, err := tx.Exec(ctx, `
			UPDATE bookings SET
				builder_id = $2,
				client_id = $3,
				session_type_id = $4,
				start_time = $5,
				end_time = $6,
				status = $7,
				payment_status = $8,
				payment_policy = $9,
				amount = $10::numeric,
				currency = $11,
				stripe_session_id = $12,
				checkout_idempotency_key = $13,
				payment_attempts = $14,
				calendly_event_id = $15,
				calendly_event_uri = $16,
				calendly_invitee_uri = $17,
				client_timezone = $18,
				builder_timezone = $19,
				notes = $20,
				cancel_reason = $21,
				version = version + 1,
				updated_at = now()
			WHERE id = $1 AND version = $22
		`, args...)
		if err != nil {
			return slotTaken(err)
		}
		if tag.RowsAffected() == 0 {
			return ErrStaleWrite
		}
		return r.insertEvents(ctx, tx, u.Events)
	})
}

// ListOccupying returns bookings of builderID that hold a slot overlapping [from, to).
func (r *BookingRepository) ListOccupying(ctx context.Context, builderID string, from, to time.Time) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE builder_id = $1
			AND start_time IS NOT NULL
			AND status NOT IN ('IDLE', 'CANCELLED')
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, builderID, from, to)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// ListStalePayments returns bookings that have sat in PAYMENT_PROCESSING since before
// olderThan, oldest first.
func (r *BookingRepository) ListStalePayments(ctx context.Context, olderThan time.Time, limit int) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'PAYMENT_PROCESSING'
			AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *BookingRepository) insertEvents(ctx context.Context, tx pgx.Tx, events []outbox.Event) error {
	for _, evt := range events {
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return fmt.Errorf("outbox insert %s: %w", evt.EventType, err)
		}
	}
	return nil
}

func bookingArgs(b model.Booking) []any {
	return []any{
		b.ID, b.BuilderID, b.ClientID, b.SessionTypeID, nullTime(b.StartTime), nullTime(b.EndTime),
		string(b.Status), string(b.PaymentStatus), string(b.PaymentPolicy.OrDefault()), b.Amount.String(),
		b.Currency, b.StripeSessionID, b.CheckoutIdempotencyKey, b.PaymentAttempts, b.CalendlyEventID,
		b.CalendlyEventURI, b.CalendlyInviteeURI, b.ClientTimezone, b.BuilderTimezone, b.Notes,
		b.CancelReason,
	}
}

func scanBooking(row pgx.Row) (model.Booking, error) {
	var (
		b              model.Booking
		start, end     *time.Time
		status, pay    string
		policy, amount string
	)
	err := row.Scan(
		&b.ID, &b.BuilderID, &b.ClientID, &b.SessionTypeID, &start, &end, &status, &pay,
		&policy, &amount, &b.Currency, &b.StripeSessionID, &b.CheckoutIdempotencyKey,
		&b.PaymentAttempts, &b.CalendlyEventID, &b.CalendlyEventURI, &b.CalendlyInviteeURI,
		&b.ClientTimezone, &b.BuilderTimezone, &b.Notes, &b.CancelReason, &b.Version,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return model.Booking{}, err
	}
	if start != nil {
		b.StartTime = start.UTC()
	}
	if end != nil {
		b.EndTime = end.UTC()
	}
	b.Status = model.BookingStatus(status)
	b.PaymentStatus = model.PaymentStatus(pay)
	b.PaymentPolicy = model.PaymentPolicy(policy)
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return model.Booking{}, fmt.Errorf("booking %s amount %q: %w", b.ID, amount, err)
	}
	return b, nil
}

func collectBookings(rows pgx.Rows) ([]model.Booking, error) {
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
