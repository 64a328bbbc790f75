package booking

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/storage"
)

// Store persists bookings. Update must be atomic: ledger keys, the versioned row and the
// outbox events commit together or not at all.
type Store interface {
	Get(ctx context.Context, id string) (model.Booking, error)
	FindByStripeSession(ctx context.Context, sessionID string) (model.Booking, error)
	Insert(ctx context.Context, b model.Booking, events []outbox.Event) error
	Update(ctx context.Context, u storage.BookingUpdate) error
	ListOccupying(ctx context.Context, builderID string, from, to time.Time) ([]model.Booking, error)
	ListStalePayments(ctx context.Context, olderThan time.Time, limit int) ([]model.Booking, error)
}

type Catalog interface {
	GetSessionType(ctx context.Context, id string) (model.SessionType, error)
	ListSessionTypes(ctx context.Context, builderID string) ([]model.SessionType, error)
	CreateSessionType(ctx context.Context, st model.SessionType) (model.SessionType, error)
	DeactivateSessionType(ctx context.Context, builderID, id string) error
	GetAvailability(ctx context.Context, builderID string) (model.BuilderAvailability, error)
	ReplaceAvailability(ctx context.Context, avail model.BuilderAvailability) error
}

// Ledger is the fast-path duplicate filter in front of the durable ledger.
type Ledger interface {
	Seen(ctx context.Context, bookingID string, keys ...string) bool
	Mark(ctx context.Context, bookingID string, keys ...string)
}

type Recorder interface {
	Transition(from, to model.BookingStatus)
	ConcurrencyRetry()
	DuplicateEvent(source string)
}

type nopLedger struct{}

func (nopLedger) Seen(context.Context, string, ...string) bool { return false }
func (nopLedger) Mark(context.Context, string, ...string)      {}

type nopRecorder struct{}

func (nopRecorder) Transition(model.BookingStatus, model.BookingStatus) {}
func (nopRecorder) ConcurrencyRetry()                                   {}
func (nopRecorder) DuplicateEvent(string)                               {}
