// Package bookingtest provides in-memory implementations of the booking store and
// catalog with the same concurrency and idempotency semantics as PostgreSQL.
package bookingtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/storage"
)

type Store struct {
	mu       sync.Mutex
	bookings map[string]model.Booking
	ledger   map[string]bool
	events   []outbox.Event

	// BeforeUpdate, when set, runs before each Update is applied. Tests use it to
	// simulate a concurrent writer.
	BeforeUpdate func(u storage.BookingUpdate)

	Reads  int
	Writes int
}

func NewStore() *Store {
	return &Store{bookings: map[string]model.Booking{}, ledger: map[string]bool{}}
}

// Put stores b as-is, bypassing version checks.
func (s *Store) Put(b model.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Version == 0 {
		b.Version = 1
	}
	s.bookings[b.ID] = b
}

func (s *Store) Get(_ context.Context, id string) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reads++
	b, ok := s.bookings[id]
	if !ok {
		return model.Booking{}, apperr.NotFound("booking %s not found", id)
	}
	return b, nil
}

func (s *Store) FindByStripeSession(_ context.Context, sessionID string) (model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reads++
	for _, b := range s.bookings {
		if sessionID != "" && b.StripeSessionID == sessionID {
			return b, nil
		}
	}
	return model.Booking{}, apperr.NotFound("no booking for checkout session %s", sessionID)
}

func (s *Store) Insert(_ context.Context, b model.Booking, events []outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bookings[b.ID]; exists {
		return apperr.Conflict("booking %s already exists", b.ID)
	}
	if s.overlapsLocked(b) {
		return apperr.Conflict("time slot is no longer available")
	}
	b.Version = 1
	s.bookings[b.ID] = b
	s.events = append(s.events, events...)
	s.Writes++
	return nil
}

func (s *Store) Update(_ context.Context, u storage.BookingUpdate) error {
	if s.BeforeUpdate != nil {
		s.BeforeUpdate(u)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range u.LedgerKeys {
		if s.ledger[u.Booking.ID+"|"+k] {
			return storage.ErrDuplicateEvent
		}
	}
	cur, ok := s.bookings[u.Booking.ID]
	if !ok || cur.Version != u.ExpectedVersion {
		return storage.ErrStaleWrite
	}
	if s.overlapsLocked(u.Booking) {
		return apperr.Conflict("time slot is no longer available")
	}
	for _, k := range u.LedgerKeys {
		s.ledger[u.Booking.ID+"|"+k] = true
	}
	next := u.Booking
	next.Version = cur.Version + 1
	s.bookings[next.ID] = next
	s.events = append(s.events, u.Events...)
	s.Writes++
	return nil
}

func (s *Store) ListOccupying(_ context.Context, builderID string, from, to time.Time) ([]model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Booking
	for _, b := range s.bookings {
		if b.BuilderID != builderID || !b.Status.Occupying() || !b.HasSlot() {
			continue
		}
		if b.StartTime.Before(to) && from.Before(b.EndTime) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *Store) ListStalePayments(_ context.Context, olderThan time.Time, limit int) ([]model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Booking
	for _, b := range s.bookings {
		if b.Status == model.StatusPaymentProcessing && b.UpdatedAt.Before(olderThan) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events returns the outbox events written so far.
func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Event(nil), s.events...)
}

// EventTypes returns the event types written so far, in order.
func (s *Store) EventTypes() []string {
	var out []string
	for _, e := range s.Events() {
		out = append(out, e.EventType)
	}
	return out
}

func (s *Store) overlapsLocked(b model.Booking) bool {
	if !b.Status.Occupying() || !b.HasSlot() {
		return false
	}
	for id, o := range s.bookings {
		if id == b.ID || o.BuilderID != b.BuilderID || !o.Status.Occupying() || !o.HasSlot() {
			continue
		}
		if b.StartTime.Before(o.EndTime) && o.StartTime.Before(b.EndTime) {
			return true
		}
	}
	return false
}

type Catalog struct {
	mu           sync.Mutex
	sessionTypes map[string]model.SessionType
	availability map[string]model.BuilderAvailability
}

func NewCatalog() *Catalog {
	return &Catalog{sessionTypes: map[string]model.SessionType{}, availability: map[string]model.BuilderAvailability{}}
}

func (c *Catalog) GetSessionType(_ context.Context, id string) (model.SessionType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.sessionTypes[id]
	if !ok {
		return model.SessionType{}, apperr.NotFound("session type %s not found", id)
	}
	return st, nil
}

func (c *Catalog) ListSessionTypes(_ context.Context, builderID string) ([]model.SessionType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.SessionType
	for _, st := range c.sessionTypes {
		if st.BuilderID == builderID && st.IsActive {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Catalog) CreateSessionType(_ context.Context, st model.SessionType) (model.SessionType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if _, exists := c.sessionTypes[st.ID]; exists {
		return model.SessionType{}, apperr.Conflict("session type %s already exists", st.ID)
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	c.sessionTypes[st.ID] = st
	return st, nil
}

func (c *Catalog) DeactivateSessionType(_ context.Context, builderID, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.sessionTypes[id]
	if !ok || st.BuilderID != builderID {
		return apperr.NotFound("session type %s not found", id)
	}
	st.IsActive = false
	c.sessionTypes[id] = st
	return nil
}

func (c *Catalog) GetAvailability(_ context.Context, builderID string) (model.BuilderAvailability, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.availability[builderID]
	if !ok {
		return model.BuilderAvailability{BuilderID: builderID, Timezone: "UTC"}, nil
	}
	return a, nil
}

func (c *Catalog) ReplaceAvailability(_ context.Context, avail model.BuilderAvailability) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.availability[avail.BuilderID] = avail
	return nil
}
