// Package paymentstest provides an in-memory payments.Provider.
package paymentstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/payments"
)

// Fake honours idempotency keys the way the processor does: the same key returns the
// same session.
type Fake struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]payments.Session
	byKey    map[string]string
	// CreateErrs are returned, in order, by the next CreateCheckoutSession calls.
	CreateErrs []error
	RefundErr  error
	ExpireErr  error

	Creates  int
	Expired  []string
	Refunded []string
	Params   []payments.CheckoutParams
}

func New() *Fake {
	return &Fake{sessions: map[string]payments.Session{}, byKey: map[string]string{}}
}

func (f *Fake) CreateCheckoutSession(_ context.Context, p payments.CheckoutParams) (payments.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.CreateErrs) > 0 {
		err := f.CreateErrs[0]
		f.CreateErrs = f.CreateErrs[1:]
		if err != nil {
			return payments.CheckoutSession{}, err
		}
	}
	f.Params = append(f.Params, p)
	if id, ok := f.byKey[p.IdempotencyKey]; ok {
		return payments.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
	}
	f.seq++
	f.Creates++
	id := fmt.Sprintf("cs_test_%d", f.seq)
	f.byKey[p.IdempotencyKey] = id
	f.sessions[id] = payments.Session{
		ID:            id,
		Status:        payments.SessionOpen,
		PaymentStatus: payments.ProviderUnpaid,
		Metadata: map[string]string{
			payments.MetadataBookingID: p.BookingID,
			payments.MetadataClientID:  p.ClientID,
		},
	}
	return payments.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (f *Fake) RetrieveSession(_ context.Context, id string) (payments.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return payments.Session{}, apperr.NotFound("checkout session %s", id)
	}
	return s, nil
}

func (f *Fake) ExpireSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ExpireErr != nil {
		return f.ExpireErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return apperr.NotFound("checkout session %s", id)
	}
	if s.Status == payments.SessionOpen {
		s.Status = payments.SessionExpired
		f.sessions[id] = s
	}
	f.Expired = append(f.Expired, id)
	return nil
}

func (f *Fake) Refund(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RefundErr != nil {
		return f.RefundErr
	}
	if _, ok := f.sessions[id]; !ok {
		return apperr.NotFound("checkout session %s", id)
	}
	f.Refunded = append(f.Refunded, id)
	return nil
}

// Complete marks the session as paid.
func (f *Fake) Complete(id string) { f.set(id, payments.SessionComplete, payments.ProviderPaid) }

// ExpireNow marks the session as expired without payment.
func (f *Fake) ExpireNow(id string) { f.set(id, payments.SessionExpired, payments.ProviderUnpaid) }

// Put stores an arbitrary session.
func (f *Fake) Put(s payments.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s
}

func (f *Fake) set(id string, st payments.SessionStatus, ps payments.ProviderPaymentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sessions[id]
	s.ID = id
	s.Status = st
	s.PaymentStatus = ps
	s.PaymentIntentID = "pi_" + id
	f.sessions[id] = s
}

var _ payments.Provider = (*Fake)(nil)
