package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/payments"
)

// Locker elects a single sweeping instance.
type Locker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (release func(), ok bool, err error)
}

type SweeperConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
	LockKey    int64
}

// Sweeper polls the provider for bookings stuck in PAYMENT_PROCESSING, covering lost
// webhooks and clients that never came back from checkout.
type Sweeper struct {
	rec      *Reconciler
	store    booking.Store
	provider payments.Provider
	locker   Locker
	logger   *slog.Logger
	cfg      SweeperConfig
	now      func() time.Time
}

func NewSweeper(rec *Reconciler, store booking.Store, provider payments.Provider, locker Locker, logger *slog.Logger, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.LockKey == 0 {
		cfg.LockKey = 4242002
	}
	return &Sweeper{rec: rec, store: store, provider: provider, locker: locker, logger: logger, cfg: cfg, now: time.Now}
}

// Run blocks until ctx is done. Only the instance holding the advisory lock sweeps.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		release, ok, err := s.locker.TryAdvisoryLock(ctx, s.cfg.LockKey)
		if err != nil {
			s.logger.Error("payment sweep: failed to acquire advisory lock", "err", err)
			if !sleep(ctx, 5*time.Second) {
				return
			}
			continue
		}
		if !ok {
			s.logger.Info("payment sweep: advisory lock held by another instance", "lock_key", s.cfg.LockKey)
			if !sleep(ctx, 30*time.Second) {
				return
			}
			continue
		}
		s.logger.Info("payment sweep: advisory lock acquired", "lock_key", s.cfg.LockKey)
		defer release()
		break
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce reconciles one batch and returns how many bookings changed state.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	stale, err := s.store.ListStalePayments(ctx, s.now().Add(-s.cfg.StaleAfter), s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("payment sweep: failed to list bookings", "err", err)
		return 0
	}
	applied := 0
	for _, b := range stale {
		if ctx.Err() != nil {
			break
		}
		if b.StripeSessionID == "" {
			s.logger.Warn("payment sweep: booking has no checkout session", "booking_id", b.ID, "ref", b.CheckoutIdempotencyKey)
			continue
		}
		sess, err := s.provider.RetrieveSession(ctx, b.StripeSessionID)
		if err != nil {
			s.logger.Warn("payment sweep: retrieve session failed", "booking_id", b.ID, "ref", b.StripeSessionID, "err", err)
			continue
		}
		res, err := s.rec.Reconcile(ctx, Signal{Source: SourceSweep, Session: sess})
		if err != nil {
			s.logger.Warn("payment sweep: reconcile failed", "booking_id", b.ID, "ref", b.StripeSessionID, "err", err)
			continue
		}
		if res.Applied {
			applied++
			s.logger.Info("payment sweep: booking reconciled", "booking_id", b.ID, "outcome", res.Outcome, "status", res.Booking.Status)
		}
	}
	return applied
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
