package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/sessionbook/libs/auth"
	"github.com/md-rashed-zaman/sessionbook/libs/cache"
	"github.com/md-rashed-zaman/sessionbook/libs/db"
	"github.com/md-rashed-zaman/sessionbook/libs/httpx"
	"github.com/md-rashed-zaman/sessionbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/sessionbook/libs/otel"
	"github.com/md-rashed-zaman/sessionbook/libs/runtime"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/ledger"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/reconcile"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/webhook"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(cfg.Service)
	if err := run(cfg, logger); err != nil {
		logger.Error("booking service exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg appConfig, logger *slog.Logger) error {
	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{MaxConns: int32(cfg.DBMaxConns)})
	if err != nil {
		return err
	}
	defer pool.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = cache.Open(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			logger.Warn("redis unavailable; running without ledger cache and rate limiting", "err", err)
			rdb = nil
		} else {
			defer func() { _ = rdb.Close() }()
		}
	}

	m := metrics.New()
	outboxRepo := outbox.NewRepository()
	store := storage.NewBookingRepository(pool, outboxRepo)
	catalog := storage.NewCatalog(pool)

	var pay payments.Provider = payments.Disabled{}
	if cfg.StripeSecretKey != "" {
		pay = payments.NewStripeProvider(payments.StripeConfig{
			SecretKey:  cfg.StripeSecretKey,
			BaseURL:    cfg.StripeBaseURL,
			HTTPClient: &http.Client{Timeout: 15 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		}, logger)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set; paid checkouts are disabled")
	}
	sched := scheduling.NewProvider(scheduling.Config{
		BaseURL:    cfg.CalendlyBaseURL,
		Token:      cfg.CalendlyToken,
		HTTPClient: &http.Client{Timeout: 10 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}, logger)

	engine := booking.NewEngine(store, logger,
		booking.WithLedger(ledger.New(rdb, cfg.LedgerTTL, logger)),
		booking.WithRecorder(m),
	)
	svc := booking.NewService(engine, store, catalog, booking.NewReleaser(pay, sched, logger), logger)

	if cfg.WebhookDevMode {
		logger.Warn("webhook signature bypass enabled for unsigned deliveries", "env", cfg.Environment)
	}
	stripeVerifier := &webhook.Verifier{
		Provider: "stripe",
		Scheme:   webhook.SchemeTimestamped,
		Secret:   cfg.StripeWebhookSecret,
		DevMode:  cfg.WebhookDevMode,
		Logger:   logger,
	}
	calendlyVerifier := &webhook.Verifier{
		Provider: "calendly",
		Scheme:   cfg.CalendlyScheme,
		Secret:   cfg.CalendlyWebhookSecret,
		DevMode:  cfg.WebhookDevMode,
		Logger:   logger,
	}
	rec := reconcile.New(engine, store, pay, stripeVerifier, logger, reconcile.Config{
		SuccessURL:  cfg.CheckoutSuccessURL,
		CancelURL:   cfg.CheckoutCancelURL,
		MaxAttempts: cfg.MaxPaymentAttempts,
	}).WithRecorder(m)

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
		OnPublish: m.Published,
	})

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if cfg.KafkaBrokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: cache.ReadyCheck(rdb)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("GET /metrics", m.Handler())

	tokens := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	authn := tokens.Middleware
	if rdb != nil {
		limiter := httpx.NewRedisRateLimiter(rdb, cfg.RateLimit, cfg.RateLimitWindow, "booking").
			WithKey(func(r *http.Request) string {
				if p, ok := auth.PrincipalFromContext(r.Context()); ok {
					return "user:" + p.UserID
				}
				return "ip:" + httpx.ClientIP(r)
			})
		authn = func(next http.Handler) http.Handler {
			return tokens.Middleware(limiter.Middleware(logger, true)(next))
		}
	}
	handlers.NewBookingHandler(svc, rec, logger).Register(mux, authn)
	handlers.NewWebhookHandler(rec, svc, calendlyVerifier, logger).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger, m.ObserveHTTPRequest),
		httpx.WithBodyLimit(cfg.MaxBodyBytes),
		httpx.WithTimeout(30*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		publisher.Run(gctx)
		return nil
	})
	if cfg.SweepEnabled {
		sweeper := reconcile.NewSweeper(rec, store, pay, pool, logger, reconcile.SweeperConfig{
			Interval:   cfg.SweepInterval,
			StaleAfter: cfg.SweepStaleAfter,
		})
		g.Go(func() error {
			sweeper.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "err", err)
		}
		logger.Info("http server stopped")
		return nil
	})
	return g.Wait()
}
