package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/sessionbook/libs/config"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/webhook"
)

type appConfig struct {
	Service     string
	Port        string
	DatabaseURL string
	DBMaxConns  int

	RedisAddr     string
	RedisPassword string
	LedgerTTL     time.Duration

	KafkaBrokers string

	JWTSecret string
	JWTIssuer string

	StripeSecretKey     string
	StripeBaseURL       string
	StripeWebhookSecret string
	CheckoutSuccessURL  string
	CheckoutCancelURL   string
	MaxPaymentAttempts  int

	CalendlyBaseURL       string
	CalendlyToken         string
	CalendlyWebhookSecret string
	CalendlyScheme        webhook.Scheme

	Environment string
	// WebhookDevMode accepts unsigned webhooks when no secret is configured. Only
	// development environments may enable it.
	WebhookDevMode bool

	SweepEnabled    bool
	SweepInterval   time.Duration
	SweepStaleAfter time.Duration

	RateLimit       int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

func loadConfig() (appConfig, error) {
	if err := config.LoadDotEnv(); err != nil {
		return appConfig{}, fmt.Errorf("load .env: %w", err)
	}
	port, err := config.Port("PORT", "8083")
	if err != nil {
		return appConfig{}, err
	}
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return appConfig{}, err
	}
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		return appConfig{}, err
	}
	env := strings.ToLower(strings.TrimSpace(config.String("DEPLOYMENT_ENV", "production")))
	devMode := config.Bool("WEBHOOK_DEV_MODE", false)
	if devMode && !developmentEnv(env) {
		return appConfig{}, fmt.Errorf("WEBHOOK_DEV_MODE is only allowed when DEPLOYMENT_ENV is local or development (got %q)", env)
	}
	scheme, err := webhook.ParseScheme(config.String("CALENDLY_WEBHOOK_SCHEME", "timestamped"))
	if err != nil {
		return appConfig{}, err
	}

	return appConfig{
		Service:     config.String("SERVICE_NAME", "booking-service"),
		Port:        port,
		DatabaseURL: dbURL,
		DBMaxConns:  config.Int("DB_MAX_CONNS", 10),

		RedisAddr:     config.String("REDIS_ADDR", ""),
		RedisPassword: config.String("REDIS_PASSWORD", ""),
		LedgerTTL:     config.Duration("LEDGER_CACHE_TTL", 24*time.Hour),

		KafkaBrokers: config.String("KAFKA_BROKERS", ""),

		JWTSecret: jwtSecret,
		JWTIssuer: config.String("JWT_ISSUER", "sessionbook"),

		StripeSecretKey:     config.String("STRIPE_SECRET_KEY", ""),
		StripeBaseURL:       config.String("STRIPE_API_BASE", ""),
		StripeWebhookSecret: config.String("STRIPE_WEBHOOK_SECRET", ""),
		CheckoutSuccessURL:  config.String("CHECKOUT_SUCCESS_URL", "http://localhost:3000/bookings/{BOOKING_ID}?checkout=success"),
		CheckoutCancelURL:   config.String("CHECKOUT_CANCEL_URL", "http://localhost:3000/bookings/{BOOKING_ID}?checkout=cancelled"),
		MaxPaymentAttempts:  config.Int("MAX_PAYMENT_ATTEMPTS", 3),

		CalendlyBaseURL:       config.String("CALENDLY_API_BASE", "https://api.calendly.com"),
		CalendlyToken:         config.String("CALENDLY_TOKEN", ""),
		CalendlyWebhookSecret: config.String("CALENDLY_WEBHOOK_SECRET", ""),
		CalendlyScheme:        scheme,

		Environment:    env,
		WebhookDevMode: devMode,

		SweepEnabled:    config.Bool("PAYMENT_SWEEP_ENABLED", true),
		SweepInterval:   config.Duration("PAYMENT_SWEEP_INTERVAL", 5*time.Minute),
		SweepStaleAfter: config.Duration("PAYMENT_SWEEP_STALE_AFTER", 15*time.Minute),

		RateLimit:       config.Int("RATE_LIMIT_PER_WINDOW", 120),
		RateLimitWindow: config.Duration("RATE_LIMIT_WINDOW", time.Minute),
		MaxBodyBytes:    int64(config.Int("MAX_BODY_BYTES", 1<<20)),
	}, nil
}

func developmentEnv(env string) bool {
	switch env {
	case "local", "development", "dev":
		return true
	}
	return false
}
