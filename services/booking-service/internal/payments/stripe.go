package payments

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/sessionbook/libs/retry"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// StripeProvider implements Provider on a per-instance stripe-go client; no package
// globals are touched.
type StripeProvider struct {
	api    *client.API
	policy retry.Policy
	logger *slog.Logger
	expiry time.Duration
}

type StripeConfig struct {
	SecretKey string
	// BaseURL overrides the API endpoint (stripe-mock, tests).
	BaseURL    string
	HTTPClient *http.Client
	Retry      retry.Policy
	SessionTTL time.Duration
}

func NewStripeProvider(cfg StripeConfig, logger *slog.Logger) *StripeProvider {
	// Retries are ours; the SDK's own network retries stay off.
	bc := &stripe.BackendConfig{MaxNetworkRetries: stripe.Int64(0)}
	if cfg.BaseURL != "" {
		bc.URL = stripe.String(strings.TrimRight(cfg.BaseURL, "/"))
	}
	if cfg.HTTPClient != nil {
		bc.HTTPClient = cfg.HTTPClient
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, bc)
	if cfg.Retry.MaxTries == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	if cfg.SessionTTL < 30*time.Minute {
		cfg.SessionTTL = time.Hour
	}
	return &StripeProvider{
		api:    client.New(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend}),
		policy: cfg.Retry,
		logger: logger,
		expiry: cfg.SessionTTL,
	}
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutParams) (CheckoutSession, error) {
	if in.IdempotencyKey == "" {
		return CheckoutSession{}, apperr.Validation("idempotency key is required")
	}
	currency := strings.ToLower(in.Currency)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(in.SuccessURL),
		CancelURL:         stripe.String(in.CancelURL),
		ClientReferenceID: stripe.String(in.BookingID),
		ExpiresAt:         stripe.Int64(time.Now().Add(p.expiry).Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(ToMinorUnits(in.Amount, in.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(in.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadataFor(in),
		},
	}
	for k, v := range metadataFor(in) {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey(in.IdempotencyKey)

	sess, err := retry.Do(ctx, p.policy, apperr.IsTransient, func(context.Context) (*stripe.CheckoutSession, error) {
		s, err := p.api.CheckoutSessions.New(params)
		return s, classify(err, "create checkout session")
	}, p.notify("create_checkout_session", in.BookingID))
	if err != nil {
		return CheckoutSession{}, err
	}
	return CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (p *StripeProvider) RetrieveSession(ctx context.Context, sessionID string) (Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := retry.Do(ctx, p.policy, apperr.IsTransient, func(context.Context) (*stripe.CheckoutSession, error) {
		s, err := p.api.CheckoutSessions.Get(sessionID, params)
		return s, classify(err, "retrieve checkout session")
	}, p.notify("retrieve_checkout_session", sessionID))
	if err != nil {
		return Session{}, err
	}
	return fromStripe(sess), nil
}

func (p *StripeProvider) ExpireSession(ctx context.Context, sessionID string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	_, err := retry.Do(ctx, p.policy, apperr.IsTransient, func(context.Context) (*stripe.CheckoutSession, error) {
		s, err := p.api.CheckoutSessions.Expire(sessionID, params)
		return s, classify(err, "expire checkout session")
	}, p.notify("expire_checkout_session", sessionID))
	if err == nil || apperr.IsTransient(err) || apperr.IsKind(err, apperr.KindNotFound) {
		return err
	}
	// Stripe rejects expiring a session that is already complete or expired.
	sess, getErr := p.RetrieveSession(ctx, sessionID)
	if getErr == nil && sess.Status != SessionOpen {
		return nil
	}
	return err
}

func (p *StripeProvider) Refund(ctx context.Context, sessionID, idempotencyKey string) error {
	sess, err := p.RetrieveSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.PaymentIntentID == "" {
		return apperr.Validation("checkout session %s has no payment to refund", sessionID)
	}
	params := &stripe.RefundParams{PaymentIntent: stripe.String(sess.PaymentIntentID)}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}
	_, err = retry.Do(ctx, p.policy, apperr.IsTransient, func(context.Context) (*stripe.Refund, error) {
		r, err := p.api.Refunds.New(params)
		return r, classify(err, "refund payment")
	}, p.notify("refund", sessionID))
	return err
}

func (p *StripeProvider) notify(op, ref string) func(error, time.Duration) {
	return func(err error, wait time.Duration) {
		if p.logger != nil {
			p.logger.Warn("stripe call failed, retrying", "op", op, "ref", ref, "retry_in_ms", wait.Milliseconds(), "err", err)
		}
	}
}

func metadataFor(in CheckoutParams) map[string]string {
	meta := map[string]string{
		MetadataBookingID: in.BookingID,
		MetadataClientID:  in.ClientID,
		MetadataBuilderID: in.BuilderID,
	}
	for k, v := range in.Metadata {
		if _, reserved := meta[k]; !reserved {
			meta[k] = v
		}
	}
	return meta
}

func fromStripe(s *stripe.CheckoutSession) Session {
	out := Session{
		ID:            s.ID,
		Status:        SessionStatus(s.Status),
		PaymentStatus: ProviderPaymentStatus(s.PaymentStatus),
		Metadata:      s.Metadata,
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	return out
}

// SessionFromEvent decodes the checkout session embedded in a webhook event.
func SessionFromEvent(evt stripe.Event) (Session, error) {
	var s stripe.CheckoutSession
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return Session{}, apperr.Validation("event %s has no data object", evt.ID)
	}
	if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
		return Session{}, apperr.Validation("event %s: invalid checkout session: %v", evt.ID, err)
	}
	return fromStripe(&s), nil
}

// classify maps stripe-go errors onto the error taxonomy: 429, 5xx and transport
// failures are transient, 404 is not found, the rest is rejected input.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var serr *stripe.Error
	if !errors.As(err, &serr) {
		return apperr.Transient(err, op)
	}
	switch {
	case serr.HTTPStatusCode == http.StatusTooManyRequests || serr.HTTPStatusCode >= 500:
		return apperr.Transient(err, op)
	case serr.HTTPStatusCode == http.StatusNotFound || serr.Code == stripe.ErrorCodeResourceMissing:
		return apperr.Wrap(err, apperr.KindNotFound, op+": not found")
	case serr.Type == stripe.ErrorTypeIdempotency:
		return apperr.Wrap(err, apperr.KindConflict, op+": idempotency key reused with different parameters")
	}
	return apperr.Wrap(err, apperr.KindValidation, op)
}
