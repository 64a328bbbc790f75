package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/md-rashed-zaman/sessionbook/libs/retry"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultCalendlyBaseURL = "https://api.calendly.com"

type CalendlyClient struct {
	baseURL string
	token   string
	http    *http.Client
	policy  retry.Policy
	logger  *slog.Logger
}

func NewCalendlyClient(cfg Config, logger *slog.Logger) *CalendlyClient {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultCalendlyBaseURL
	}
	return &CalendlyClient{baseURL: base, token: cfg.Token, http: hc, policy: retry.DefaultPolicy(), logger: logger}
}

// WithRetryPolicy overrides the backoff policy.
func (c *CalendlyClient) WithRetryPolicy(p retry.Policy) *CalendlyClient {
	c.policy = p
	return c
}

func (c *CalendlyClient) CancelEvent(ctx context.Context, eventURI, reason string) error {
	uuid := EventUUID(eventURI)
	if uuid == "" {
		return apperr.Validation("invalid scheduled event reference %q", eventURI)
	}
	body, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return err
	}
	url := c.baseURL + "/scheduled_events/" + uuid + "/cancellation"

	_, err = retry.Do(ctx, c.policy, apperr.IsTransient, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.post(ctx, url, body)
	}, func(err error, wait time.Duration) {
		if c.logger != nil {
			c.logger.Warn("calendly call failed, retrying", "op", "cancel_event", "ref", eventURI, "retry_in_ms", wait.Milliseconds(), "err", err)
		}
	})
	return err
}

func (c *CalendlyClient) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Transient(err, "calendly request failed")
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		// Already deleted upstream.
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apperr.Transient(fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg)), "calendly unavailable")
	default:
		return apperr.Wrap(fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg)), apperr.KindValidation, "calendly rejected request")
	}
}

// EventUUID extracts the trailing identifier from a scheduled event URI.
func EventUUID(eventURI string) string {
	eventURI = strings.TrimRight(strings.TrimSpace(eventURI), "/")
	if eventURI == "" {
		return ""
	}
	return path.Base(eventURI)
}
