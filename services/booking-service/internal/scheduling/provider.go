// Package scheduling is the port to the external calendar provider.
package scheduling

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type Provider interface {
	// CancelEvent cancels the scheduled event behind eventURI. Events already gone
	// are treated as cancelled.
	CancelEvent(ctx context.Context, eventURI, reason string) error
}

type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewProvider returns the Calendly client, or a logging no-op provider when no API
// token is configured (local development).
func NewProvider(cfg Config, logger *slog.Logger) Provider {
	if strings.TrimSpace(cfg.Token) == "" {
		return disabledProvider{logger: logger}
	}
	return NewCalendlyClient(cfg, logger)
}

type disabledProvider struct {
	logger *slog.Logger
}

func (p disabledProvider) CancelEvent(_ context.Context, eventURI, _ string) error {
	if p.logger != nil {
		p.logger.Warn("scheduling provider disabled; calendar event left untouched", "ref", eventURI)
	}
	return nil
}
