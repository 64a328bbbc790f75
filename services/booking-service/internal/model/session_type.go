package model

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type SessionType struct {
	ID                  string
	BuilderID           string
	Title               string
	DurationMinutes     int
	Price               decimal.Decimal
	Currency            string
	IsActive            bool
	PaymentPolicy       PaymentPolicy
	CalendlyEventTypeID string
	CalendlyEventURI    string
	CreatedAt           time.Time
}

func (s SessionType) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

func (s SessionType) Validate() error {
	var errs []error
	if strings.TrimSpace(s.BuilderID) == "" {
		errs = append(errs, errors.New("builder_id is required"))
	}
	if strings.TrimSpace(s.Title) == "" {
		errs = append(errs, errors.New("title is required"))
	}
	if s.DurationMinutes <= 0 {
		errs = append(errs, errors.New("duration_minutes must be positive"))
	}
	if s.Price.IsNegative() {
		errs = append(errs, errors.New("price must not be negative"))
	}
	if len(strings.TrimSpace(s.Currency)) != 3 {
		errs = append(errs, errors.New("currency must be a 3-letter ISO code"))
	}
	return errors.Join(errs...)
}

// RequiresPayment is false for waived policies and free sessions.
func (s SessionType) RequiresPayment() bool {
	return s.PaymentPolicy.OrDefault() == PaymentRequired && s.Price.IsPositive()
}
