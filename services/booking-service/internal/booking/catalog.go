package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/sessionbook/libs/auth"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/timemath"
)

func (s *Service) CreateSessionType(ctx context.Context, p auth.Principal, st model.SessionType) (model.SessionType, error) {
	builderID, err := builderScope(p, st.BuilderID)
	if err != nil {
		return model.SessionType{}, err
	}
	st.ID = ""
	st.BuilderID = builderID
	st.Title = strings.TrimSpace(st.Title)
	st.Currency = strings.ToUpper(strings.TrimSpace(st.Currency))
	st.PaymentPolicy = st.PaymentPolicy.OrDefault()
	st.IsActive = true
	if err := st.Validate(); err != nil {
		return model.SessionType{}, apperr.Wrap(err, apperr.KindValidation, err.Error())
	}
	return s.catalog.CreateSessionType(ctx, st)
}

func (s *Service) ListSessionTypes(ctx context.Context, builderID string) ([]model.SessionType, error) {
	if strings.TrimSpace(builderID) == "" {
		return nil, apperr.Validation("builder_id is required")
	}
	return s.catalog.ListSessionTypes(ctx, builderID)
}

func (s *Service) DeactivateSessionType(ctx context.Context, p auth.Principal, builderID, id string) error {
	scope, err := builderScope(p, builderID)
	if err != nil {
		return err
	}
	return s.catalog.DeactivateSessionType(ctx, scope, id)
}

func (s *Service) GetAvailability(ctx context.Context, builderID string) (model.BuilderAvailability, error) {
	if strings.TrimSpace(builderID) == "" {
		return model.BuilderAvailability{}, apperr.Validation("builder_id is required")
	}
	return s.catalog.GetAvailability(ctx, builderID)
}

// SetAvailability replaces the builder's timezone, buffer, rules and exceptions.
func (s *Service) SetAvailability(ctx context.Context, p auth.Principal, avail model.BuilderAvailability) (model.BuilderAvailability, error) {
	builderID, err := builderScope(p, avail.BuilderID)
	if err != nil {
		return model.BuilderAvailability{}, err
	}
	avail.BuilderID = builderID
	if strings.TrimSpace(avail.Timezone) == "" {
		avail.Timezone = "UTC"
	}
	if err := validateAvailability(avail); err != nil {
		return model.BuilderAvailability{}, apperr.Wrap(err, apperr.KindValidation, err.Error())
	}
	for i := range avail.Rules {
		avail.Rules[i].BuilderID = builderID
	}
	for i := range avail.Exceptions {
		avail.Exceptions[i].BuilderID = builderID
	}
	if err := s.catalog.ReplaceAvailability(ctx, avail); err != nil {
		return model.BuilderAvailability{}, err
	}
	return avail, nil
}

func validateAvailability(a model.BuilderAvailability) error {
	var errs []error
	if _, err := timemath.LoadLocation(a.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("unknown timezone %q", a.Timezone))
	}
	if a.BufferMinutes < 0 {
		errs = append(errs, errors.New("buffer_minutes must not be negative"))
	}
	for i, r := range a.Rules {
		if r.DayOfWeek < time.Sunday || r.DayOfWeek > time.Saturday {
			errs = append(errs, fmt.Errorf("rule %d: day_of_week must be 0-6", i))
		}
		if !r.StartTime.Before(r.EndTime) {
			errs = append(errs, fmt.Errorf("rule %d: start_time must be before end_time", i))
		}
		if r.EffectiveDate != nil && r.ExpirationDate != nil && r.ExpirationDate.Before(*r.EffectiveDate) {
			errs = append(errs, fmt.Errorf("rule %d: expiration_date is before effective_date", i))
		}
	}
	seen := map[timemath.Date]bool{}
	for i, ex := range a.Exceptions {
		if ex.Date.IsZero() {
			errs = append(errs, fmt.Errorf("exception %d: date is required", i))
			continue
		}
		if seen[ex.Date] {
			errs = append(errs, fmt.Errorf("exception %d: duplicate date %s", i, ex.Date))
		}
		seen[ex.Date] = true
		for j, slot := range ex.Slots {
			if !slot.Start.Before(slot.End) {
				errs = append(errs, fmt.Errorf("exception %s slot %d: start must be before end", ex.Date, j))
			}
		}
	}
	return errors.Join(errs...)
}
