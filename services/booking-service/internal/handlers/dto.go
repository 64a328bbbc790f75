package handlers

import (
	"time"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/timemath"
	"github.com/shopspring/decimal"
)

type bookingResponse struct {
	ID                 string `json:"id"`
	BuilderID          string `json:"builder_id"`
	ClientID           string `json:"client_id"`
	SessionTypeID      string `json:"session_type_id"`
	Status             string `json:"status"`
	PaymentStatus      string `json:"payment_status"`
	PaymentPolicy      string `json:"payment_policy"`
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
	PaymentAttempts    int    `json:"payment_attempts"`
	StartTime          string `json:"start_time,omitempty"`
	EndTime            string `json:"end_time,omitempty"`
	StripeSessionID    string `json:"stripe_session_id,omitempty"`
	CalendlyEventURI   string `json:"calendly_event_uri,omitempty"`
	CalendlyInviteeURI string `json:"calendly_invitee_uri,omitempty"`
	ClientTimezone     string `json:"client_timezone,omitempty"`
	BuilderTimezone    string `json:"builder_timezone,omitempty"`
	Notes              string `json:"notes,omitempty"`
	CancelReason       string `json:"cancel_reason,omitempty"`
	Version            int64  `json:"version"`
	CreatedAt          string `json:"created_at,omitempty"`
	UpdatedAt          string `json:"updated_at,omitempty"`
}

func toBookingResponse(b model.Booking) bookingResponse {
	return bookingResponse{
		ID:                 b.ID,
		BuilderID:          b.BuilderID,
		ClientID:           b.ClientID,
		SessionTypeID:      b.SessionTypeID,
		Status:             string(b.Status),
		PaymentStatus:      string(b.PaymentStatus),
		PaymentPolicy:      string(b.PaymentPolicy),
		Amount:             b.Amount.StringFixed(2),
		Currency:           b.Currency,
		PaymentAttempts:    b.PaymentAttempts,
		StartTime:          formatTime(b.StartTime),
		EndTime:            formatTime(b.EndTime),
		StripeSessionID:    b.StripeSessionID,
		CalendlyEventURI:   b.CalendlyEventURI,
		CalendlyInviteeURI: b.CalendlyInviteeURI,
		ClientTimezone:     b.ClientTimezone,
		BuilderTimezone:    b.BuilderTimezone,
		Notes:              b.Notes,
		CancelReason:       b.CancelReason,
		Version:            b.Version,
		CreatedAt:          formatTime(b.CreatedAt),
		UpdatedAt:          formatTime(b.UpdatedAt),
	}
}

type sessionTypeDTO struct {
	ID                  string `json:"id,omitempty"`
	BuilderID           string `json:"builder_id"`
	Title               string `json:"title"`
	DurationMinutes     int    `json:"duration_minutes"`
	Price               string `json:"price"`
	Currency            string `json:"currency"`
	IsActive            *bool  `json:"is_active,omitempty"`
	PaymentPolicy       string `json:"payment_policy,omitempty"`
	CalendlyEventTypeID string `json:"calendly_event_type_id,omitempty"`
	CalendlyEventURI    string `json:"calendly_event_uri,omitempty"`
	CreatedAt           string `json:"created_at,omitempty"`
}

func (d sessionTypeDTO) toModel() (model.SessionType, error) {
	price := decimal.Zero
	if d.Price != "" {
		p, err := decimal.NewFromString(d.Price)
		if err != nil {
			return model.SessionType{}, apperr.Validation("invalid price %q", d.Price)
		}
		price = p
	}
	active := true
	if d.IsActive != nil {
		active = *d.IsActive
	}
	return model.SessionType{
		ID:                  d.ID,
		BuilderID:           d.BuilderID,
		Title:               d.Title,
		DurationMinutes:     d.DurationMinutes,
		Price:               price,
		Currency:            d.Currency,
		IsActive:            active,
		PaymentPolicy:       model.PaymentPolicy(d.PaymentPolicy),
		CalendlyEventTypeID: d.CalendlyEventTypeID,
		CalendlyEventURI:    d.CalendlyEventURI,
	}, nil
}

func toSessionTypeDTO(st model.SessionType) sessionTypeDTO {
	active := st.IsActive
	return sessionTypeDTO{
		ID:                  st.ID,
		BuilderID:           st.BuilderID,
		Title:               st.Title,
		DurationMinutes:     st.DurationMinutes,
		Price:               st.Price.StringFixed(2),
		Currency:            st.Currency,
		IsActive:            &active,
		PaymentPolicy:       string(st.PaymentPolicy.OrDefault()),
		CalendlyEventTypeID: st.CalendlyEventTypeID,
		CalendlyEventURI:    st.CalendlyEventURI,
		CreatedAt:           formatTime(st.CreatedAt),
	}
}

type clockRangeDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type ruleDTO struct {
	ID             string `json:"id,omitempty"`
	DayOfWeek      int    `json:"day_of_week"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	IsRecurring    *bool  `json:"is_recurring,omitempty"`
	EffectiveDate  string `json:"effective_date,omitempty"`
	ExpirationDate string `json:"expiration_date,omitempty"`
}

type exceptionDTO struct {
	ID          string          `json:"id,omitempty"`
	Date        string          `json:"date"`
	IsAvailable bool            `json:"is_available"`
	Slots       []clockRangeDTO `json:"slots,omitempty"`
}

type availabilityDTO struct {
	BuilderID     string         `json:"builder_id"`
	Timezone      string         `json:"timezone"`
	BufferMinutes int            `json:"buffer_minutes"`
	Rules         []ruleDTO      `json:"rules"`
	Exceptions    []exceptionDTO `json:"exceptions"`
}

func (d availabilityDTO) toModel() (model.BuilderAvailability, error) {
	out := model.BuilderAvailability{
		BuilderID:     d.BuilderID,
		Timezone:      d.Timezone,
		BufferMinutes: d.BufferMinutes,
	}
	for i, r := range d.Rules {
		start, err := timemath.ParseClock(r.StartTime)
		if err != nil {
			return out, apperr.Validation("rule %d: invalid start_time", i)
		}
		end, err := timemath.ParseClock(r.EndTime)
		if err != nil {
			return out, apperr.Validation("rule %d: invalid end_time", i)
		}
		eff, err := optionalDate(r.EffectiveDate)
		if err != nil {
			return out, apperr.Validation("rule %d: invalid effective_date", i)
		}
		exp, err := optionalDate(r.ExpirationDate)
		if err != nil {
			return out, apperr.Validation("rule %d: invalid expiration_date", i)
		}
		recurring := true
		if r.IsRecurring != nil {
			recurring = *r.IsRecurring
		}
		out.Rules = append(out.Rules, model.AvailabilityRule{
			ID:             r.ID,
			DayOfWeek:      time.Weekday(r.DayOfWeek),
			StartTime:      start,
			EndTime:        end,
			IsRecurring:    recurring,
			EffectiveDate:  eff,
			ExpirationDate: exp,
		})
	}
	for i, ex := range d.Exceptions {
		date, err := timemath.ParseDate(ex.Date)
		if err != nil {
			return out, apperr.Validation("exception %d: invalid date", i)
		}
		mex := model.AvailabilityException{ID: ex.ID, Date: date, IsAvailable: ex.IsAvailable}
		for j, s := range ex.Slots {
			start, err1 := timemath.ParseClock(s.Start)
			end, err2 := timemath.ParseClock(s.End)
			if err1 != nil || err2 != nil {
				return out, apperr.Validation("exception %d slot %d: invalid time", i, j)
			}
			mex.Slots = append(mex.Slots, model.ClockRange{Start: start, End: end})
		}
		out.Exceptions = append(out.Exceptions, mex)
	}
	return out, nil
}

func toAvailabilityDTO(a model.BuilderAvailability) availabilityDTO {
	out := availabilityDTO{
		BuilderID:     a.BuilderID,
		Timezone:      a.Timezone,
		BufferMinutes: a.BufferMinutes,
		Rules:         []ruleDTO{},
		Exceptions:    []exceptionDTO{},
	}
	for _, r := range a.Rules {
		recurring := r.IsRecurring
		dto := ruleDTO{
			ID:          r.ID,
			DayOfWeek:   int(r.DayOfWeek),
			StartTime:   r.StartTime.String(),
			EndTime:     r.EndTime.String(),
			IsRecurring: &recurring,
		}
		if r.EffectiveDate != nil {
			dto.EffectiveDate = r.EffectiveDate.String()
		}
		if r.ExpirationDate != nil {
			dto.ExpirationDate = r.ExpirationDate.String()
		}
		out.Rules = append(out.Rules, dto)
	}
	for _, ex := range a.Exceptions {
		dto := exceptionDTO{ID: ex.ID, Date: ex.Date.String(), IsAvailable: ex.IsAvailable}
		for _, s := range ex.Slots {
			dto.Slots = append(dto.Slots, clockRangeDTO{Start: s.Start.String(), End: s.End.String()})
		}
		out.Exceptions = append(out.Exceptions, dto)
	}
	return out
}

func optionalDate(raw string) (*timemath.Date, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := timemath.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	IsBooked  bool   `json:"is_booked,omitempty"`
}

type daySlotsResponse struct {
	Date  string     `json:"date"`
	Slots []slotItem `json:"slots"`
}

func toDaySlots(days []availability.DaySlots) []daySlotsResponse {
	out := make([]daySlotsResponse, 0, len(days))
	for _, d := range days {
		items := make([]slotItem, 0, len(d.Slots))
		for _, s := range d.Slots {
			items = append(items, slotItem{StartTime: formatTime(s.StartTime), EndTime: formatTime(s.EndTime), IsBooked: s.IsBooked})
		}
		out = append(out, daySlotsResponse{Date: d.Date.String(), Slots: items})
	}
	return out
}
