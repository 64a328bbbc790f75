package model

import (
	"time"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/timemath"
)

// AvailabilityRule is a recurring weekly window in the builder's timezone.
type AvailabilityRule struct {
	ID             string
	BuilderID      string
	DayOfWeek      time.Weekday
	StartTime      timemath.Clock
	EndTime        timemath.Clock
	IsRecurring    bool
	EffectiveDate  *timemath.Date
	ExpirationDate *timemath.Date
}

// AppliesOn reports whether the rule generates slots on the builder-local date d.
// Both bounds are inclusive.
func (r AvailabilityRule) AppliesOn(d timemath.Date) bool {
	if !r.IsRecurring || d.Weekday() != r.DayOfWeek {
		return false
	}
	if r.EffectiveDate != nil && d.Before(*r.EffectiveDate) {
		return false
	}
	if r.ExpirationDate != nil && d.After(*r.ExpirationDate) {
		return false
	}
	return true
}

type ClockRange struct {
	Start timemath.Clock
	End   timemath.Clock
}

// AvailabilityException overrides every rule on Date. IsAvailable=false blocks the day;
// IsAvailable=true replaces the rules with Slots.
type AvailabilityException struct {
	ID          string
	BuilderID   string
	Date        timemath.Date
	IsAvailable bool
	Slots       []ClockRange
}

type BuilderAvailability struct {
	BuilderID     string
	Timezone      string
	BufferMinutes int
	Rules         []AvailabilityRule
	Exceptions    []AvailabilityException
}

func (a BuilderAvailability) Buffer() time.Duration {
	if a.BufferMinutes <= 0 {
		return 0
	}
	return time.Duration(a.BufferMinutes) * time.Minute
}

// ExceptionFor returns the exception dated d, if any.
func (a BuilderAvailability) ExceptionFor(d timemath.Date) (AvailabilityException, bool) {
	for _, ex := range a.Exceptions {
		if ex.Date == d {
			return ex, true
		}
	}
	return AvailabilityException{}, false
}

type TimeSlot struct {
	StartTime time.Time
	EndTime   time.Time
	IsBooked  bool
}

func (s TimeSlot) Overlaps(start, end time.Time) bool {
	return s.StartTime.Before(end) && start.Before(s.EndTime)
}
