// Package availability turns builder rules and exceptions into bookable slots.
package availability

import (
	"fmt"
	"sort"
	"time"

	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/timemath"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

type Options struct {
	// SlotLength is required; callers pass the session type duration.
	SlotLength time.Duration
	// Buffer overrides the builder's configured buffer when non-nil.
	Buffer *time.Duration
	// Now drops slots starting before it. Zero disables the check.
	Now time.Time
	// IncludeBooked keeps conflicting slots, flagged IsBooked, instead of discarding them.
	IncludeBooked bool
}

type Resolver struct{}

func NewResolver() *Resolver { return &Resolver{} }

type candidate struct {
	slot  model.TimeSlot
	order int
}

// ResolveSlots returns the slots for the builder-local date, ordered by start time and
// expressed in clientTimezone.
func (r *Resolver) ResolveSlots(date timemath.Date, avail model.BuilderAvailability, booked []Interval, clientTimezone string, opts Options) ([]model.TimeSlot, error) {
	if opts.SlotLength <= 0 {
		return nil, apperr.Validation("slot length must be positive")
	}
	builderLoc, err := timemath.LoadLocation(avail.Timezone)
	if err != nil {
		return nil, apperr.Validation("builder timezone: %v", err)
	}
	clientLoc, err := timemath.LoadLocation(clientTimezone)
	if err != nil {
		return nil, apperr.Validation("client timezone: %v", err)
	}
	buffer := avail.Buffer()
	if opts.Buffer != nil && *opts.Buffer >= 0 {
		buffer = *opts.Buffer
	}

	windows := windowsFor(date, avail)
	var candidates []candidate
	for _, w := range windows {
		start := timemath.At(date, w.Start, builderLoc)
		end := timemath.At(date, w.End, builderLoc)
		for _, s := range generate(start, end, opts.SlotLength, buffer) {
			candidates = append(candidates, candidate{slot: model.TimeSlot{StartTime: s, EndTime: s.Add(opts.SlotLength)}, order: len(candidates)})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].slot.StartTime, candidates[j].slot.StartTime
		if a.Equal(b) {
			return candidates[i].order < candidates[j].order
		}
		return a.Before(b)
	})

	out := make([]model.TimeSlot, 0, len(candidates))
	var accepted []Interval
	for _, c := range candidates {
		s := c.slot
		if !opts.Now.IsZero() && s.StartTime.Before(opts.Now) {
			continue
		}
		if overlapsAny(s.StartTime, s.EndTime, booked) {
			if !opts.IncludeBooked {
				continue
			}
			s.IsBooked = true
		}
		// Overlapping rules must not yield overlapping slots.
		if overlapsAny(s.StartTime, s.EndTime, accepted) {
			continue
		}
		accepted = append(accepted, Interval{Start: s.StartTime, End: s.EndTime})
		s.StartTime = s.StartTime.In(clientLoc)
		s.EndTime = s.EndTime.In(clientLoc)
		out = append(out, s)
	}
	return out, nil
}

// DaySlots groups resolved slots by builder-local date.
type DaySlots struct {
	Date  timemath.Date
	Slots []model.TimeSlot
}

const maxRangeDays = 62

// ResolveRange resolves every builder-local date in [from, to].
func (r *Resolver) ResolveRange(from, to timemath.Date, avail model.BuilderAvailability, booked []Interval, clientTimezone string, opts Options) ([]DaySlots, error) {
	if to.Before(from) {
		return nil, apperr.Validation("range end %s is before start %s", to, from)
	}
	var days []DaySlots
	for d, n := from, 0; !d.After(to); d, n = d.AddDays(1), n+1 {
		if n >= maxRangeDays {
			return nil, apperr.Validation("range exceeds %d days", maxRangeDays)
		}
		slots, err := r.ResolveSlots(d, avail, booked, clientTimezone, opts)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", d, err)
		}
		days = append(days, DaySlots{Date: d, Slots: slots})
	}
	return days, nil
}

// windowsFor applies exception precedence: a blocking exception yields nothing, an
// available one replaces the recurring rules entirely.
func windowsFor(date timemath.Date, avail model.BuilderAvailability) []model.ClockRange {
	if ex, ok := avail.ExceptionFor(date); ok {
		if !ex.IsAvailable {
			return nil
		}
		return ex.Slots
	}
	var windows []model.ClockRange
	for _, rule := range avail.Rules {
		if rule.AppliesOn(date) {
			windows = append(windows, model.ClockRange{Start: rule.StartTime, End: rule.EndTime})
		}
	}
	return windows
}

// generate walks [windowStart, windowEnd) in absolute time so DST shifts inside the
// window never stretch or shrink a slot.
func generate(windowStart, windowEnd time.Time, length, buffer time.Duration) []time.Time {
	if !windowEnd.After(windowStart) || windowStart.Add(length).After(windowEnd) {
		return nil
	}
	step := length + buffer
	var starts []time.Time
	for t := windowStart; !t.Add(length).After(windowEnd); t = t.Add(step) {
		starts = append(starts, t)
	}
	return starts
}

// BookedIntervals converts bookings that still hold their slot into busy intervals.
func BookedIntervals(bookings []model.Booking) []Interval {
	var out []Interval
	for _, b := range bookings {
		if !b.Status.Occupying() || !b.HasSlot() {
			continue
		}
		out = append(out, Interval{Start: b.StartTime, End: b.EndTime})
	}
	return out
}

// Contains reports whether a slot starting at start with the given length is offered.
func Contains(slots []model.TimeSlot, start, end time.Time) bool {
	for _, s := range slots {
		if !s.IsBooked && s.StartTime.Equal(start) && s.EndTime.Equal(end) {
			return true
		}
	}
	return false
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
