package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/sessionbook/libs/db"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/timemath"
)

type AvailabilityRepository struct {
	pool *db.Pool
}

func NewAvailabilityRepository(pool *db.Pool) *AvailabilityRepository {
	return &AvailabilityRepository{pool: pool}
}

// clockRangeJSON is the jsonb shape of availability_exceptions.slots.
type clockRangeJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// GetAvailability loads everything the slot resolver needs for builderID. A builder
// without settings gets UTC and no buffer.
func (r *AvailabilityRepository) GetAvailability(ctx context.Context, builderID string) (model.BuilderAvailability, error) {
	avail := model.BuilderAvailability{BuilderID: builderID, Timezone: "UTC"}
	err := r.pool.QueryRow(ctx, `
		SELECT timezone, buffer_minutes FROM builder_settings WHERE builder_id = $1
	`, builderID).Scan(&avail.Timezone, &avail.BufferMinutes)
	if err != nil && !db.IsNotFound(err) {
		return model.BuilderAvailability{}, err
	}

	rules, err := r.listRules(ctx, builderID)
	if err != nil {
		return model.BuilderAvailability{}, err
	}
	avail.Rules = rules

	exceptions, err := r.listExceptions(ctx, builderID)
	if err != nil {
		return model.BuilderAvailability{}, err
	}
	avail.Exceptions = exceptions
	return avail, nil
}

// ReplaceAvailability swaps the builder's settings, rules and exceptions in one
// transaction.
func (r *AvailabilityRepository) ReplaceAvailability(ctx context.Context, avail model.BuilderAvailability) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO builder_settings (builder_id, timezone, buffer_minutes)
			VALUES ($1, $2, $3)
			ON CONFLICT (builder_id) DO UPDATE
			SET timezone = EXCLUDED.timezone, buffer_minutes = EXCLUDED.buffer_minutes, updated_at = now()
		`, avail.BuilderID, avail.Timezone, avail.BufferMinutes); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM availability_rules WHERE builder_id = $1`, avail.BuilderID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM availability_exceptions WHERE builder_id = $1`, avail.BuilderID); err != nil {
			return err
		}

		for _, rule := range avail.Rules {
			id := rule.ID
			if id == "" {
				id = uuid.NewString()
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO availability_rules
					(id, builder_id, day_of_week, start_time, end_time, is_recurring, effective_date, expiration_date)
				VALUES ($1, $2, $3, $4::time, $5::time, $6, $7::date, $8::date)
			`, id, avail.BuilderID, int(rule.DayOfWeek), rule.StartTime.String(), rule.EndTime.String(),
				rule.IsRecurring, nullDate(rule.EffectiveDate), nullDate(rule.ExpirationDate)); err != nil {
				return err
			}
		}

		for _, ex := range avail.Exceptions {
			id := ex.ID
			if id == "" {
				id = uuid.NewString()
			}
			slots := make([]clockRangeJSON, 0, len(ex.Slots))
			for _, s := range ex.Slots {
				slots = append(slots, clockRangeJSON{Start: s.Start.String(), End: s.End.String()})
			}
			raw, err := json.Marshal(slots)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO availability_exceptions (id, builder_id, exception_date, is_available, slots)
				VALUES ($1, $2, $3::date, $4, $5)
			`, id, avail.BuilderID, ex.Date.String(), ex.IsAvailable, raw); err != nil {
				if IsConflict(err) {
					return fmt.Errorf("duplicate exception for %s: %w", ex.Date, err)
				}
				return err
			}
		}
		return nil
	})
}

func (r *AvailabilityRepository) listRules(ctx context.Context, builderID string) ([]model.AvailabilityRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, builder_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
			is_recurring, to_char(effective_date, 'YYYY-MM-DD'), to_char(expiration_date, 'YYYY-MM-DD')
		FROM availability_rules
		WHERE builder_id = $1
		ORDER BY day_of_week, start_time
	`, builderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.AvailabilityRule
	for rows.Next() {
		var (
			rule                model.AvailabilityRule
			dow                 int16
			start, end          string
			effective, expiring *string
		)
		if err := rows.Scan(&rule.ID, &rule.BuilderID, &dow, &start, &end, &rule.IsRecurring, &effective, &expiring); err != nil {
			return nil, err
		}
		rule.DayOfWeek = time.Weekday(dow)
		if rule.StartTime, err = timemath.ParseClock(start); err != nil {
			return nil, err
		}
		if rule.EndTime, err = timemath.ParseClock(end); err != nil {
			return nil, err
		}
		if rule.EffectiveDate, err = parseNullDate(effective); err != nil {
			return nil, err
		}
		if rule.ExpirationDate, err = parseNullDate(expiring); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *AvailabilityRepository) listExceptions(ctx context.Context, builderID string) ([]model.AvailabilityException, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, builder_id, to_char(exception_date, 'YYYY-MM-DD'), is_available, slots
		FROM availability_exceptions
		WHERE builder_id = $1
		ORDER BY exception_date
	`, builderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AvailabilityException
	for rows.Next() {
		var (
			ex   model.AvailabilityException
			date string
			raw  []byte
		)
		if err := rows.Scan(&ex.ID, &ex.BuilderID, &date, &ex.IsAvailable, &raw); err != nil {
			return nil, err
		}
		if ex.Date, err = timemath.ParseDate(date); err != nil {
			return nil, err
		}
		if ex.Slots, err = decodeSlots(raw); err != nil {
			return nil, fmt.Errorf("exception %s slots: %w", ex.ID, err)
		}
		out = append(out, ex)
	}
	return out, rows.Err()
}

func decodeSlots(raw []byte) ([]model.ClockRange, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var slots []clockRangeJSON
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, err
	}
	out := make([]model.ClockRange, 0, len(slots))
	for _, s := range slots {
		start, err := timemath.ParseClock(s.Start)
		if err != nil {
			return nil, err
		}
		end, err := timemath.ParseClock(s.End)
		if err != nil {
			return nil, err
		}
		out = append(out, model.ClockRange{Start: start, End: end})
	}
	return out, nil
}

func nullDate(d *timemath.Date) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseNullDate(s *string) (*timemath.Date, error) {
	if s == nil {
		return nil, nil
	}
	d, err := timemath.ParseDate(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
