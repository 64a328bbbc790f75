package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/sessionbook/libs/db"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
	"github.com/shopspring/decimal"
)

type SessionTypeRepository struct {
	pool *db.Pool
}

func NewSessionTypeRepository(pool *db.Pool) *SessionTypeRepository {
	return &SessionTypeRepository{pool: pool}
}

const sessionTypeColumns = `
	id, builder_id, title, duration_minutes, price::text, currency, is_active, payment_policy,
	calendly_event_type_id, calendly_event_uri, created_at`

func (r *SessionTypeRepository) GetSessionType(ctx context.Context, id string) (model.SessionType, error) {
	if !validID(id) {
		return model.SessionType{}, apperr.NotFound("session type %s not found", id)
	}
	st, err := scanSessionType(r.pool.QueryRow(ctx, `SELECT `+sessionTypeColumns+` FROM session_types WHERE id = $1`, id))
	if missing(err) {
		return model.SessionType{}, apperr.NotFound("session type %s not found", id)
	}
	return st, err
}

func (r *SessionTypeRepository) ListSessionTypes(ctx context.Context, builderID string) ([]model.SessionType, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionTypeColumns+`
		FROM session_types
		WHERE builder_id = $1 AND is_active
		ORDER BY created_at ASC
	`, builderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SessionType
	for rows.Next() {
		st, err := scanSessionType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (r *SessionTypeRepository) CreateSessionType(ctx context.Context, st model.SessionType) (model.SessionType, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	st.PaymentPolicy = st.PaymentPolicy.OrDefault()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO session_types
			(id, builder_id, title, duration_minutes, price, currency, is_active, payment_policy,
			calendly_event_type_id, calendly_event_uri)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, st.ID, st.BuilderID, st.Title, st.DurationMinutes, st.Price.String(), st.Currency, st.IsActive,
		string(st.PaymentPolicy), st.CalendlyEventTypeID, st.CalendlyEventURI).Scan(&st.CreatedAt)
	if err != nil {
		if IsConflict(err) {
			return model.SessionType{}, apperr.Conflict("session type %s already exists", st.ID)
		}
		return model.SessionType{}, err
	}
	return st, nil
}

// DeactivateSessionType hides the session type from new bookings. Existing bookings keep
// referencing it.
func (r *SessionTypeRepository) DeactivateSessionType(ctx context.Context, builderID, id string) error {
	if !validID(id) {
		return apperr.NotFound("session type %s not found", id)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE session_types SET is_active = FALSE
		WHERE id = $1 AND builder_id = $2
	`, id, builderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("session type %s not found", id)
	}
	return nil
}

func scanSessionType(row pgx.Row) (model.SessionType, error) {
	var (
		st            model.SessionType
		price, policy string
	)
	err := row.Scan(&st.ID, &st.BuilderID, &st.Title, &st.DurationMinutes, &price, &st.Currency, &st.IsActive,
		&policy, &st.CalendlyEventTypeID, &st.CalendlyEventURI, &st.CreatedAt)
	if err != nil {
		return model.SessionType{}, err
	}
	st.PaymentPolicy = model.PaymentPolicy(policy)
	if st.Price, err = decimal.NewFromString(price); err != nil {
		return model.SessionType{}, fmt.Errorf("session type %s price %q: %w", st.ID, price, err)
	}
	return st, nil
}
