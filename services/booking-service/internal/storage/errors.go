package storage

import (
	"errors"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/sessionbook/libs/db"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
)

var (
	// ErrStaleWrite means the booking version moved on since it was read.
	ErrStaleWrite = errors.New("booking was modified concurrently")
	// ErrDuplicateEvent means one of the ledger keys is already recorded for the booking.
	ErrDuplicateEvent = errors.New("event already applied")
)

// IsConflict reports a unique or exclusion constraint violation.
func IsConflict(err error) bool {
	return db.IsUniqueViolation(err) || db.IsExclusionViolation(err)
}

func slotTaken(err error) error {
	if db.IsExclusionViolation(err) {
		return apperr.Wrap(err, apperr.KindConflict, "time slot is no longer available")
	}
	return err
}

// missing reports a lookup that matched no row. A malformed id can never match one.
func missing(err error) bool {
	return db.IsNotFound(err) || db.IsInvalidText(err)
}

func validID(id string) bool {
	return uuid.Validate(id) == nil
}
