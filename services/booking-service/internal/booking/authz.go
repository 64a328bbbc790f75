package booking

import (
	"github.com/md-rashed-zaman/sessionbook/libs/auth"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/sessionbook/services/booking-service/internal/model"
)

type access int

const (
	// clientOrAdmin: the booking's client.
	clientOrAdmin access = iota
	// builderOrAdmin: the builder whose session was booked.
	builderOrAdmin
	// participantOrAdmin: client or builder.
	participantOrAdmin
)

func authenticated(p auth.Principal) error {
	if p.UserID == "" {
		return apperr.Authentication(nil, "authentication required")
	}
	return nil
}

func authorize(p auth.Principal, b model.Booking, level access) error {
	if err := authenticated(p); err != nil {
		return err
	}
	if p.IsAdmin() {
		return nil
	}
	switch level {
	case clientOrAdmin:
		if p.UserID == b.ClientID {
			return nil
		}
	case builderOrAdmin:
		if p.UserID == b.BuilderID {
			return nil
		}
	case participantOrAdmin:
		if b.ParticipantOf(p.UserID) {
			return nil
		}
	}
	return apperr.Forbidden("not allowed to act on this booking")
}

// builderScope returns the builder id p may manage: its own, or any for admins.
func builderScope(p auth.Principal, requested string) (string, error) {
	if err := authenticated(p); err != nil {
		return "", err
	}
	switch {
	case p.IsAdmin():
		if requested == "" {
			return "", apperr.Validation("builder_id is required")
		}
		return requested, nil
	case p.Role == auth.RoleBuilder:
		if requested != "" && requested != p.UserID {
			return "", apperr.Forbidden("builders manage only their own catalog")
		}
		return p.UserID, nil
	}
	return "", apperr.Forbidden("builder role required")
}
