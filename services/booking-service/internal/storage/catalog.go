package storage

import "github.com/md-rashed-zaman/sessionbook/libs/db"

// Catalog groups the builder-owned tables: session types and availability.
type Catalog struct {
	*SessionTypeRepository
	*AvailabilityRepository
}

func NewCatalog(pool *db.Pool) *Catalog {
	return &Catalog{
		SessionTypeRepository:  NewSessionTypeRepository(pool),
		AvailabilityRepository: NewAvailabilityRepository(pool),
	}
}
