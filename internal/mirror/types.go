// Package mirror reads scraped listings and price history from the mirror
// databases into typed records. Untyped driver rows never leave this package.
package mirror

import (
	"database/sql"
	"time"
)

// AddressFields are the address columns joined from a mirror's addresses table.
type AddressFields struct {
	PostalCode  string
	HouseNumber string
	Addition    string
	City        string
	Latitude    *float64
	Longitude   *float64
}

// HasCoordinates reports whether both coordinates are present and non-zero.
func (a AddressFields) HasCoordinates() bool {
	return a.Latitude != nil && a.Longitude != nil && (*a.Latitude != 0 || *a.Longitude != 0)
}

// Listing is one raw listing row from a mirror.
type Listing struct {
	ID               int64
	URL              string
	AskingPriceCents string
	LivingAreaM2     sql.NullInt64
	Rooms            sql.NullInt64
	EnergyLabel      string
	Status           string
	PhotoURLs        []string
	MirrorCreatedAt  time.Time
	MirrorUpdatedAt  time.Time
	Address          AddressFields
}

// PriceEvent is one raw price history row from a mirror.
type PriceEvent struct {
	ID         int64
	PriceCents string
	EventDate  sql.NullTime
	EventType  string
	Address    AddressFields
}

// Rejected is a mirror row that could not be decoded. The page it came from
// is still delivered; only this row is dropped.
type Rejected struct {
	Table string
	ID    int64
	Err   error
}
