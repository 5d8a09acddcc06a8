package models

import "time"

type AlertKind string

const (
	AlertNewAuction   AlertKind = "new_auction"
	AlertStatusChange AlertKind = "status_change"
	AlertPriceChange  AlertKind = "price_change"
	AlertPostponement AlertKind = "postponement"
	AlertReminder     AlertKind = "reminder"
)

// Alert is a user-defined rule describing which listings and changes the
// owner wants to hear about. Read-only to the monitoring pipeline; every
// filter beyond Kind is optional and all present filters must pass.
type Alert struct {
	ID            int64     `json:"id" db:"id"`
	OwnerID       int64     `json:"owner_id" db:"owner_id"`
	Name          string    `json:"name" db:"name"`
	Kind          AlertKind `json:"kind" db:"kind"`
	Active        bool      `json:"active" db:"active"`
	States        []string  `json:"states" db:"states"`
	City          string    `json:"city" db:"city"`
	MinBid        *float64  `json:"min_bid" db:"min_bid"`
	MaxBid        *float64  `json:"max_bid" db:"max_bid"`
	PropertyTypes []string  `json:"property_types" db:"property_types"`
	CenterLat     *float64  `json:"center_lat" db:"center_lat"`
	CenterLng     *float64  `json:"center_lng" db:"center_lng"`
	RadiusMiles   *float64  `json:"radius_miles" db:"radius_miles"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// HasGeoFilter reports whether the alert constrains matches to a radius
// around a center point.
func (a *Alert) HasGeoFilter() bool {
	return a.CenterLat != nil && a.CenterLng != nil && a.RadiusMiles != nil
}

// WatchlistEntry is a per-owner, per-listing unconditional interest
// registration. It implies an "any change" alert for that listing.
type WatchlistEntry struct {
	OwnerID   int64     `json:"owner_id" db:"owner_id"`
	ListingID string    `json:"listing_id" db:"listing_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
