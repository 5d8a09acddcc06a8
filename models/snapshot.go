package models

import "time"

// ListingSnapshot is the last-observed auction state of a listing. One row
// per listing, replaced whole on every write; Version guards concurrent
// writers via compare-and-write.
type ListingSnapshot struct {
	ListingID   string            `json:"listing_id" db:"listing_id"`
	Status      ForeclosureStatus `json:"status" db:"status"`
	AuctionDate *time.Time        `json:"auction_date" db:"auction_date"`
	OpeningBid  *float64          `json:"opening_bid" db:"opening_bid"`
	Version     int64             `json:"version" db:"version"`
	ObservedAt  time.Time         `json:"observed_at" db:"observed_at"`
}
