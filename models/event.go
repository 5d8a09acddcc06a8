package models

import "time"

type ChangeKind string

const (
	ChangeStatus     ChangeKind = "status"
	ChangeDate       ChangeKind = "date"
	ChangePrice      ChangeKind = "price"
	ChangeNewAuction ChangeKind = "new_auction"
)

// ChangeEvent is a detected difference between two consecutive observations
// of a listing. Immutable once created; the detector emits at most one event
// per field per tick.
type ChangeEvent struct {
	ListingID  string     `json:"listing_id"`
	Kind       ChangeKind `json:"kind"`
	OldStatus  ForeclosureStatus
	NewStatus  ForeclosureStatus
	OldDate    *time.Time
	NewDate    *time.Time
	OldBid     *float64
	NewBid     *float64
	Listing    *Listing // listing state at detection time
	DetectedAt time.Time
}

// IsPostponement reports whether this is a date change that pushed the
// auction later.
func (e *ChangeEvent) IsPostponement() bool {
	return e.Kind == ChangeDate && e.OldDate != nil && e.NewDate != nil && e.NewDate.After(*e.OldDate)
}

// StatusChange is the auction_update payload for a status transition.
type StatusChange struct {
	Old ForeclosureStatus `json:"old"`
	New ForeclosureStatus `json:"new"`
}

// DateChange is the auction_update payload for an auction date move.
// Type is "postponement" when the new date is later, "changed" otherwise.
type DateChange struct {
	Old  string `json:"old"`
	New  string `json:"new"`
	Type string `json:"type"`
}

// BidChange is the auction_update payload for an opening bid move.
type BidChange struct {
	Old        float64 `json:"old"`
	New        float64 `json:"new"`
	Difference float64 `json:"difference"`
}

// Update is the "update" object of an auction_update message. Exactly one
// field is set per event.
type Update struct {
	StatusChanged      *StatusChange `json:"statusChanged,omitempty"`
	AuctionDateChanged *DateChange   `json:"auctionDateChanged,omitempty"`
	OpeningBidChanged  *BidChange    `json:"openingBidChanged,omitempty"`
}

// UpdatePayload renders the event as the wire-format update object.
func (e *ChangeEvent) UpdatePayload() Update {
	switch e.Kind {
	case ChangeStatus:
		return Update{StatusChanged: &StatusChange{Old: e.OldStatus, New: e.NewStatus}}
	case ChangeNewAuction:
		return Update{StatusChanged: &StatusChange{Old: e.OldStatus, New: e.NewStatus}}
	case ChangeDate:
		dc := &DateChange{Type: "changed"}
		if e.OldDate != nil {
			dc.Old = e.OldDate.Format("2006-01-02")
		}
		if e.NewDate != nil {
			dc.New = e.NewDate.Format("2006-01-02")
		}
		if e.IsPostponement() {
			dc.Type = "postponement"
		}
		return Update{AuctionDateChanged: dc}
	case ChangePrice:
		bc := &BidChange{}
		if e.OldBid != nil {
			bc.Old = *e.OldBid
		}
		if e.NewBid != nil {
			bc.New = *e.NewBid
		}
		bc.Difference = bc.New - bc.Old
		return Update{OpeningBidChanged: bc}
	}
	return Update{}
}
