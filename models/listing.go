package models

import (
	"fmt"
	"time"
)

type ForeclosureStatus string

const (
	StatusPreforeclosure ForeclosureStatus = "preforeclosure"
	StatusAuction        ForeclosureStatus = "auction"
	StatusPostponed      ForeclosureStatus = "postponed"
	StatusSold           ForeclosureStatus = "sold"
	StatusCancelled      ForeclosureStatus = "cancelled"
)

// Property types
const (
	PropertyTypeSingleFamily = "single-family"
	PropertyTypeCondo        = "condo"
	PropertyTypeMultiFamily  = "multi-family"
	PropertyTypeCommercial   = "commercial"
)

// Listing is a tracked foreclosure property and its auction-relevant fields.
type Listing struct {
	ID              string            `json:"id" db:"id"`
	Source          string            `json:"source" db:"source"`
	Street          string            `json:"street" db:"street"`
	City            string            `json:"city" db:"city"`
	County          string            `json:"county" db:"county"`
	State           string            `json:"state" db:"state"`
	ZipCode         string            `json:"zip_code" db:"zip_code"`
	Latitude        *float64          `json:"latitude" db:"latitude"`
	Longitude       *float64          `json:"longitude" db:"longitude"`
	Status          ForeclosureStatus `json:"status" db:"status"`
	FilingDate      *time.Time        `json:"filing_date" db:"filing_date"`
	AuctionDate     *time.Time        `json:"auction_date" db:"auction_date"`
	AuctionTime     string            `json:"auction_time" db:"auction_time"`
	AuctionLocation string            `json:"auction_location" db:"auction_location"`
	OpeningBid      *float64          `json:"opening_bid" db:"opening_bid"`
	UnpaidBalance   *float64          `json:"unpaid_balance" db:"unpaid_balance"`
	LenderName      string            `json:"lender_name" db:"lender_name"`
	CaseNumber      string            `json:"case_number" db:"case_number"`
	TrusteeName     string            `json:"trustee_name" db:"trustee_name"`
	PropertyType    string            `json:"property_type" db:"property_type"`
	Beds            int               `json:"beds" db:"beds"`
	Baths           float64           `json:"baths" db:"baths"`
	SqFt            int               `json:"sqft" db:"sqft"`
	YearBuilt       *int              `json:"year_built" db:"year_built"`
	EstimatedValue  *float64          `json:"estimated_value" db:"estimated_value"`
	DetailURL       string            `json:"detail_url" db:"detail_url"`
	DataTimestamp   time.Time         `json:"data_timestamp" db:"data_timestamp"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`
}

// Address returns the single-line postal address used in notification bodies.
func (l *Listing) Address() string {
	return fmt.Sprintf("%s, %s, %s %s", l.Street, l.City, l.State, l.ZipCode)
}

func (l *Listing) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}
