package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type NotificationKind string

const (
	NotificationNewAuction   NotificationKind = "new_auction"
	NotificationStatusChange NotificationKind = "status_change"
	NotificationDateChange   NotificationKind = "date_change"
	NotificationPriceChange  NotificationKind = "price_change"
	NotificationReminder     NotificationKind = "reminder"
)

type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationDeferred  NotificationStatus = "deferred"
	NotificationDelivered NotificationStatus = "delivered"
	NotificationFailed    NotificationStatus = "failed"
)

// Priorities
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Notification is a persisted alert record for one owner. The idempotency
// key is unique per detected change, which is what prevents duplicate rows
// when ticks overlap the same change window.
type Notification struct {
	ID             uuid.UUID          `json:"id" db:"id"`
	OwnerID        int64              `json:"owner_id" db:"owner_id"`
	ListingID      string             `json:"listing_id" db:"listing_id"`
	Kind           NotificationKind   `json:"kind" db:"kind"`
	Priority       string             `json:"priority" db:"priority"`
	Title          string             `json:"title" db:"title"`
	Body           string             `json:"body" db:"body"`
	Data           json.RawMessage    `json:"data" db:"data"`
	IdempotencyKey string             `json:"idempotency_key" db:"idempotency_key"`
	Status         NotificationStatus `json:"status" db:"status"`
	CreatedAt      time.Time          `json:"created_at" db:"created_at"`
	DeliveredAt    *time.Time         `json:"delivered_at" db:"delivered_at"`
	DeferredUntil  *time.Time         `json:"deferred_until" db:"deferred_until"`
	ReadAt         *time.Time         `json:"read_at" db:"read_at"`
	DismissedAt    *time.Time         `json:"dismissed_at" db:"dismissed_at"`
}

func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

func (n *Notification) IsDismissed() bool {
	return n.DismissedAt != nil
}

// NotificationRequest is a matched change (or reminder) addressed to one
// owner, before delivery preferences are applied.
type NotificationRequest struct {
	OwnerID        int64
	Listing        *Listing
	Kind           NotificationKind
	Priority       string
	Title          string
	Body           string
	Data           json.RawMessage
	DetectedAt     time.Time
	ReminderOffset time.Duration // zero unless Kind is NotificationReminder
}

// IdempotencyKey derives the deduplication key for this request. DetectedAt
// is truncated to the polling interval so retried or overlapping ticks that
// observe the same change hash to the same key.
func (r *NotificationRequest) IdempotencyKey(window time.Duration) string {
	detected := r.DetectedAt
	if window > 0 {
		detected = detected.Truncate(window)
	}
	input := fmt.Sprintf("%d|%s|%s|%d|%d",
		r.OwnerID,
		r.Listing.ID,
		r.Kind,
		detected.Unix(),
		int64(r.ReminderOffset/time.Second),
	)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}
