package monitor

import (
	"context"
	"fmt"
	"time"

	"auctionwatch/models"
)

// Reminder offsets before the auction instant. Each fires once per listing
// per auction date.
var reminderOffsets = []time.Duration{
	7 * 24 * time.Hour,
	3 * 24 * time.Hour,
	24 * time.Hour,
	time.Hour,
}

// ReminderStore provides upcoming auctions and their interested owners.
type ReminderStore interface {
	ListUpcomingAuctions(ctx context.Context, now time.Time) ([]models.Listing, error)
	ListWatchersForListing(ctx context.Context, listingID string) ([]int64, error)
	ListActiveAlerts(ctx context.Context) ([]models.Alert, error)
}

// ReminderScanner emits reminder requests when the time-to-auction crosses
// one of the fixed offsets. The scan interval is the tolerance window, so a
// crossing is seen by exactly one scan regardless of jitter; the idempotency
// key (keyed on auction date + offset) catches the rest.
type ReminderScanner struct {
	store    ReminderStore
	interval time.Duration
	now      func() time.Time
}

func NewReminderScanner(store ReminderStore, interval time.Duration) *ReminderScanner {
	return &ReminderScanner{
		store:    store,
		interval: interval,
		now:      time.Now,
	}
}

func (r *ReminderScanner) ScanReminders(ctx context.Context) ([]models.NotificationRequest, error) {
	now := r.now()

	listings, err := r.store.ListUpcomingAuctions(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list upcoming auctions: %w", err)
	}
	if len(listings) == 0 {
		return nil, nil
	}

	alerts, err := r.store.ListActiveAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}

	var out []models.NotificationRequest
	for i := range listings {
		l := &listings[i]
		if l.AuctionDate == nil {
			continue
		}

		remaining := l.AuctionDate.Sub(now)
		var due []time.Duration
		for _, offset := range reminderOffsets {
			if remaining <= offset && remaining > offset-r.interval {
				due = append(due, offset)
			}
		}
		if len(due) == 0 {
			continue
		}

		owners, err := r.recipients(ctx, l, alerts)
		if err != nil {
			return nil, err
		}

		for _, offset := range due {
			for _, owner := range owners {
				out = append(out, buildReminder(owner, l, offset))
			}
		}
	}

	return out, nil
}

// recipients returns watchlist owners plus owners of reminder-kind alerts
// whose filters match the listing, deduplicated.
func (r *ReminderScanner) recipients(ctx context.Context, l *models.Listing, alerts []models.Alert) ([]int64, error) {
	watchers, err := r.store.ListWatchersForListing(ctx, l.ID)
	if err != nil {
		return nil, fmt.Errorf("list watchers for %s: %w", l.ID, err)
	}

	seen := make(map[int64]bool, len(watchers))
	out := make([]int64, 0, len(watchers))
	for _, owner := range watchers {
		if !seen[owner] {
			seen[owner] = true
			out = append(out, owner)
		}
	}

	for i := range alerts {
		a := &alerts[i]
		if a.Kind != models.AlertReminder || !a.Active || seen[a.OwnerID] {
			continue
		}
		if AlertMatches(a, l) {
			seen[a.OwnerID] = true
			out = append(out, a.OwnerID)
		}
	}

	return out, nil
}

func buildReminder(owner int64, l *models.Listing, offset time.Duration) models.NotificationRequest {
	priority := models.PriorityMedium
	if offset <= 24*time.Hour {
		priority = models.PriorityHigh
	}

	return models.NotificationRequest{
		OwnerID:  owner,
		Listing:  l,
		Kind:     models.NotificationReminder,
		Priority: priority,
		Title:    fmt.Sprintf("Auction in %s", offsetLabel(offset)),
		Body:     fmt.Sprintf("%s auction is in %s", l.Address(), offsetLabel(offset)),
		// Keyed on the auction date so every scan inside one offset window
		// hashes to the same idempotency key.
		DetectedAt:     *l.AuctionDate,
		ReminderOffset: offset,
	}
}

func offsetLabel(offset time.Duration) string {
	if offset >= 24*time.Hour {
		days := int(offset / (24 * time.Hour))
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	hours := int(offset / time.Hour)
	if hours == 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", hours)
}
