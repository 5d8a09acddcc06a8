package monitor

import (
	"context"
	"testing"
	"time"

	"auctionwatch/models"
)

type memReminderStore struct {
	listings []models.Listing
	watchers map[string][]int64
	alerts   []models.Alert
}

func (m *memReminderStore) ListUpcomingAuctions(_ context.Context, _ time.Time) ([]models.Listing, error) {
	return m.listings, nil
}

func (m *memReminderStore) ListWatchersForListing(_ context.Context, listingID string) ([]int64, error) {
	return m.watchers[listingID], nil
}

func (m *memReminderStore) ListActiveAlerts(_ context.Context) ([]models.Alert, error) {
	return m.alerts, nil
}

func reminderScanner(store *memReminderStore, now time.Time) *ReminderScanner {
	r := NewReminderScanner(store, 30*time.Minute)
	r.now = func() time.Time { return now }
	return r
}

func TestScanReminders_OffsetCrossing(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	l := auctionListing("HUD-rem01")

	store := &memReminderStore{
		listings: []models.Listing{l},
		watchers: map[string][]int64{"HUD-rem01": {7}},
	}

	cases := []struct {
		name      string
		remaining time.Duration
		want      int
	}{
		{"inside 7d window", 7*24*time.Hour - 15*time.Minute, 1},
		{"exactly at 7d", 7 * 24 * time.Hour, 1},
		{"before 7d window", 7*24*time.Hour + time.Minute, 0},
		{"past 7d window", 7*24*time.Hour - 31*time.Minute, 0},
		{"inside 1h window", time.Hour - 10*time.Minute, 1},
	}

	for _, tc := range cases {
		date := now.Add(tc.remaining)
		store.listings[0].AuctionDate = &date

		r := reminderScanner(store, now)
		reqs, err := r.ScanReminders(context.Background())
		if err != nil {
			t.Fatalf("%s: scan failed: %v", tc.name, err)
		}
		if len(reqs) != tc.want {
			t.Fatalf("%s: expected %d requests, got %d", tc.name, tc.want, len(reqs))
		}
	}
}

func TestScanReminders_IdempotentAcrossScans(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	date := now.Add(24*time.Hour - 10*time.Minute)
	l := auctionListing("HUD-rem01")
	l.AuctionDate = &date

	store := &memReminderStore{
		listings: []models.Listing{l},
		watchers: map[string][]int64{"HUD-rem01": {7}},
	}

	first := reminderScanner(store, now)
	reqsA, err := first.ScanReminders(context.Background())
	if err != nil {
		t.Fatalf("first scan failed: %v", err)
	}

	// A second scan a few minutes later inside the same window must hash to
	// the same idempotency key, so the insert dedups it.
	second := reminderScanner(store, now.Add(5*time.Minute))
	reqsB, err := second.ScanReminders(context.Background())
	if err != nil {
		t.Fatalf("second scan failed: %v", err)
	}

	if len(reqsA) != 1 || len(reqsB) != 1 {
		t.Fatalf("expected 1 request per scan, got %d and %d", len(reqsA), len(reqsB))
	}
	keyA := reqsA[0].IdempotencyKey(30 * time.Minute)
	keyB := reqsB[0].IdempotencyKey(30 * time.Minute)
	if keyA != keyB {
		t.Fatalf("expected matching keys across scans, got %s and %s", keyA, keyB)
	}
}

func TestScanReminders_Recipients(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	date := now.Add(3*24*time.Hour - 5*time.Minute)
	l := auctionListing("HUD-rem01")
	l.AuctionDate = &date

	store := &memReminderStore{
		listings: []models.Listing{l},
		watchers: map[string][]int64{"HUD-rem01": {7}},
		alerts: []models.Alert{
			// Matching reminder alert for a second owner.
			{OwnerID: 8, Kind: models.AlertReminder, Active: true, States: []string{"FL"}},
			// Reminder alert whose filters reject the listing.
			{OwnerID: 9, Kind: models.AlertReminder, Active: true, States: []string{"TX"}},
			// Non-reminder alert kinds never produce reminders.
			{OwnerID: 10, Kind: models.AlertStatusChange, Active: true},
			// Owner 7 already covered by the watchlist.
			{OwnerID: 7, Kind: models.AlertReminder, Active: true},
		},
	}

	r := reminderScanner(store, now)
	reqs, err := r.ScanReminders(context.Background())
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}

	owners := map[int64]bool{}
	for _, req := range reqs {
		owners[req.OwnerID] = true
		if req.Kind != models.NotificationReminder {
			t.Fatalf("unexpected kind %s", req.Kind)
		}
		if !req.DetectedAt.Equal(date) {
			t.Fatalf("expected DetectedAt pinned to the auction date, got %s", req.DetectedAt)
		}
	}
	if !owners[7] || !owners[8] {
		t.Fatalf("expected owners 7 and 8, got %v", owners)
	}
}

func TestBuildReminder_Priority(t *testing.T) {
	l := auctionListing("HUD-rem01")

	week := buildReminder(1, &l, 7*24*time.Hour)
	if week.Priority != models.PriorityMedium {
		t.Fatalf("expected 7d reminder to be medium priority, got %s", week.Priority)
	}
	if week.Title != "Auction in 7 days" {
		t.Fatalf("unexpected title %q", week.Title)
	}

	day := buildReminder(1, &l, 24*time.Hour)
	if day.Priority != models.PriorityHigh {
		t.Fatalf("expected 1d reminder to be high priority, got %s", day.Priority)
	}
	if day.Title != "Auction in 1 day" {
		t.Fatalf("unexpected title %q", day.Title)
	}

	hour := buildReminder(1, &l, time.Hour)
	if hour.Title != "Auction in 1 hour" {
		t.Fatalf("unexpected title %q", hour.Title)
	}
}
