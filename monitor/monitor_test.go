package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"auctionwatch/models"
)

type memAlertStore struct {
	alerts  []models.Alert
	entries []models.WatchlistEntry
}

func (m *memAlertStore) ListActiveAlerts(_ context.Context) ([]models.Alert, error) {
	return m.alerts, nil
}

func (m *memAlertStore) ListWatchlist(_ context.Context) ([]models.WatchlistEntry, error) {
	return m.entries, nil
}

type memNotifier struct {
	requests []models.NotificationRequest
	keys     map[string]bool
}

func (m *memNotifier) Schedule(_ context.Context, req models.NotificationRequest) (*models.Notification, error) {
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	key := req.IdempotencyKey(15 * time.Minute)
	if m.keys[key] {
		return nil, nil
	}
	m.keys[key] = true
	m.requests = append(m.requests, req)
	return &models.Notification{Kind: req.Kind, OwnerID: req.OwnerID}, nil
}

type memBroadcaster struct {
	events []*models.ChangeEvent
}

func (m *memBroadcaster) Publish(event *models.ChangeEvent) {
	m.events = append(m.events, event)
}

type memRuns struct {
	runs []*models.MonitorRun
}

func (m *memRuns) CreateRun(run *models.MonitorRun) error {
	run.ID = int64(len(m.runs) + 1)
	m.runs = append(m.runs, run)
	return nil
}

func (m *memRuns) UpdateRun(*models.MonitorRun) error { return nil }

func (m *memRuns) AddLog(*int64, models.LogLevel, string, string) error { return nil }

func pipelineMonitor(source *memListings, alerts *memAlertStore) (*Monitor, *memNotifier, *memBroadcaster, *memRuns) {
	snaps := newMemSnapshots()
	detector := NewDetector(source, snaps)
	notifier := &memNotifier{}
	broadcaster := &memBroadcaster{}
	runs := &memRuns{}

	m := New(detector, nil, alerts, notifier, broadcaster)
	m.SetRunRecorder(runs)
	return m, notifier, broadcaster, runs
}

func TestRunDetect_StatusChangePipeline(t *testing.T) {
	l := auctionListing("HUD-pipe01")
	l.Status = models.StatusPreforeclosure
	source := &memListings{listings: []models.Listing{l}}
	alerts := &memAlertStore{
		entries: []models.WatchlistEntry{{OwnerID: 7, ListingID: "HUD-pipe01"}},
	}
	m, notifier, broadcaster, runs := pipelineMonitor(source, alerts)
	ctx := context.Background()

	// First pass seeds the snapshot without events.
	if err := m.RunDetect(ctx); err != nil {
		t.Fatalf("seed pass failed: %v", err)
	}
	if len(broadcaster.events) != 0 || len(notifier.requests) != 0 {
		t.Fatal("expected no output from the seed pass")
	}

	// The listing transitions to auction.
	changed := l
	changed.Status = models.StatusAuction
	source.listings = []models.Listing{changed}

	if err := m.RunDetect(ctx); err != nil {
		t.Fatalf("detect failed: %v", err)
	}

	if len(broadcaster.events) != 1 {
		t.Fatalf("expected 1 broadcast event, got %d", len(broadcaster.events))
	}
	payload := broadcaster.events[0].UpdatePayload()
	if payload.StatusChanged == nil ||
		payload.StatusChanged.Old != models.StatusPreforeclosure ||
		payload.StatusChanged.New != models.StatusAuction {
		t.Fatalf("unexpected broadcast payload %+v", payload)
	}

	if len(notifier.requests) != 1 {
		t.Fatalf("expected 1 notification request, got %d", len(notifier.requests))
	}
	req := notifier.requests[0]
	if req.OwnerID != 7 || req.Kind != models.NotificationStatusChange {
		t.Fatalf("unexpected request owner=%d kind=%s", req.OwnerID, req.Kind)
	}

	// An unchanged third pass produces nothing new.
	if err := m.RunDetect(ctx); err != nil {
		t.Fatalf("third pass failed: %v", err)
	}
	if len(notifier.requests) != 1 || len(broadcaster.events) != 1 {
		t.Fatal("expected no new output from an unchanged pass")
	}

	if len(runs.runs) != 3 {
		t.Fatalf("expected 3 run records, got %d", len(runs.runs))
	}
	if runs.runs[1].EventsEmitted != 1 || runs.runs[1].NotificationsCreated != 1 {
		t.Fatalf("unexpected run stats %+v", runs.runs[1])
	}
}

func TestRunDetect_BidDropPipeline(t *testing.T) {
	l := auctionListing("HUD-pipe02")
	source := &memListings{listings: []models.Listing{l}}
	alerts := &memAlertStore{
		alerts: []models.Alert{{OwnerID: 3, Kind: models.AlertPriceChange, Active: true, States: []string{"FL"}}},
	}
	m, notifier, broadcaster, _ := pipelineMonitor(source, alerts)
	ctx := context.Background()

	if err := m.RunDetect(ctx); err != nil {
		t.Fatalf("seed pass failed: %v", err)
	}
	// First observation at auction already emits new_auction, but the
	// price-change alert does not cover it.
	if len(notifier.requests) != 0 {
		t.Fatalf("expected no requests from the seed pass, got %d", len(notifier.requests))
	}

	changed := l
	changed.OpeningBid = fptr(225000)
	source.listings = []models.Listing{changed}

	if err := m.RunDetect(ctx); err != nil {
		t.Fatalf("detect failed: %v", err)
	}

	if len(notifier.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(notifier.requests))
	}
	req := notifier.requests[0]
	if req.OwnerID != 3 || req.Kind != models.NotificationPriceChange {
		t.Fatalf("unexpected request owner=%d kind=%s", req.OwnerID, req.Kind)
	}

	var update models.Update
	if err := json.Unmarshal(req.Data, &update); err != nil {
		t.Fatalf("unmarshal request data: %v", err)
	}
	if update.OpeningBidChanged == nil || update.OpeningBidChanged.Difference != -25000 {
		t.Fatalf("unexpected bid payload %+v", update.OpeningBidChanged)
	}

	last := broadcaster.events[len(broadcaster.events)-1]
	if last.Kind != models.ChangePrice {
		t.Fatalf("expected price broadcast, got %s", last.Kind)
	}
}

func TestRunReminders_Pipeline(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	date := now.Add(24*time.Hour - 10*time.Minute)
	l := auctionListing("HUD-pipe03")
	l.AuctionDate = &date

	store := &memReminderStore{
		listings: []models.Listing{l},
		watchers: map[string][]int64{"HUD-pipe03": {7}},
	}
	scanner := reminderScanner(store, now)

	notifier := &memNotifier{}
	m := New(nil, scanner, &memAlertStore{}, notifier, nil)

	if err := m.RunReminders(context.Background()); err != nil {
		t.Fatalf("reminders failed: %v", err)
	}
	if len(notifier.requests) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(notifier.requests))
	}
	if notifier.requests[0].Kind != models.NotificationReminder {
		t.Fatalf("unexpected kind %s", notifier.requests[0].Kind)
	}

	// A second scan inside the same window dedups on the idempotency key.
	scanner.now = func() time.Time { return now.Add(5 * time.Minute) }
	if err := m.RunReminders(context.Background()); err != nil {
		t.Fatalf("second reminders failed: %v", err)
	}
	if len(notifier.requests) != 1 {
		t.Fatalf("expected the second scan to dedup, got %d requests", len(notifier.requests))
	}
}
