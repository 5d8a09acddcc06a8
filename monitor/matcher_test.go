package monitor

import (
	"testing"
	"time"

	"auctionwatch/models"
)

func matchListing() *models.Listing {
	l := auctionListing("HUD-match01")
	l.PropertyType = models.PropertyTypeSingleFamily
	l.Latitude = fptr(25.7617)
	l.Longitude = fptr(-80.1918)
	return &l
}

func statusEvent(l *models.Listing) *models.ChangeEvent {
	return &models.ChangeEvent{
		ListingID:  l.ID,
		Kind:       models.ChangeStatus,
		OldStatus:  models.StatusPreforeclosure,
		NewStatus:  models.StatusAuction,
		Listing:    l,
		DetectedAt: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAlertMatches_AllFiltersMustPass(t *testing.T) {
	l := matchListing()
	a := &models.Alert{
		OwnerID:       1,
		Kind:          models.AlertStatusChange,
		Active:        true,
		States:        []string{"FL"},
		City:          "Miami",
		MinBid:        fptr(100000),
		MaxBid:        fptr(300000),
		PropertyTypes: []string{models.PropertyTypeSingleFamily},
	}

	if !AlertMatches(a, l) {
		t.Fatal("expected all filters to pass")
	}

	// Flipping any single filter out of range fails the whole alert.
	a.City = "Orlando"
	if AlertMatches(a, l) {
		t.Fatal("expected city mismatch to fail the alert")
	}
	a.City = "miami" // case-insensitive
	if !AlertMatches(a, l) {
		t.Fatal("expected city match to be case-insensitive")
	}

	a.States = []string{"TX"}
	if AlertMatches(a, l) {
		t.Fatal("expected state mismatch to fail the alert")
	}
}

func TestAlertMatches_PriceBoundsInclusive(t *testing.T) {
	l := matchListing()
	l.OpeningBid = fptr(250000)

	a := &models.Alert{MinBid: fptr(250000), MaxBid: fptr(250000)}
	if !AlertMatches(a, l) {
		t.Fatal("expected bid equal to both bounds to match")
	}

	a.MaxBid = fptr(249999)
	if AlertMatches(a, l) {
		t.Fatal("expected bid above max to fail")
	}

	l.OpeningBid = nil
	a.MaxBid = fptr(300000)
	if AlertMatches(a, l) {
		t.Fatal("expected listing without a bid to fail a price filter")
	}
}

func TestAlertMatches_GeoRadius(t *testing.T) {
	l := matchListing()

	// Center roughly 10 miles from the listing coordinates.
	a := &models.Alert{
		CenterLat:   fptr(25.9),
		CenterLng:   fptr(-80.2),
		RadiusMiles: fptr(15),
	}
	if !AlertMatches(a, l) {
		t.Fatal("expected listing inside radius to match")
	}

	a.RadiusMiles = fptr(5)
	if AlertMatches(a, l) {
		t.Fatal("expected listing outside radius to fail")
	}

	dist := HaversineMiles(*a.CenterLat, *a.CenterLng, *l.Latitude, *l.Longitude)
	a.RadiusMiles = fptr(dist)
	if !AlertMatches(a, l) {
		t.Fatal("expected distance exactly at radius to match")
	}

	l.Latitude = nil
	if AlertMatches(a, l) {
		t.Fatal("expected listing without coordinates to fail a geo filter")
	}
}

func TestMatchEvent_WatchlistAlwaysMatches(t *testing.T) {
	l := matchListing()
	e := statusEvent(l)

	// An alert whose filters would reject the listing.
	alerts := []models.Alert{{
		OwnerID: 2,
		Kind:    models.AlertStatusChange,
		Active:  true,
		States:  []string{"TX"},
	}}

	m := NewMatcher()
	reqs := m.MatchEvent(e, alerts, []int64{7})
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if reqs[0].OwnerID != 7 {
		t.Fatalf("expected watchlist owner 7, got %d", reqs[0].OwnerID)
	}
	if reqs[0].Kind != models.NotificationStatusChange {
		t.Fatalf("unexpected kind %s", reqs[0].Kind)
	}
}

func TestMatchEvent_OneRequestPerOwner(t *testing.T) {
	l := matchListing()
	e := statusEvent(l)

	// Owner 7 both watches the listing and has a matching alert.
	alerts := []models.Alert{
		{OwnerID: 7, Kind: models.AlertStatusChange, Active: true},
		{OwnerID: 7, Kind: models.AlertStatusChange, Active: true, Name: "duplicate"},
	}

	m := NewMatcher()
	reqs := m.MatchEvent(e, alerts, []int64{7, 7})
	if len(reqs) != 1 {
		t.Fatalf("expected a single request for owner 7, got %d", len(reqs))
	}
}

func TestMatchEvent_KindGating(t *testing.T) {
	l := matchListing()
	e := statusEvent(l)

	alerts := []models.Alert{
		{OwnerID: 1, Kind: models.AlertStatusChange, Active: true},
		{OwnerID: 2, Kind: models.AlertPriceChange, Active: true},
		{OwnerID: 3, Kind: models.AlertNewAuction, Active: true},
		{OwnerID: 4, Kind: models.AlertReminder, Active: true},
		{OwnerID: 5, Kind: models.AlertStatusChange, Active: false},
	}

	m := NewMatcher()
	reqs := m.MatchEvent(e, alerts, nil)
	if len(reqs) != 1 {
		t.Fatalf("expected only the status-change alert to fire, got %d", len(reqs))
	}
	if reqs[0].OwnerID != 1 {
		t.Fatalf("expected owner 1, got %d", reqs[0].OwnerID)
	}
}

func TestMatchEvent_PostponementKind(t *testing.T) {
	l := matchListing()
	oldDate := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	newDate := oldDate.Add(14 * 24 * time.Hour)
	postponed := &models.ChangeEvent{
		ListingID: l.ID,
		Kind:      models.ChangeDate,
		OldDate:   &oldDate,
		NewDate:   &newDate,
		Listing:   l,
	}
	movedUp := &models.ChangeEvent{
		ListingID: l.ID,
		Kind:      models.ChangeDate,
		OldDate:   &newDate,
		NewDate:   &oldDate,
		Listing:   l,
	}

	alerts := []models.Alert{{OwnerID: 1, Kind: models.AlertPostponement, Active: true}}
	m := NewMatcher()

	if got := m.MatchEvent(postponed, alerts, nil); len(got) != 1 {
		t.Fatalf("expected postponement alert to fire, got %d requests", len(got))
	}
	if got := m.MatchEvent(movedUp, alerts, nil); len(got) != 0 {
		t.Fatalf("expected earlier date not to fire a postponement alert, got %d requests", len(got))
	}

	reqs := m.MatchEvent(postponed, alerts, nil)
	if reqs[0].Priority != models.PriorityHigh {
		t.Fatalf("expected postponement to be high priority, got %s", reqs[0].Priority)
	}
}
