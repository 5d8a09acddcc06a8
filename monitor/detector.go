package monitor

import (
	"context"
	"errors"
	"log"
	"time"

	"auctionwatch/models"
	"auctionwatch/storage"
)

// ListingSource provides the current state of every tracked listing.
type ListingSource interface {
	ListListings(ctx context.Context) ([]models.Listing, error)
}

// SnapshotStore holds the last-observed state per listing. PutSnapshot uses
// compare-and-write: it fails with storage.ErrVersionConflict when the
// stored version no longer matches the one read.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, listingID string) (*models.ListingSnapshot, error)
	PutSnapshot(ctx context.Context, snap *models.ListingSnapshot, expectedVersion int64) error
}

// Detector diffs listings against their snapshots and emits change events.
// Stateless across ticks; all persistent state lives in the snapshot store.
type Detector struct {
	source    ListingSource
	snapshots SnapshotStore
	now       func() time.Time
}

func NewDetector(source ListingSource, snapshots SnapshotStore) *Detector {
	return &Detector{
		source:    source,
		snapshots: snapshots,
		now:       time.Now,
	}
}

// DetectResult contains the outcome of one detection tick.
type DetectResult struct {
	Events       []models.ChangeEvent
	ListingsSeen int
	Skipped      int
}

// Detect reads all listings once, compares each against its stored snapshot
// field by field (status, then date, then price), and replaces the snapshot
// after emitting events. A listing whose snapshot cannot be read or written
// is logged and skipped; the unchanged snapshot means the next tick retries.
func (d *Detector) Detect(ctx context.Context) (*DetectResult, error) {
	listings, err := d.source.ListListings(ctx)
	if err != nil {
		return nil, err
	}

	result := &DetectResult{ListingsSeen: len(listings)}

	for i := range listings {
		l := &listings[i]

		events, err := d.detectListing(ctx, l)
		if err != nil {
			log.Printf("Detector: skipping listing %s: %v", l.ID, err)
			result.Skipped++
			continue
		}
		result.Events = append(result.Events, events...)
	}

	return result, nil
}

func (d *Detector) detectListing(ctx context.Context, l *models.Listing) ([]models.ChangeEvent, error) {
	snap, err := d.snapshots.GetSnapshot(ctx, l.ID)
	if err != nil {
		return nil, err
	}

	now := d.now()
	var events []models.ChangeEvent

	if snap == nil {
		// First observation. A listing already at auction emits a synthetic
		// new-auction event instead of field-level changes.
		if l.Status == models.StatusAuction {
			events = append(events, models.ChangeEvent{
				ListingID:  l.ID,
				Kind:       models.ChangeNewAuction,
				NewStatus:  l.Status,
				NewDate:    l.AuctionDate,
				NewBid:     l.OpeningBid,
				Listing:    l,
				DetectedAt: now,
			})
		}
	} else {
		if snap.Status != l.Status {
			events = append(events, models.ChangeEvent{
				ListingID:  l.ID,
				Kind:       models.ChangeStatus,
				OldStatus:  snap.Status,
				NewStatus:  l.Status,
				Listing:    l,
				DetectedAt: now,
			})
		}
		if !equalDates(snap.AuctionDate, l.AuctionDate) {
			events = append(events, models.ChangeEvent{
				ListingID:  l.ID,
				Kind:       models.ChangeDate,
				OldDate:    snap.AuctionDate,
				NewDate:    l.AuctionDate,
				Listing:    l,
				DetectedAt: now,
			})
		}
		if !equalBids(snap.OpeningBid, l.OpeningBid) {
			events = append(events, models.ChangeEvent{
				ListingID:  l.ID,
				Kind:       models.ChangePrice,
				OldBid:     snap.OpeningBid,
				NewBid:     l.OpeningBid,
				Listing:    l,
				DetectedAt: now,
			})
		}

		if len(events) == 0 {
			// Nothing changed; leave the snapshot (and its version) alone.
			return nil, nil
		}
	}

	var expected int64
	if snap != nil {
		expected = snap.Version
	}

	next := &models.ListingSnapshot{
		ListingID:   l.ID,
		Status:      l.Status,
		AuctionDate: l.AuctionDate,
		OpeningBid:  l.OpeningBid,
		ObservedAt:  now,
	}
	if err := d.snapshots.PutSnapshot(ctx, next, expected); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			// Another task already observed this state; its events stand.
			log.Printf("Detector: concurrent snapshot update for %s, dropping %d event(s)", l.ID, len(events))
			return nil, nil
		}
		return nil, err
	}

	return events, nil
}

func equalDates(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func equalBids(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
