package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"auctionwatch/models"
)

// SchedulerStore is the persistence surface the scheduler needs.
type SchedulerStore interface {
	GetPreference(ctx context.Context, ownerID int64) (*models.NotificationPreference, error)
	InsertNotification(ctx context.Context, n *models.Notification) (bool, error)
	MarkNotificationDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	DeferNotification(ctx context.Context, id uuid.UUID, until time.Time) error
	ClaimDueDeferred(ctx context.Context, now time.Time, limit int) ([]models.Notification, error)
}

// Enqueuer is the dispatch side; satisfied by Dispatcher.
type Enqueuer interface {
	Enqueue(n *models.Notification, channels []models.Channel)
}

// Scheduler applies delivery preferences to matched notification requests.
// It decides whether a request becomes a record at all, whether external
// delivery happens now or after quiet hours, and dedups via the idempotency
// key at insert time.
type Scheduler struct {
	store      SchedulerStore
	dispatcher Enqueuer
	window     time.Duration // idempotency truncation window
	sweepLimit int
	now        func() time.Time
}

func NewScheduler(store SchedulerStore, dispatcher Enqueuer, window time.Duration) *Scheduler {
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		window:     window,
		sweepLimit: 200,
		now:        time.Now,
	}
}

// Schedule turns one request into a persisted notification, or returns
// (nil, nil) when the request is dropped or already recorded.
func (s *Scheduler) Schedule(ctx context.Context, req models.NotificationRequest) (*models.Notification, error) {
	prefs, err := s.store.GetPreference(ctx, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("load preferences for owner %d: %w", req.OwnerID, err)
	}
	if prefs == nil {
		prefs = models.DefaultPreference(req.OwnerID)
	}

	if !prefs.HasAnyChannel() {
		log.Printf("Scheduler: owner %d has no channels enabled, dropping %s for %s",
			req.OwnerID, req.Kind, req.Listing.ID)
		return nil, nil
	}

	now := s.now()
	n := &models.Notification{
		ID:             uuid.New(),
		OwnerID:        req.OwnerID,
		ListingID:      req.Listing.ID,
		Kind:           req.Kind,
		Priority:       req.Priority,
		Title:          req.Title,
		Body:           req.Body,
		Data:           req.Data,
		IdempotencyKey: req.IdempotencyKey(s.window),
		Status:         models.NotificationPending,
		CreatedAt:      now,
	}

	quiet, until := prefs.InQuietHours(now)
	external := prefs.ExternalChannels()

	// External delivery waits out quiet hours. The in-app record itself is
	// written either way.
	if quiet && len(external) > 0 {
		n.Status = models.NotificationDeferred
		n.DeferredUntil = &until
	}

	inserted, err := s.store.InsertNotification(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	if !inserted {
		// Same change already recorded by an earlier or concurrent tick.
		return nil, nil
	}

	switch {
	case n.Status == models.NotificationDeferred:
		log.Printf("Scheduler: deferred %s for owner %d until %s",
			n.Kind, n.OwnerID, until.Format(time.RFC3339))
	case len(external) == 0:
		// In-app only: nothing to dispatch.
		if err := s.store.MarkNotificationDelivered(ctx, n.ID, now); err != nil {
			return nil, fmt.Errorf("mark delivered: %w", err)
		}
		n.Status = models.NotificationDelivered
	default:
		s.dispatcher.Enqueue(n, external)
	}

	return n, nil
}

// Sweep claims deferred notifications whose quiet window has elapsed and
// releases them for delivery. Owners whose preferences changed to a later
// quiet window since the deferral get re-deferred rather than delivered.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.ClaimDueDeferred(ctx, now, s.sweepLimit)
	if err != nil {
		return 0, fmt.Errorf("claim deferred: %w", err)
	}

	released := 0
	for i := range due {
		n := &due[i]

		prefs, err := s.store.GetPreference(ctx, n.OwnerID)
		if err != nil {
			log.Printf("Scheduler: sweep preferences for owner %d: %v", n.OwnerID, err)
			continue
		}
		if prefs == nil {
			prefs = models.DefaultPreference(n.OwnerID)
		}

		if quiet, until := prefs.InQuietHours(now); quiet {
			if err := s.store.DeferNotification(ctx, n.ID, until); err != nil {
				log.Printf("Scheduler: re-defer %s: %v", n.ID, err)
			}
			continue
		}

		external := prefs.ExternalChannels()
		if len(external) == 0 {
			if err := s.store.MarkNotificationDelivered(ctx, n.ID, now); err != nil {
				log.Printf("Scheduler: sweep mark delivered %s: %v", n.ID, err)
			}
			released++
			continue
		}

		s.dispatcher.Enqueue(n, external)
		released++
	}

	if released > 0 {
		log.Printf("Scheduler: sweep released %d deferred notifications", released)
	}
	return released, nil
}
