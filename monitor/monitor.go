package monitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"auctionwatch/models"
)

// Broadcaster pushes change events to live connections. Best-effort; the
// notification path does not depend on it.
type Broadcaster interface {
	Publish(event *models.ChangeEvent)
}

// Notifier applies delivery preferences to a request. A nil notification
// with nil error means the request was dropped or deduplicated.
type Notifier interface {
	Schedule(ctx context.Context, req models.NotificationRequest) (*models.Notification, error)
}

// AlertStore provides the interest data loaded once per tick.
type AlertStore interface {
	ListActiveAlerts(ctx context.Context) ([]models.Alert, error)
	ListWatchlist(ctx context.Context) ([]models.WatchlistEntry, error)
}

// RunRecorder persists run stats; satisfied by storage.SQLiteStore.
type RunRecorder interface {
	CreateRun(run *models.MonitorRun) error
	UpdateRun(run *models.MonitorRun) error
	AddLog(runID *int64, level models.LogLevel, task, message string) error
}

// Monitor wires the detector, matcher, reminder scanner, broadcast hub and
// notification scheduler into the periodic pipeline ticks.
type Monitor struct {
	detector  *Detector
	matcher   *Matcher
	reminders *ReminderScanner
	alerts    AlertStore
	notifier  Notifier
	hub       Broadcaster
	runs      RunRecorder // optional
}

func New(detector *Detector, reminders *ReminderScanner, alerts AlertStore, notifier Notifier, hub Broadcaster) *Monitor {
	return &Monitor{
		detector:  detector,
		matcher:   NewMatcher(),
		reminders: reminders,
		alerts:    alerts,
		notifier:  notifier,
		hub:       hub,
	}
}

// SetRunRecorder enables run history persistence.
func (m *Monitor) SetRunRecorder(r RunRecorder) {
	m.runs = r
}

// RunDetect executes one detection tick: diff listings, broadcast every
// event, match events against alerts and watchlists, and schedule the
// resulting notifications.
func (m *Monitor) RunDetect(ctx context.Context) error {
	run := m.startRun(models.TaskDetect)

	res, err := m.detector.Detect(ctx)
	if err != nil {
		m.finishRun(run, models.RunStatusFailed)
		return fmt.Errorf("detect: %w", err)
	}

	run.ListingsSeen = res.ListingsSeen
	run.EventsEmitted = len(res.Events)
	run.ErrorsCount = res.Skipped

	if len(res.Events) > 0 {
		alerts, watchers, err := m.loadInterest(ctx)
		if err != nil {
			m.finishRun(run, models.RunStatusFailed)
			return err
		}

		for i := range res.Events {
			event := &res.Events[i]

			if m.hub != nil {
				m.hub.Publish(event)
			}

			reqs := m.matcher.MatchEvent(event, alerts, watchers[event.ListingID])
			run.RequestsMatched += len(reqs)
			run.NotificationsCreated += m.scheduleAll(ctx, reqs, run)
		}
	}

	log.Printf("Detect tick: %d listings, %d events, %d matches, %d notifications",
		run.ListingsSeen, run.EventsEmitted, run.RequestsMatched, run.NotificationsCreated)
	m.finishRun(run, models.RunStatusCompleted)
	return nil
}

// RunReminders executes one reminder scan tick.
func (m *Monitor) RunReminders(ctx context.Context) error {
	run := m.startRun(models.TaskReminders)

	reqs, err := m.reminders.ScanReminders(ctx)
	if err != nil {
		m.finishRun(run, models.RunStatusFailed)
		return fmt.Errorf("scan reminders: %w", err)
	}

	run.RequestsMatched = len(reqs)
	run.NotificationsCreated = m.scheduleAll(ctx, reqs, run)

	if len(reqs) > 0 {
		log.Printf("Reminder tick: %d requests, %d notifications", len(reqs), run.NotificationsCreated)
	}
	m.finishRun(run, models.RunStatusCompleted)
	return nil
}

func (m *Monitor) loadInterest(ctx context.Context) ([]models.Alert, map[string][]int64, error) {
	alerts, err := m.alerts.ListActiveAlerts(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list alerts: %w", err)
	}

	entries, err := m.alerts.ListWatchlist(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list watchlist: %w", err)
	}

	watchers := make(map[string][]int64)
	for _, e := range entries {
		watchers[e.ListingID] = append(watchers[e.ListingID], e.OwnerID)
	}

	return alerts, watchers, nil
}

func (m *Monitor) scheduleAll(ctx context.Context, reqs []models.NotificationRequest, run *models.MonitorRun) int {
	created := 0
	for i := range reqs {
		n, err := m.notifier.Schedule(ctx, reqs[i])
		if err != nil {
			log.Printf("Monitor: schedule failed for owner %d listing %s: %v",
				reqs[i].OwnerID, reqs[i].Listing.ID, err)
			run.ErrorsCount++
			m.logRun(run, models.LogLevelError,
				fmt.Sprintf("schedule failed for listing %s: %v", reqs[i].Listing.ID, err))
			continue
		}
		if n != nil {
			created++
		}
	}
	return created
}

func (m *Monitor) startRun(task string) *models.MonitorRun {
	run := &models.MonitorRun{
		Task:      task,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}
	if m.runs != nil {
		if err := m.runs.CreateRun(run); err != nil {
			log.Printf("Monitor: create run record: %v", err)
		}
	}
	return run
}

func (m *Monitor) finishRun(run *models.MonitorRun, status models.RunStatus) {
	now := time.Now()
	run.FinishedAt = &now
	run.Status = status
	if m.runs != nil && run.ID != 0 {
		if err := m.runs.UpdateRun(run); err != nil {
			log.Printf("Monitor: update run record: %v", err)
		}
	}
}

func (m *Monitor) logRun(run *models.MonitorRun, level models.LogLevel, message string) {
	if m.runs == nil || run.ID == 0 {
		return
	}
	if err := m.runs.AddLog(&run.ID, level, run.Task, message); err != nil {
		log.Printf("Monitor: add run log: %v", err)
	}
}
