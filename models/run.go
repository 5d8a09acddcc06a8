package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Task names recorded in monitor runs.
const (
	TaskDetect    = "detect"
	TaskReminders = "reminders"
	TaskSweep     = "sweep"
	TaskIngest    = "ingest"
)

// MonitorRun records one execution of a periodic pipeline task.
type MonitorRun struct {
	ID                   int64      `json:"id" db:"id"`
	Task                 string     `json:"task" db:"task"`
	StartedAt            time.Time  `json:"started_at" db:"started_at"`
	FinishedAt           *time.Time `json:"finished_at" db:"finished_at"`
	Status               RunStatus  `json:"status" db:"status"`
	ListingsSeen         int        `json:"listings_seen" db:"listings_seen"`
	EventsEmitted        int        `json:"events_emitted" db:"events_emitted"`
	RequestsMatched      int        `json:"requests_matched" db:"requests_matched"`
	NotificationsCreated int        `json:"notifications_created" db:"notifications_created"`
	ErrorsCount          int        `json:"errors_count" db:"errors_count"`
}
