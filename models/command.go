package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdRunDetect    CommandType = "run_detect"
	CmdRunReminders CommandType = "run_reminders"
	CmdRunSweep     CommandType = "run_sweep"
	CmdRunIngest    CommandType = "run_ingest"
)

// Command is an operator-issued trigger picked up by the scheduler's
// command poller.
type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	State     string `json:"state,omitempty"`
	ListingID string `json:"listing_id,omitempty"`
}
