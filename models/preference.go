package models

import (
	"time"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// NotificationPreference holds one owner's delivery settings. Quiet hours
// are local times in the owner's timezone; an end before the start means
// the window wraps past midnight.
type NotificationPreference struct {
	OwnerID         int64     `json:"owner_id" db:"owner_id"`
	EmailEnabled    bool      `json:"email_enabled" db:"email_enabled"`
	SMSEnabled      bool      `json:"sms_enabled" db:"sms_enabled"`
	PushEnabled     bool      `json:"push_enabled" db:"push_enabled"`
	InAppEnabled    bool      `json:"in_app_enabled" db:"in_app_enabled"`
	QuietHoursStart string    `json:"quiet_hours_start" db:"quiet_hours_start"` // "22:00", empty = none
	QuietHoursEnd   string    `json:"quiet_hours_end" db:"quiet_hours_end"`
	Timezone        string    `json:"timezone" db:"timezone"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultPreference is used for owners with no stored row: in-app only.
func DefaultPreference(ownerID int64) *NotificationPreference {
	return &NotificationPreference{OwnerID: ownerID, InAppEnabled: true}
}

// ExternalChannels returns the externally-delivered channels the owner has
// opted into. The in-app record is not listed here; it is written for every
// accepted notification regardless of channel settings.
func (p *NotificationPreference) ExternalChannels() []Channel {
	var out []Channel
	if p.EmailEnabled {
		out = append(out, ChannelEmail)
	}
	if p.SMSEnabled {
		out = append(out, ChannelSMS)
	}
	if p.PushEnabled {
		out = append(out, ChannelPush)
	}
	return out
}

// HasAnyChannel reports whether any delivery surface is enabled at all.
func (p *NotificationPreference) HasAnyChannel() bool {
	return p.InAppEnabled || p.EmailEnabled || p.SMSEnabled || p.PushEnabled
}

// InQuietHours reports whether now falls inside the owner's quiet window
// [start, end), and if so the next instant the window ends. The window
// boundaries themselves deliver immediately: start-1min is outside, end is
// outside.
func (p *NotificationPreference) InQuietHours(now time.Time) (bool, time.Time) {
	start, okStart := parseClock(p.QuietHoursStart)
	end, okEnd := parseClock(p.QuietHoursEnd)
	if !okStart || !okEnd || start == end {
		return false, time.Time{}
	}

	loc := time.UTC
	if p.Timezone != "" {
		if l, err := time.LoadLocation(p.Timezone); err == nil {
			loc = l
		}
	}

	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()

	var inside bool
	if start < end {
		inside = cur >= start && cur < end
	} else {
		// Window spans midnight, e.g. 22:00-06:00.
		inside = cur >= start || cur < end
	}
	if !inside {
		return false, time.Time{}
	}

	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	until := midnight.Add(time.Duration(end) * time.Minute)
	if !until.After(local) {
		until = until.Add(24 * time.Hour)
	}
	return true, until
}

// parseClock parses "HH:MM" into minutes from midnight.
func parseClock(s string) (int, bool) {
	if len(s) < 4 {
		return 0, false
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
