package types

import (
	"fmt"
	"time"
)

// MedicationSchedule is a member's prescription with its daily intake times.
type MedicationSchedule struct {
	ID               int64        `json:"id"`
	MemberID         int64        `json:"member_id"`
	Name             string       `json:"name"`
	Active           bool         `json:"active"`
	StartDate        *time.Time   `json:"start_date,omitempty"` // Calendar date; nil means open-ended.
	PrescriptionDays int          `json:"prescription_days"`
	IntakeTimes      []IntakeTime `json:"intake_times"`
}

// CoversDate reports whether the prescription period includes day.
// The period runs from StartDate through StartDate+PrescriptionDays inclusive.
func (s MedicationSchedule) CoversDate(day time.Time) bool {
	if s.StartDate == nil {
		return true
	}
	start := dateOnly(*s.StartDate)
	end := start.AddDate(0, 0, s.PrescriptionDays)
	d := dateOnly(day)
	return !d.Before(start) && !d.After(end)
}

// IntakeTime is one scheduled time of day for a schedule.
type IntakeTime struct {
	ID        int64     `json:"id"`
	TimeOfDay TimeOfDay `json:"time_of_day"`
}

// TimeOfDay is a wall-clock time without a date, stored as minutes after midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay(t.Hour()*60 + t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

// Of returns the TimeOfDay of t in t's location.
func Of(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

// On returns the instant this time of day occurs on day, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, int(t)/60, int(t)%60, 0, 0, day.Location())
}

// String formats as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// NotificationPreferences are a member's push settings.
type NotificationPreferences struct {
	PushEnabled       bool       `json:"push_enabled"`
	QuietHoursEnabled bool       `json:"quiet_hours_enabled"`
	QuietStart        *TimeOfDay `json:"quiet_start,omitempty"`
	QuietEnd          *TimeOfDay `json:"quiet_end,omitempty"`
}

// DefaultPreferences apply to members who never saved settings.
func DefaultPreferences() NotificationPreferences {
	return NotificationPreferences{PushEnabled: true}
}

// InQuietHours reports whether local falls strictly inside the quiet window.
// A window whose start is after its end wraps past midnight.
func (p NotificationPreferences) InQuietHours(local time.Time) bool {
	if !p.QuietHoursEnabled || p.QuietStart == nil || p.QuietEnd == nil {
		return false
	}
	now := Of(local)
	start, end := *p.QuietStart, *p.QuietEnd
	if start > end {
		return now > start || now < end
	}
	return now > start && now < end
}

// DeviceToken is a registered push destination.
type DeviceToken struct {
	ID         int64  `json:"id"`
	MemberID   int64  `json:"member_id"`
	Token      string `json:"-"`
	DeviceName string `json:"device_name"`
	Active     bool   `json:"active"`
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
