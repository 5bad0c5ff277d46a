package types

import (
	"fmt"
	"strings"
	"time"
)

// JobID is the opaque identifier assigned to a NotificationJob at enqueue time.
// It is preserved across retries.
type JobID string

// Category classifies what a notification job is about.
type Category string

const (
	CategoryMissedDoseReminder Category = "MISSED_DOSE_REMINDER"
	CategorySideEffectNudge    Category = "SIDE_EFFECT_NUDGE"
	CategorySystemAlert        Category = "SYSTEM_ALERT"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryMissedDoseReminder, CategorySideEffectNudge, CategorySystemAlert:
		return true
	}
	return false
}

// Payload keys understood by the push transport.
const (
	PayloadTitle = "title"
	PayloadBody  = "body"
	PayloadData  = "data"
)

// NotificationJob is a unit of work flowing through the job log.
//
// Attempt counts delivery attempts already made; it never exceeds MaxAttempts.
// Fingerprint, when set, deduplicates logically equivalent enqueues while a job
// with the same fingerprint is still live.
type NotificationJob struct {
	ID             JobID          `json:"id"`
	Category       Category       `json:"category"`
	TargetMemberID int64          `json:"target_member_id"`
	Payload        map[string]any `json:"payload"`
	NotBefore      time.Time      `json:"not_before"`
	Attempt        int            `json:"attempt"`
	MaxAttempts    int            `json:"max_attempts"`
	EnqueuedAt     time.Time      `json:"enqueued_at"`
	LastAttemptAt  time.Time      `json:"last_attempt_at,omitempty"`
	Fingerprint    string         `json:"fingerprint,omitempty"`
}

// Validate checks the producer-supplied fields of a job.
func (j NotificationJob) Validate() error {
	if !j.Category.Valid() {
		return NewAppError(ErrCodeValidationInvalidJob, fmt.Sprintf("unknown category %q", j.Category), nil)
	}
	if j.TargetMemberID <= 0 {
		return NewAppError(ErrCodeValidationInvalidJob, "target member id must be positive", nil)
	}
	if j.Attempt < 0 || (j.MaxAttempts > 0 && j.Attempt > j.MaxAttempts) {
		return NewAppError(ErrCodeValidationInvalidJob, fmt.Sprintf("attempt %d outside [0, %d]", j.Attempt, j.MaxAttempts), nil)
	}
	return nil
}

// Exhausted reports whether no further delivery attempt is allowed.
func (j NotificationJob) Exhausted() bool {
	return j.Attempt >= j.MaxAttempts
}

// Deliverable reports whether the job may be delivered at now.
func (j NotificationJob) Deliverable(now time.Time) bool {
	return !j.NotBefore.After(now)
}

// Title returns the push title carried in the payload.
func (j NotificationJob) Title() string {
	s, _ := j.Payload[PayloadTitle].(string)
	return s
}

// Body returns the push body carried in the payload.
func (j NotificationJob) Body() string {
	s, _ := j.Payload[PayloadBody].(string)
	return s
}

// DeadLetterRecord is a job that exhausted its retries or failed permanently.
type DeadLetterRecord struct {
	Job            NotificationJob `json:"job"`
	FailureReason  string          `json:"failure_reason"`
	DeadLetteredAt time.Time       `json:"dead_lettered_at"`
}

// Severity orders operator alerts. Higher values are more severe.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the canonical upper-case name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseSeverity parses a severity name case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return SeverityLow, nil
	case "MEDIUM":
		return SeverityMedium, nil
	case "HIGH":
		return SeverityHigh, nil
	case "CRITICAL":
		return SeverityCritical, nil
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

// SeverityFor maps a dead-lettered job category to its alert severity.
func SeverityFor(c Category) Severity {
	if c == CategorySystemAlert {
		return SeverityHigh
	}
	return SeverityMedium
}
