package types

import "time"

// EventType names a domain event that can trigger reminder generation.
type EventType string

const (
	// EventLoginSucceeded triggers the missed-dose sweep for the member.
	EventLoginSucceeded EventType = "login_succeeded"
	// EventIntakeRecorded triggers the delayed side-effect nudge.
	EventIntakeRecorded EventType = "intake_recorded"
	// EventSweepRequested is an operator-initiated missed-dose sweep.
	EventSweepRequested EventType = "sweep_requested"
)

// DomainEvent is the SQS envelope the product API publishes fire-and-forget.
// JSON tags use snake_case to match the API's serializer.
type DomainEvent struct {
	EventID    string       `json:"event_id" validate:"required"`
	Type       EventType    `json:"type" validate:"required,oneof=login_succeeded intake_recorded sweep_requested"`
	MemberID   int64        `json:"member_id" validate:"required,gt=0"`
	OccurredAt time.Time    `json:"occurred_at" validate:"required"`
	Intake     *IntakeEvent `json:"intake,omitempty" validate:"required_if=Type intake_recorded,omitempty"`
}

// IntakeEvent describes a newly created intake record.
type IntakeEvent struct {
	RecordID   int64     `json:"record_id" validate:"required,gt=0"`
	ScheduleID int64     `json:"schedule_id" validate:"required,gt=0"`
	TakenAt    time.Time `json:"taken_at" validate:"required"`
	Taken      bool      `json:"taken"`
}
