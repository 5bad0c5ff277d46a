// Package reminder turns product domain events into notification jobs.
//
// Producers only ever call Enqueue; delivery is the worker's business.
package reminder

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"medtrack/internal/types"
)

// Schedules reads the member data the missed-dose sweep needs.
type Schedules interface {
	ActiveSchedules(ctx context.Context, memberID int64) ([]types.MedicationSchedule, error)
	IntakeTaken(ctx context.Context, scheduleID, timeID int64, dayStart time.Time) (bool, error)
}

// SweepResult summarizes one missed-dose sweep.
type SweepResult struct {
	MemberID int64       `json:"member_id"`
	Date     string      `json:"date"`
	Checked  int         `json:"checked"`
	Missed   int         `json:"missed"`
	JobID    types.JobID `json:"job_id,omitempty"`
}

// Generator produces reminder jobs.
type Generator struct {
	producer   types.Producer
	schedules  Schedules
	clock      types.Clock
	loc        *time.Location
	nudgeDelay time.Duration
	logger     types.Logger
}

// NewGenerator creates a Generator. Calendar days are evaluated in loc.
func NewGenerator(producer types.Producer, schedules Schedules, clock types.Clock, loc *time.Location, nudgeDelay time.Duration, logger types.Logger) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{
		producer:   producer,
		schedules:  schedules,
		clock:      clock,
		loc:        loc,
		nudgeDelay: nudgeDelay,
		logger:     logger.With("component", "reminder_generator"),
	}
}

// SweepMissedDoses counts today's intake times that have passed without a
// taken record and enqueues at most one MISSED_DOSE_REMINDER for the member.
// Repeated sweeps on the same day collapse onto the same job while it is live.
func (g *Generator) SweepMissedDoses(ctx context.Context, memberID int64) (SweepResult, error) {
	now := g.clock.Now().In(g.loc)
	y, m, d := now.Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, g.loc)
	result := SweepResult{MemberID: memberID, Date: dayStart.Format(time.DateOnly)}

	schedules, err := g.schedules.ActiveSchedules(ctx, memberID)
	if err != nil {
		return result, fmt.Errorf("load schedules for member %d: %w", memberID, err)
	}

	for _, s := range schedules {
		if !s.Active || !s.CoversDate(dayStart) {
			continue
		}
		for _, it := range s.IntakeTimes {
			if !it.TimeOfDay.On(dayStart).Before(now) {
				continue
			}
			result.Checked++
			taken, err := g.schedules.IntakeTaken(ctx, s.ID, it.ID, dayStart)
			if err != nil {
				return result, fmt.Errorf("check intake for schedule %d at %s: %w", s.ID, it.TimeOfDay, err)
			}
			if !taken {
				result.Missed++
			}
		}
	}

	if result.Missed == 0 {
		return result, nil
	}

	id, err := g.producer.Enqueue(ctx, types.NotificationJob{
		Category:       types.CategoryMissedDoseReminder,
		TargetMemberID: memberID,
		Payload: map[string]any{
			types.PayloadTitle: "Medication reminder",
			types.PayloadBody:  fmt.Sprintf("You have %d medication doses not yet taken today.", result.Missed),
			types.PayloadData: map[string]any{
				"type":         "MISSED_MEDICATION",
				"missed_count": strconv.Itoa(result.Missed),
			},
		},
		NotBefore:   g.clock.Now(),
		Fingerprint: fmt.Sprintf("missed_dose:%d:%s", memberID, result.Date),
	})
	if err != nil {
		return result, err
	}
	result.JobID = id
	g.logger.Info("Missed-dose reminder enqueued", "member_id", memberID, "missed", result.Missed, "job_id", id)
	return result, nil
}

// ScheduleSideEffectNudge enqueues a prompt to record side effects
// NUDGE_DELAY after a taken intake. Intakes not marked taken yield no job.
// A NotBefore already in the past is delivered immediately.
func (g *Generator) ScheduleSideEffectNudge(ctx context.Context, memberID int64, intake types.IntakeEvent) (types.JobID, error) {
	if !intake.Taken {
		return "", nil
	}
	id, err := g.producer.Enqueue(ctx, types.NotificationJob{
		Category:       types.CategorySideEffectNudge,
		TargetMemberID: memberID,
		Payload: map[string]any{
			types.PayloadTitle: "Record side effects",
			types.PayloadBody:  "It has been an hour since your dose. If you noticed any side effects, please record them.",
			types.PayloadData: map[string]any{
				"type":        "SIDE_EFFECT_REMINDER",
				"schedule_id": strconv.FormatInt(intake.ScheduleID, 10),
				"record_id":   strconv.FormatInt(intake.RecordID, 10),
			},
		},
		NotBefore:   intake.TakenAt.Add(g.nudgeDelay),
		Fingerprint: fmt.Sprintf("side_effect_nudge:%d", intake.RecordID),
	})
	if err != nil {
		return "", err
	}
	g.logger.Info("Side-effect nudge scheduled", "member_id", memberID, "record_id", intake.RecordID, "job_id", id)
	return id, nil
}

// Dispatch routes a domain event to the matching producer routine.
func (g *Generator) Dispatch(ctx context.Context, ev types.DomainEvent) error {
	switch ev.Type {
	case types.EventLoginSucceeded, types.EventSweepRequested:
		_, err := g.SweepMissedDoses(ctx, ev.MemberID)
		return err
	case types.EventIntakeRecorded:
		if ev.Intake == nil {
			return types.NewAppError(types.ErrCodeValidationMissingField, "intake_recorded event without intake", nil)
		}
		_, err := g.ScheduleSideEffectNudge(ctx, ev.MemberID, *ev.Intake)
		return err
	default:
		return types.NewAppError(types.ErrCodeValidationInvalidEvent, fmt.Sprintf("unsupported event type %q", ev.Type), nil)
	}
}
