package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"medtrack/internal/types"
)

// ScheduleRepository reads medication schedules, their intake times and the
// intake records written by the product API.
type ScheduleRepository struct {
	db DBTX
}

// NewScheduleRepository creates a ScheduleRepository.
func NewScheduleRepository(db DBTX) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// ActiveSchedules returns the member's active schedules with their intake
// times ordered by time of day. Prescription windows are not filtered here.
func (r *ScheduleRepository) ActiveSchedules(ctx context.Context, memberID int64) ([]types.MedicationSchedule, error) {
	rows, err := r.db.Query(ctx,
		`SELECT s.medication_schedule_id, s.member_id, s.name, s.start_of_ad,
		        s.prescription_days, t.medication_time_id, t.take_time
		 FROM medication_schedule s
		 LEFT JOIN medication_time t ON t.medication_schedule_id = s.medication_schedule_id
		 WHERE s.member_id = $1 AND s.is_active
		 ORDER BY s.medication_schedule_id, t.take_time`,
		memberID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query schedules", err)
	}
	defer rows.Close()

	var (
		schedules []types.MedicationSchedule
		index     = map[int64]int{}
	)
	for rows.Next() {
		var (
			s        types.MedicationSchedule
			start    pgtype.Date
			timeID   pgtype.Int8
			takeTime pgtype.Time
		)
		if err := rows.Scan(&s.ID, &s.MemberID, &s.Name, &start, &s.PrescriptionDays, &timeID, &takeTime); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan schedule row", err)
		}
		i, seen := index[s.ID]
		if !seen {
			s.Active = true
			if start.Valid {
				d := start.Time
				s.StartDate = &d
			}
			schedules = append(schedules, s)
			i = len(schedules) - 1
			index[s.ID] = i
		}
		if timeID.Valid && takeTime.Valid {
			schedules[i].IntakeTimes = append(schedules[i].IntakeTimes, types.IntakeTime{
				ID:        timeID.Int64,
				TimeOfDay: *timeOfDay(takeTime),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating schedule rows", err)
	}
	return schedules, nil
}

// IntakeTaken reports whether a taken intake record exists for the schedule
// and intake time within [dayStart, dayStart+24h).
func (r *ScheduleRepository) IntakeTaken(ctx context.Context, scheduleID, timeID int64, dayStart time.Time) (bool, error) {
	var taken bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM medication_record
		   WHERE medication_schedule_id = $1
		     AND medication_time_id = $2
		     AND is_take_medication
		     AND real_take_time >= $3 AND real_take_time < $4)`,
		scheduleID, timeID, dayStart, dayStart.Add(24*time.Hour),
	).Scan(&taken)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check intake record", err)
	}
	return taken, nil
}

// MemberExists reports whether the member row exists.
func (r *ScheduleRepository) MemberExists(ctx context.Context, memberID int64) (bool, error) {
	var id int64
	err := r.db.QueryRow(ctx, `SELECT member_id FROM member WHERE member_id = $1`, memberID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to look up member", err)
	}
	return true, nil
}
