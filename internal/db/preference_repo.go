package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"medtrack/internal/types"
)

// PreferenceRepository reads notification_settings.
type PreferenceRepository struct {
	db DBTX
}

// NewPreferenceRepository creates a PreferenceRepository.
func NewPreferenceRepository(db DBTX) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// Get returns the member's settings, or the defaults (push enabled, no quiet
// hours) when the member never saved any.
func (r *PreferenceRepository) Get(ctx context.Context, memberID int64) (types.NotificationPreferences, error) {
	var (
		p          types.NotificationPreferences
		start, end pgtype.Time
	)
	err := r.db.QueryRow(ctx,
		`SELECT push_enabled, quiet_hours_enabled, quiet_hours_start, quiet_hours_end
		 FROM notification_settings WHERE member_id = $1`,
		memberID,
	).Scan(&p.PushEnabled, &p.QuietHoursEnabled, &start, &end)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.DefaultPreferences(), nil
	}
	if err != nil {
		return types.NotificationPreferences{}, types.NewAppError(types.ErrCodeInternalDB, "failed to read notification settings", err)
	}
	p.QuietStart = timeOfDay(start)
	p.QuietEnd = timeOfDay(end)
	return p, nil
}

func timeOfDay(t pgtype.Time) *types.TimeOfDay {
	if !t.Valid {
		return nil
	}
	v := types.TimeOfDay(t.Microseconds / 60_000_000)
	return &v
}
