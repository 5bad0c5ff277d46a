package worker

import (
	"context"

	"medtrack/internal/db"
	"medtrack/internal/types"
)

// Recipients resolves who a job goes to and records device outcomes.
type Recipients interface {
	Preferences(ctx context.Context, memberID int64) (types.NotificationPreferences, error)
	ActiveDevices(ctx context.Context, memberID int64) ([]types.DeviceToken, error)
	DeactivateDevice(ctx context.Context, tokenID int64) error
	TouchDevice(ctx context.Context, tokenID int64) error
}

// DBRecipients reads recipients from the product database.
type DBRecipients struct {
	prefs   *db.PreferenceRepository
	devices *db.DeviceTokenRepository
}

// NewDBRecipients creates DBRecipients over one connection.
func NewDBRecipients(conn db.DBTX) *DBRecipients {
	return &DBRecipients{
		prefs:   db.NewPreferenceRepository(conn),
		devices: db.NewDeviceTokenRepository(conn),
	}
}

func (r *DBRecipients) Preferences(ctx context.Context, memberID int64) (types.NotificationPreferences, error) {
	return r.prefs.Get(ctx, memberID)
}

func (r *DBRecipients) ActiveDevices(ctx context.Context, memberID int64) ([]types.DeviceToken, error) {
	return r.devices.ListActive(ctx, memberID)
}

func (r *DBRecipients) DeactivateDevice(ctx context.Context, tokenID int64) error {
	return r.devices.Deactivate(ctx, tokenID)
}

func (r *DBRecipients) TouchDevice(ctx context.Context, tokenID int64) error {
	return r.devices.Touch(ctx, tokenID)
}

// LocalRecipients gives every member default preferences and one fake
// device. For local runs without a database.
type LocalRecipients struct{}

func (LocalRecipients) Preferences(context.Context, int64) (types.NotificationPreferences, error) {
	return types.DefaultPreferences(), nil
}

func (LocalRecipients) ActiveDevices(_ context.Context, memberID int64) ([]types.DeviceToken, error) {
	return []types.DeviceToken{{ID: memberID, MemberID: memberID, Token: "local-device-token", DeviceName: "local", Active: true}}, nil
}

func (LocalRecipients) DeactivateDevice(context.Context, int64) error { return nil }

func (LocalRecipients) TouchDevice(context.Context, int64) error { return nil }
