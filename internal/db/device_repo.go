package db

import (
	"context"

	"medtrack/internal/types"
)

// DeviceTokenRepository provides access to the fcm_device_token table.
type DeviceTokenRepository struct {
	db DBTX
}

// NewDeviceTokenRepository creates a DeviceTokenRepository.
func NewDeviceTokenRepository(db DBTX) *DeviceTokenRepository {
	return &DeviceTokenRepository{db: db}
}

// ListActive returns the member's active device tokens, most recently used first.
func (r *DeviceTokenRepository) ListActive(ctx context.Context, memberID int64) ([]types.DeviceToken, error) {
	rows, err := r.db.Query(ctx,
		`SELECT fcm_device_token_id, member_id, token, COALESCE(device_name, '')
		 FROM fcm_device_token
		 WHERE member_id = $1 AND is_active
		 ORDER BY last_used_at DESC NULLS LAST, fcm_device_token_id`,
		memberID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list device tokens", err)
	}
	defer rows.Close()

	var tokens []types.DeviceToken
	for rows.Next() {
		t := types.DeviceToken{Active: true}
		if err := rows.Scan(&t.ID, &t.MemberID, &t.Token, &t.DeviceName); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan device token row", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating device token rows", err)
	}
	return tokens, nil
}

// Deactivate marks a token inactive after the gateway rejected it. Deactivating
// an unknown or already inactive token is not an error.
func (r *DeviceTokenRepository) Deactivate(ctx context.Context, tokenID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE fcm_device_token SET is_active = FALSE, updated_at = NOW()
		 WHERE fcm_device_token_id = $1 AND is_active`,
		tokenID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to deactivate device token", err)
	}
	return nil
}

// Touch records a successful delivery to the token.
func (r *DeviceTokenRepository) Touch(ctx context.Context, tokenID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE fcm_device_token SET last_used_at = NOW() WHERE fcm_device_token_id = $1`,
		tokenID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to touch device token", err)
	}
	return nil
}
