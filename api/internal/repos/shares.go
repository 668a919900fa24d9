package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"stim-control-platform/api/internal/models"
)

type SharesRepo struct {
	pool *pgxpool.Pool
}

func NewSharesRepo(pool *pgxpool.Pool) *SharesRepo {
	return &SharesRepo{pool: pool}
}

// UpsertShare creates or replaces the grant for (shocker, recipient). Only
// the shocker's owner may call this; OwnedByCaller enforces that at the
// handler level.
func (r *SharesRepo) UpsertShare(ctx context.Context, share models.ShockerShare) (models.ShockerShare, error) {
	now := time.Now().UTC()
	var limitDuration *int64
	if share.LimitDurationMS != nil {
		v := int64(*share.LimitDurationMS)
		limitDuration = &v
	}
	var limitIntensity *int16
	if share.LimitIntensity != nil {
		v := int16(*share.LimitIntensity)
		limitIntensity = &v
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO shocker_shares (
			shocker_id, shared_with_user_id, perm_shock, perm_vibrate, perm_sound, perm_live,
			limit_duration_ms, limit_intensity, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (shocker_id, shared_with_user_id) DO UPDATE SET
			perm_shock = EXCLUDED.perm_shock,
			perm_vibrate = EXCLUDED.perm_vibrate,
			perm_sound = EXCLUDED.perm_sound,
			perm_live = EXCLUDED.perm_live,
			limit_duration_ms = EXCLUDED.limit_duration_ms,
			limit_intensity = EXCLUDED.limit_intensity,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`, share.ShockerID, share.SharedWithUserID, share.PermShock, share.PermVibrate, share.PermSound, share.PermLive,
		limitDuration, limitIntensity, now).
		Scan(&share.CreatedAt, &share.UpdatedAt)
	return share, err
}

func (r *SharesRepo) DeleteShare(ctx context.Context, shockerID uuid.UUID, sharedWithID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM shocker_shares
		WHERE shocker_id = $1 AND shared_with_user_id = $2
	`, shockerID, sharedWithID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *SharesRepo) ListSharesForShocker(ctx context.Context, shockerID uuid.UUID) ([]models.ShockerShare, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT shocker_id, shared_with_user_id, perm_shock, perm_vibrate, perm_sound, perm_live,
			limit_duration_ms, limit_intensity, created_at, updated_at
		FROM shocker_shares
		WHERE shocker_id = $1
		ORDER BY created_at ASC
	`, shockerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shares []models.ShockerShare
	for rows.Next() {
		var share models.ShockerShare
		var limitDuration *int64
		var limitIntensity *int16
		if err := rows.Scan(&share.ShockerID, &share.SharedWithUserID, &share.PermShock, &share.PermVibrate, &share.PermSound, &share.PermLive,
			&limitDuration, &limitIntensity, &share.CreatedAt, &share.UpdatedAt); err != nil {
			return nil, err
		}
		if limitDuration != nil {
			v := uint(*limitDuration)
			share.LimitDurationMS = &v
		}
		if limitIntensity != nil {
			v := uint8(*limitIntensity)
			share.LimitIntensity = &v
		}
		shares = append(shares, share)
	}
	return shares, rows.Err()
}
