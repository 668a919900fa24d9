package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"stim-control-platform/api/internal/models"
)

type ShockersRepo struct {
	pool *pgxpool.Pool
}

func NewShockersRepo(pool *pgxpool.Pool) *ShockersRepo {
	return &ShockersRepo{pool: pool}
}

// SetPaused flips the pause flag. Scoped to the owner: returns false when the
// shocker does not exist or does not belong to the caller, so the two stay
// indistinguishable upstream.
func (r *ShockersRepo) SetPaused(ctx context.Context, ownerID uuid.UUID, shockerID uuid.UUID, paused bool) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE shockers s
		SET paused = $3, updated_at = $4
		FROM devices d
		WHERE s.shocker_id = $1 AND d.device_id = s.device_id AND d.owner_user_id = $2
	`, shockerID, ownerID, paused, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// OwnedByCaller reports whether the shocker's owning device belongs to the
// caller.
func (r *ShockersRepo) OwnedByCaller(ctx context.Context, ownerID uuid.UUID, shockerID uuid.UUID) (bool, error) {
	var owned bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM shockers s
			JOIN devices d ON d.device_id = s.device_id
			WHERE s.shocker_id = $1 AND d.owner_user_id = $2
		)
	`, shockerID, ownerID).Scan(&owned)
	return owned, err
}

func (r *ShockersRepo) ListForDevice(ctx context.Context, deviceID uuid.UUID) ([]models.Shocker, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT shocker_id, device_id, radio_id, model, name, paused, created_at, updated_at
		FROM shockers
		WHERE device_id = $1
		ORDER BY created_at ASC
	`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shockers []models.Shocker
	for rows.Next() {
		var s models.Shocker
		if err := rows.Scan(&s.ShockerID, &s.DeviceID, &s.RadioID, &s.Model, &s.Name, &s.Paused, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		shockers = append(shockers, s)
	}
	return shockers, rows.Err()
}
