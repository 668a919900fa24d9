package repos

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"stim-control-platform/api/internal/control"
)

type AccessRepo struct {
	pool *pgxpool.Pool
}

func NewAccessRepo(pool *pgxpool.Pool) *AccessRepo {
	return &AccessRepo{pool: pool}
}

// ResolveAccess builds the caller's reachable-shocker set: everything on
// devices they own, unrestricted, plus everything shared with them, bound by
// the share's permissions and limits. When a shocker shows up in both sets
// the owned entry wins; a stale share never narrows an owner.
func (r *AccessRepo) ResolveAccess(ctx context.Context, callerID uuid.UUID) ([]control.AccessEntry, error) {
	owned, err := r.ownedShockers(ctx, callerID)
	if err != nil {
		return nil, err
	}
	shared, err := r.sharedShockers(ctx, callerID)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool, len(owned))
	entries := make([]control.AccessEntry, 0, len(owned)+len(shared))
	for _, entry := range owned {
		seen[entry.ShockerID] = true
		entries = append(entries, entry)
	}
	for _, entry := range shared {
		if seen[entry.ShockerID] {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *AccessRepo) ownedShockers(ctx context.Context, ownerID uuid.UUID) ([]control.AccessEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.shocker_id, s.device_id, d.owner_user_id, s.name, s.radio_id, s.model, s.paused
		FROM shockers s
		JOIN devices d ON d.device_id = s.device_id
		WHERE d.owner_user_id = $1
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []control.AccessEntry
	for rows.Next() {
		var entry control.AccessEntry
		if err := rows.Scan(&entry.ShockerID, &entry.DeviceID, &entry.OwnerUserID, &entry.Name, &entry.RadioID, &entry.Model, &entry.Paused); err != nil {
			return nil, err
		}
		entry.Envelope = control.Unrestricted{}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *AccessRepo) sharedShockers(ctx context.Context, sharedWithID uuid.UUID) ([]control.AccessEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.shocker_id, s.device_id, d.owner_user_id, s.name, s.radio_id, s.model, s.paused,
			sh.perm_shock, sh.perm_vibrate, sh.perm_sound, sh.perm_live,
			sh.limit_duration_ms, sh.limit_intensity
		FROM shocker_shares sh
		JOIN shockers s ON s.shocker_id = sh.shocker_id
		JOIN devices d ON d.device_id = s.device_id
		WHERE sh.shared_with_user_id = $1
	`, sharedWithID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []control.AccessEntry
	for rows.Next() {
		var entry control.AccessEntry
		var limits control.LimitedBy
		var limitDuration *int64
		var limitIntensity *int16
		if err := rows.Scan(&entry.ShockerID, &entry.DeviceID, &entry.OwnerUserID, &entry.Name, &entry.RadioID, &entry.Model, &entry.Paused,
			&limits.Shock, &limits.Vibrate, &limits.Sound, &limits.Live,
			&limitDuration, &limitIntensity); err != nil {
			return nil, err
		}
		if limitDuration != nil {
			v := uint(*limitDuration)
			limits.DurationMS = &v
		}
		if limitIntensity != nil {
			v := uint8(*limitIntensity)
			limits.Intensity = &v
		}
		entry.Envelope = limits
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
