package repos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stim-control-platform/api/internal/models"
	"stim-control-platform/shared/events"
)

type DevicesRepo struct {
	pool *pgxpool.Pool
}

func NewDevicesRepo(pool *pgxpool.Pool) *DevicesRepo {
	return &DevicesRepo{pool: pool}
}

func (r *DevicesRepo) ListDevices(ctx context.Context, ownerID uuid.UUID, limit int, offset int) ([]models.Device, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT device_id, owner_user_id, name, created_at, updated_at
		FROM devices
		WHERE owner_user_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var device models.Device
		if err := rows.Scan(&device.DeviceID, &device.OwnerUserID, &device.Name, &device.CreatedAt, &device.UpdatedAt); err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

func (r *DevicesRepo) GetOwnedDevice(ctx context.Context, ownerID uuid.UUID, deviceID uuid.UUID) (models.Device, error) {
	var device models.Device
	err := r.pool.QueryRow(ctx, `
		SELECT device_id, owner_user_id, name, created_at, updated_at
		FROM devices
		WHERE device_id = $1 AND owner_user_id = $2
	`, deviceID, ownerID).
		Scan(&device.DeviceID, &device.OwnerUserID, &device.Name, &device.CreatedAt, &device.UpdatedAt)
	return device, err
}

// RenameDevice updates the device name and queues a device.updated outbox
// event in the same transaction, so the rename and its notification commit
// or roll back together.
func (r *DevicesRepo) RenameDevice(ctx context.Context, ownerID uuid.UUID, deviceID uuid.UUID, name string, outbox *OutboxRepo) (models.Device, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Device{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	var device models.Device
	err = tx.QueryRow(ctx, `
		UPDATE devices
		SET name = $3, updated_at = $4
		WHERE device_id = $1 AND owner_user_id = $2
		RETURNING device_id, owner_user_id, name, created_at, updated_at
	`, deviceID, ownerID, name, now).
		Scan(&device.DeviceID, &device.OwnerUserID, &device.Name, &device.CreatedAt, &device.UpdatedAt)
	if err != nil {
		return models.Device{}, err
	}

	if outbox != nil {
		payload, err := json.Marshal(events.DeviceUpdated{DeviceID: deviceID, UpdatedAt: now})
		if err != nil {
			return models.Device{}, err
		}
		_, err = outbox.Insert(ctx, tx, models.OutboxEvent{
			AggregateType: "device",
			AggregateID:   deviceID,
			Topic:         events.TopicDeviceUpdates,
			Payload:       payload,
		})
		if err != nil {
			return models.Device{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Device{}, err
	}
	return device, nil
}

// DeviceAccess reports whether the device exists at all and whether the
// caller may see it: owners always, share recipients through any shocker on
// the device.
func (r *DevicesRepo) DeviceAccess(ctx context.Context, deviceID uuid.UUID, callerID uuid.UUID) (bool, bool, error) {
	var exists, allowed bool
	err := r.pool.QueryRow(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM devices d WHERE d.device_id = $1),
			EXISTS (
				SELECT 1 FROM devices d
				WHERE d.device_id = $1 AND (
					d.owner_user_id = $2
					OR EXISTS (
						SELECT 1
						FROM shockers s
						JOIN shocker_shares sh ON sh.shocker_id = s.shocker_id
						WHERE s.device_id = d.device_id AND sh.shared_with_user_id = $2
					)
				)
			)
	`, deviceID, callerID).Scan(&exists, &allowed)
	return exists, allowed, err
}
