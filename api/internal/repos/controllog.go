package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stim-control-platform/api/internal/control"
	"stim-control-platform/api/internal/models"
)

type ControlLogRepo struct {
	pool *pgxpool.Pool
}

func NewControlLogRepo(pool *pgxpool.Pool) *ControlLogRepo {
	return &ControlLogRepo{pool: pool}
}

// RecordControl appends one audit row per accepted command. The whole batch
// commits in a single transaction with a single shared timestamp; a fault
// leaves no partial rows behind.
func (r *ControlLogRepo) RecordControl(ctx context.Context, accepted []control.AcceptedCommand, controllerID uuid.UUID, at time.Time) error {
	if len(accepted) == 0 {
		return nil
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, cmd := range accepted {
		batch.Queue(`
			INSERT INTO control_logs (
				log_id, shocker_id, controlled_by_user_id, type, intensity_pct, duration_ms, created_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7
			)
		`,
			uuid.New(),
			cmd.ShockerID,
			controllerID,
			string(cmd.Type),
			int16(cmd.IntensityPct),
			int64(cmd.DurationMS),
			at,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range accepted {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListForShocker returns the audit trail for one shocker, newest first.
func (r *ControlLogRepo) ListForShocker(ctx context.Context, shockerID uuid.UUID, limit int, offset int) ([]models.ControlLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT log_id, shocker_id, controlled_by_user_id, type, intensity_pct, duration_ms, created_at
		FROM control_logs
		WHERE shocker_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, shockerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.ControlLog
	for rows.Next() {
		var entry models.ControlLog
		var intensity int16
		var duration int64
		if err := rows.Scan(&entry.LogID, &entry.ShockerID, &entry.ControlledByUserID, &entry.Type, &intensity, &duration, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.IntensityPct = uint8(intensity)
		entry.DurationMS = uint(duration)
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
