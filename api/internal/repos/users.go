package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"stim-control-platform/api/internal/models"
	"stim-control-platform/shared/events"
)

type UsersRepo struct {
	pool *pgxpool.Pool
}

func NewUsersRepo(pool *pgxpool.Pool) *UsersRepo {
	return &UsersRepo{pool: pool}
}

// UpsertUserFromOIDC maps a verified token subject to a local user row,
// refreshing profile fields on every login.
func (r *UsersRepo) UpsertUserFromOIDC(ctx context.Context, subject string, email string, displayName string) (models.User, error) {
	var user models.User
	now := time.Now().UTC()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (subject, email, display_name, created_at, last_login_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (subject) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			last_login_at = EXCLUDED.last_login_at
		RETURNING user_id, subject, email, display_name, COALESCE(image_url, ''), created_at, last_login_at
	`, subject, nullIfEmpty(email), nullIfEmpty(displayName), now).
		Scan(&user.UserID, &user.Subject, &user.Email, &user.DisplayName, &user.ImageURL, &user.CreatedAt, &user.LastLoginAt)
	return user, err
}

func (r *UsersRepo) GetUserBySubject(ctx context.Context, subject string) (models.User, error) {
	var user models.User
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, subject, email, display_name, COALESCE(image_url, ''), created_at, last_login_at
		FROM users
		WHERE subject = $1
	`, subject).
		Scan(&user.UserID, &user.Subject, &user.Email, &user.DisplayName, &user.ImageURL, &user.CreatedAt, &user.LastLoginAt)
	return user, err
}

// GetSender returns the identity shown to shocker owners in their log feed.
func (r *UsersRepo) GetSender(ctx context.Context, userID uuid.UUID) (events.SenderInfo, error) {
	sender := events.SenderInfo{ID: userID}
	err := r.pool.QueryRow(ctx, `
		SELECT display_name, COALESCE(image_url, '')
		FROM users
		WHERE user_id = $1
	`, userID).Scan(&sender.Name, &sender.ImageURL)
	return sender, err
}
