package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/student-portal-api/internal/models"
)

const pushColumns = `id, user_id, token, platform, user_agent, created_at, last_seen_at`

// PushSubscriptionRepository stores device tokens for push delivery.
type PushSubscriptionRepository struct {
	db *sqlx.DB
}

// NewPushSubscriptionRepository creates the repository.
func NewPushSubscriptionRepository(db *sqlx.DB) *PushSubscriptionRepository {
	return &PushSubscriptionRepository{db: db}
}

// Upsert registers a token. A token already known moves to the new owner and
// has its last_seen_at refreshed.
func (r *PushSubscriptionRepository) Upsert(ctx context.Context, sub *models.PushSubscription) error {
	now := time.Now().UTC()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.LastSeenAt = now
	const query = `INSERT INTO push_subscriptions (` + pushColumns + `)
VALUES (:id, :user_id, :token, :platform, :user_agent, :created_at, :last_seen_at)
ON CONFLICT (token) DO UPDATE SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform,
user_agent = EXCLUDED.user_agent, last_seen_at = EXCLUDED.last_seen_at`
	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		return fmt.Errorf("upsert push subscription: %w", err)
	}
	return nil
}

// DeleteByToken removes a token owned by userID and reports whether it existed.
func (r *PushSubscriptionRepository) DeleteByToken(ctx context.Context, userID, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE user_id = $1 AND token = $2`, userID, token)
	if err != nil {
		return false, fmt.Errorf("delete push subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete push subscription rows: %w", err)
	}
	return n > 0, nil
}

// ListByUser returns the tokens registered by one user.
func (r *PushSubscriptionRepository) ListByUser(ctx context.Context, userID string) ([]models.PushSubscription, error) {
	query := `SELECT ` + pushColumns + ` FROM push_subscriptions WHERE user_id = $1 ORDER BY last_seen_at DESC`
	var subs []models.PushSubscription
	if err := r.db.SelectContext(ctx, &subs, query, userID); err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	return subs, nil
}

// ListAll returns every registered token.
func (r *PushSubscriptionRepository) ListAll(ctx context.Context) ([]models.PushSubscription, error) {
	query := `SELECT ` + pushColumns + ` FROM push_subscriptions ORDER BY created_at`
	var subs []models.PushSubscription
	if err := r.db.SelectContext(ctx, &subs, query); err != nil {
		return nil, fmt.Errorf("list all push subscriptions: %w", err)
	}
	return subs, nil
}

// DeleteTokens prunes tokens the push provider reported as unregistered.
func (r *PushSubscriptionRepository) DeleteTokens(ctx context.Context, tokens []string) (int, error) {
	if len(tokens) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE token = ANY($1)`, pq.Array(tokens))
	if err != nil {
		return 0, fmt.Errorf("prune push subscriptions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune push subscriptions rows: %w", err)
	}
	return int(n), nil
}
