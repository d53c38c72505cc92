package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/student-portal-api/internal/models"
)

// LedgerRepository persists per-user last-read timestamps.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository creates the repository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Get returns the ledger for userID. A user who never read anything gets an
// empty ledger rather than an error.
func (r *LedgerRepository) Get(ctx context.Context, userID string) (*models.ReadLedger, error) {
	const query = `SELECT user_id, entries, updated_at FROM read_ledgers WHERE user_id = $1`
	var ledger models.ReadLedger
	if err := r.db.GetContext(ctx, &ledger, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.ReadLedger{UserID: userID, Entries: models.LedgerEntries{}}, nil
		}
		return nil, fmt.Errorf("get read ledger: %w", err)
	}
	if ledger.Entries == nil {
		ledger.Entries = models.LedgerEntries{}
	}
	return &ledger, nil
}

// Upsert sets one category's timestamp, merging into existing entries so
// other categories are left untouched.
func (r *LedgerRepository) Upsert(ctx context.Context, userID string, category models.Category, at time.Time) error {
	entry, err := json.Marshal(map[models.Category]time.Time{category: at.UTC()})
	if err != nil {
		return fmt.Errorf("encode ledger entry: %w", err)
	}
	const query = `INSERT INTO read_ledgers (user_id, entries, updated_at) VALUES ($1, $2::jsonb, $3)
ON CONFLICT (user_id) DO UPDATE SET entries = read_ledgers.entries || EXCLUDED.entries, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, userID, string(entry), at.UTC()); err != nil {
		return fmt.Errorf("upsert read ledger: %w", err)
	}
	return nil
}
