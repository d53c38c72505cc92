package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// LedgerEntries maps a category to the moment the user last opened it.
type LedgerEntries map[Category]time.Time

// Value implements driver.Valuer storing entries as JSONB.
func (e LedgerEntries) Value() (driver.Value, error) {
	if e == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[Category]time.Time(e))
}

// Scan implements sql.Scanner.
func (e *LedgerEntries) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*e = LedgerEntries{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported ledger entries type %T", src)
	}
	out := map[Category]time.Time{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("decode ledger entries: %w", err)
		}
	}
	*e = out
	return nil
}

// ReadLedger is the per-user last-read row. Writes merge into Entries; a
// category is never removed once present.
type ReadLedger struct {
	UserID    string        `db:"user_id" json:"user_id"`
	Entries   LedgerEntries `db:"entries" json:"entries"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// LastReadAt returns the acknowledgment time for c, or nil when unset.
func (l *ReadLedger) LastReadAt(c Category) *time.Time {
	if l == nil || l.Entries == nil {
		return nil
	}
	ts, ok := l.Entries[c]
	if !ok || ts.IsZero() {
		return nil
	}
	return &ts
}
