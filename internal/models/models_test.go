package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Results ")
	require.NoError(t, err)
	assert.Equal(t, CategoryResults, c)

	_, err = ParseCategory("grades")
	assert.Error(t, err)

	assert.True(t, CategoryNotifications.Global())
	assert.False(t, CategoryAttendance.Global())
}

func TestLedgerEntriesRoundTripThroughDriver(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	entries := LedgerEntries{CategoryAttendance: at}

	raw, err := entries.Value()
	require.NoError(t, err)

	var scanned LedgerEntries
	require.NoError(t, scanned.Scan(raw))
	assert.True(t, at.Equal(scanned[CategoryAttendance]))

	var empty LedgerEntries
	require.NoError(t, empty.Scan(nil))
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	assert.Error(t, empty.Scan(42))
}

func TestReadLedgerLastReadAt(t *testing.T) {
	var nilLedger *ReadLedger
	assert.Nil(t, nilLedger.LastReadAt(CategoryResults))

	at := time.Now().UTC()
	ledger := &ReadLedger{Entries: LedgerEntries{CategoryResults: at, CategoryProjects: {}}}
	require.NotNil(t, ledger.LastReadAt(CategoryResults))
	assert.True(t, at.Equal(*ledger.LastReadAt(CategoryResults)))
	assert.Nil(t, ledger.LastReadAt(CategoryProjects))
	assert.Nil(t, ledger.LastReadAt(CategoryNegatives))
}

func TestEmptySnapshotCoversEveryCategory(t *testing.T) {
	snap := EmptySnapshot(time.Now())
	assert.Len(t, snap.Counts, len(Categories))
	assert.Len(t, snap.Statuses, len(Categories))
	assert.Equal(t, 0, snap.Counts.Total())
}
