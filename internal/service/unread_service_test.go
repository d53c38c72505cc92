package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/models"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
)

type fakeRecord struct {
	category models.Category
	owner    string
	status   string
	at       time.Time
}

// fakeRecordStore applies the same ownership and timestamp rules as the SQL
// repository.
type fakeRecordStore struct {
	mu      sync.Mutex
	records []fakeRecord
	failing map[models.Category]error
	calls   map[models.Category]int
}

func (f *fakeRecordStore) add(r fakeRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
}

func (f *fakeRecordStore) CountSince(ctx context.Context, category models.Category, rollNumber string, since *time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[models.Category]int{}
	}
	f.calls[category]++
	if err := f.failing[category]; err != nil {
		return 0, err
	}
	count := 0
	for _, r := range f.records {
		if r.category != category {
			continue
		}
		if !category.Global() && r.owner != rollNumber {
			continue
		}
		if category == models.CategoryAttendance && r.status != models.AttendanceAbsent {
			continue
		}
		if since != nil && !r.at.After(*since) {
			continue
		}
		count++
	}
	return count, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	entries map[string]models.LedgerEntries
	getErr  error
	upErr   error
	writes  int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: map[string]models.LedgerEntries{}}
}

func (f *fakeLedger) Get(ctx context.Context, userID string) (*models.ReadLedger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	out := models.LedgerEntries{}
	for k, v := range f.entries[userID] {
		out[k] = v
	}
	return &models.ReadLedger{UserID: userID, Entries: out}, nil
}

func (f *fakeLedger) Upsert(ctx context.Context, userID string, category models.Category, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upErr != nil {
		return f.upErr
	}
	if f.entries[userID] == nil {
		f.entries[userID] = models.LedgerEntries{}
	}
	f.entries[userID][category] = at
	f.writes++
	return nil
}

func (f *fakeLedger) set(userID string, category models.Category, at time.Time) {
	_ = f.Upsert(context.Background(), userID, category, at)
}

type fakeProfiles struct {
	profile *models.StudentProfile
	err     error
}

func (f *fakeProfiles) Resolve(ctx context.Context, principal models.Principal) (*models.StudentProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.profile, nil
}

var studentA1 = models.Principal{ID: "user-a1", Email: "a1@example.com", Role: models.RoleStudent}

func newUnreadFixture() (*UnreadService, *fakeRecordStore, *fakeLedger, *fakeProfiles) {
	records := &fakeRecordStore{}
	ledger := newFakeLedger()
	profiles := &fakeProfiles{profile: &models.StudentProfile{Email: "a1@example.com", RollNumber: "A1", Batch: "2024"}}
	svc := NewUnreadService(records, ledger, profiles, nil, NewMetricsService(), zap.NewNop(), UnreadConfig{CategoryTimeout: time.Second})
	return svc, records, ledger, profiles
}

func TestUnreadCountsOwnedRecordsNewerThanLedger(t *testing.T) {
	svc, records, ledger, _ := newUnreadFixture()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	records.add(fakeRecord{category: models.CategoryResults, owner: "A1", at: base.Add(-time.Hour)})
	records.add(fakeRecord{category: models.CategoryResults, owner: "A1", at: base.Add(time.Hour)})
	records.add(fakeRecord{category: models.CategoryResults, owner: "A1", at: base.Add(2 * time.Hour)})
	records.add(fakeRecord{category: models.CategoryResults, owner: "B7", at: base.Add(time.Hour)})
	records.add(fakeRecord{category: models.CategoryProjects, owner: "A1", at: base})
	ledger.set(studentA1.ID, models.CategoryResults, base)

	snap, err := svc.Compute(context.Background(), studentA1)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Counts[models.CategoryResults])
	assert.Equal(t, 1, snap.Counts[models.CategoryProjects], "no ledger entry counts every owned record")
	assert.Equal(t, 3, snap.Total)
	for _, c := range models.Categories {
		assert.Equal(t, models.CategoryStateOK, snap.Statuses[c].State, c)
	}
}

func TestUnreadAttendanceScenarioNoLedger(t *testing.T) {
	svc, records, _, _ := newUnreadFixture()
	day := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	records.add(fakeRecord{category: models.CategoryAttendance, owner: "A1", status: models.AttendanceAbsent, at: day})
	records.add(fakeRecord{category: models.CategoryAttendance, owner: "A1", status: models.AttendanceAbsent, at: day.Add(24 * time.Hour)})
	records.add(fakeRecord{category: models.CategoryAttendance, owner: "Z9", status: models.AttendanceAbsent, at: day})

	snap, err := svc.Compute(context.Background(), studentA1)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Counts[models.CategoryAttendance])
}

func TestUnreadNotificationsStrictlyAfterLastRead(t *testing.T) {
	svc, records, ledger, _ := newUnreadFixture()
	lastRead := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	records.add(fakeRecord{category: models.CategoryNotifications, at: lastRead.Add(-time.Second)})
	records.add(fakeRecord{category: models.CategoryNotifications, at: lastRead.Add(time.Second)})
	ledger.set(studentA1.ID, models.CategoryNotifications, lastRead)

	snap, err := svc.Compute(context.Background(), studentA1)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Counts[models.CategoryNotifications])
}

func TestUnreadPartialFailureIsolatesCategory(t *testing.T) {
	svc, records, _, _ := newUnreadFixture()
	now := time.Now()
	records.add(fakeRecord{category: models.CategoryResults, owner: "A1", at: now})
	records.add(fakeRecord{category: models.CategoryAchievements, owner: "A1", at: now})
	records.add(fakeRecord{category: models.CategoryNegatives, owner: "A1", at: now})
	records.add(fakeRecord{category: models.CategoryNotifications, at: now})
	records.failing = map[models.Category]error{models.CategoryResults: errors.New("index is building")}

	snap, err := svc.Compute(context.Background(), studentA1)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Counts[models.CategoryResults])
	assert.Equal(t, models.CategoryStateTransient, snap.Statuses[models.CategoryResults].State)
	assert.Equal(t, 1, snap.Counts[models.CategoryAchievements])
	assert.Equal(t, 1, snap.Counts[models.CategoryNegatives])
	assert.Equal(t, 1, snap.Counts[models.CategoryNotifications])
	assert.Equal(t, models.CategoryStateOK, snap.Statuses[models.CategoryAchievements].State)
}

func TestUnreadMarkReadThenComputeIsZero(t *testing.T) {
	svc, records, ledger, _ := newUnreadFixture()
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	records.add(fakeRecord{category: models.CategoryAchievements, owner: "A1", at: clock.Add(-time.Minute)})
	records.add(fakeRecord{category: models.CategoryAchievements, owner: "A1", at: clock.Add(-time.Second)})

	require.NoError(t, svc.MarkRead(context.Background(), studentA1, models.CategoryAchievements))
	snap, err := svc.Compute(context.Background(), studentA1)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Counts[models.CategoryAchievements])

	clock = clock.Add(5 * time.Second)
	require.NoError(t, svc.MarkRead(context.Background(), studentA1, models.CategoryAchievements))
	snap, err = svc.Compute(context.Background(), studentA1)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Counts[models.CategoryAchievements])
	assert.Equal(t, clock, ledger.entries[studentA1.ID][models.CategoryAchievements])
	assert.Equal(t, 2, ledger.writes)

	records.add(fakeRecord{category: models.CategoryAchievements, owner: "A1", at: clock.Add(time.Second)})
	snap, err = svc.Compute(context.Background(), studentA1)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Counts[models.CategoryAchievements])
}

func TestUnreadMarkReadLeavesOtherCategories(t *testing.T) {
	svc, _, ledger, _ := newUnreadFixture()
	earlier := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ledger.set(studentA1.ID, models.CategoryResults, earlier)

	require.NoError(t, svc.MarkRead(context.Background(), studentA1, models.CategoryProjects))
	assert.Equal(t, earlier, ledger.entries[studentA1.ID][models.CategoryResults])
}

func TestUnreadMarkReadErrors(t *testing.T) {
	svc, _, ledger, _ := newUnreadFixture()

	err := svc.MarkRead(context.Background(), studentA1, models.Category("grades"))
	assert.True(t, appErrors.IsNotFound(err))

	ledger.upErr = errors.New("write conflict")
	err = svc.MarkRead(context.Background(), studentA1, models.CategoryResults)
	assert.True(t, appErrors.IsTransient(err))
}

func TestUnreadMissingProfileStillCountsAnnouncements(t *testing.T) {
	svc, records, _, profiles := newUnreadFixture()
	profiles.err = appErrors.Clone(appErrors.ErrNotFound, "student profile not found")
	records.add(fakeRecord{category: models.CategoryNotifications, at: time.Now()})

	snap, err := svc.Compute(context.Background(), studentA1)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Counts[models.CategoryNotifications])
	assert.Equal(t, models.CategoryStateNotFound, snap.Statuses[models.CategoryResults].State)
	assert.Zero(t, records.calls[models.CategoryResults])
}

func TestUnreadLedgerFailureMarksEverythingTransient(t *testing.T) {
	svc, _, ledger, _ := newUnreadFixture()
	ledger.getErr = errors.New("connection reset")

	snap, err := svc.Compute(context.Background(), studentA1)
	require.NoError(t, err)
	assert.Zero(t, snap.Total)
	for _, c := range models.Categories {
		assert.Equal(t, models.CategoryStateTransient, snap.Statuses[c].State)
	}
}

func TestUnreadCancelledContextReturnsError(t *testing.T) {
	svc, _, _, _ := newUnreadFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Compute(ctx, studentA1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnreadUsesCacheUntilMarkRead(t *testing.T) {
	records := &fakeRecordStore{}
	ledger := newFakeLedger()
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := NewUnreadService(records, ledger, &fakeProfiles{profile: &models.StudentProfile{RollNumber: "A1"}}, cache, nil, nil, UnreadConfig{})
	records.add(fakeRecord{category: models.CategoryResults, owner: "A1", at: time.Now().Add(-time.Minute)})

	_, err := svc.Compute(context.Background(), studentA1)
	require.NoError(t, err)
	_, err = svc.Compute(context.Background(), studentA1)
	require.NoError(t, err)
	assert.Equal(t, 1, records.calls[models.CategoryResults])

	require.NoError(t, svc.MarkRead(context.Background(), studentA1, models.CategoryResults))
	assert.Equal(t, "1", string(cacheRepo.items["unread-gen:user-a1"]))
	snap, err := svc.Compute(context.Background(), studentA1)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Counts[models.CategoryResults])
	assert.Equal(t, 2, records.calls[models.CategoryResults])
}

// gatedCounter parks the first count of one category until release closes.
type gatedCounter struct {
	*fakeRecordStore
	category models.Category
	entered  chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (g *gatedCounter) CountSince(ctx context.Context, category models.Category, rollNumber string, since *time.Time) (int, error) {
	if category == g.category {
		n, err := g.fakeRecordStore.CountSince(ctx, category, rollNumber, since)
		g.once.Do(func() { close(g.entered) })
		<-g.release
		return n, err
	}
	return g.fakeRecordStore.CountSince(ctx, category, rollNumber, since)
}

func TestUnreadRefreshOverlappingMarkReadIsNotCached(t *testing.T) {
	records := &fakeRecordStore{}
	gated := &gatedCounter{fakeRecordStore: records, category: models.CategoryResults, entered: make(chan struct{}), release: make(chan struct{})}
	cache := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, nil, true)
	svc := NewUnreadService(gated, newFakeLedger(), &fakeProfiles{profile: &models.StudentProfile{RollNumber: "A1"}}, cache, nil, nil, UnreadConfig{CategoryTimeout: 5 * time.Second})
	records.add(fakeRecord{category: models.CategoryResults, owner: "A1", at: time.Now().Add(-time.Minute)})

	inflight := make(chan models.UnreadSnapshot, 1)
	go func() {
		snap, _ := svc.Compute(context.Background(), studentA1)
		inflight <- snap
	}()
	<-gated.entered
	require.NoError(t, svc.MarkRead(context.Background(), studentA1, models.CategoryResults))
	close(gated.release)
	assert.Equal(t, 1, (<-inflight).Counts[models.CategoryResults])

	snap, err := svc.Compute(context.Background(), studentA1)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Counts[models.CategoryResults])
}

func TestUnreadFailedInvalidationBypassesCache(t *testing.T) {
	records := &fakeRecordStore{}
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := NewUnreadService(records, newFakeLedger(), &fakeProfiles{profile: &models.StudentProfile{RollNumber: "A1"}}, cache, nil, nil, UnreadConfig{})
	records.add(fakeRecord{category: models.CategoryResults, owner: "A1", at: time.Now().Add(-time.Minute)})

	snap, err := svc.Compute(context.Background(), studentA1)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Counts[models.CategoryResults])

	cacheRepo.mu.Lock()
	cacheRepo.incrErr = errors.New("redis down")
	cacheRepo.mu.Unlock()
	require.NoError(t, svc.MarkRead(context.Background(), studentA1, models.CategoryResults))

	snap, err = svc.Compute(context.Background(), studentA1)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Counts[models.CategoryResults])
	assert.Equal(t, 2, records.calls[models.CategoryResults])
}

func TestUnreadInvalidateAllRetiresSnapshots(t *testing.T) {
	records := &fakeRecordStore{}
	cache := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, nil, true)
	svc := NewUnreadService(records, newFakeLedger(), &fakeProfiles{profile: &models.StudentProfile{RollNumber: "A1"}}, cache, nil, nil, UnreadConfig{})

	_, err := svc.Compute(context.Background(), studentA1)
	require.NoError(t, err)
	records.add(fakeRecord{category: models.CategoryNotifications, at: time.Now().Add(-time.Second)})
	require.NoError(t, svc.InvalidateAll(context.Background()))

	snap, err := svc.Compute(context.Background(), studentA1)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Counts[models.CategoryNotifications])
}
