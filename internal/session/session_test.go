package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-portal-api/internal/models"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
)

var principalA1 = models.Principal{ID: "user-a1", Email: "a1@example.com", Role: models.RoleStudent}

// stubAggregator returns counts from a mutable map. MarkRead zeroes the
// category in that map, mirroring a ledger write.
type stubAggregator struct {
	mu        sync.Mutex
	counts    models.UnreadCounts
	markErr   error
	marked    []models.Category
	block     chan struct{}
	computeN  int
	onCompute func(n int)
}

func newStubAggregator(counts map[models.Category]int) *stubAggregator {
	c := models.NewUnreadCounts()
	for k, v := range counts {
		c[k] = v
	}
	return &stubAggregator{counts: c}
}

func (s *stubAggregator) Compute(ctx context.Context, principal models.Principal) (models.UnreadSnapshot, error) {
	s.mu.Lock()
	s.computeN++
	n := s.computeN
	block := s.block
	hook := s.onCompute
	counts := s.counts.Clone()
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return models.UnreadSnapshot{}, ctx.Err()
		}
	}
	snap := models.EmptySnapshot(time.Now())
	snap.Counts = counts
	snap.Total = counts.Total()
	return snap, nil
}

func (s *stubAggregator) MarkRead(ctx context.Context, principal models.Principal, category models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, category)
	if s.markErr != nil {
		return s.markErr
	}
	s.counts[category] = 0
	return nil
}

func (s *stubAggregator) set(category models.Category, n int) {
	s.mu.Lock()
	s.counts[category] = n
	s.mu.Unlock()
}

func TestProviderTransitions(t *testing.T) {
	p := NewProvider()
	assert.Equal(t, StateUnknown, p.State())

	var events []Event
	unsubscribe := p.Subscribe(func(ev Event) { events = append(events, ev) })
	require.Len(t, events, 1)
	assert.Equal(t, StateUnknown, events[0].State)

	p.Authenticate(principalA1)
	p.Authenticate(principalA1)
	got, ok := p.Principal()
	require.True(t, ok)
	assert.Equal(t, principalA1, got)

	p.SignOut()
	p.SignOut()
	_, ok = p.Principal()
	assert.False(t, ok)
	assert.Equal(t, StateUnauthenticated, p.State())
	require.Len(t, events, 3)
	assert.Equal(t, StateAuthenticated, events[1].State)
	assert.Equal(t, StateUnauthenticated, events[2].State)

	unsubscribe()
	p.Authenticate(principalA1)
	assert.Len(t, events, 3)
	assert.Equal(t, "authenticated", p.State().String())
}

func TestTrackerRefreshRequiresAuthentication(t *testing.T) {
	p := NewProvider()
	tr := NewTracker(p, newStubAggregator(nil), nil)
	defer tr.Close()

	_, err := tr.Refresh(context.Background())
	assert.True(t, appErrors.IsUnauthenticated(err))
}

func TestTrackerMarkReadWithoutPrincipalIsNoop(t *testing.T) {
	agg := newStubAggregator(map[models.Category]int{models.CategoryResults: 3})
	tr := NewTracker(NewProvider(), agg, nil)
	defer tr.Close()

	_, err := tr.MarkRead(context.Background(), models.CategoryResults)
	require.NoError(t, err)
	assert.Empty(t, agg.marked)
}

func TestTrackerMarkReadIsTwoPhase(t *testing.T) {
	p := NewProvider()
	p.Authenticate(principalA1)
	agg := newStubAggregator(map[models.Category]int{models.CategoryResults: 3, models.CategoryProjects: 1})
	tr := NewTracker(p, agg, nil)
	defer tr.Close()

	snap, err := tr.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Counts[models.CategoryResults])

	updates, stop := tr.Subscribe()
	defer stop()

	snap, err = tr.MarkRead(context.Background(), models.CategoryResults)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Counts[models.CategoryResults])
	assert.Equal(t, 1, snap.Counts[models.CategoryProjects])
	assert.Equal(t, models.PhaseReconciled, snap.Phase)

	latest := <-updates
	assert.Equal(t, models.PhaseReconciled, latest.Phase)
	assert.Greater(t, latest.Version, uint64(1))
}

func TestTrackerServerValueWinsOnReconcile(t *testing.T) {
	p := NewProvider()
	p.Authenticate(principalA1)
	agg := newStubAggregator(map[models.Category]int{models.CategoryNotifications: 2})
	agg.markErr = errors.New("ledger unavailable")
	tr := NewTracker(p, agg, nil)
	defer tr.Close()

	updates, stop := tr.Subscribe()
	defer stop()

	snap, err := tr.MarkRead(context.Background(), models.CategoryNotifications)
	require.Error(t, err)
	assert.Equal(t, 2, snap.Counts[models.CategoryNotifications], "failed write reconciles back to the stored count")
	latest := <-updates
	assert.Equal(t, 2, latest.Counts[models.CategoryNotifications])
}

func TestTrackerMarkReadTwiceStaysZero(t *testing.T) {
	p := NewProvider()
	p.Authenticate(principalA1)
	agg := newStubAggregator(map[models.Category]int{models.CategoryAchievements: 4})
	tr := NewTracker(p, agg, nil)
	defer tr.Close()

	for i := 0; i < 2; i++ {
		snap, err := tr.MarkRead(context.Background(), models.CategoryAchievements)
		require.NoError(t, err)
		assert.Equal(t, 0, snap.Counts[models.CategoryAchievements])
	}
	assert.Equal(t, []models.Category{models.CategoryAchievements, models.CategoryAchievements}, agg.marked)
}

func TestTrackerCancelledRefreshIsDropped(t *testing.T) {
	p := NewProvider()
	p.Authenticate(principalA1)
	agg := newStubAggregator(map[models.Category]int{models.CategoryResults: 5})
	tr := NewTracker(p, agg, nil)
	defer tr.Close()

	agg.block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan models.UnreadSnapshot, 1)
	go func() {
		snap, err := tr.Refresh(ctx)
		assert.NoError(t, err)
		done <- snap
	}()
	cancel()

	select {
	case snap := <-done:
		assert.Equal(t, 0, snap.Counts[models.CategoryResults])
	case <-time.After(time.Second):
		t.Fatal("refresh did not return after cancellation")
	}
	assert.Equal(t, uint64(0), tr.Snapshot().Version)
}

func TestTrackerStaleRefreshIsDiscarded(t *testing.T) {
	p := NewProvider()
	p.Authenticate(principalA1)
	agg := newStubAggregator(map[models.Category]int{models.CategoryResults: 5})
	tr := NewTracker(p, agg, nil)
	defer tr.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	agg.onCompute = func(n int) {
		if n == 1 {
			close(started)
			<-release
		}
	}

	slow := make(chan models.UnreadSnapshot, 1)
	go func() {
		snap, _ := tr.Refresh(context.Background())
		slow <- snap
	}()
	<-started

	agg.set(models.CategoryResults, 0)
	agg.mu.Lock()
	agg.onCompute = nil
	agg.mu.Unlock()
	fresh, err := tr.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.Counts[models.CategoryResults])

	close(release)
	<-slow
	assert.Equal(t, 0, tr.Snapshot().Counts[models.CategoryResults])
}

func TestTrackerSignOutClearsCounts(t *testing.T) {
	p := NewProvider()
	p.Authenticate(principalA1)
	tr := NewTracker(p, newStubAggregator(map[models.Category]int{models.CategoryResults: 5}), nil)
	defer tr.Close()

	_, err := tr.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, tr.Snapshot().Total)

	p.SignOut()
	assert.Equal(t, 0, tr.Snapshot().Total)
}

type gaugeRecorder struct {
	mu   sync.Mutex
	last int
}

func (g *gaugeRecorder) SetActiveSessions(n int) {
	g.mu.Lock()
	g.last = n
	g.mu.Unlock()
}

func TestRegistryAcquireAndSignOut(t *testing.T) {
	gauge := &gaugeRecorder{}
	reg := NewRegistry(newStubAggregator(nil), RegistryConfig{}, gauge, nil)
	defer reg.Close()

	sess := reg.Acquire(principalA1)
	assert.Same(t, sess, reg.Acquire(principalA1))
	assert.Equal(t, StateAuthenticated, sess.Provider.State())
	assert.Equal(t, 1, gauge.last)

	updates, _ := sess.Tracker.Subscribe()
	reg.SignOut(principalA1.ID)
	assert.Equal(t, StateUnauthenticated, sess.Provider.State())
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, gauge.last)

	var last models.UnreadSnapshot
	for snap := range updates {
		last = snap
	}
	assert.Equal(t, 0, last.Total)
}

func TestRegistryBroadcast(t *testing.T) {
	reg := NewRegistry(newStubAggregator(nil), RegistryConfig{}, nil, nil)
	defer reg.Close()

	sess := reg.Acquire(principalA1)
	notices, stop := sess.Announcements()
	defer stop()

	reg.Broadcast(models.Announcement{ID: "ann-1", Heading: "Holiday"})
	select {
	case ann := <-notices:
		assert.Equal(t, "ann-1", ann.ID)
	case <-time.After(time.Second):
		t.Fatal("announcement not delivered")
	}
}

func TestRegistrySweepEvictsIdleSessions(t *testing.T) {
	reg := NewRegistry(newStubAggregator(nil), RegistryConfig{IdleTTL: time.Minute}, nil, nil)
	defer reg.Close()

	clock := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return clock }
	reg.Acquire(principalA1)
	streaming := reg.Acquire(models.Principal{ID: "user-b2", Email: "b2@example.com"})
	_, stop := streaming.Tracker.Subscribe()
	defer stop()

	clock = clock.Add(2 * time.Minute)
	assert.Equal(t, 1, reg.Sweep())
	_, ok := reg.Lookup(principalA1.ID)
	assert.False(t, ok)
	_, ok = reg.Lookup("user-b2")
	assert.True(t, ok)
}

func TestRegistrySweepSparesSessionReacquiredAfterSnapshot(t *testing.T) {
	agg := newStubAggregator(map[models.Category]int{models.CategoryResults: 2})
	reg := NewRegistry(agg, RegistryConfig{IdleTTL: time.Minute}, nil, nil)
	defer reg.Close()

	clock := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return clock }
	reg.Acquire(principalA1)
	clock = clock.Add(2 * time.Minute)

	candidates := reg.all()
	require.Len(t, candidates, 1)
	sess := reg.Acquire(principalA1)
	assert.False(t, reg.signOutIfIdle(candidates[0]))

	_, ok := reg.Lookup(principalA1.ID)
	assert.True(t, ok)
	assert.Equal(t, StateAuthenticated, sess.Provider.State())
	_, err := sess.Tracker.MarkRead(context.Background(), models.CategoryResults)
	require.NoError(t, err)
	assert.Equal(t, []models.Category{models.CategoryResults}, agg.marked)
}

func TestRegistrySweepIgnoresReplacedSession(t *testing.T) {
	reg := NewRegistry(newStubAggregator(nil), RegistryConfig{IdleTTL: time.Minute}, nil, nil)
	defer reg.Close()

	clock := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return clock }
	stale := reg.Acquire(principalA1)
	reg.SignOut(principalA1.ID)
	fresh := reg.Acquire(principalA1)
	clock = clock.Add(2 * time.Minute)

	assert.False(t, reg.signOutIfIdle(stale))
	current, ok := reg.Lookup(principalA1.ID)
	require.True(t, ok)
	assert.Same(t, fresh, current)
}

func TestRegistryStartClose(t *testing.T) {
	reg := NewRegistry(newStubAggregator(nil), RegistryConfig{SweepInterval: time.Millisecond}, nil, nil)
	reg.Start(context.Background())
	reg.Acquire(principalA1)
	reg.Close()
	assert.Equal(t, 0, reg.Len())
}
