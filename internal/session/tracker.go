package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/models"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
)

// Aggregator computes and acknowledges unread counts against the stores.
type Aggregator interface {
	Compute(ctx context.Context, principal models.Principal) (models.UnreadSnapshot, error)
	MarkRead(ctx context.Context, principal models.Principal, category models.Category) error
}

// Tracker holds the in-memory unread counts for one session.
//
// MarkRead is a two-phase update: the category is zeroed and published as an
// optimistic snapshot, then a reconciling refresh replaces it with whatever
// the store reports. Every refresh takes a generation number; results from a
// superseded generation, or whose context was cancelled, are discarded.
type Tracker struct {
	provider *Provider
	agg      Aggregator
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	snapshot    models.UnreadSnapshot
	generation  uint64
	version     uint64
	subscribers map[int]chan models.UnreadSnapshot
	nextSubID   int
	closed      bool

	unsubscribe func()
}

// NewTracker wires a tracker to provider. Signing out clears the counts.
func NewTracker(provider *Provider, agg Aggregator, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		provider:    provider,
		agg:         agg,
		logger:      logger,
		now:         time.Now,
		subscribers: map[int]chan models.UnreadSnapshot{},
	}
	t.snapshot = models.EmptySnapshot(t.now().UTC())
	t.unsubscribe = provider.Subscribe(t.onAuthEvent)
	return t
}

// Snapshot returns a copy of the current counts.
func (t *Tracker) Snapshot() models.UnreadSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneSnapshot(t.snapshot)
}

// Refresh recomputes every category. A cancelled or superseded refresh leaves
// the current snapshot in place and returns it without error.
func (t *Tracker) Refresh(ctx context.Context) (models.UnreadSnapshot, error) {
	principal, ok := t.provider.Principal()
	if !ok {
		return t.Snapshot(), appErrors.Clone(appErrors.ErrUnauthorized, "session is not authenticated")
	}

	t.mu.Lock()
	t.generation++
	gen := t.generation
	t.mu.Unlock()

	snap, err := t.agg.Compute(ctx, principal)
	if err != nil || ctx.Err() != nil {
		if err != nil && ctx.Err() == nil {
			t.logger.Warn("unread refresh failed", zap.String("user_id", principal.ID), zap.Error(err))
		}
		return t.Snapshot(), nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.generation || t.closed {
		return cloneSnapshot(t.snapshot), nil
	}
	snap.Phase = models.PhaseReconciled
	t.commitLocked(snap)
	return cloneSnapshot(t.snapshot), nil
}

// MarkRead acknowledges category. Without an authenticated principal it does
// nothing. The ledger write error, if any, is returned after reconciliation so
// the count reflects the store either way.
func (t *Tracker) MarkRead(ctx context.Context, category models.Category) (models.UnreadSnapshot, error) {
	principal, ok := t.provider.Principal()
	if !ok {
		return t.Snapshot(), nil
	}
	if !category.Valid() {
		return t.Snapshot(), appErrors.Clone(appErrors.ErrNotFound, "unknown category")
	}

	t.mu.Lock()
	// in-flight refreshes started before the write would resurrect the old count
	t.generation++
	optimistic := cloneSnapshot(t.snapshot)
	optimistic.Counts[category] = 0
	optimistic.Total = optimistic.Counts.Total()
	optimistic.Phase = models.PhaseOptimistic
	optimistic.ComputedAt = t.now().UTC()
	t.commitLocked(optimistic)
	t.mu.Unlock()

	writeErr := t.agg.MarkRead(ctx, principal, category)
	if writeErr != nil {
		t.logger.Warn("mark read failed", zap.String("user_id", principal.ID), zap.String("category", string(category)), zap.Error(writeErr))
	}

	snap, err := t.Refresh(ctx)
	if writeErr != nil {
		return snap, writeErr
	}
	return snap, err
}

// Subscribe returns a channel that always holds the latest snapshot. Slow
// readers skip intermediate snapshots.
func (t *Tracker) Subscribe() (<-chan models.UnreadSnapshot, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan models.UnreadSnapshot, 1)
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	id := t.nextSubID
	t.nextSubID++
	t.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if sub, ok := t.subscribers[id]; ok {
				delete(t.subscribers, id)
				close(sub)
			}
		})
	}
}

// Subscribers reports the number of live subscriptions.
func (t *Tracker) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

// Close detaches from the provider and closes subscriber channels.
func (t *Tracker) Close() {
	t.unsubscribe()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subscribers {
		delete(t.subscribers, id)
		close(ch)
	}
}

func (t *Tracker) onAuthEvent(ev Event) {
	if ev.State != StateUnauthenticated {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation++
	t.commitLocked(models.EmptySnapshot(t.now().UTC()))
}

func (t *Tracker) commitLocked(snap models.UnreadSnapshot) {
	t.version++
	snap.Version = t.version
	t.snapshot = snap
	for _, ch := range t.subscribers {
		publish(ch, cloneSnapshot(snap))
	}
}

func publish(ch chan models.UnreadSnapshot, snap models.UnreadSnapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func cloneSnapshot(s models.UnreadSnapshot) models.UnreadSnapshot {
	out := s
	out.Counts = s.Counts.Clone()
	out.Statuses = make(map[models.Category]models.CategoryStatus, len(s.Statuses))
	for k, v := range s.Statuses {
		out.Statuses[k] = v
	}
	return out
}
