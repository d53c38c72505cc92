package models

import "time"

// UnreadCounts maps each category to its unread badge value.
type UnreadCounts map[Category]int

// NewUnreadCounts returns a zeroed count map covering every category.
func NewUnreadCounts() UnreadCounts {
	counts := make(UnreadCounts, len(Categories))
	for _, c := range Categories {
		counts[c] = 0
	}
	return counts
}

// Clone copies the map.
func (u UnreadCounts) Clone() UnreadCounts {
	out := make(UnreadCounts, len(u))
	for k, v := range u {
		out[k] = v
	}
	return out
}

// Total sums every category.
func (u UnreadCounts) Total() int {
	total := 0
	for _, v := range u {
		total += v
	}
	return total
}

// CategoryState describes how a category's count was obtained.
type CategoryState string

const (
	CategoryStateOK        CategoryState = "ok"
	CategoryStateTransient CategoryState = "transient"
	CategoryStateNotFound  CategoryState = "not_found"
)

// CategoryStatus is surfaced to clients so they can show a retry affordance
// on one badge without failing the others.
type CategoryStatus struct {
	State   CategoryState `json:"state"`
	Message string        `json:"message,omitempty"`
}

// SnapshotPhase distinguishes optimistic counts from reconciled ones.
type SnapshotPhase string

const (
	PhaseOptimistic SnapshotPhase = "optimistic"
	PhaseReconciled SnapshotPhase = "reconciled"
)

// UnreadSnapshot is the full badge state at a point in time.
type UnreadSnapshot struct {
	Counts     UnreadCounts                `json:"counts"`
	Statuses   map[Category]CategoryStatus `json:"statuses"`
	Total      int                         `json:"total"`
	Phase      SnapshotPhase               `json:"phase"`
	Version    uint64                      `json:"version"`
	ComputedAt time.Time                   `json:"computed_at"`
}

// EmptySnapshot is what an unauthenticated or unresolved session sees.
func EmptySnapshot(now time.Time) UnreadSnapshot {
	statuses := make(map[Category]CategoryStatus, len(Categories))
	for _, c := range Categories {
		statuses[c] = CategoryStatus{State: CategoryStateOK}
	}
	return UnreadSnapshot{
		Counts:     NewUnreadCounts(),
		Statuses:   statuses,
		Phase:      PhaseReconciled,
		ComputedAt: now,
	}
}
