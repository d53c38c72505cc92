package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/student-portal-api/internal/models"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
)

// Cached snapshots are keyed by a per-user and a global generation. MarkRead
// and global publishes bump a generation, so a refresh that read the ledger
// before the bump can only write to a key nobody reads again.
const (
	unreadGlobalGenerationKey = "unread-gen:all"
	unreadGenerationTTL       = 24 * time.Hour
)

type recordCounter interface {
	CountSince(ctx context.Context, category models.Category, rollNumber string, since *time.Time) (int, error)
}

type ledgerStore interface {
	Get(ctx context.Context, userID string) (*models.ReadLedger, error)
	Upsert(ctx context.Context, userID string, category models.Category, at time.Time) error
}

type profileResolver interface {
	Resolve(ctx context.Context, principal models.Principal) (*models.StudentProfile, error)
}

// UnreadConfig tunes the aggregator.
type UnreadConfig struct {
	CategoryTimeout time.Duration
	CacheTTL        time.Duration
}

// UnreadService computes per-category unread counts from the record store and
// the read ledger.
type UnreadService struct {
	records  recordCounter
	ledger   ledgerStore
	profiles profileResolver
	cache    *CacheService
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      UnreadConfig
	now      func() time.Time

	// bypass holds users whose generation bump failed; their snapshots skip
	// the cache until the deadline.
	bypass sync.Map
}

// NewUnreadService constructs the aggregator.
func NewUnreadService(records recordCounter, ledger ledgerStore, profiles profileResolver, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cfg UnreadConfig) *UnreadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CategoryTimeout <= 0 {
		cfg.CategoryTimeout = 3 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	return &UnreadService{
		records:  records,
		ledger:   ledger,
		profiles: profiles,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Compute returns the unread snapshot for principal. Category failures never
// fail the call: the category reports 0 with a transient status. The only
// error returned is the caller's context error.
func (s *UnreadService) Compute(ctx context.Context, principal models.Principal) (models.UnreadSnapshot, error) {
	start := s.now()
	key, cacheable := s.snapshotKey(ctx, principal.ID)

	if cacheable {
		var cached models.UnreadSnapshot
		if hit, _ := s.cache.Get(ctx, key, &cached); hit {
			return cached, nil
		}
	}

	snapshot := models.EmptySnapshot(start.UTC())

	var rollNumber string
	var ownedFailure *models.CategoryStatus
	profile, err := s.profiles.Resolve(ctx, principal)
	switch {
	case err == nil:
		rollNumber = profile.RollNumber
	case appErrors.IsNotFound(err):
		ownedFailure = &models.CategoryStatus{State: models.CategoryStateNotFound, Message: "student profile not found"}
	default:
		s.logger.Warn("profile lookup failed", zap.String("user_id", principal.ID), zap.Error(err))
		ownedFailure = &models.CategoryStatus{State: models.CategoryStateTransient, Message: "profile temporarily unavailable"}
	}

	ledger, err := s.ledger.Get(ctx, principal.ID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return snapshot, ctxErr
		}
		s.logger.Warn("read ledger lookup failed", zap.String("user_id", principal.ID), zap.Error(err))
		for _, c := range models.Categories {
			snapshot.Statuses[c] = models.CategoryStatus{State: models.CategoryStateTransient, Message: "read state temporarily unavailable"}
			s.metrics.RecordUnreadFailure(c)
		}
		return snapshot, nil
	}

	counts := make([]int, len(models.Categories))
	statuses := make([]models.CategoryStatus, len(models.Categories))
	var g errgroup.Group
	for i, category := range models.Categories {
		i, category := i, category
		if !category.Global() && ownedFailure != nil {
			statuses[i] = *ownedFailure
			continue
		}
		g.Go(func() error {
			catCtx, cancel := context.WithTimeout(ctx, s.cfg.CategoryTimeout)
			defer cancel()
			n, err := s.records.CountSince(catCtx, category, rollNumber, ledger.LastReadAt(category))
			if err != nil {
				statuses[i] = s.categoryFailure(ctx, category, principal.ID, err)
				return nil
			}
			counts[i] = n
			statuses[i] = models.CategoryStatus{State: models.CategoryStateOK}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return snapshot, err
	}

	healthy := true
	for i, category := range models.Categories {
		snapshot.Counts[category] = counts[i]
		snapshot.Statuses[category] = statuses[i]
		if statuses[i].State != models.CategoryStateOK {
			healthy = false
		}
	}
	snapshot.Total = snapshot.Counts.Total()
	snapshot.ComputedAt = s.now().UTC()
	s.metrics.ObserveUnreadRefresh(s.now().Sub(start))

	if healthy && cacheable {
		if err := s.cache.Set(ctx, key, snapshot, s.cfg.CacheTTL); err != nil {
			s.logger.Debug("unread cache write skipped", zap.String("user_id", principal.ID), zap.Error(err))
		}
	}
	return snapshot, nil
}

// MarkRead records that principal opened category now.
func (s *UnreadService) MarkRead(ctx context.Context, principal models.Principal, category models.Category) error {
	if !category.Valid() {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("unknown category %q", category))
	}
	if err := s.ledger.Upsert(ctx, principal.ID, category, s.now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "failed to record read state")
	}
	s.metrics.RecordMarkRead(category)
	if err := s.Invalidate(ctx, principal.ID); err != nil {
		s.logger.Warn("unread cache invalidation failed, bypassing cache", zap.String("user_id", principal.ID), zap.Error(err))
		s.bypass.Store(principal.ID, s.now().Add(s.cfg.CacheTTL))
	}
	return nil
}

// Invalidate retires every cached snapshot of one user.
func (s *UnreadService) Invalidate(ctx context.Context, userID string) error {
	_, err := s.cache.Incr(ctx, unreadGenerationKey(userID), unreadGenerationTTL)
	return err
}

// InvalidateAll retires every cached snapshot. Used when a global record is
// published.
func (s *UnreadService) InvalidateAll(ctx context.Context) error {
	if _, err := s.cache.Incr(ctx, unreadGlobalGenerationKey, unreadGenerationTTL); err != nil {
		return s.cache.Invalidate(ctx, "unread:*")
	}
	return nil
}

// snapshotKey resolves the current cache key for userID. It reports false
// when the cache must not be used for this computation.
func (s *UnreadService) snapshotKey(ctx context.Context, userID string) (string, bool) {
	if !s.cache.Enabled() {
		return "", false
	}
	if until, ok := s.bypass.Load(userID); ok {
		if s.now().Before(until.(time.Time)) {
			return "", false
		}
		s.bypass.Delete(userID)
	}
	var userGen, globalGen int64
	if _, err := s.cache.Get(ctx, unreadGenerationKey(userID), &userGen); err != nil {
		return "", false
	}
	if _, err := s.cache.Get(ctx, unreadGlobalGenerationKey, &globalGen); err != nil {
		return "", false
	}
	return fmt.Sprintf("unread:%s:%d:%d", userID, userGen, globalGen), true
}

func (s *UnreadService) categoryFailure(ctx context.Context, category models.Category, userID string, err error) models.CategoryStatus {
	s.metrics.RecordUnreadFailure(category)
	message := "temporarily unavailable, retry later"
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		message = "timed out, retry later"
	}
	if ctx.Err() == nil {
		s.logger.Warn("unread count failed", zap.String("category", string(category)), zap.String("user_id", userID), zap.Error(err))
	}
	return models.CategoryStatus{State: models.CategoryStateTransient, Message: message}
}

func unreadGenerationKey(userID string) string {
	return "unread-gen:" + userID
}
