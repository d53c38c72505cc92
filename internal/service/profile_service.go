package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/models"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
)

type studentProfileRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.StudentProfile, error)
}

const localProfileCacheSize = 4096

// ProfileService resolves the student profile behind a principal. Profiles are
// immutable for a session so lookups are cached by email, in process first and
// then in Redis.
type ProfileService struct {
	repo   studentProfileRepository
	cache  *CacheService
	local  *expirable.LRU[string, *models.StudentProfile]
	ttl    time.Duration
	logger *zap.Logger
}

// NewProfileService constructs a ProfileService.
func NewProfileService(repo studentProfileRepository, cache *CacheService, ttl time.Duration, logger *zap.Logger) *ProfileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ProfileService{
		repo:   repo,
		cache:  cache,
		local:  expirable.NewLRU[string, *models.StudentProfile](localProfileCacheSize, nil, ttl),
		ttl:    ttl,
		logger: logger,
	}
}

// Resolve returns the profile for principal. A principal without a student
// record yields NOT_FOUND; any other failure is TRANSIENT.
func (s *ProfileService) Resolve(ctx context.Context, principal models.Principal) (*models.StudentProfile, error) {
	email := strings.ToLower(strings.TrimSpace(principal.Email))
	if email == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student profile not found")
	}

	if profile, ok := s.local.Get(email); ok {
		copied := *profile
		return &copied, nil
	}

	key := profileCacheKey(email)
	var cached models.StudentProfile
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		s.remember(email, &cached)
		return &cached, nil
	}

	profile, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student profile not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "failed to load student profile")
	}

	s.remember(email, profile)
	if err := s.cache.Set(ctx, key, profile, s.ttl); err != nil {
		s.logger.Debug("profile cache write skipped", zap.String("email", email), zap.Error(err))
	}
	return profile, nil
}

func (s *ProfileService) remember(email string, profile *models.StudentProfile) {
	copied := *profile
	s.local.Add(email, &copied)
}

func profileCacheKey(email string) string {
	return "profile:" + email
}
