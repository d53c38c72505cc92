package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/models"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
)

type announcementRepository interface {
	Latest(ctx context.Context, limit int) ([]models.Announcement, error)
	Create(ctx context.Context, announcement *models.Announcement) error
}

type unreadInvalidator interface {
	InvalidateAll(ctx context.Context) error
}

type announcementBroadcaster interface {
	Broadcast(ann models.Announcement)
}

type announcementPusher interface {
	AnnouncementPayload(ann models.Announcement) models.PushPayload
	FanOut(payload models.PushPayload) error
}

// AnnouncementService publishes school-wide announcements and notifies every
// live session and registered device.
type AnnouncementService struct {
	repo        announcementRepository
	unread      unreadInvalidator
	broadcaster announcementBroadcaster
	pusher      announcementPusher
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewAnnouncementService constructs the service. broadcaster and pusher may be
// nil, as in the CLI which has no live sessions.
func NewAnnouncementService(repo announcementRepository, unread unreadInvalidator, broadcaster announcementBroadcaster, pusher announcementPusher, validate *validator.Validate, logger *zap.Logger) *AnnouncementService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnnouncementService{
		repo:        repo,
		unread:      unread,
		broadcaster: broadcaster,
		pusher:      pusher,
		validator:   validate,
		logger:      logger,
	}
}

// Latest returns the newest announcements.
func (s *AnnouncementService) Latest(ctx context.Context, limit int) ([]models.Announcement, error) {
	if limit <= 0 {
		limit = 3
	}
	items, err := s.repo.Latest(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "failed to load announcements")
	}
	return items, nil
}

// Publish stores the announcement, refreshes cached counts, notifies live
// sessions and queues a push fan-out unless req.Push is false.
func (s *AnnouncementService) Publish(ctx context.Context, author *models.Principal, req models.PublishAnnouncementRequest) (*models.Announcement, error) {
	req.Heading = strings.TrimSpace(req.Heading)
	req.Content = strings.TrimSpace(req.Content)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid announcement payload")
	}

	ann := &models.Announcement{Heading: req.Heading, Content: req.Content, Kind: req.Kind}
	if author != nil && author.ID != "" {
		id := author.ID
		ann.CreatedBy = &id
	}
	if err := s.repo.Create(ctx, ann); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to publish announcement")
	}

	if s.unread != nil {
		if err := s.unread.InvalidateAll(ctx); err != nil {
			s.logger.Warn("failed to invalidate unread counts", zap.String("announcement_id", ann.ID), zap.Error(err))
		}
	}
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(*ann)
	}
	if s.pusher != nil && (req.Push == nil || *req.Push) {
		if err := s.pusher.FanOut(s.pusher.AnnouncementPayload(*ann)); err != nil {
			s.logger.Warn("failed to queue push fan-out", zap.String("announcement_id", ann.ID), zap.Error(err))
		}
	}

	s.logger.Info("announcement published", zap.String("announcement_id", ann.ID), zap.String("kind", ann.Kind))
	return ann, nil
}
