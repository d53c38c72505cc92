package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/push"
	appErrors "github.com/noah-isme/student-portal-api/pkg/errors"
	"github.com/noah-isme/student-portal-api/pkg/jobs"
)

const (
	jobTypeFanOut = "push.fanout"
	jobTypeBatch  = "push.batch"
)

type pushSubscriptionStore interface {
	Upsert(ctx context.Context, sub *models.PushSubscription) error
	DeleteByToken(ctx context.Context, userID, token string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]models.PushSubscription, error)
	ListAll(ctx context.Context) ([]models.PushSubscription, error)
	DeleteTokens(ctx context.Context, tokens []string) (int, error)
}

// PushConfig configures the push bridge.
type PushConfig struct {
	Enabled     bool
	DefaultURL  string
	LinkBaseURL string
	Icon        string
	Workers     int
	MaxRetries  int
	RetryDelay  time.Duration
}

type pushBatch struct {
	Tokens  []string
	Payload models.PushPayload
}

// PushService registers client tokens and fans announcements out to them on a
// background queue. When push is disabled every operation degrades silently.
type PushService struct {
	store     pushSubscriptionStore
	sender    push.Sender
	queue     *jobs.Queue
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       PushConfig
}

// NewPushService constructs the bridge. A nil sender disables delivery.
func NewPushService(store pushSubscriptionStore, sender push.Sender, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg PushConfig) *PushService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if sender == nil {
		sender = push.NoopSender{}
		cfg.Enabled = false
	}
	if cfg.DefaultURL == "" {
		cfg.DefaultURL = "/notification"
	}
	s := &PushService{
		store:     store,
		sender:    sender,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
	s.queue = jobs.NewQueue("push", s.handleJob, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		OnExhausted: func(job jobs.Job, err error) {
			if batch, ok := job.Payload.(pushBatch); ok {
				s.metrics.RecordPush("failed", len(batch.Tokens))
			}
		},
	})
	return s
}

// Enabled reports whether pushes are actually delivered.
func (s *PushService) Enabled() bool {
	return s.cfg.Enabled
}

// Start launches the delivery workers.
func (s *PushService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Close stops the delivery workers. Queued pushes are dropped.
func (s *PushService) Close() {
	s.queue.Stop()
}

// Register stores the caller's push token.
func (s *PushService) Register(ctx context.Context, principal models.Principal, req models.RegisterPushRequest) (*models.RegisterPushResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid push subscription payload")
	}
	if !s.cfg.Enabled {
		return &models.RegisterPushResponse{Enabled: false}, nil
	}
	platform := req.Platform
	if platform == "" {
		platform = "web"
	}
	sub := &models.PushSubscription{
		UserID:    principal.ID,
		Token:     strings.TrimSpace(req.Token),
		Platform:  platform,
		UserAgent: req.UserAgent,
	}
	if err := s.store.Upsert(ctx, sub); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register push token")
	}
	return &models.RegisterPushResponse{Enabled: true, Subscription: sub}, nil
}

// Unregister removes one of the caller's tokens.
func (s *PushService) Unregister(ctx context.Context, principal models.Principal, token string) error {
	removed, err := s.store.DeleteByToken(ctx, principal.ID, token)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove push token")
	}
	if !removed {
		return appErrors.Clone(appErrors.ErrNotFound, "push token not registered")
	}
	return nil
}

// SendTest pushes a test notification to the caller's own tokens and waits
// for the result.
func (s *PushService) SendTest(ctx context.Context, principal models.Principal) (*models.PushReport, error) {
	if !s.cfg.Enabled {
		return &models.PushReport{}, nil
	}
	subs, err := s.store.ListByUser(ctx, principal.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load push tokens")
	}
	payload := models.PushPayload{
		Title: "Test notification",
		Body:  "Push notifications are working.",
		Icon:  s.cfg.Icon,
		Tag:   "test",
		Data:  models.PushData{URL: s.cfg.DefaultURL},
	}
	report := &models.PushReport{}
	for _, batch := range push.Chunk(tokensOf(subs), push.MaxBatch) {
		if err := s.deliver(ctx, pushBatch{Tokens: batch, Payload: payload}, report); err != nil {
			if appErrors.IsUnsupported(err) {
				return &models.PushReport{}, nil
			}
			return report, err
		}
	}
	return report, nil
}

// AnnouncementPayload builds the notification for an announcement.
func (s *PushService) AnnouncementPayload(ann models.Announcement) models.PushPayload {
	return models.PushPayload{
		Title: ann.Heading,
		Body:  ann.Content,
		Icon:  s.cfg.Icon,
		Tag:   ann.ID,
		Data:  models.PushData{ID: ann.ID, URL: s.cfg.DefaultURL},
	}
}

// FanOut queues payload for every registered token.
func (s *PushService) FanOut(payload models.PushPayload) error {
	if !s.cfg.Enabled {
		return nil
	}
	return s.queue.Enqueue(jobs.Job{ID: uuid.NewString(), Type: jobTypeFanOut, Payload: payload})
}

// FanOutNow delivers payload to every registered token synchronously. Used by
// the CLI, which exits before a background queue would drain.
func (s *PushService) FanOutNow(ctx context.Context, payload models.PushPayload) (*models.PushReport, error) {
	report := &models.PushReport{}
	if !s.cfg.Enabled {
		return report, nil
	}
	subs, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load push tokens")
	}
	for _, batch := range push.Chunk(tokensOf(subs), push.MaxBatch) {
		if err := s.deliver(ctx, pushBatch{Tokens: batch, Payload: payload}, report); err != nil {
			if appErrors.IsUnsupported(err) {
				return report, nil
			}
			report.Failed += len(batch)
			s.logger.Warn("push batch failed", zap.Int("tokens", len(batch)), zap.Error(err))
		}
	}
	return report, nil
}

func (s *PushService) handleJob(ctx context.Context, job jobs.Job) error {
	switch job.Type {
	case jobTypeFanOut:
		payload, ok := job.Payload.(models.PushPayload)
		if !ok {
			return jobs.Permanent(fmt.Errorf("unexpected payload %T", job.Payload))
		}
		subs, err := s.store.ListAll(ctx)
		if err != nil {
			return fmt.Errorf("list push tokens: %w", err)
		}
		batches := push.Chunk(tokensOf(subs), push.MaxBatch)
		// enqueue off the worker so a full buffer cannot stall the pool
		go s.enqueueBatches(job.ID, payload, batches)
		return nil
	case jobTypeBatch:
		batch, ok := job.Payload.(pushBatch)
		if !ok {
			return jobs.Permanent(fmt.Errorf("unexpected payload %T", job.Payload))
		}
		err := s.deliver(ctx, batch, &models.PushReport{})
		if err != nil && appErrors.IsUnsupported(err) {
			return nil
		}
		return err
	default:
		return jobs.Permanent(fmt.Errorf("unknown job type %q", job.Type))
	}
}

func (s *PushService) enqueueBatches(parentID string, payload models.PushPayload, batches [][]string) {
	for _, batch := range batches {
		job := jobs.Job{ID: uuid.NewString(), Type: jobTypeBatch, Payload: pushBatch{Tokens: batch, Payload: payload}}
		if err := s.queue.Enqueue(job); err != nil {
			s.logger.Warn("dropping push batch", zap.String("fanout_id", parentID), zap.Int("tokens", len(batch)), zap.Error(err))
			s.metrics.RecordPush("failed", len(batch))
			return
		}
	}
}

func (s *PushService) deliver(ctx context.Context, batch pushBatch, report *models.PushReport) error {
	if len(batch.Tokens) == 0 {
		return nil
	}
	target := push.ClickTarget(batch.Payload.Data, s.cfg.DefaultURL)
	res, err := s.sender.Send(ctx, push.Message{
		Tokens:  batch.Tokens,
		Payload: batch.Payload,
		Link:    push.AbsoluteLink(s.cfg.LinkBaseURL, target),
	})
	report.Attempted += len(batch.Tokens)
	if err != nil {
		return err
	}

	report.Delivered += res.Delivered
	report.Failed += res.Failed
	s.metrics.RecordPush("delivered", res.Delivered)
	s.metrics.RecordPush("failed", res.Failed)

	if len(res.Unregistered) > 0 {
		pruned, err := s.store.DeleteTokens(ctx, res.Unregistered)
		if err != nil {
			s.logger.Warn("failed to prune push tokens", zap.Int("tokens", len(res.Unregistered)), zap.Error(err))
		}
		report.Pruned += pruned
		s.metrics.RecordPush("pruned", pruned)
	}
	return nil
}

func tokensOf(subs []models.PushSubscription) []string {
	tokens := make([]string, 0, len(subs))
	for _, sub := range subs {
		tokens = append(tokens, sub.Token)
	}
	return tokens
}
