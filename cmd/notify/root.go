package main

import (
	"context"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/push"
	"github.com/noah-isme/student-portal-api/internal/repository"
	"github.com/noah-isme/student-portal-api/internal/service"
	"github.com/noah-isme/student-portal-api/migrations"
	"github.com/noah-isme/student-portal-api/pkg/cache"
	"github.com/noah-isme/student-portal-api/pkg/config"
	"github.com/noah-isme/student-portal-api/pkg/database"
	"github.com/noah-isme/student-portal-api/pkg/logger"
)

type publisher interface {
	Publish(ctx context.Context, author *models.Principal, req models.PublishAnnouncementRequest) (*models.Announcement, error)
}

type fanOuter interface {
	AnnouncementPayload(ann models.Announcement) models.PushPayload
	FanOutNow(ctx context.Context, payload models.PushPayload) (*models.PushReport, error)
}

// app holds what the send command needs; tests swap in fakes.
type app struct {
	announcements publisher
	push          fanOuter
	close         func()
}

type appFactory func(ctx context.Context) (*app, error)

func newRootCmd() *cobra.Command {
	return newRootCmdWith(buildApp)
}

func newRootCmdWith(factory appFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "notify",
		Short:         "Publish announcements to the student portal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSendCmd(factory), newMigrateCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logr, err := logger.New(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logr.Sync() //nolint:errcheck

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			db, err := database.NewPostgres(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer db.Close()
			return database.Migrate(db, migrations.FS, logr)
		},
	}
}

func newSendCmd(factory appFactory) *cobra.Command {
	var (
		kind   string
		author string
		noPush bool
	)
	cmd := &cobra.Command{
		Use:   "send HEADING CONTENT",
		Short: "Publish an announcement and push it to every registered device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := factory(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			skip := false
			var principal *models.Principal
			if author != "" {
				principal = &models.Principal{ID: author}
			}
			ann, err := a.announcements.Publish(ctx, principal, models.PublishAnnouncementRequest{
				Heading: args[0],
				Content: args[1],
				Kind:    kind,
				Push:    &skip,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "published announcement %s\n", ann.ID)

			if noPush {
				return nil
			}
			report, err := a.push.FanOutNow(ctx, a.push.AnnouncementPayload(*ann))
			if err != nil {
				return fmt.Errorf("push fan-out: %w", err)
			}
			printReport(out, report)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "announcement kind shown by clients")
	cmd.Flags().StringVar(&author, "author", "", "user id recorded as the author")
	cmd.Flags().BoolVar(&noPush, "no-push", false, "store the announcement without sending push notifications")
	return cmd
}

func printReport(w io.Writer, r *models.PushReport) {
	if r == nil {
		return
	}
	fmt.Fprintf(w, "push: attempted=%d delivered=%d failed=%d pruned=%d\n", r.Attempted, r.Delivered, r.Failed, r.Pruned)
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, cached counts expire on their own", zap.Error(err))
		redisClient = nil
	}

	validate := validator.New()
	metrics := service.NewMetricsService()
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Unread.CacheTTL, logr, redisClient != nil)
	profiles := service.NewProfileService(repository.NewStudentProfileRepository(db), cacheSvc, cfg.Unread.ProfileCacheTTL, logr)
	unread := service.NewUnreadService(repository.NewRecordRepository(db), repository.NewLedgerRepository(db), profiles, cacheSvc, metrics, logr, service.UnreadConfig{
		CategoryTimeout: cfg.Unread.CategoryTimeout,
		CacheTTL:        cfg.Unread.CacheTTL,
	})

	var sender push.Sender
	if cfg.Push.Enabled {
		fcm, err := push.NewFCMSender(ctx, push.FCMConfig{ProjectID: cfg.Push.ProjectID, CredentialsFile: cfg.Push.CredentialsFile}, logr)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init push sender: %w", err)
		}
		sender = fcm
	}
	pushSvc := service.NewPushService(repository.NewPushSubscriptionRepository(db), sender, metrics, validate, logr, service.PushConfig{
		Enabled:     cfg.Push.Enabled,
		DefaultURL:  cfg.Push.DefaultURL,
		LinkBaseURL: cfg.Push.LinkBaseURL,
		Icon:        cfg.Push.Icon,
	})
	if !pushSvc.Enabled() {
		logr.Info("push disabled, announcements are stored only")
	}

	return &app{
		announcements: service.NewAnnouncementService(repository.NewAnnouncementRepository(db), unread, nil, nil, validate, logr),
		push:          pushSvc,
		close: func() {
			_ = cacheRepo.Close()
			_ = db.Close()
			_ = logr.Sync()
		},
	}, nil
}
