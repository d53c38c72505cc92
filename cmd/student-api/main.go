package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/handler"
	"github.com/noah-isme/student-portal-api/internal/middleware"
	"github.com/noah-isme/student-portal-api/internal/push"
	"github.com/noah-isme/student-portal-api/internal/repository"
	"github.com/noah-isme/student-portal-api/internal/router"
	"github.com/noah-isme/student-portal-api/internal/service"
	"github.com/noah-isme/student-portal-api/internal/session"
	"github.com/noah-isme/student-portal-api/migrations"
	"github.com/noah-isme/student-portal-api/pkg/cache"
	"github.com/noah-isme/student-portal-api/pkg/config"
	"github.com/noah-isme/student-portal-api/pkg/database"
	"github.com/noah-isme/student-portal-api/pkg/logger"
	"github.com/noah-isme/student-portal-api/pkg/storage"
)

// @title Student Portal API
// @version 1.0.0
// @description Records, unread badges, live counts and push for the student PWA
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, migrations.FS, logr); err != nil {
			return err
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		// counts still work uncached
		logr.Warn("redis unavailable, unread cache disabled", zap.Error(err))
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close()

	validate := validator.New()
	metrics := service.NewMetricsService()

	users := repository.NewUserRepository(db)
	profilesRepo := repository.NewStudentProfileRepository(db)
	records := repository.NewRecordRepository(db)
	announcementsRepo := repository.NewAnnouncementRepository(db)
	attendance := repository.NewAttendanceRepository(db)
	ledger := repository.NewLedgerRepository(db)
	subscriptions := repository.NewPushSubscriptionRepository(db)

	cacheSvc := service.NewCacheService(
		cacheRepo,
		metrics,
		cfg.Unread.CacheTTL,
		logr,
		cfg.Unread.CacheEnabled && redisClient != nil,
	)
	authSvc := service.NewAuthService(users, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	profileSvc := service.NewProfileService(profilesRepo, cacheSvc, cfg.Unread.ProfileCacheTTL, logr)
	unreadSvc := service.NewUnreadService(records, ledger, profileSvc, cacheSvc, metrics, logr, service.UnreadConfig{
		CategoryTimeout: cfg.Unread.CategoryTimeout,
		CacheTTL:        cfg.Unread.CacheTTL,
	})

	registry := session.NewRegistry(unreadSvc, session.RegistryConfig{
		IdleTTL:       cfg.Session.IdleTTL,
		SweepInterval: cfg.Session.SweepInterval,
	}, metrics, logr)
	registry.Start(ctx)
	defer registry.Close()

	pushSvc, err := newPushService(ctx, cfg, subscriptions, metrics, validate, logr)
	if err != nil {
		return err
	}
	pushSvc.Start(ctx)
	defer pushSvc.Close()

	recordSvc := service.NewRecordService(records, profileSvc, logr)
	announcementSvc := service.NewAnnouncementService(announcementsRepo, unreadSvc, registry, pushSvc, validate, logr)

	location, err := time.LoadLocation(cfg.Dashboard.TimeZone)
	if err != nil {
		logr.Warn("unknown dashboard timezone, using UTC", zap.String("timezone", cfg.Dashboard.TimeZone), zap.Error(err))
		location = time.UTC
	}
	dashboardSvc := service.NewDashboardService(profileSvc, attendance, announcementSvc, logr, service.DashboardConfig{
		StatsMonths:       cfg.Dashboard.StatsMonths,
		AnnouncementLimit: cfg.Dashboard.AnnouncementLimit,
		Location:          location,
	})

	exportSvc, err := newExportService(cfg, records, profileSvc, logr)
	if err != nil {
		return err
	}
	go exportSvc.RunCleanup(ctx)

	engine := router.New(router.Dependencies{
		Config:       cfg,
		Logger:       logr,
		Metrics:      middleware.Metrics(metrics),
		Tokens:       authSvc,
		Sessions:     registry,
		LoginLimiter: middleware.NewRateLimiter(cfg.RateLimit.LoginPerMinute, cfg.RateLimit.LoginBurst),

		Auth:          handler.NewAuthHandler(authSvc, profileSvc, registry),
		Dashboard:     handler.NewDashboardHandler(dashboardSvc),
		Records:       handler.NewRecordHandler(recordSvc, logr),
		Notifications: handler.NewNotificationHandler(metrics, logr, 0),
		Push:          handler.NewPushHandler(pushSvc),
		Announcements: handler.NewAnnouncementHandler(announcementSvc),
		Exports:       handler.NewExportHandler(exportSvc, logr),
		Health:        handler.NewHealthHandler(metrics, readinessChecks(db, cacheRepo, redisClient != nil)),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	// open event streams end when their sessions close
	registry.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newPushService(ctx context.Context, cfg *config.Config, store *repository.PushSubscriptionRepository, metrics *service.MetricsService, validate *validator.Validate, logr *zap.Logger) (*service.PushService, error) {
	var sender push.Sender
	if cfg.Push.Enabled {
		fcm, err := push.NewFCMSender(ctx, push.FCMConfig{
			ProjectID:       cfg.Push.ProjectID,
			CredentialsFile: cfg.Push.CredentialsFile,
		}, logr)
		if err != nil {
			return nil, fmt.Errorf("init push sender: %w", err)
		}
		sender = fcm
	}
	return service.NewPushService(store, sender, metrics, validate, logr, service.PushConfig{
		Enabled:     cfg.Push.Enabled,
		DefaultURL:  cfg.Push.DefaultURL,
		LinkBaseURL: cfg.Push.LinkBaseURL,
		Icon:        cfg.Push.Icon,
		Workers:     cfg.Push.WorkerConcurrency,
		MaxRetries:  cfg.Push.WorkerRetries,
	}), nil
}

func newExportService(cfg *config.Config, records *repository.RecordRepository, profiles *service.ProfileService, logr *zap.Logger) (*service.ExportService, error) {
	exportCfg := service.ExportConfig{
		Enabled:         cfg.Exports.Enabled,
		APIPrefix:       cfg.APIPrefix,
		ResultTTL:       cfg.Exports.SignedURLTTL,
		CleanupInterval: cfg.Exports.CleanupInterval,
	}
	if !cfg.Exports.Enabled {
		return service.NewExportService(records, profiles, nil, nil, exportCfg, logr), nil
	}
	store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		return nil, err
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	return service.NewExportService(records, profiles, store, signer, exportCfg, logr), nil
}

func readinessChecks(db *sqlx.DB, cacheRepo *repository.CacheRepository, redisEnabled bool) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{
		"postgres": func(ctx context.Context) error { return database.Ping(ctx, db) },
	}
	if redisEnabled {
		checks["redis"] = cacheRepo.Ping
	}
	return checks
}
