// Package router assembles the HTTP surface.
package router

import (
	"strings"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/student-portal-api/api/swagger"
	"github.com/noah-isme/student-portal-api/internal/handler"
	"github.com/noah-isme/student-portal-api/internal/middleware"
	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/session"
	"github.com/noah-isme/student-portal-api/pkg/config"
	"github.com/noah-isme/student-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/student-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/student-portal-api/pkg/middleware/requestid"
)

// TokenValidator checks access tokens.
type TokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// SessionRegistry hands out per-user sessions.
type SessionRegistry interface {
	Acquire(principal models.Principal) *session.Session
}

// Dependencies are the constructed handlers and middleware inputs.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      gin.HandlerFunc
	Tokens       TokenValidator
	Sessions     SessionRegistry
	LoginLimiter *middleware.RateLimiter

	Auth          *handler.AuthHandler
	Dashboard     *handler.DashboardHandler
	Records       *handler.RecordHandler
	Notifications *handler.NotificationHandler
	Push          *handler.PushHandler
	Announcements *handler.AnnouncementHandler
	Exports       *handler.ExportHandler
	Health        *handler.HealthHandler
}

// New builds the gin engine with every route mounted.
func New(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	logr := deps.Logger
	if logr == nil {
		logr = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	if deps.Metrics != nil {
		r.Use(deps.Metrics)
	}

	r.GET("/health", deps.Health.Health)
	r.GET("/ready", deps.Health.Ready)
	r.GET("/metrics", deps.Health.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	prefix := "/" + strings.Trim(cfg.APIPrefix, "/")
	api := r.Group(prefix)

	jwt := middleware.JWT(deps.Tokens, deps.Sessions)

	auth := api.Group("/auth")
	if deps.LoginLimiter != nil {
		auth.POST("/login", deps.LoginLimiter.Middleware(), deps.Auth.Login)
	} else {
		auth.POST("/login", deps.Auth.Login)
	}
	auth.POST("/refresh", deps.Auth.Refresh)
	auth.POST("/logout", jwt, deps.Auth.Logout)
	auth.GET("/me", jwt, deps.Auth.Me)

	api.GET("/exports/download/:token", deps.Exports.Download)
	api.GET("/notifications/stream", middleware.StreamJWT(deps.Tokens, deps.Sessions), deps.Notifications.Stream)

	secured := api.Group("")
	secured.Use(jwt)
	secured.GET("/dashboard", deps.Dashboard.Summary)
	secured.GET("/records/:category", deps.Records.List)
	secured.GET("/notifications/counts", deps.Notifications.Counts)
	secured.POST("/notifications/:category/read", deps.Notifications.MarkRead)
	secured.POST("/push/subscriptions", deps.Push.Register)
	secured.DELETE("/push/subscriptions/:token", deps.Push.Unregister)
	secured.POST("/push/test", deps.Push.Test)
	secured.POST("/exports/:category", deps.Exports.Create)
	secured.POST("/announcements",
		middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher),
		middleware.Audit(logr, "announcement.publish"),
		deps.Announcements.Publish,
	)

	return r
}
