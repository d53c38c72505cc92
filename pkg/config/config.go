package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Unread    UnreadConfig
	Session   SessionConfig
	Push      PushConfig
	Exports   ExportsConfig
	RateLimit RateLimitConfig
	Dashboard DashboardConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Issuer            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// UnreadConfig tunes the unread badge aggregator.
type UnreadConfig struct {
	CacheEnabled    bool
	CacheTTL        time.Duration
	CategoryTimeout time.Duration
	ProfileCacheTTL time.Duration
}

// SessionConfig controls in-memory session lifetime.
type SessionConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// PushConfig configures the push delivery bridge.
type PushConfig struct {
	Enabled           bool
	ProjectID         string
	CredentialsFile   string
	DefaultURL        string
	LinkBaseURL       string
	Icon              string
	WorkerConcurrency int
	WorkerRetries     int
}

// ExportsConfig controls record export storage & signing.
type ExportsConfig struct {
	Enabled         bool
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	CleanupInterval time.Duration
}

// RateLimitConfig throttles unauthenticated auth endpoints.
type RateLimitConfig struct {
	LoginPerMinute int
	LoginBurst     int
}

// DashboardConfig tunes dashboard composition.
type DashboardConfig struct {
	StatsMonths       int
	AnnouncementLimit int
	TimeZone          string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Issuer:            v.GetString("JWT_ISSUER"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Unread = UnreadConfig{
		CacheEnabled:    v.GetBool("ENABLE_UNREAD_CACHE"),
		CacheTTL:        parseDuration(v.GetString("UNREAD_CACHE_TTL"), 30*time.Second),
		CategoryTimeout: parseDuration(v.GetString("UNREAD_CATEGORY_TIMEOUT"), 3*time.Second),
		ProfileCacheTTL: parseDuration(v.GetString("PROFILE_CACHE_TTL"), 15*time.Minute),
	}

	cfg.Session = SessionConfig{
		IdleTTL:       parseDuration(v.GetString("SESSION_IDLE_TTL"), 30*time.Minute),
		SweepInterval: parseDuration(v.GetString("SESSION_SWEEP_INTERVAL"), time.Minute),
	}

	cfg.Push = PushConfig{
		Enabled:           v.GetBool("ENABLE_PUSH"),
		ProjectID:         v.GetString("FIREBASE_PROJECT_ID"),
		CredentialsFile:   v.GetString("FIREBASE_CREDENTIALS_FILE"),
		DefaultURL:        v.GetString("PUSH_DEFAULT_URL"),
		LinkBaseURL:       v.GetString("PUSH_LINK_BASE_URL"),
		Icon:              v.GetString("PUSH_ICON"),
		WorkerConcurrency: v.GetInt("PUSH_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("PUSH_WORKER_RETRIES"),
	}

	cfg.Exports = ExportsConfig{
		Enabled:         v.GetBool("ENABLE_EXPORTS"),
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), time.Hour),
		CleanupInterval: parseDuration(v.GetString("EXPORTS_CLEANUP_INTERVAL"), time.Hour),
	}

	cfg.RateLimit = RateLimitConfig{
		LoginPerMinute: v.GetInt("LOGIN_RATE_LIMIT_PER_MINUTE"),
		LoginBurst:     v.GetInt("LOGIN_RATE_LIMIT_BURST"),
	}

	cfg.Dashboard = DashboardConfig{
		StatsMonths:       v.GetInt("DASHBOARD_STATS_MONTHS"),
		AnnouncementLimit: v.GetInt("DASHBOARD_ANNOUNCEMENT_LIMIT"),
		TimeZone:          v.GetString("DASHBOARD_TIMEZONE"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "student_portal")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)

	v.SetDefault("ENABLE_REDIS", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "student-portal-api")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_UNREAD_CACHE", false)
	v.SetDefault("UNREAD_CACHE_TTL", "30s")
	v.SetDefault("UNREAD_CATEGORY_TIMEOUT", "3s")
	v.SetDefault("PROFILE_CACHE_TTL", "15m")

	v.SetDefault("SESSION_IDLE_TTL", "30m")
	v.SetDefault("SESSION_SWEEP_INTERVAL", "1m")

	v.SetDefault("ENABLE_PUSH", false)
	v.SetDefault("FIREBASE_PROJECT_ID", "")
	v.SetDefault("FIREBASE_CREDENTIALS_FILE", "")
	v.SetDefault("PUSH_DEFAULT_URL", "/notification")
	v.SetDefault("PUSH_LINK_BASE_URL", "")
	v.SetDefault("PUSH_ICON", "/icon-192x192.png")
	v.SetDefault("PUSH_WORKER_CONCURRENCY", 2)
	v.SetDefault("PUSH_WORKER_RETRIES", 3)

	v.SetDefault("ENABLE_EXPORTS", false)
	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "1h")
	v.SetDefault("EXPORTS_CLEANUP_INTERVAL", "1h")

	v.SetDefault("LOGIN_RATE_LIMIT_PER_MINUTE", 10)
	v.SetDefault("LOGIN_RATE_LIMIT_BURST", 5)

	v.SetDefault("DASHBOARD_STATS_MONTHS", 6)
	v.SetDefault("DASHBOARD_ANNOUNCEMENT_LIMIT", 3)
	v.SetDefault("DASHBOARD_TIMEZONE", "UTC")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
