// Package config holds the validated runtime settings of creditd.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	defaultHTTPListenAddr   = ":8080"
	defaultGRPCListenAddr   = ":7000"
	defaultDatabaseURL      = "sqlite:///tmp/credits.db"
	defaultAllowedOrigin    = "http://localhost:8000"
	defaultServiceIssuer    = "inglespareto"
	defaultSessionIssuer    = "tauth"
	defaultSessionCookie    = "app_session"
	defaultPendingTimeout   = 30 * time.Second
	defaultMaxRetries       = 3
	defaultRateLimitWindow  = 60 * time.Second
	defaultRateLimitMax     = 50
	defaultSweepInterval    = 10 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultChatModel        = "gpt-4o-mini"
	defaultChatBaseURL      = "https://api.openai.com/v1"
	defaultChatTimeout      = 20 * time.Second
	defaultCalendarID       = "primary"
	defaultLessonDuration   = 60 * time.Minute
	defaultLessonTimeZone   = "America/Sao_Paulo"
	databaseURLMemory       = "memory"
	minimumSigningKeyLength = 16
)

var ErrInvalidConfig = errors.New("invalid config")

// Config aggregates runtime settings for creditd.
type Config struct {
	HTTPListenAddr  string
	GRPCListenAddr  string
	DatabaseURL     string
	RedisURL        string
	CatalogPath     string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration

	ServiceSigningKey string
	ServiceIssuer     string

	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string

	PaymentWebhookSecret string

	PendingTimeout  time.Duration
	MaxRetries      int
	RateLimitWindow time.Duration
	RateLimitMax    int
	SweepInterval   time.Duration

	ChatBaseURL string
	ChatAPIKey  string
	ChatModel   string
	ChatTimeout time.Duration

	CalendarID              string
	CalendarCredentialsFile string
	LessonDuration          time.Duration
	LessonTimeZone          string
}

// Validate fills defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.HTTPListenAddr = defaultIfEmpty(cfg.HTTPListenAddr, defaultHTTPListenAddr)
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.ShutdownTimeout = defaultIfZero(cfg.ShutdownTimeout, defaultShutdownTimeout)
	cfg.ServiceIssuer = defaultIfEmpty(cfg.ServiceIssuer, defaultServiceIssuer)
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.PendingTimeout = defaultIfZero(cfg.PendingTimeout, defaultPendingTimeout)
	cfg.RateLimitWindow = defaultIfZero(cfg.RateLimitWindow, defaultRateLimitWindow)
	cfg.SweepInterval = defaultIfZero(cfg.SweepInterval, defaultSweepInterval)
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RateLimitMax == 0 {
		cfg.RateLimitMax = defaultRateLimitMax
	}
	cfg.ChatBaseURL = strings.TrimRight(defaultIfEmpty(cfg.ChatBaseURL, defaultChatBaseURL), "/")
	cfg.ChatModel = defaultIfEmpty(cfg.ChatModel, defaultChatModel)
	cfg.ChatTimeout = defaultIfZero(cfg.ChatTimeout, defaultChatTimeout)
	cfg.CalendarID = defaultIfEmpty(cfg.CalendarID, defaultCalendarID)
	cfg.LessonDuration = defaultIfZero(cfg.LessonDuration, defaultLessonDuration)
	cfg.LessonTimeZone = defaultIfEmpty(cfg.LessonTimeZone, defaultLessonTimeZone)

	if len(cfg.ServiceSigningKey) < minimumSigningKeyLength {
		return fmt.Errorf("%w: service signing key must be at least %d bytes", ErrInvalidConfig, minimumSigningKeyLength)
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("%w: session signing key is required", ErrInvalidConfig)
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be positive", ErrInvalidConfig)
	}
	if cfg.RateLimitMax < 0 {
		return fmt.Errorf("%w: rate limit max must be positive", ErrInvalidConfig)
	}
	if cfg.PendingTimeout < 0 || cfg.RateLimitWindow < 0 || cfg.SweepInterval < 0 {
		return fmt.Errorf("%w: durations must be positive", ErrInvalidConfig)
	}
	if _, err := time.LoadLocation(cfg.LessonTimeZone); err != nil {
		return fmt.Errorf("%w: lesson time zone: %v", ErrInvalidConfig, err)
	}
	return nil
}

// UsesMemoryStore reports whether balances should live in process memory.
func (cfg Config) UsesMemoryStore() bool {
	return strings.EqualFold(strings.TrimSpace(cfg.DatabaseURL), databaseURLMemory)
}

// ChatEnabled reports whether an LLM provider is configured.
func (cfg Config) ChatEnabled() bool {
	return strings.TrimSpace(cfg.ChatAPIKey) != ""
}

// CalendarEnabled reports whether Google Calendar credentials are configured.
func (cfg Config) CalendarEnabled() bool {
	return strings.TrimSpace(cfg.CalendarCredentialsFile) != ""
}

// PaymentsEnabled reports whether the payment webhook should be mounted.
func (cfg Config) PaymentsEnabled() bool {
	return cfg.PaymentWebhookSecret != ""
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func defaultIfZero(value time.Duration, fallback time.Duration) time.Duration {
	if value == 0 {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
