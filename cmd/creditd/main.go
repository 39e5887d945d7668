package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/inglespareto/credits/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagHTTPListenAddr          = "http-listen-addr"
	flagGRPCListenAddr          = "grpc-listen-addr"
	flagDatabaseURL             = "database-url"
	flagRedisURL                = "redis-url"
	flagCatalogPath             = "catalog-path"
	flagAllowedOrigins          = "allowed-origins"
	flagShutdownTimeout         = "shutdown-timeout"
	flagServiceSigningKey       = "service-signing-key"
	flagServiceIssuer           = "service-issuer"
	flagSessionSigningKey       = "jwt-signing-key"
	flagSessionIssuer           = "jwt-issuer"
	flagSessionCookieName       = "jwt-cookie-name"
	flagPaymentWebhookSecret    = "payment-webhook-secret"
	flagPendingTimeout          = "pending-timeout"
	flagMaxRetries              = "max-retries"
	flagRateLimitWindow         = "rate-limit-window"
	flagRateLimitMax            = "rate-limit-max"
	flagSweepInterval           = "sweep-interval"
	flagChatBaseURL             = "chat-base-url"
	flagChatAPIKey              = "chat-api-key"
	flagChatModel               = "chat-model"
	flagChatTimeout             = "chat-timeout"
	flagCalendarID              = "calendar-id"
	flagCalendarCredentialsFile = "calendar-credentials-file"
	flagLessonDuration          = "lesson-duration"
	flagLessonTimeZone          = "lesson-time-zone"
	envPrefix                   = "CREDITD"
)

var boundFlags = []string{
	flagHTTPListenAddr, flagGRPCListenAddr, flagDatabaseURL, flagRedisURL, flagCatalogPath,
	flagAllowedOrigins, flagShutdownTimeout, flagServiceSigningKey, flagServiceIssuer,
	flagSessionSigningKey, flagSessionIssuer, flagSessionCookieName, flagPaymentWebhookSecret,
	flagPendingTimeout, flagMaxRetries, flagRateLimitWindow, flagRateLimitMax, flagSweepInterval,
	flagChatBaseURL, flagChatAPIKey, flagChatModel, flagChatTimeout,
	flagCalendarID, flagCalendarCredentialsFile, flagLessonDuration, flagLessonTimeZone,
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "creditd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:           "creditd",
		Short:         "Credit ledger for Inglês Pareto activities",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, *cfg)
		},
	}

	flags := cmd.Flags()
	flags.String(flagHTTPListenAddr, ":8080", "HTTP listen address")
	flags.String(flagGRPCListenAddr, ":7000", "gRPC listen address")
	flags.String(flagDatabaseURL, "sqlite:///tmp/credits.db", "postgres:// or sqlite:// URL, or \"memory\"")
	flags.String(flagRedisURL, "", "redis:// URL for the shared rate limiter (in-process when empty)")
	flags.String(flagCatalogPath, "", "YAML activity price table (built-in prices when empty)")
	flags.String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	flags.Duration(flagShutdownTimeout, 0, "graceful shutdown timeout")
	flags.String(flagServiceSigningKey, "", "HS256 key for service-to-service tokens (required)")
	flags.String(flagServiceIssuer, "", "expected issuer of service tokens")
	flags.String(flagSessionSigningKey, "", "TAuth JWT signing key (required)")
	flags.String(flagSessionIssuer, "", "expected TAuth JWT issuer")
	flags.String(flagSessionCookieName, "", "TAuth session cookie name")
	flags.String(flagPaymentWebhookSecret, "", "HMAC secret of the payment webhook (webhook disabled when empty)")
	flags.Duration(flagPendingTimeout, 0, "lease of a pending debit")
	flags.Int(flagMaxRetries, 0, "executor attempts per activity")
	flags.Duration(flagRateLimitWindow, 0, "credit check rate limit window")
	flags.Int(flagRateLimitMax, 0, "credit checks allowed per user and window")
	flags.Duration(flagSweepInterval, 0, "interval of the expired pending sweep")
	flags.String(flagChatBaseURL, "", "OpenAI-compatible API base URL")
	flags.String(flagChatAPIKey, "", "chat provider API key (chat disabled when empty)")
	flags.String(flagChatModel, "", "chat model")
	flags.Duration(flagChatTimeout, 0, "chat provider request timeout")
	flags.String(flagCalendarID, "", "Google Calendar id of the tutor calendar")
	flags.String(flagCalendarCredentialsFile, "", "Google service account file (in-memory calendar when empty)")
	flags.Duration(flagLessonDuration, 0, "length of a lesson slot")
	flags.String(flagLessonTimeZone, "", "IANA time zone for lesson slots")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, flagName := range boundFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.HTTPListenAddr = strings.TrimSpace(v.GetString(flagHTTPListenAddr))
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	cfg.RedisURL = strings.TrimSpace(v.GetString(flagRedisURL))
	cfg.CatalogPath = strings.TrimSpace(v.GetString(flagCatalogPath))
	cfg.AllowedOrigins = config.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.ShutdownTimeout = v.GetDuration(flagShutdownTimeout)
	cfg.ServiceSigningKey = v.GetString(flagServiceSigningKey)
	cfg.ServiceIssuer = strings.TrimSpace(v.GetString(flagServiceIssuer))
	cfg.SessionSigningKey = v.GetString(flagSessionSigningKey)
	cfg.SessionIssuer = strings.TrimSpace(v.GetString(flagSessionIssuer))
	cfg.SessionCookieName = strings.TrimSpace(v.GetString(flagSessionCookieName))
	cfg.PaymentWebhookSecret = v.GetString(flagPaymentWebhookSecret)
	cfg.PendingTimeout = v.GetDuration(flagPendingTimeout)
	cfg.MaxRetries = v.GetInt(flagMaxRetries)
	cfg.RateLimitWindow = v.GetDuration(flagRateLimitWindow)
	cfg.RateLimitMax = v.GetInt(flagRateLimitMax)
	cfg.SweepInterval = v.GetDuration(flagSweepInterval)
	cfg.ChatBaseURL = strings.TrimSpace(v.GetString(flagChatBaseURL))
	cfg.ChatAPIKey = strings.TrimSpace(v.GetString(flagChatAPIKey))
	cfg.ChatModel = strings.TrimSpace(v.GetString(flagChatModel))
	cfg.ChatTimeout = v.GetDuration(flagChatTimeout)
	cfg.CalendarID = strings.TrimSpace(v.GetString(flagCalendarID))
	cfg.CalendarCredentialsFile = strings.TrimSpace(v.GetString(flagCalendarCredentialsFile))
	cfg.LessonDuration = v.GetDuration(flagLessonDuration)
	cfg.LessonTimeZone = strings.TrimSpace(v.GetString(flagLessonTimeZone))

	return cfg.Validate()
}
