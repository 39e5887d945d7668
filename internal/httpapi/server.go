// Package httpapi is the HTTP surface of creditd: internal credit endpoints for trusted
// services, session-authenticated student endpoints, the payment webhook and ops routes.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/inglespareto/credits/internal/activities"
	"github.com/inglespareto/credits/internal/metrics"
	"github.com/inglespareto/credits/pkg/credits"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	walletHistoryLimit     = 10
	maxWebhookBodyBytes    = 1 << 20
)

// Config carries the router settings.
type Config struct {
	AllowedOrigins       []string
	ServiceSigningKey    string
	ServiceIssuer        string
	PaymentWebhookSecret string
}

// Dependencies are the services behind the routes. Chat, Booking, Learning and Metrics are optional;
// their routes answer 503 when unset.
type Dependencies struct {
	Logger           *zap.Logger
	Credits          *credits.Service
	Chat             *activities.ChatService
	Booking          *activities.BookingService
	Learning         *activities.LearningService
	Metrics          *metrics.Recorder
	SessionValidator *sessionvalidator.Validator
}

type httpHandler struct {
	logger   *zap.Logger
	credits  *credits.Service
	chat     *activities.ChatService
	booking  *activities.BookingService
	learning *activities.LearningService
	cfg      Config
}

// NewRouter builds the gin engine.
func NewRouter(cfg Config, deps Dependencies) (*gin.Engine, error) {
	if deps.Credits == nil {
		return nil, fmt.Errorf("http router: credit service is required")
	}
	if deps.SessionValidator == nil {
		return nil, fmt.Errorf("http router: session validator is required")
	}
	if cfg.ServiceSigningKey == "" {
		return nil, fmt.Errorf("http router: service signing key is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &httpHandler{
		logger:   logger,
		credits:  deps.Credits,
		chat:     deps.Chat,
		booking:  deps.Booking,
		learning: deps.Learning,
		cfg:      cfg,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if deps.Metrics != nil {
		router.Use(observeRequests(deps.Metrics))
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	internal := router.Group("/credits")
	internal.Use(serviceAuth([]byte(cfg.ServiceSigningKey), cfg.ServiceIssuer))
	internal.POST("/check", handler.handleCheck)
	internal.POST("/execute", handler.handleExecute)
	internal.POST("/add", handler.handleAdd)
	internal.GET("/balance/:userId", handler.handleBalance)
	internal.GET("/rate-limit/:userId", handler.handleRateLimit)
	internal.GET("/transactions/:userId", handler.handleTransactions)
	internal.POST("/estimate", handler.handleEstimate)
	internal.GET("/catalog", handler.handleCatalog)
	internal.POST("/resume/:userId", handler.handleResume)

	api := router.Group("/api")
	api.Use(deps.SessionValidator.GinMiddleware(claimsContextKey))
	api.GET("/wallet", handler.handleWallet)
	api.POST("/chat/messages", handler.handleChatMessage)
	api.POST("/lessons", handler.handleBookLesson)
	api.GET("/lessons/slots", handler.handleLessonSlots)
	api.POST("/learning/units/:unitId/complete", handler.handleCompleteUnit)
	api.POST("/learning/paths/:pathId/start", handler.handleStartPath)
	api.GET("/learning/paths/:pathId/estimate", handler.handleEstimatePath)
	api.POST("/learning/quizzes/:quizId/attempts", handler.handleQuizAttempt)
	api.POST("/learning/exercises/:exerciseId/complete", handler.handleCompleteExercise)

	if cfg.PaymentWebhookSecret != "" {
		router.POST("/webhooks/payments", handler.handlePaymentWebhook)
	}
	return router, nil
}

// Serve runs server until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, server *http.Server, logger *zap.Logger, shutdownTimeout time.Duration) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func observeRequests(recorder *metrics.Recorder) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		started := time.Now()
		ctx.Next()
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		recorder.ObserveRequest(ctx.Request.Method, route, ctx.Writer.Status(), time.Since(started))
	}
}
