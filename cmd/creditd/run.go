package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/inglespareto/credits/internal/activities"
	"github.com/inglespareto/credits/internal/calendar"
	"github.com/inglespareto/credits/internal/config"
	"github.com/inglespareto/credits/internal/grpcserver"
	"github.com/inglespareto/credits/internal/httpapi"
	"github.com/inglespareto/credits/internal/metrics"
	"github.com/inglespareto/credits/internal/oplog"
	"github.com/inglespareto/credits/internal/ratelimit"
	"github.com/inglespareto/credits/internal/store/gormstore"
	"github.com/inglespareto/credits/internal/store/memstore"
	"github.com/inglespareto/credits/pkg/credits"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
)

func run(ctx context.Context, cfg config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	var (
		store    credits.Store
		progress activities.ProgressRecorder
	)
	if cfg.UsesMemoryStore() {
		logger.Warn("using in-memory balances; data is lost on restart")
		store = memstore.New()
		progress = activities.NewMemoryProgress()
	} else {
		target, err := parseDatabaseURL(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		gormDB, cleanup, err := target.open(ctx)
		if err != nil {
			return fmt.Errorf("database open: %w", err)
		}
		defer func() { _ = cleanup() }()
		if err := prepareSchema(gormDB); err != nil {
			return err
		}
		logger.Info("database ready", zap.String("driver", target.driver))
		store = gormstore.New(gormDB)
		progress = activities.NewGormProgress(gormDB)
	}

	limiter, err := newLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = limiter.Close() }()

	catalog, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}

	recorder := metrics.NewRecorder()
	creditService, err := credits.NewService(store, limiter, catalog,
		credits.WithOperationLogger(oplog.New(logger)),
		credits.WithOperationLogger(recorder),
		credits.WithPendingTimeout(cfg.PendingTimeout),
		credits.WithMaxRetries(cfg.MaxRetries),
	)
	if err != nil {
		return fmt.Errorf("credit service init: %w", err)
	}
	defer creditService.Close()
	suspended, err := creditService.RestoreSuspensions(ctx)
	if err != nil {
		return fmt.Errorf("restore suspensions: %w", err)
	}
	if suspended > 0 {
		logger.Warn("accounts remain suspended after failed restorations", zap.Int("count", suspended))
	}

	deps := httpapi.Dependencies{
		Logger:  logger,
		Credits: creditService,
		Metrics: recorder,
	}
	if cfg.ChatEnabled() {
		provider, err := activities.NewOpenAIChatProvider(activities.OpenAIConfig{
			APIKey:  cfg.ChatAPIKey,
			BaseURL: cfg.ChatBaseURL,
			Model:   cfg.ChatModel,
			Timeout: cfg.ChatTimeout,
		})
		if err != nil {
			return fmt.Errorf("chat provider init: %w", err)
		}
		if deps.Chat, err = activities.NewChatService(creditService, provider); err != nil {
			return err
		}
	} else {
		logger.Info("chat disabled; no api key configured")
	}

	lessonCalendar, err := newCalendar(ctx, cfg)
	if err != nil {
		return err
	}
	location, err := time.LoadLocation(cfg.LessonTimeZone)
	if err != nil {
		return fmt.Errorf("lesson time zone: %w", err)
	}
	if deps.Booking, err = activities.NewBookingService(creditService, lessonCalendar,
		activities.WithLessonDuration(cfg.LessonDuration),
		activities.WithLocation(location),
	); err != nil {
		return err
	}
	if deps.Learning, err = activities.NewLearningService(creditService, progress); err != nil {
		return err
	}
	if deps.SessionValidator, err = sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	}); err != nil {
		return fmt.Errorf("session validator: %w", err)
	}

	router, err := httpapi.NewRouter(httpapi.Config{
		AllowedOrigins:       cfg.AllowedOrigins,
		ServiceSigningKey:    cfg.ServiceSigningKey,
		ServiceIssuer:        cfg.ServiceIssuer,
		PaymentWebhookSecret: cfg.PaymentWebhookSecret,
	}, deps)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpcserver.NewServer(creditService, logger)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return httpapi.Serve(groupCtx, httpServer, logger, cfg.ShutdownTimeout)
	})
	group.Go(func() error {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		return nil
	})
	group.Go(func() error {
		sweepExpired(groupCtx, creditService, cfg.SweepInterval, logger)
		return nil
	})
	return group.Wait()
}

func newLimiter(ctx context.Context, cfg config.Config) (*ratelimit.Limiter, error) {
	limiterConfig := ratelimit.Config{Window: cfg.RateLimitWindow, MaxRequests: cfg.RateLimitMax}
	if cfg.RedisURL != "" {
		client, err := ratelimit.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		redisStore, err := ratelimit.NewRedisStore(client)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		limiterConfig.Store = redisStore
	}
	limiter, err := ratelimit.NewLimiter(limiterConfig)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return limiter, nil
}

func loadCatalog(path string) (credits.Catalog, error) {
	if path == "" {
		return credits.DefaultCatalog(), nil
	}
	file, err := os.Open(path)
	if err != nil {
		return credits.Catalog{}, fmt.Errorf("catalog open: %w", err)
	}
	defer file.Close()
	catalog, err := credits.LoadCatalog(file)
	if err != nil {
		return credits.Catalog{}, fmt.Errorf("catalog %s: %w", path, err)
	}
	return catalog, nil
}

func newCalendar(ctx context.Context, cfg config.Config) (activities.CalendarProvider, error) {
	if !cfg.CalendarEnabled() {
		return calendar.NewMemoryCalendar(), nil
	}
	googleCalendar, err := calendar.NewGoogleCalendar(ctx, cfg.CalendarID, cfg.LessonTimeZone, option.WithCredentialsFile(cfg.CalendarCredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("calendar init: %w", err)
	}
	return googleCalendar, nil
}

// sweepExpired restores lapsed pending debits the in-process timers missed, e.g. after a restart.
func sweepExpired(ctx context.Context, creditService *credits.Service, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			restored, err := creditService.SweepExpired(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Error("expired pending sweep failed", zap.Error(err))
				continue
			}
			if restored > 0 {
				logger.Info("expired pending debits restored", zap.Int("count", restored))
			}
		}
	}
}
