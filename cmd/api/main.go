package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/waterops/licensing-api/internal/config"
	"github.com/waterops/licensing-api/internal/email"
	authHandler "github.com/waterops/licensing-api/internal/handler/auth"
	healthHandler "github.com/waterops/licensing-api/internal/handler/health"
	noticeHandler "github.com/waterops/licensing-api/internal/handler/notice"
	"github.com/waterops/licensing-api/internal/middleware"
	"github.com/waterops/licensing-api/internal/notify"
	"github.com/waterops/licensing-api/internal/repository/postgres"
	"github.com/waterops/licensing-api/internal/router"
	authService "github.com/waterops/licensing-api/internal/service/auth"
	"github.com/waterops/licensing-api/internal/service/dispatch"
	"github.com/waterops/licensing-api/internal/worker"
	"github.com/waterops/licensing-api/pkg/logger"
	"github.com/waterops/licensing-api/pkg/messaging/redis"
	"github.com/waterops/licensing-api/pkg/metrics"
	"github.com/waterops/licensing-api/pkg/security"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	appMetrics := metrics.NewMetrics("licensing", "api")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: 100 * time.Millisecond,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, appLogger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer broker.Close()

	// Repositories
	base := postgres.NewBaseRepository(db)
	noticeRepo := postgres.NewNoticeRepository(base)
	notificationRepo := postgres.NewNotificationRepository(base)
	contactRepo := postgres.NewContactRepository(base)
	userRepo := postgres.NewUserRepository(base)

	// Provider client and dispatch pipeline
	notifyClient := notify.NewHTTPClient(notify.Config{
		BaseURL:        cfg.Notify.BaseURL,
		APIKey:         cfg.Notify.APIKey,
		TimeoutSeconds: cfg.Notify.TimeoutSeconds,
	}, appLogger)

	emailSvc := email.NewService(email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, appLogger)

	recorder := dispatch.NewRecorder(notificationRepo, broker, appLogger, appMetrics)
	sender := dispatch.NewSender(notifyClient, recorder, appLogger, appMetrics)
	checker := dispatch.NewStatusChecker(notifyClient, appLogger, appMetrics)
	aggregator := dispatch.NewAggregator(noticeRepo, notificationRepo, emailSvc, appLogger)
	generator := dispatch.NewGenerator(noticeRepo, notificationRepo, contactRepo, dispatch.GeneratorConfig{
		LetterTemplateID:  cfg.Notify.LetterTemplateID,
		EmailDueLeadDays:  cfg.Notify.EmailDueLeadDays,
		LetterDueLeadDays: cfg.Notify.LetterDueLeadDays,
	}, appLogger, appMetrics)

	dispatchSvc := dispatch.NewService(
		noticeRepo, notificationRepo,
		sender, checker, recorder, aggregator, generator,
		dispatch.Config{
			PostSendDelay: time.Duration(cfg.Notify.PostSendDelaySeconds) * time.Second,
		},
		appLogger,
	)

	poller := worker.NewStatusPoller(notificationRepo, checker, recorder, aggregator, worker.StatusPollerConfig{
		BatchSize:         cfg.Poller.BatchSize,
		BatchDelay:        cfg.Poller.BatchDelay(),
		RequestsPerMinute: cfg.Poller.RequestsPerMinute,
		RetentionDays:     cfg.Poller.RetentionDays,
		PollInterval:      cfg.Poller.Interval(),
	}, appLogger, appMetrics)

	authSvc := authService.NewService(userRepo, security.NewBcryptHasher(0), authService.Config{
		Secret:      cfg.JWT.Secret,
		ExpiryHours: cfg.JWT.ExpiryHours,
	})

	// Handlers and router
	r := router.NewRouter(
		middleware.NewAuthMiddleware(authSvc),
		noticeHandler.NewHandler(noticeRepo, notificationRepo, dispatchSvc, poller, appLogger, appMetrics),
		authHandler.NewHandler(authSvc),
		healthHandler.NewHandler(db),
		router.RouterConfig{
			RateLimit:  100,
			RateBurst:  200,
			CORSConfig: middleware.DefaultCORSConfig(),
		},
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
}
