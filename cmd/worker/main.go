package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/waterops/licensing-api/internal/config"
	"github.com/waterops/licensing-api/internal/email"
	"github.com/waterops/licensing-api/internal/notify"
	"github.com/waterops/licensing-api/internal/repository/postgres"
	"github.com/waterops/licensing-api/internal/service/dispatch"
	"github.com/waterops/licensing-api/internal/worker"
	"github.com/waterops/licensing-api/pkg/logger"
	"github.com/waterops/licensing-api/pkg/messaging/redis"
	"github.com/waterops/licensing-api/pkg/metrics"
)

func setupHealthCheck(logger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			logger.Error(err, "health check server failed")
			os.Exit(1)
		}
	}()
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	appMetrics := metrics.NewMetrics("licensing", "worker")

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

	base := postgres.NewBaseRepository(db)
	noticeRepo := postgres.NewNoticeRepository(base)
	notificationRepo := postgres.NewNotificationRepository(base)

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
	checker := dispatch.NewStatusChecker(notifyClient, appLogger, appMetrics)
	aggregator := dispatch.NewAggregator(noticeRepo, notificationRepo, emailSvc, appLogger)

	poller := worker.NewStatusPoller(notificationRepo, checker, recorder, aggregator, worker.StatusPollerConfig{
		BatchSize:         cfg.Poller.BatchSize,
		BatchDelay:        cfg.Poller.BatchDelay(),
		RequestsPerMinute: cfg.Poller.RequestsPerMinute,
		RetentionDays:     cfg.Poller.RetentionDays,
		PollInterval:      cfg.Poller.Interval(),
	}, appLogger, appMetrics)

	setupHealthCheck(appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	go poller.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down worker")
	cancel()
}
