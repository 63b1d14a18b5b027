package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/config"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/infra/postgresql"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/infra/postgresql/migrations"
	infraredis "github.com/like-teriyaki37/tg-notifier-monorepo/internal/infra/redis"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/observability"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/provider"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/queue"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/repository"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer mq.Close()

	publisher := queue.NewRabbitMQPublisher(mq)
	consumer := queue.NewRabbitMQConsumer(mq, cfg.WorkerConcurrency, logger)

	jobRepo := repository.NewGormJobRepo(db)
	linkRepo := repository.NewGormLinkRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.ChatRatePerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	telegram, err := provider.NewTelegramProvider(cfg.TelegramAPIURL, cfg.TelegramBotToken)
	if err != nil {
		logger.Fatal("telegram provider initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	worker, err := service.NewWorkerService(
		jobRepo,
		linkRepo,
		attemptRepo,
		consumer,
		telegram,
		rateLimiter,
		cfg.WorkerConcurrency,
		logger,
	)
	if err != nil {
		logger.Fatal("worker service initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	scanner, err := service.NewRetryScanner(jobRepo, publisher, 0, 0, logger)
	if err != nil {
		logger.Fatal("retry scanner initialization failed", zap.Error(err))
	}

	pruner, err := service.NewPruner(jobRepo, 0, cfg.DeliveredKeep, logger)
	if err != nil {
		logger.Fatal("pruner initialization failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("worker started", zap.Int("concurrency", cfg.WorkerConcurrency))

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Start(groupCtx) })
	g.Go(func() error { return scanner.Start(groupCtx) })
	g.Go(func() error { return pruner.Start(groupCtx) })

	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := metricsSrv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("metrics server shutdown failed", zap.Error(shutdownErr))
	}

	if err != nil {
		logger.Fatal("worker exited with error", zap.Error(err))
	}

	logger.Info("worker stopped")
}
