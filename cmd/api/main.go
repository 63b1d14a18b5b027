package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/config"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/handler"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/infra/postgresql"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/infra/postgresql/migrations"
	infraredis "github.com/like-teriyaki37/tg-notifier-monorepo/internal/infra/redis"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/mailer"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/observability"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/queue"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/repository"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/service"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/transport"
)

const shutdownTimeout = 10 * time.Second

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

	jobRepo := repository.NewGormJobRepo(db)
	linkRepo := repository.NewGormLinkRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)

	metrics := observability.NewMetrics()

	ingestService, err := service.NewIngestService(jobRepo, publisher, logger)
	if err != nil {
		logger.Fatal("ingest service initialization failed", zap.Error(err))
	}

	linkService, err := service.NewLinkService(linkRepo, mailer.NewMailer(cfg), !cfg.IsProduction(), logger)
	if err != nil {
		logger.Fatal("link service initialization failed", zap.Error(err))
	}
	linkService.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(requestid.New())
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterWebhookRoutes(app, ingestService, cfg.WebhookSecret); err != nil {
		logger.Fatal("webhook routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterLinkRoutes(app, linkService); err != nil {
		logger.Fatal("link routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterJobRoutes(app, jobRepo, attemptRepo); err != nil {
		logger.Fatal("job routes registration failed", zap.Error(err))
	}
	handler.RegisterHealthRoutes(app, sqlDB, rdb)

	go func() {
		logger.Info("api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			logger.Fatal("api server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down api")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	logger.Info("api stopped")
}
