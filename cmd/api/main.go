package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/kursadbilgin/gcm-relay/internal/config"
	"github.com/kursadbilgin/gcm-relay/internal/handler"
	"github.com/kursadbilgin/gcm-relay/internal/infra/postgresql"
	"github.com/kursadbilgin/gcm-relay/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/gcm-relay/internal/infra/redis"
	"github.com/kursadbilgin/gcm-relay/internal/observability"
	"github.com/kursadbilgin/gcm-relay/internal/provider"
	"github.com/kursadbilgin/gcm-relay/internal/queue"
	"github.com/kursadbilgin/gcm-relay/internal/repository"
	"github.com/kursadbilgin/gcm-relay/internal/service"
	"github.com/kursadbilgin/gcm-relay/internal/transport"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "api")
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter, rdb, err := infraredis.NewRateLimiter(ctx, cfg.RedisURL, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	} else {
		logger.Warn("REDIS_URL not set, using in-process rate limiter")
	}

	client := resty.New().SetTimeout(cfg.GCMTimeout())
	sender, err := provider.NewSenderWithClient(cfg.GCMAPIKey, cfg.GCMURL, client, logger.Named("gcm"))
	if err != nil {
		logger.Fatal("gcm sender initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	dispatcher, err := service.NewDispatchService(sender, limiter, cfg.MaxAttempts, cfg.SendConcurrency, logger.Named("dispatch"))
	if err != nil {
		logger.Fatal("dispatch service initialization failed", zap.Error(err))
	}
	dispatcher.SetMetrics(metrics)

	app := fiber.New(transport.AppConfig(logger))
	app.Use(recover.New())
	app.Use(handler.CorrelationID())
	app.Use(metrics.HTTPMiddleware())

	var sqlDB *sql.DB
	if cfg.AsyncEnabled() {
		db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, logger)
		if err != nil {
			logger.Fatal("postgres initialization failed", zap.Error(err))
		}
		if err := migrations.Migrate(db); err != nil {
			logger.Fatal("database migrations failed", zap.Error(err))
		}
		sqlDB, err = db.DB()
		if err != nil {
			logger.Fatal("postgres underlying db init failed", zap.Error(err))
		}
		defer sqlDB.Close()

		rmq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		defer rmq.Close()

		deliveries, err := service.NewDeliveryService(
			repository.NewGormDeliveryRepo(db),
			queue.NewRabbitMQPublisher(rmq),
			logger.Named("deliveries"),
		)
		if err != nil {
			logger.Fatal("delivery service initialization failed", zap.Error(err))
		}
		if err := handler.RegisterDeliveryRoutes(app, deliveries, logger); err != nil {
			logger.Fatal("route registration failed", zap.Error(err))
		}
	} else {
		logger.Info("DATABASE_DSN or RABBITMQ_URL not set, async delivery routes disabled")
	}

	handler.RegisterHealthRoutes(app, handler.RedisCheck(rdb), handler.PostgresCheck(sqlDB))
	handler.RegisterMetricsRoute(app, metrics)
	if err := handler.RegisterMessageRoutes(app, dispatcher, logger); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()

	logger.Info("gcm-relay api started",
		zap.Int("port", cfg.APIPort),
		zap.String("gcmEndpoint", sender.Endpoint()),
		zap.Int("maxAttempts", cfg.MaxAttempts),
		zap.Bool("asyncDeliveries", cfg.AsyncEnabled()),
	)

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("failed to shutdown http server", zap.Error(err))
	}
	logger.Info("gcm-relay api stopped")
}
