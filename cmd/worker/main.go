package main

import (
	"context"
	"errors"
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
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}
	if err := cfg.RequireAsync(); err != nil {
		log.Fatal("worker config invalid", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "worker")
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, logger)
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

	limiter, rdb, err := infraredis.NewRateLimiter(ctx, cfg.RedisURL, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	} else {
		logger.Warn("REDIS_URL not set, using in-process rate limiter")
	}

	rmq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rmq.Close()

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

	deliveryRepo := repository.NewGormDeliveryRepo(db)

	worker, err := service.NewDeliveryWorker(
		deliveryRepo,
		queue.NewRabbitMQConsumer(rmq, cfg.QueuePrefetch, logger.Named("consumer")),
		dispatcher,
		cfg.WorkerConcurrency,
		logger.Named("worker"),
	)
	if err != nil {
		logger.Fatal("delivery worker initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	scanner, err := service.NewRequeueScanner(deliveryRepo, queue.NewRabbitMQPublisher(rmq), 0, 0, 0, logger.Named("requeue"))
	if err != nil {
		logger.Fatal("requeue scanner initialization failed", zap.Error(err))
	}

	app := fiber.New(transport.AppConfig(logger))
	app.Use(recover.New())
	handler.RegisterHealthRoutes(app, handler.RedisCheck(rdb), handler.PostgresCheck(sqlDB))
	handler.RegisterMetricsRoute(app, metrics)

	logger.Info("gcm-relay worker started",
		zap.Int("port", cfg.WorkerPort),
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("prefetch", cfg.QueuePrefetch),
	)

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Start(groupCtx)
	})
	g.Go(func() error {
		return scanner.Start(groupCtx)
	})
	g.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", cfg.WorkerPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", zap.Error(err))
	}
	logger.Info("gcm-relay worker stopped")
}
