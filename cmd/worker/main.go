package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/contentstudio-backend/internal/automation"
	"github.com/angelmondragon/contentstudio-backend/internal/ledger"
	"github.com/angelmondragon/contentstudio-backend/internal/notifications"
	"github.com/angelmondragon/contentstudio-backend/pkg/config"
	"github.com/angelmondragon/contentstudio-backend/pkg/db"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
	"github.com/angelmondragon/contentstudio-backend/pkg/metrics"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/registry"
	"github.com/angelmondragon/contentstudio-backend/pkg/pubsub"
	"github.com/angelmondragon/contentstudio-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "failed to close database", err)
		}
	}()

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	gormDB := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(gormDB), logg)

	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		DB:                         dbClient,
		Repo:                       ledger.NewRepository(gormDB),
		Outbox:                     emitter,
		Logger:                     logg,
		Metrics:                    metrics.NewCreditMetrics(prometheus.DefaultRegisterer),
		DefaultLowBalanceThreshold: int64(cfg.Credits.LowBalanceThreshold),
	})
	requireResource(ctx, logg, "ledger service", err)

	queue, err := automation.NewRedisQueue(redisClient, cfg.Automation.QueueKey)
	requireResource(ctx, logg, "automation queue", err)

	engine, err := automation.NewEngine(automation.EngineParams{
		DB:      dbClient,
		Repo:    automation.NewRepository(gormDB),
		Ledger:  ledgerSvc,
		Queue:   queue,
		Actions: automation.NewLoggingExecutor(logg),
		Outbox:  emitter,
		Logger:  logg,
	})
	requireResource(ctx, logg, "automation engine", err)

	pool, err := automation.NewPool(automation.PoolParams{
		Queue:        queue,
		Runner:       engine,
		Logger:       logg,
		Workers:      cfg.Automation.Workers,
		PollInterval: cfg.Automation.PollInterval,
	})
	requireResource(ctx, logg, "automation pool", err)

	dispatcher, err := notifications.NewDispatcher(notifications.NewRepository(gormDB))
	requireResource(ctx, logg, "notification dispatcher", err)

	tracker, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	subscription := pubsubClient.NotificationSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "notification subscription", errors.New("subscription not configured"))
	}
	consumer, err := notifications.NewConsumer(dispatcher, registry.NewStudioDecoders(), subscription, tracker, logg)
	requireResource(ctx, logg, "notification consumer", err)

	service, err := NewService(ServiceParams{
		Logger:        logg,
		DB:            dbClient,
		Redis:         redisClient,
		PubSub:        pubsubClient,
		Automation:    pool,
		Notifications: consumer,
	})
	requireResource(ctx, logg, "worker service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"workers":     cfg.Automation.Workers,
	})
	logg.Info(runCtx, "worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
