package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/contentstudio-backend/internal/automation"
	"github.com/angelmondragon/contentstudio-backend/internal/cron"
	"github.com/angelmondragon/contentstudio-backend/internal/jobs"
	"github.com/angelmondragon/contentstudio-backend/internal/ledger"
	"github.com/angelmondragon/contentstudio-backend/internal/notifications"
	"github.com/angelmondragon/contentstudio-backend/internal/providers"
	"github.com/angelmondragon/contentstudio-backend/internal/scheduler"
	"github.com/angelmondragon/contentstudio-backend/pkg/config"
	"github.com/angelmondragon/contentstudio-backend/pkg/db"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
	"github.com/angelmondragon/contentstudio-backend/pkg/metrics"
	"github.com/angelmondragon/contentstudio-backend/pkg/migrate"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox"
	"github.com/angelmondragon/contentstudio-backend/pkg/redis"
)

const (
	dailyInterval      = 24 * time.Hour
	renewalBatchSize   = 100
	notificationMaxAge = 30 * 24 * time.Hour
	outboxMaxAge       = 30 * 24 * time.Hour
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry, err := buildRegistry(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Locks:    cron.RedisLocks(redisClient),
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildRegistry wires the publish, reconciliation and housekeeping jobs.
func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*cron.Registry, error) {
	gormDB := dbClient.DB()
	outboxRepo := outbox.NewRepository(gormDB)
	emitter := outbox.NewService(outboxRepo, logg)
	reg := prometheus.DefaultRegisterer

	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		DB:                         dbClient,
		Repo:                       ledger.NewRepository(gormDB),
		Outbox:                     emitter,
		Logger:                     logg,
		Metrics:                    metrics.NewCreditMetrics(reg),
		DefaultLowBalanceThreshold: int64(cfg.Credits.LowBalanceThreshold),
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	limits := providers.Limits{
		RequestsPerSecond: cfg.Providers.RequestsPerSecond,
		Burst:             cfg.Providers.Burst,
	}
	schedulerParams := scheduler.Params{
		DB:         dbClient,
		Repo:       scheduler.NewRepository(gormDB),
		Ledger:     ledgerSvc,
		Social:     providers.ThrottleSocial(providers.NewMockSocialSet(), limits),
		Outbox:     emitter,
		Logger:     logg,
		Metrics:    metrics.NewPublishMetrics(reg),
		Lookahead:  cfg.Scheduler.Lookahead,
		BatchSize:  cfg.Scheduler.BatchSize,
		StaleAfter: cfg.Reconcile.StaleAfter,
	}
	publishWorker, err := scheduler.NewWorker(schedulerParams)
	if err != nil {
		return nil, fmt.Errorf("publish worker: %w", err)
	}
	postService, err := scheduler.NewService(schedulerParams)
	if err != nil {
		return nil, fmt.Errorf("post service: %w", err)
	}

	jobManager, err := jobs.NewManager(jobs.ManagerParams{
		DB:         dbClient,
		Repo:       jobs.NewRepository(gormDB),
		Ledger:     ledgerSvc,
		Generators: providers.ThrottleGeneration(providers.NewMockGenerationSet(), limits),
		Outbox:     emitter,
		Logger:     logg,
	})
	if err != nil {
		return nil, fmt.Errorf("job manager: %w", err)
	}

	queue, err := automation.NewRedisQueue(redisClient, cfg.Automation.QueueKey)
	if err != nil {
		return nil, fmt.Errorf("automation queue: %w", err)
	}
	engine, err := automation.NewEngine(automation.EngineParams{
		DB:      dbClient,
		Repo:    automation.NewRepository(gormDB),
		Ledger:  ledgerSvc,
		Queue:   queue,
		Actions: automation.NewLoggingExecutor(logg),
		Outbox:  emitter,
		Logger:  logg,
	})
	if err != nil {
		return nil, fmt.Errorf("automation engine: %w", err)
	}

	notificationSvc, err := notifications.NewService(notifications.NewRepository(gormDB))
	if err != nil {
		return nil, fmt.Errorf("notifications: %w", err)
	}

	publishJob, err := cron.NewPublishJob(cron.PublishJobParams{
		Logger:    logg,
		Publisher: publishWorker,
	})
	if err != nil {
		return nil, err
	}

	reconcileJob, err := cron.NewReconcileJob(cron.ReconcileJobParams{
		Logger: logg,
		Ledger: ledgerSvc,
		Settlers: map[enums.CreditReferenceType]cron.StaleSettler{
			enums.ReferenceJob:           jobManager,
			enums.ReferenceScheduledPost: postService,
			enums.ReferenceAutomationRun: engine,
		},
		StaleAfter:         cfg.Reconcile.StaleAfter,
		ExternalStaleAfter: cfg.Reconcile.ExternalStaleAfter,
		BatchSize:          cfg.Reconcile.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	renewalJob, err := cron.NewPlanRenewalJob(cron.PlanRenewalJobParams{
		Logger:    logg,
		Wallets:   ledgerSvc,
		BatchSize: renewalBatchSize,
	})
	if err != nil {
		return nil, err
	}

	cleanupJob, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:        logg,
		Notifications: notificationSvc,
		MaxAge:        notificationMaxAge,
	})
	if err != nil {
		return nil, err
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		MaxAge:     outboxMaxAge,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	registry.Register(publishJob, cfg.Scheduler.Interval)
	registry.Register(reconcileJob, cfg.Reconcile.Interval)
	registry.Register(renewalJob, time.Hour)
	registry.Register(cleanupJob, dailyInterval)
	registry.Register(retentionJob, dailyInterval)
	return registry, nil
}
