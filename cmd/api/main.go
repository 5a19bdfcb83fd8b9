package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/contentstudio-backend/api/controllers"
	"github.com/angelmondragon/contentstudio-backend/api/routes"
	"github.com/angelmondragon/contentstudio-backend/internal/automation"
	"github.com/angelmondragon/contentstudio-backend/internal/billing"
	"github.com/angelmondragon/contentstudio-backend/internal/jobs"
	"github.com/angelmondragon/contentstudio-backend/internal/ledger"
	"github.com/angelmondragon/contentstudio-backend/internal/notifications"
	"github.com/angelmondragon/contentstudio-backend/internal/providers"
	"github.com/angelmondragon/contentstudio-backend/internal/scheduler"
	stripewebhook "github.com/angelmondragon/contentstudio-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/contentstudio-backend/pkg/config"
	"github.com/angelmondragon/contentstudio-backend/pkg/db"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
	"github.com/angelmondragon/contentstudio-backend/pkg/metrics"
	"github.com/angelmondragon/contentstudio-backend/pkg/migrate"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/contentstudio-backend/pkg/pubsub"
	"github.com/angelmondragon/contentstudio-backend/pkg/redis"
	"github.com/angelmondragon/contentstudio-backend/pkg/stripe"
)

const (
	stripeEventScope = "stripe-webhook"
	shutdownTimeout  = 15 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe client", err)
		os.Exit(1)
	}

	svcs, webhook, err := buildServices(cfg, logg, dbClient, redisClient, stripeClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	readiness := map[string]controllers.Pinger{
		"database": dbClient,
		"redis":    redisClient,
		"pubsub":   pubsubClient,
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, readiness, redisClient, svcs, webhook),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-sigCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}

func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, stripeClient *stripe.Client) (routes.Services, routes.StripeWebhook, error) {
	gormDB := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(gormDB), logg)
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
		return routes.Services{}, routes.StripeWebhook{}, err
	}

	limits := providers.Limits{
		RequestsPerSecond: cfg.Providers.RequestsPerSecond,
		Burst:             cfg.Providers.Burst,
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
		return routes.Services{}, routes.StripeWebhook{}, err
	}

	postService, err := scheduler.NewService(scheduler.Params{
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
	})
	if err != nil {
		return routes.Services{}, routes.StripeWebhook{}, err
	}

	queue, err := automation.NewRedisQueue(redisClient, cfg.Automation.QueueKey)
	if err != nil {
		return routes.Services{}, routes.StripeWebhook{}, err
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
		return routes.Services{}, routes.StripeWebhook{}, err
	}

	notificationSvc, err := notifications.NewService(notifications.NewRepository(gormDB))
	if err != nil {
		return routes.Services{}, routes.StripeWebhook{}, err
	}

	webhookSvc, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		BillingRepo:       billing.NewRepository(gormDB),
		Ledger:            ledgerSvc,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		return routes.Services{}, routes.StripeWebhook{}, err
	}
	claims, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return routes.Services{}, routes.StripeWebhook{}, err
	}

	return routes.Services{
			Credits:       ledgerSvc,
			Jobs:          jobManager,
			Posts:         postService,
			Automation:    engine,
			Notifications: notificationSvc,
		}, routes.StripeWebhook{
			Service: webhookSvc,
			Client:  stripeClient,
			Guard:   claims.For(stripeEventScope),
		}, nil
}
