package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/contentstudio-backend/internal/usage"
	"github.com/angelmondragon/contentstudio-backend/pkg/bigquery"
	"github.com/angelmondragon/contentstudio-backend/pkg/config"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/registry"
	"github.com/angelmondragon/contentstudio-backend/pkg/pubsub"
	"github.com/angelmondragon/contentstudio-backend/pkg/redis"
)

const (
	serviceName  = "analytics-worker"
	flushTimeout = 15 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "analytics worker stopped unexpectedly", err)
		os.Exit(1)
	}
}

// closer logs instead of returning so deferred shutdown keeps going.
func closer(logg *logger.Logger, what string, close func() error) func() {
	return func() {
		if err := close(); err != nil {
			logg.Error(context.Background(), "error closing "+what, err)
		}
	}
}

func run(ctx context.Context, logg *logger.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = serviceName
	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closer(logg, "redis client", redisClient.Close)()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer closer(logg, "pubsub client", pubsubClient.Close)()

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		return fmt.Errorf("bootstrap bigquery: %w", err)
	}
	defer closer(logg, "bigquery client", bqClient.Close)()

	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		return errors.New("analytics subscription not configured")
	}
	dedupe, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return fmt.Errorf("idempotency manager: %w", err)
	}
	pricing, err := usage.NewPricing(cfg.Credits.UnitPriceUSD)
	if err != nil {
		return fmt.Errorf("usage pricing: %w", err)
	}
	writer, err := usage.NewWriter(bqClient, usage.WriterConfig{Table: bqClient.UsageTable()})
	if err != nil {
		return fmt.Errorf("usage writer: %w", err)
	}
	worker, err := usage.NewWorker(usage.WorkerParams{
		Subscription: subscription,
		Decoders:     registry.NewStudioDecoders(),
		Pricing:      pricing,
		Writer:       writer,
		Idempotency:  dedupe,
		Logger:       logg,
	})
	if err != nil {
		return fmt.Errorf("usage worker: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceName,
		"bq_table":    bqClient.UsageTable(),
		"unit_price":  pricing.String(),
	})
	logg.Info(ctx, "analytics worker ready")

	runErr := worker.Run(ctx)

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if err := writer.Flush(flushCtx); err != nil {
		logg.Error(flushCtx, "failed to flush buffered usage rows", err)
	}
	logg.Info(flushCtx, "analytics worker stopped")
	return runErr
}
