package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/contentstudio-backend/pkg/config"
	"github.com/angelmondragon/contentstudio-backend/pkg/db"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
	"github.com/angelmondragon/contentstudio-backend/pkg/metrics"
	"github.com/angelmondragon/contentstudio-backend/pkg/migrate"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/registry"
	"github.com/angelmondragon/contentstudio-backend/pkg/pubsub"
)

const serviceName = "outbox-publisher"

func main() {
	var dlq dlqCommand
	flag.BoolVar(&dlq.list, "dlq", false, "print recent dead-lettered events as JSON lines and exit")
	flag.IntVar(&dlq.limit, "limit", 0, "max dead letters for -dlq")
	flag.StringVar(&dlq.requeue, "requeue", "", "comma-separated event ids to move from the DLQ back to pending, then exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logg, dlq); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox relay stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logg *logger.Logger, dlq dlqCommand) error {
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

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	dlqRepo := outbox.NewDLQRepository(dbClient.DB())
	if dlq.active() {
		return runDLQ(ctx, dlqRepo, dlq, os.Stdout)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("build event registry: %w", err)
	}

	relay, err := NewService(ServiceParams{
		Settings:      cfg.Outbox,
		Logger:        logg,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: dlqRepo,
		Metrics:       metrics.NewRelayMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("create outbox relay: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":          cfg.App.Env,
		"serviceKind":  serviceName,
		"batch_size":   cfg.Outbox.BatchSize,
		"max_attempts": cfg.Outbox.MaxAttempts,
	})
	logg.Info(ctx, "outbox relay starting")
	err = relay.Run(ctx)
	logg.Info(ctx, "outbox relay stopped")
	return err
}
