package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type runner interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger        *logger.Logger
	DB            pinger
	Redis         pinger
	PubSub        pinger
	Automation    runner
	Notifications runner
}

// Service runs the automation pool and the notification consumer side by side.
type Service struct {
	logg          *logger.Logger
	db            pinger
	redis         pinger
	pubsub        pinger
	automation    runner
	notifications runner
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.Automation == nil {
		return nil, errors.New("automation pool is required")
	}
	if params.Notifications == nil {
		return nil, errors.New("notification consumer is required")
	}

	return &Service{
		logg:          params.Logger,
		db:            params.DB,
		redis:         params.Redis,
		pubsub:        params.PubSub,
		automation:    params.Automation,
		notifications: params.Notifications,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping); err != nil {
		return err
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run blocks until ctx is canceled or either loop fails. A failing loop
// cancels the other one.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return named("automation pool", s.automation.Run(gctx))
	})
	g.Go(func() error {
		return named("notification consumer", s.notifications.Run(gctx))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(ctx, "worker loop stopped unexpectedly", err)
		return err
	}
	s.logg.Info(ctx, "worker context canceled")
	return ctx.Err()
}

func named(loop string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s: %w", loop, err)
}
