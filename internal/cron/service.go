package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
	"github.com/angelmondragon/contentstudio-backend/pkg/metrics"
)

const defaultTick = 30 * time.Second

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locks    LockFactory
	Metrics  *metrics.CronJobMetrics
	// Tick is how often the service checks for due jobs.
	Tick time.Duration
	Now  func() time.Time
}

type jobState struct {
	scheduledJob
	lock Lock
	next time.Time
}

// Service runs each registered job on its own cadence. A job runs on at most
// one replica per interval: its lock lives for the interval and is only
// released early when the run fails.
type Service struct {
	logg    *logger.Logger
	jobs    []*jobState
	metrics *metrics.CronJobMetrics
	tick    time.Duration
	now     func() time.Time
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock factory required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	tick := params.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	states := make([]*jobState, 0, len(registry.jobs))
	for _, entry := range registry.entries() {
		lock, err := params.Locks(entry.job.Name(), lockTTL(entry.every))
		if err != nil {
			return nil, fmt.Errorf("lock for %s: %w", entry.job.Name(), err)
		}
		states = append(states, &jobState{scheduledJob: entry, lock: lock})
	}
	return &Service{
		logg:    params.Logger,
		jobs:    states,
		metrics: params.Metrics,
		tick:    tick,
		now:     now,
	}, nil
}

// Run starts the cron loop until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.runDue(ctx)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue runs every job whose interval has elapsed and returns how many ran.
func (s *Service) runDue(ctx context.Context) int {
	ran := 0
	for _, state := range s.jobs {
		if ctx.Err() != nil {
			return ran
		}
		now := s.now()
		if now.Before(state.next) {
			continue
		}
		state.next = now.Add(state.every)

		jobCtx := s.logg.WithField(ctx, "job", state.job.Name())
		locked, err := state.lock.Acquire(jobCtx)
		if err != nil {
			s.logg.Error(jobCtx, "lock acquire failed", err)
			state.next = now.Add(s.tick)
			continue
		}
		if !locked {
			s.logg.Debug(jobCtx, "job ran on another instance this interval")
			continue
		}
		if err := s.runJob(jobCtx, state.job); err != nil {
			if relErr := state.lock.Release(jobCtx); relErr != nil {
				s.logg.Error(jobCtx, "failed to release cron lock", relErr)
			}
		}
		ran++
	}
	return ran
}

// lockTTL expires the lock a little before the next run is due so the
// replica that ran last time is not locked out by its own key.
func lockTTL(every time.Duration) time.Duration {
	return every - every/10
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithFields(ctx, map[string]any{"event": "cron.job", "job": job.Name()})
	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.ObserveRun(job.Name(), duration, err)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return err
	}
	s.logg.Info(jobCtx, "job completed")
	return nil
}
