package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
)

// TaskRunner executes one queued task to settlement.
type TaskRunner interface {
	Execute(ctx context.Context, task Task) error
}

type orphanRequeuer interface {
	RequeueOrphans(ctx context.Context) (int, error)
}

// PoolParams configures the worker pool.
type PoolParams struct {
	Queue        Queue
	Runner       TaskRunner
	Logger       *logger.Logger
	Workers      int
	PollInterval time.Duration
}

// Pool drains the automation queue with a fixed number of workers.
type Pool struct {
	queue   Queue
	runner  TaskRunner
	logg    *logger.Logger
	workers int
	poll    time.Duration
}

func NewPool(params PoolParams) (*Pool, error) {
	if params.Queue == nil {
		return nil, errors.New("automation queue required")
	}
	if params.Runner == nil {
		return nil, errors.New("task runner required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	workers := params.Workers
	if workers <= 0 {
		workers = 1
	}
	poll := params.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &Pool{
		queue:   params.Queue,
		runner:  params.Runner,
		logg:    params.Logger,
		workers: workers,
		poll:    poll,
	}, nil
}

// Run requeues tasks orphaned by a previous process and then works the queue
// until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	if requeuer, ok := p.queue.(orphanRequeuer); ok {
		moved, err := requeuer.RequeueOrphans(ctx)
		if err != nil {
			return fmt.Errorf("requeue orphaned tasks: %w", err)
		}
		if moved > 0 {
			p.logg.Warn(p.logg.WithField(ctx, "requeued", moved), "requeued orphaned automation tasks")
		}
	}

	p.logg.Info(p.logg.WithField(ctx, "workers", p.workers), "automation worker pool started")
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		workerCtx := p.logg.WithField(gctx, "worker", i)
		g.Go(func() error {
			p.work(workerCtx)
			return nil
		})
	}
	err := g.Wait()
	p.logg.Info(ctx, "automation worker pool stopped")
	return err
}

func (p *Pool) work(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		worked, err := p.ProcessOne(ctx)
		if err != nil {
			p.logg.Error(ctx, "automation task failed", err)
		}
		if worked && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.poll):
		}
	}
}

// ProcessOne dequeues and executes a single task. It reports false when the
// queue was empty. A task whose settlement fails stays unacked.
func (p *Pool) ProcessOne(ctx context.Context) (bool, error) {
	delivery, err := p.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if delivery == nil {
		return false, nil
	}
	if err := p.runner.Execute(ctx, delivery.Task); err != nil {
		return true, fmt.Errorf("run %s: %w", delivery.Task.RunID, err)
	}
	if err := p.queue.Ack(ctx, delivery); err != nil {
		return true, err
	}
	return true, nil
}

// Drain processes tasks until the queue is empty and returns how many ran.
func (p *Pool) Drain(ctx context.Context) (int, error) {
	count := 0
	for {
		worked, err := p.ProcessOne(ctx)
		if err != nil {
			return count, err
		}
		if !worked {
			return count, nil
		}
		count++
	}
}
