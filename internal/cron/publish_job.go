package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/contentstudio-backend/internal/scheduler"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
)

type duePublisher interface {
	ProcessDue(ctx context.Context) (scheduler.BatchResult, error)
}

type PublishJobParams struct {
	Logger    *logger.Logger
	Publisher duePublisher
}

// NewPublishJob runs one scheduled-post publish pass per tick.
func NewPublishJob(params PublishJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Publisher == nil {
		return nil, fmt.Errorf("publish worker required")
	}
	return &publishJob{logg: params.Logger, publisher: params.Publisher}, nil
}

type publishJob struct {
	logg      *logger.Logger
	publisher duePublisher
}

func (j *publishJob) Name() string { return "scheduled-publish" }

func (j *publishJob) Run(ctx context.Context) error {
	result, err := j.publisher.ProcessDue(ctx)
	if result.Scanned == 0 && err == nil {
		j.logg.Debug(ctx, "no posts due")
		return nil
	}
	if err != nil {
		return fmt.Errorf("publish due posts (%d of %d failed): %w", result.Failed, result.Scanned, err)
	}
	return nil
}
