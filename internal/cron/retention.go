package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
)

const defaultMaxAge = 30 * 24 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPruner interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

type notificationsCleaner interface {
	Cleanup(ctx context.Context, readBefore time.Time) (int64, error)
}

// pruneJob deletes rows older than maxAge through prune and logs the count.
type pruneJob struct {
	name   string
	maxAge time.Duration
	prune  func(ctx context.Context, cutoff time.Time) (int64, error)
	logg   *logger.Logger
	now    func() time.Time
}

func (j *pruneJob) Name() string { return j.name }

func (j *pruneJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.maxAge)
	deleted, err := j.prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"job":          j.name,
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "retention sweep complete")
	return nil
}

func newPruneJob(name string, logg *logger.Logger, maxAge time.Duration, prune func(context.Context, time.Time) (int64, error)) *pruneJob {
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	return &pruneJob{name: name, maxAge: maxAge, prune: prune, logg: logg, now: time.Now}
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxPruner
	MaxAge     time.Duration
}

// NewOutboxRetentionJob prunes outbox rows published (or dead-lettered)
// before the cutoff. Pending rows are never touched.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	return newPruneJob("outbox-retention", params.Logger, params.MaxAge, func(ctx context.Context, cutoff time.Time) (int64, error) {
		var deleted int64
		err := params.DB.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := params.Repository.DeletePublishedBefore(tx, cutoff)
			deleted = n
			return err
		})
		return deleted, err
	}), nil
}

type NotificationCleanupJobParams struct {
	Logger        *logger.Logger
	Notifications notificationsCleaner
	MaxAge        time.Duration
}

// NewNotificationCleanupJob drops notifications read before the cutoff.
// Unread notifications are kept however old they are.
func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Notifications == nil:
		return nil, errors.New("notifications service required")
	}
	return newPruneJob("notification-cleanup", params.Logger, params.MaxAge, params.Notifications.Cleanup), nil
}
