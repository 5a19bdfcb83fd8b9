package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentstudio-backend/pkg/db/dbtest"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox"
)

type cleanerFunc func(context.Context, time.Time) (int64, error)

func (f cleanerFunc) Cleanup(ctx context.Context, before time.Time) (int64, error) { return f(ctx, before) }

type inlineTx struct{}

func (inlineTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

type prunerFunc func(*gorm.DB, time.Time) (int64, error)

func (f prunerFunc) DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	return f(tx, cutoff)
}

func asPruneJob(t *testing.T, job Job, err error) *pruneJob {
	t.Helper()
	require.NoError(t, err)
	pj, ok := job.(*pruneJob)
	require.True(t, ok, "unexpected job type %T", job)
	return pj
}

func TestRetentionJobsComputeCutoff(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	var notifCutoff, outboxCutoff time.Time

	notif := asPruneJob(t, NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger: testLogger(),
		Notifications: cleanerFunc(func(_ context.Context, before time.Time) (int64, error) {
			notifCutoff = before
			return 4, nil
		}),
	}))
	outboxJob := asPruneJob(t, NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger: testLogger(),
		DB:     inlineTx{},
		MaxAge: 7 * 24 * time.Hour,
		Repository: prunerFunc(func(_ *gorm.DB, cutoff time.Time) (int64, error) {
			outboxCutoff = cutoff
			return 9, nil
		}),
	}))
	notif.now = func() time.Time { return now }
	outboxJob.now = func() time.Time { return now }

	require.NoError(t, notif.Run(context.Background()))
	require.NoError(t, outboxJob.Run(context.Background()))
	require.Equal(t, now.Add(-defaultMaxAge), notifCutoff)
	require.Equal(t, now.Add(-7*24*time.Hour), outboxCutoff)
	require.Equal(t, "notification-cleanup", notif.Name())
	require.Equal(t, "outbox-retention", outboxJob.Name())
}

func TestRetentionJobWrapsFailure(t *testing.T) {
	boom := errors.New("boom")
	job := asPruneJob(t, NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:        testLogger(),
		Notifications: cleanerFunc(func(context.Context, time.Time) (int64, error) { return 0, boom }),
	}))
	err := job.Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "notification-cleanup")
}

func TestRetentionJobsRequireDependencies(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: testLogger(), DB: inlineTx{}})
	require.Error(t, err)
	_, err = NewNotificationCleanupJob(NotificationCleanupJobParams{Notifications: cleanerFunc(nil)})
	require.Error(t, err)
}

func TestOutboxRetentionKeepsPendingAndRecentRows(t *testing.T) {
	client := dbtest.Client(t)
	conn := client.DB()
	old := time.Now().UTC().Add(-60 * 24 * time.Hour)
	recent := time.Now().UTC().Add(-time.Hour)
	rows := []models.OutboxEvent{
		{ID: uuid.New(), EventType: enums.EventJobCompleted, AggregateType: enums.AggregateJob, AggregateID: uuid.New(), Payload: []byte(`{}`), PublishedAt: &old},
		{ID: uuid.New(), EventType: enums.EventJobCompleted, AggregateType: enums.AggregateJob, AggregateID: uuid.New(), Payload: []byte(`{}`), PublishedAt: &recent},
		{ID: uuid.New(), EventType: enums.EventJobFailed, AggregateType: enums.AggregateJob, AggregateID: uuid.New(), Payload: []byte(`{}`)},
	}
	for i := range rows {
		require.NoError(t, conn.Create(&rows[i]).Error)
	}

	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     testLogger(),
		DB:         client,
		Repository: outbox.NewRepository(conn),
	})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	var left int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&left).Error)
	require.EqualValues(t, 2, left)
}
