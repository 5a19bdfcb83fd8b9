package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lock makes a job run on one replica per interval.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LockFactory builds the lock guarding one job. ttl bounds how long a crashed
// holder can block the job.
type LockFactory func(job string, ttl time.Duration) (Lock, error)

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key string, value string) (bool, error)
	LockKey(name string) string
}

// RedisLocks keys each job's lock as cron:<job> in the store's lock namespace.
// A successful run leaves the lock to expire, so other replicas skip the job
// until the interval is nearly over; a failed run releases it early.
func RedisLocks(store lockStore) LockFactory {
	return func(job string, ttl time.Duration) (Lock, error) {
		if store == nil {
			return nil, errors.New("redis client required for lock")
		}
		if job == "" {
			return nil, errors.New("job name required for lock")
		}
		if ttl <= 0 {
			return nil, fmt.Errorf("lock ttl for %s must be positive", job)
		}
		return &redisLock{store: store, key: store.LockKey("cron:" + job), ttl: ttl}, nil
	}
}

type redisLock struct {
	store lockStore
	key   string
	ttl   time.Duration
	token string
}

func (l *redisLock) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Release deletes the key only if it still holds this holder's token.
func (l *redisLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	if _, err := l.store.CompareAndDelete(ctx, l.key, l.token); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	l.token = ""
	return nil
}
