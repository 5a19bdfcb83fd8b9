// Package idempotency dedupes at-least-once deliveries: Pub/Sub messages for
// the notification and usage consumers, and Stripe webhook retries.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/contentstudio-backend/pkg/redis"
)

// Manager hands out one claim per (consumer, delivery id). Claims live in
// Redis under cs:idempotency:claim:<consumer>:<id> and expire after ttl.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("claim ttl must be positive")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// Claim reports whether the caller is the first to see id and should act on
// it. The claim records when it was taken.
func (m *Manager) Claim(ctx context.Context, consumer, id string) (bool, error) {
	key, err := claimKey(m.store, consumer, id)
	if err != nil {
		return false, err
	}
	ok, err := m.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), m.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

// Release drops a claim after a failed attempt so the redelivery is handled.
func (m *Manager) Release(ctx context.Context, consumer, id string) error {
	key, err := claimKey(m.store, consumer, id)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

// For binds the manager to a single consumer.
func (m *Manager) For(consumer string) Guard {
	return Guard{manager: m, consumer: consumer}
}

// Guard is a Manager scoped to one consumer.
type Guard struct {
	manager  *Manager
	consumer string
}

func (g Guard) Claim(ctx context.Context, id string) (bool, error) {
	return g.manager.Claim(ctx, g.consumer, id)
}

func (g Guard) Release(ctx context.Context, id string) error {
	return g.manager.Release(ctx, g.consumer, id)
}

func claimKey(store redis.IdempotencyStore, consumer, id string) (string, error) {
	consumer, id = strings.TrimSpace(consumer), strings.TrimSpace(id)
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if id == "" {
		return "", errors.New("delivery id is required")
	}
	return store.IdempotencyKey("claim:"+consumer, id), nil
}
