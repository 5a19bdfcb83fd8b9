// Package redis holds the shared go-redis client and the narrow store
// interfaces the idempotency middleware, rate limiter, cron locks, and
// automation queue depend on. Keys are namespaced under "cs:".
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/contentstudio-backend/pkg/config"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
)

const keyNamespace = "cs"

var errNotInitialized = errors.New("redis client not initialized")

// incrWindow starts the expiry on the first hit of a fixed window, in the
// same round trip as the increment.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then redis.call("PEXPIRE", KEYS[1], ARGV[1]) end
return n`)

var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end
return 0`)

type Client struct {
	store redis.Cmdable
	raw   *redis.Client
}

type Pinger interface {
	Ping(context.Context) error
}

// IdempotencyStore backs request replay and consumer dedupe.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	Set(context.Context, string, any, time.Duration) error
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// ListStore is the reliable-queue surface: pending and processing lists.
type ListStore interface {
	LPush(ctx context.Context, key string, values ...any) error
	RPush(ctx context.Context, key string, values ...any) error
	LMove(ctx context.Context, source, destination, srcPos, destPos string) (string, bool, error)
	LRem(ctx context.Context, key string, count int64, value any) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)
	QueueKey(name string, parts ...string) string
}

// New dials with pooling from cfg and pings before returning.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(opts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"redis_addr": opts.Addr,
			"redis_db":   opts.DB,
			"pool_size":  opts.PoolSize,
		}), "redis connection established")
	}
	return &Client{store: raw, raw: raw}, nil
}

// NewFromClient wraps raw without pinging; tests point it at miniredis.
func NewFromClient(raw *redis.Client) *Client {
	return &Client{store: raw, raw: raw}
}

// optionsFromConfig prefers the URL; explicit pool and timeout settings fill
// whatever the URL left unset.
func optionsFromConfig(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	case cfg.Address != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}
	default:
		return nil, errors.New("redis url or address is required")
	}

	fill := func(dst *int, v int) {
		if *dst == 0 {
			*dst = v
		}
	}
	fillDur := func(dst *time.Duration, v time.Duration) {
		if *dst == 0 {
			*dst = v
		}
	}
	fill(&opts.DB, cfg.DB)
	fill(&opts.PoolSize, cfg.PoolSize)
	fill(&opts.MinIdleConns, cfg.MinIdleConns)
	fillDur(&opts.DialTimeout, cfg.DialTimeout)
	fillDur(&opts.ReadTimeout, cfg.ReadTimeout)
	fillDur(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func (c *Client) cmd() (redis.Cmdable, error) {
	if c == nil || c.store == nil {
		return nil, errNotInitialized
	}
	return c.store, nil
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	s, err := c.cmd()
	if err != nil {
		return err
	}
	return s.Set(ctx, key, value, ttl).Err()
}

// Get returns redis.Nil for a missing key.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	s, err := c.cmd()
	if err != nil {
		return "", err
	}
	return s.Get(ctx, key).Result()
}

func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s, err := c.cmd()
	if err != nil {
		return false, err
	}
	return s.SetNX(ctx, key, value, ttl).Result()
}

// IncrWithTTL counts a hit in the fixed window at key. The window starts at
// the first hit and is not extended by later ones.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s, err := c.cmd()
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return s.Incr(ctx, key).Result()
	}
	return incrWindow.Run(ctx, s, []string{key}, ttl.Milliseconds()).Int64()
}

// CompareAndDelete removes key only while it still holds value, so a lock
// holder whose TTL lapsed cannot release its successor's lock.
func (c *Client) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	s, err := c.cmd()
	if err != nil {
		return false, err
	}
	n, err := compareAndDelete.Run(ctx, s, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *Client) LPush(ctx context.Context, key string, values ...any) error {
	s, err := c.cmd()
	if err != nil {
		return err
	}
	return s.LPush(ctx, key, values...).Err()
}

func (c *Client) RPush(ctx context.Context, key string, values ...any) error {
	s, err := c.cmd()
	if err != nil {
		return err
	}
	return s.RPush(ctx, key, values...).Err()
}

// LMove pops from source onto destination atomically. ok is false when
// source was empty.
func (c *Client) LMove(ctx context.Context, source, destination, srcPos, destPos string) (value string, ok bool, err error) {
	s, err := c.cmd()
	if err != nil {
		return "", false, err
	}
	value, err = s.LMove(ctx, source, destination, srcPos, destPos).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return value, true, nil
}

func (c *Client) LRem(ctx context.Context, key string, count int64, value any) (int64, error) {
	s, err := c.cmd()
	if err != nil {
		return 0, err
	}
	return s.LRem(ctx, key, count, value).Result()
}

func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s, err := c.cmd()
	if err != nil {
		return nil, err
	}
	return s.LRange(ctx, key, start, stop).Result()
}

func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	s, err := c.cmd()
	if err != nil {
		return 0, err
	}
	return s.LLen(ctx, key).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	s, err := c.cmd()
	if err != nil {
		return err
	}
	return s.Del(ctx, keys...).Err()
}

func (c *Client) Ping(ctx context.Context) error {
	s, err := c.cmd()
	if err != nil {
		return err
	}
	return s.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

// IdempotencyKey is cs:idempotency:<scope>:<id>.
func (c *Client) IdempotencyKey(scope, id string) string {
	return key("idempotency", scope, id)
}

// LockKey is cs:lock:<name>.
func (c *Client) LockKey(name string) string {
	return key("lock", name)
}

// QueueKey is cs:queue:<name>[:<part>...].
func (c *Client) QueueKey(name string, parts ...string) string {
	return key("queue", append([]string{name}, parts...)...)
}

func key(kind string, parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	b.WriteByte(':')
	b.WriteString(kind)
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			b.WriteByte(':')
			b.WriteString(p)
		}
	}
	return b.String()
}
