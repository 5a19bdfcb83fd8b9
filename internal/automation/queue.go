package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentstudio-backend/pkg/redis"
)

// Task is one queued automation run. The held amount travels with it so a
// sweeper can settle the task without reloading the run.
type Task struct {
	RunID       uuid.UUID `json:"run_id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	CreditsHeld int64     `json:"credits_held"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Delivery is a dequeued task that stays in flight until acked.
type Delivery struct {
	Task    Task
	receipt string
}

// Queue hands automation tasks to the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// Dequeue returns nil when nothing is pending.
	Dequeue(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, delivery *Delivery) error
}

// RedisQueue is a reliable list queue: dequeued items move to a processing
// list and leave it only on Ack.
type RedisQueue struct {
	store      redis.ListStore
	pending    string
	processing string
}

// NewRedisQueue binds a queue named name to store.
func NewRedisQueue(store redis.ListStore, name string) (*RedisQueue, error) {
	if store == nil {
		return nil, errors.New("redis list store required")
	}
	if name == "" {
		return nil, errors.New("queue name required")
	}
	return &RedisQueue{
		store:      store,
		pending:    store.QueueKey(name),
		processing: store.QueueKey(name, "processing"),
	}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	return q.store.LPush(ctx, q.pending, string(raw))
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	raw, ok, err := q.store.LMove(ctx, q.pending, q.processing, "RIGHT", "LEFT")
	if err != nil {
		return nil, fmt.Errorf("dequeue task: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		if _, remErr := q.store.LRem(ctx, q.processing, 1, raw); remErr != nil {
			return nil, fmt.Errorf("drop undecodable task: %w", remErr)
		}
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &Delivery{Task: task, receipt: raw}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, delivery *Delivery) error {
	if delivery == nil {
		return nil
	}
	removed, err := q.store.LRem(ctx, q.processing, 1, delivery.receipt)
	if err != nil {
		return fmt.Errorf("ack task: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("task %s not in processing list", delivery.Task.RunID)
	}
	return nil
}

// RequeueOrphans moves everything left in the processing list by a crashed
// worker back to the head of the pending list.
func (q *RedisQueue) RequeueOrphans(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, ok, err := q.store.LMove(ctx, q.processing, q.pending, "RIGHT", "RIGHT")
		if err != nil {
			return moved, fmt.Errorf("requeue orphan: %w", err)
		}
		if !ok {
			return moved, nil
		}
		moved++
	}
}

// Pending reports the number of tasks waiting to be dequeued.
func (q *RedisQueue) Pending(ctx context.Context) (int64, error) {
	return q.store.LLen(ctx, q.pending)
}

// MemoryQueue is an in-process Queue for tests and single-binary deployments.
type MemoryQueue struct {
	mu       sync.Mutex
	pending  []Task
	inflight map[string]Task
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{inflight: map[string]Task{}}
}

func (q *MemoryQueue) Enqueue(_ context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, task)
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context) (*Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	task := q.pending[0]
	q.pending = q.pending[1:]
	receipt := uuid.NewString()
	q.inflight[receipt] = task
	return &Delivery{Task: task, receipt: receipt}, nil
}

func (q *MemoryQueue) Ack(_ context.Context, delivery *Delivery) error {
	if delivery == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[delivery.receipt]; !ok {
		return fmt.Errorf("task %s not in flight", delivery.Task.RunID)
	}
	delete(q.inflight, delivery.receipt)
	return nil
}

// RequeueOrphans returns unacked tasks to the front of the queue.
func (q *MemoryQueue) RequeueOrphans(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	orphans := make([]Task, 0, len(q.inflight))
	for receipt, task := range q.inflight {
		orphans = append(orphans, task)
		delete(q.inflight, receipt)
	}
	q.pending = append(orphans, q.pending...)
	return len(orphans), nil
}

// InFlight reports how many dequeued tasks are still unacked.
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}
