package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentstudio-backend/pkg/config"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
	"github.com/angelmondragon/contentstudio-backend/pkg/metrics"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultMaxAttempts    = 10
	defaultPublishTimeout = 15 * time.Second
	maxIdleBackoff        = 10 * time.Second
	maxJitter             = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Settings         config.OutboxConfig
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	DLQRepository    dlqRepository
	PublisherFactory publisherFactory
	Metrics          *metrics.RelayMetrics
}

// Service relays committed outbox rows (job, post, credit and automation
// events) to their Pub/Sub topics.
type Service struct {
	logg        *logger.Logger
	db          dbClient
	pubsub      pubSubClient
	repo        outboxRepository
	registry    registryResolver
	dlq         dlqRepository
	publishers  *topicPublishers
	metrics     *metrics.RelayMetrics
	batchSize   int
	maxAttempts int
	idle        time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = gcpPublisherFactory(params.PubSub)
	}

	svc := &Service{
		logg:        params.Logger,
		db:          params.DB,
		pubsub:      params.PubSub,
		repo:        params.Repository,
		registry:    params.Registry,
		dlq:         params.DLQRepository,
		publishers:  newTopicPublishers(factory),
		metrics:     params.Metrics,
		batchSize:   params.Settings.BatchSize,
		maxAttempts: params.Settings.MaxAttempts,
		idle:        time.Duration(params.Settings.PollIntervalMS) * time.Millisecond,
	}
	if svc.batchSize <= 0 {
		svc.batchSize = defaultBatchSize
	}
	if svc.maxAttempts <= 0 {
		svc.maxAttempts = defaultMaxAttempts
	}
	if svc.idle <= 0 {
		svc.idle = defaultPollInterval
	}
	return svc, nil
}

// Run drains the outbox until ctx is canceled. A full batch is followed
// immediately by the next one; an empty batch waits one poll interval and
// repeated batch errors back off up to maxIdleBackoff.
func (s *Service) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{
		"database": s.db.Ping,
		"pubsub":   s.pubsub.Ping,
	} {
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	wait := s.idle
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox relay stopping")
			return err
		}

		handled, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox relay batch failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case handled > 0:
			wait = s.idle
			continue
		default:
			wait = s.idle
		}

		if err := sleepCtx(ctx, wait+jitter()); err != nil {
			return err
		}
	}
}

type outcome string

const (
	outcomePublished  outcome = "published"
	outcomeRetry      outcome = "retry"
	outcomeDeadLetter outcome = "dead_letter"
)

// delivery is the relay's verdict for one outbox row.
type delivery struct {
	event   models.OutboxEvent
	topic   string
	outcome outcome
	reason  enums.OutboxDLQErrorReason
	err     error
}

// processBatch claims up to batchSize rows and settles every one of them in
// the same transaction. It returns how many rows were handled.
func (s *Service) processBatch(ctx context.Context) (int, error) {
	started := time.Now()
	handled := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		for _, event := range events {
			d := s.deliver(ctx, event)
			if err := s.settle(ctx, tx, d); err != nil {
				return err
			}
			handled++
		}
		return nil
	})
	if handled > 0 {
		s.metrics.ObserveBatch(time.Since(started))
	}
	return handled, err
}

func (s *Service) deliver(ctx context.Context, event models.OutboxEvent) delivery {
	d := delivery{event: event}

	resolved, err := s.registry.Resolve(event)
	if err != nil {
		d.outcome, d.reason, d.err = outcomeDeadLetter, enums.OutboxDLQReasonNonRetryable, err
		return d
	}
	d.topic = resolved.Descriptor.Topic

	err = s.publish(ctx, event, resolved)
	var nonRetryable registry.NonRetryableError
	switch {
	case err == nil:
		d.outcome = outcomePublished
	case errors.As(err, &nonRetryable):
		d.outcome, d.reason, d.err = outcomeDeadLetter, enums.OutboxDLQReasonNonRetryable, err
	case event.AttemptCount+1 >= s.maxAttempts:
		d.outcome, d.reason = outcomeDeadLetter, enums.OutboxDLQReasonMaxAttempts
		d.err = fmt.Errorf("gave up after %d attempts: %w", event.AttemptCount+1, err)
	default:
		d.outcome, d.err = outcomeRetry, err
	}
	return d
}

func (s *Service) settle(ctx context.Context, tx *gorm.DB, d delivery) error {
	id := d.event.ID
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"outbox_id":      id.String(),
		"event_type":     d.event.EventType,
		"aggregate_type": d.event.AggregateType,
		"aggregate_id":   d.event.AggregateID.String(),
		"topic":          d.topic,
		"attempt":        d.event.AttemptCount + 1,
	})
	s.metrics.ObserveEvent(string(d.event.EventType), string(d.outcome))

	switch d.outcome {
	case outcomePublished:
		if err := s.repo.MarkPublishedTx(tx, id); err != nil {
			return fmt.Errorf("mark published %s: %w", id, err)
		}
		s.logg.Info(logCtx, "outbox event relayed")
	case outcomeRetry:
		s.logg.Warn(s.logg.WithField(logCtx, "error", d.err.Error()), "outbox event publish failed, will retry")
		if err := s.repo.MarkFailedTx(tx, id, d.err); err != nil {
			return fmt.Errorf("mark failed %s: %w", id, err)
		}
	case outcomeDeadLetter:
		msg := d.err.Error()
		s.logg.Warn(s.logg.WithFields(logCtx, map[string]any{
			"error":        msg,
			"error_reason": d.reason,
		}), "outbox event dead-lettered")
		entry := models.OutboxDLQ{
			EventID:       id,
			EventType:     d.event.EventType,
			AggregateType: d.event.AggregateType,
			AggregateID:   d.event.AggregateID,
			Payload:       d.event.Payload,
			ErrorReason:   d.reason,
			ErrorMessage:  &msg,
			AttemptCount:  d.event.AttemptCount,
			FailedAt:      time.Now().UTC(),
		}
		if err := s.dlq.InsertTx(tx, entry); err != nil {
			return fmt.Errorf("insert dlq %s: %w", id, err)
		}
		if err := s.repo.MarkTerminalTx(tx, id, d.err, s.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", id, err)
		}
	}
	return nil
}

// publish sends the stored envelope bytes unchanged; consumers route on the
// message attributes.
func (s *Service) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publishers.get(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
	}

	attrs := map[string]string{
		"event_id":         resolved.Envelope.EventID,
		"event_type":       string(event.EventType),
		"aggregate_type":   string(event.AggregateType),
		"aggregate_id":     event.AggregateID.String(),
		"envelope_version": strconv.Itoa(resolved.Envelope.Version),
		"created_at":       event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if ws, ok := resolved.Envelope.Workspace(); ok {
		attrs["workspace_id"] = ws.String()
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, &gcppubsub.Message{Data: event.Payload, Attributes: attrs})
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher for %s returned no result", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func jitter() time.Duration {
	return time.Duration(rand.Int64N(int64(maxJitter)))
}
