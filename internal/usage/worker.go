package usage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/registry"
)

const usageConsumerName = "usage-analytics"

// RowWriter persists usage rows.
type RowWriter interface {
	Insert(ctx context.Context, row Row) error
}

type idempotencyChecker interface {
	Claim(ctx context.Context, consumer, id string) (bool, error)
	Release(ctx context.Context, consumer, id string) error
}

var _ idempotencyChecker = (*idempotency.Manager)(nil)

type payloadDecoder interface {
	Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error)
}

var _ payloadDecoder = (*registry.DecoderRegistry)(nil)

// WorkerParams wires the usage worker.
type WorkerParams struct {
	Subscription *gcppubsub.Subscriber
	Decoders     payloadDecoder
	Pricing      Pricing
	Writer       RowWriter
	Idempotency  idempotencyChecker
	Logger       *logger.Logger
}

// Worker consumes terminal studio events from Pub/Sub and records credit usage.
type Worker struct {
	subscription *gcppubsub.Subscriber
	decoders     payloadDecoder
	pricing      Pricing
	writer       RowWriter
	manager      idempotencyChecker
	logg         *logger.Logger
}

// NewWorker validates params and builds a Worker.
func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Subscription == nil {
		return nil, errors.New("usage subscription is required")
	}
	if params.Decoders == nil {
		return nil, errors.New("decoder registry is required")
	}
	if params.Writer == nil {
		return nil, errors.New("usage writer is required")
	}
	if params.Idempotency == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Worker{
		subscription: params.Subscription,
		decoders:     params.Decoders,
		pricing:      params.Pricing,
		writer:       params.Writer,
		manager:      params.Idempotency,
		logg:         params.Logger,
	}, nil
}

type processResult struct {
	nack bool
}

// Run consumes messages until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	return w.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if w.process(innerCtx, msg.ID, msg.Attributes, msg.Data).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (w *Worker) process(ctx context.Context, messageID string, attributes map[string]string, data []byte) processResult {
	rawType := strings.TrimSpace(attributes["event_type"])
	logCtx := w.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": rawType,
	})

	eventType, err := enums.ParseOutboxEventType(rawType)
	if err != nil {
		w.logg.Warn(logCtx, "skipping unknown event type")
		return processResult{}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		w.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{}
	}
	eventIDRaw := strings.TrimSpace(envelope.EventID)
	if eventIDRaw == "" {
		eventIDRaw = strings.TrimSpace(attributes["event_id"])
	}
	eventID, err := uuid.Parse(eventIDRaw)
	if err != nil {
		w.logg.Warn(logCtx, "invalid event id")
		return processResult{}
	}
	logCtx = w.logg.WithField(logCtx, "event_id", eventID.String())

	payload, err := w.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if errors.Is(err, registry.ErrNoDecoder) {
		w.logg.Debug(logCtx, "event carries no usage")
		return processResult{}
	}
	if err != nil {
		w.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{}
	}

	occurredAt := envelope.OccurredAt
	if occurredAt.IsZero() {
		if created := strings.TrimSpace(attributes["created_at"]); created != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, created); err == nil {
				occurredAt = parsed
			}
		}
	}
	row, ok := w.pricing.Build(eventID.String(), eventType, occurredAt, payload)
	if !ok {
		w.logg.Debug(logCtx, "event carries no usage")
		return processResult{}
	}

	claimed, err := w.manager.Claim(logCtx, usageConsumerName, eventID.String())
	if err != nil {
		w.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if !claimed {
		w.logg.Info(logCtx, "event already processed")
		return processResult{}
	}

	if err := w.writer.Insert(logCtx, row); err != nil {
		w.logg.Error(logCtx, "usage insert failed", err)
		_ = w.manager.Release(logCtx, usageConsumerName, eventID.String())
		return processResult{nack: true}
	}

	w.logg.Info(w.logg.WithFields(logCtx, map[string]any{
		"workspace_id": row.WorkspaceID,
		"kind":         row.Kind,
		"credits":      row.Credits,
	}), "usage recorded")
	return processResult{}
}
