package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/registry"
	"github.com/google/uuid"
)

const notificationConsumer = "studio-notifications"

type processedTracker interface {
	Claim(ctx context.Context, consumer, id string) (bool, error)
	Release(ctx context.Context, consumer, id string) error
}

var _ processedTracker = (*idempotency.Manager)(nil)

// Consumer reads studio domain events and fans them out as notifications.
type Consumer struct {
	dispatcher   *Dispatcher
	decoders     *registry.DecoderRegistry
	subscription *pubsub.Subscriber
	idempotency  processedTracker
	logg         *logger.Logger
}

// NewConsumer builds the notification consumer.
func NewConsumer(dispatcher *Dispatcher, decoders *registry.DecoderRegistry, subscription *pubsub.Subscriber, tracker processedTracker, logg *logger.Logger) (*Consumer, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("notification dispatcher required")
	}
	if decoders == nil {
		return nil, fmt.Errorf("decoder registry required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		dispatcher:   dispatcher,
		decoders:     decoders,
		subscription: subscription,
		idempotency:  tracker,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg.ID, msg.Attributes["event_type"], msg.Data)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, messageID, rawType string, data []byte) processResult {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": rawType,
	})

	eventType, err := enums.ParseOutboxEventType(rawType)
	if err != nil {
		c.logg.Warn(logCtx, "skipping unknown event type")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	payload, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if errors.Is(err, registry.ErrNoDecoder) {
		c.logg.Debug(logCtx, "no decoder for event version")
		return processResult{ack: true}
	}
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{ack: true}
	}
	if _, notifies := Build(payload); !notifies {
		c.logg.Debug(logCtx, "event does not notify")
		return processResult{ack: true}
	}

	claimed, err := c.idempotency.Claim(ctx, notificationConsumer, eventID.String())
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if !claimed {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	notification, err := c.dispatcher.Dispatch(ctx, payload)
	if err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		_ = c.idempotency.Release(ctx, notificationConsumer, eventID.String())
		return processResult{nack: true}
	}

	c.logg.Info(c.logg.WithFields(logCtx, map[string]any{
		"notification_id": notification.ID.String(),
		"workspace_id":    notification.WorkspaceID.String(),
		"type":            notification.Type,
	}), "notification created")
	return processResult{ack: true}
}
