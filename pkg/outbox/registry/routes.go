package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentstudio-backend/pkg/config"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox"
)

// EventDescriptor is where the relay sends one event type.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

// ResolvedEvent is an outbox row that passed validation and is ready to publish.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row the relay should dead-letter immediately.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

// route groups the event types an aggregate emits. Wallet events go to the
// billing topic, everything else to the studio topic.
type route struct {
	aggregate enums.OutboxAggregateType
	billing   bool
	events    []enums.OutboxEventType
}

var routes = []route{
	{enums.AggregateJob, false, []enums.OutboxEventType{enums.EventJobCompleted, enums.EventJobFailed, enums.EventJobCancelled}},
	{enums.AggregateScheduledPost, false, []enums.OutboxEventType{enums.EventPostPublished, enums.EventPostFailed}},
	{enums.AggregateAutomationRun, false, []enums.OutboxEventType{enums.EventAutomationCompleted, enums.EventAutomationFailed}},
	{enums.AggregateWallet, true, []enums.OutboxEventType{enums.EventCreditsLow, enums.EventCreditsGranted}},
}

// EventRegistry resolves outbox rows to topics. Payloads are checked against
// the same decoders consumers use, so a row that no consumer could read never
// leaves the table.
type EventRegistry struct {
	entries  map[enums.OutboxEventType]EventDescriptor
	decoders *DecoderRegistry
}

func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	var missing []error
	if cfg.StudioTopic == "" {
		missing = append(missing, errors.New("studio topic is required"))
	}
	if cfg.BillingTopic == "" {
		missing = append(missing, errors.New("billing topic is required"))
	}
	if len(missing) > 0 {
		return nil, errors.Join(missing...)
	}

	reg := &EventRegistry{
		entries:  make(map[enums.OutboxEventType]EventDescriptor),
		decoders: NewStudioDecoders(),
	}
	for _, rt := range routes {
		topic := cfg.StudioTopic
		if rt.billing {
			topic = cfg.BillingTopic
		}
		for _, et := range rt.events {
			reg.entries[et] = EventDescriptor{EventType: et, AggregateType: rt.aggregate, Topic: topic}
		}
	}
	return reg, nil
}

// Topics lists the distinct destination topics, sorted.
func (r *EventRegistry) Topics() []string {
	var topics []string
	for _, desc := range r.entries {
		if !slices.Contains(topics, desc.Topic) {
			topics = append(topics, desc.Topic)
		}
	}
	slices.Sort(topics)
	return topics
}

// Resolve validates the row and decodes its payload. Every failure is
// non-retryable: the row will not get better on a second attempt.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("%s belongs to %s, row says %s", event.EventType, desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	payload, err := r.decoders.Decode(event.EventType, envelope.Version, envelope.Data)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
