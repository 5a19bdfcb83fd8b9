package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/payloads"
)

// ErrNoDecoder means the consumer does not understand this event type or
// envelope version. Consumers ack and skip such messages.
var ErrNoDecoder = errors.New("no decoder registered")

// Decoder turns an envelope's data into a typed payload.
type Decoder func(data json.RawMessage) (any, error)

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry is built once at startup and read concurrently afterwards.
type DecoderRegistry struct {
	decoders map[decoderKey]Decoder
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: make(map[decoderKey]Decoder)}
}

// Register binds decoder to every listed event type at version. It is not
// safe to call once consumers are running.
func (r *DecoderRegistry) Register(version int, decoder Decoder, eventTypes ...enums.OutboxEventType) *DecoderRegistry {
	for _, et := range eventTypes {
		r.decoders[decoderKey{et, version}] = decoder
	}
	return r
}

// Decode treats version 0 as the current envelope version.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, data json.RawMessage) (any, error) {
	if version == 0 {
		version = outbox.EnvelopeVersion
	}
	decoder, ok := r.decoders[decoderKey{eventType, version}]
	if !ok {
		return nil, fmt.Errorf("%w for %s@v%d", ErrNoDecoder, eventType, version)
	}
	out, err := decoder(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s@v%d: %w", eventType, version, err)
	}
	return out, nil
}

// JSON decodes data into a new T and returns *T.
func JSON[T any]() Decoder {
	return func(data json.RawMessage) (any, error) {
		out := new(T)
		if err := json.Unmarshal(data, out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// NewStudioDecoders covers every event the notification and usage consumers
// read.
func NewStudioDecoders() *DecoderRegistry {
	return NewDecoderRegistry().
		Register(1, JSON[payloads.JobSettledEvent](), enums.EventJobCompleted, enums.EventJobFailed, enums.EventJobCancelled).
		Register(1, JSON[payloads.PostSettledEvent](), enums.EventPostPublished, enums.EventPostFailed).
		Register(1, JSON[payloads.AutomationSettledEvent](), enums.EventAutomationCompleted, enums.EventAutomationFailed).
		Register(1, JSON[payloads.CreditsLowEvent](), enums.EventCreditsLow).
		Register(1, JSON[payloads.CreditsGrantedEvent](), enums.EventCreditsGranted)
}
