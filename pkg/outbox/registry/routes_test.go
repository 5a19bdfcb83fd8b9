package registry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/contentstudio-backend/pkg/config"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/payloads"
)

func testRoutes(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{StudioTopic: "studio", BillingTopic: "billing"})
	require.NoError(t, err)
	return reg
}

func envelopeOf(t *testing.T, version int, data string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    version,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(data),
	})
	require.NoError(t, err)
	return raw
}

func TestResolveDecodesPostPayload(t *testing.T) {
	reg := testRoutes(t)
	postID := uuid.New()
	data, err := json.Marshal(payloads.PostSettledEvent{
		PostID:        postID,
		WorkspaceID:   uuid.New(),
		Status:        enums.PostStatusPublished,
		SuccessCount:  1,
		FailureCount:  2,
		CreditsHeld:   3,
		CreditsActual: 1,
	})
	require.NoError(t, err)

	resolved, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventPostPublished,
		AggregateType: enums.AggregateScheduledPost,
		AggregateID:   postID,
		Payload:       envelopeOf(t, 1, string(data)),
	})
	require.NoError(t, err)
	require.Equal(t, "studio", resolved.Descriptor.Topic)
	payload, ok := resolved.Payload.(*payloads.PostSettledEvent)
	require.True(t, ok, "payload type %T", resolved.Payload)
	require.Equal(t, postID, payload.PostID)
	require.Equal(t, int64(1), payload.CreditsActual)
	require.NotEmpty(t, resolved.Envelope.EventID)
}

func TestWalletEventsRouteToBilling(t *testing.T) {
	reg := testRoutes(t)
	resolved, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventCreditsLow,
		AggregateType: enums.AggregateWallet,
		AggregateID:   uuid.New(),
		Payload:       envelopeOf(t, 1, `{"balance":3,"threshold":20}`),
	})
	require.NoError(t, err)
	require.Equal(t, "billing", resolved.Descriptor.Topic)
	require.Equal(t, []string{"billing", "studio"}, reg.Topics())
}

func TestResolveRejectsBadRows(t *testing.T) {
	reg := testRoutes(t)
	cases := map[string]models.OutboxEvent{
		"unknown type": {
			EventType: "order_created", AggregateType: enums.AggregateJob, AggregateID: uuid.New(),
			Payload: envelopeOf(t, 1, `{}`),
		},
		"aggregate mismatch": {
			EventType: enums.EventJobCompleted, AggregateType: enums.AggregateWallet, AggregateID: uuid.New(),
			Payload: envelopeOf(t, 1, `{}`),
		},
		"nil aggregate id": {
			EventType: enums.EventJobFailed, AggregateType: enums.AggregateJob,
			Payload: envelopeOf(t, 1, `{}`),
		},
		"null data": {
			EventType: enums.EventAutomationCompleted, AggregateType: enums.AggregateAutomationRun, AggregateID: uuid.New(),
			Payload: envelopeOf(t, 1, `null`),
		},
		"unknown version": {
			EventType: enums.EventJobCompleted, AggregateType: enums.AggregateJob, AggregateID: uuid.New(),
			Payload: envelopeOf(t, 7, `{}`),
		},
		"broken envelope": {
			EventType: enums.EventJobCompleted, AggregateType: enums.AggregateJob, AggregateID: uuid.New(),
			Payload: json.RawMessage(`{"version":`),
		},
	}
	for name, row := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(row)
			var nonRetry NonRetryableError
			require.ErrorAs(t, err, &nonRetry)
		})
	}
}

func TestNewEventRegistryRequiresTopics(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{BillingTopic: "b"})
	require.ErrorContains(t, err, "studio topic")
}
