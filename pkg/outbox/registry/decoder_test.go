package registry

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/payloads"
)

func TestDecoderRegistryVersions(t *testing.T) {
	reg := NewDecoderRegistry().
		Register(1, JSON[map[string]string](), enums.EventPostFailed).
		Register(2, func(json.RawMessage) (any, error) { return "v2", nil }, enums.EventPostFailed)

	out, err := reg.Decode(enums.EventPostFailed, 0, json.RawMessage(`{"status":"failed"}`))
	require.NoError(t, err)
	require.Equal(t, "failed", (*out.(*map[string]string))["status"])

	out, err = reg.Decode(enums.EventPostFailed, 2, nil)
	require.NoError(t, err)
	require.Equal(t, "v2", out)

	_, err = reg.Decode(enums.EventPostFailed, 3, nil)
	require.ErrorIs(t, err, ErrNoDecoder)
}

func TestDecoderRegistryWrapsBadPayload(t *testing.T) {
	reg := NewStudioDecoders()
	_, err := reg.Decode(enums.EventCreditsLow, 1, json.RawMessage(`{"balance":"lots"}`))
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNoDecoder))
	require.Contains(t, err.Error(), "credits")
}

func TestStudioDecodersCoverSettlementEvents(t *testing.T) {
	reg := NewStudioDecoders()
	cases := map[enums.OutboxEventType]any{
		enums.EventJobFailed:           &payloads.JobSettledEvent{},
		enums.EventPostPublished:       &payloads.PostSettledEvent{},
		enums.EventAutomationCompleted: &payloads.AutomationSettledEvent{},
		enums.EventCreditsGranted:      &payloads.CreditsGrantedEvent{},
	}
	for eventType, want := range cases {
		out, err := reg.Decode(eventType, 1, json.RawMessage(`{}`))
		require.NoError(t, err, eventType)
		require.IsType(t, want, out)
	}
}
