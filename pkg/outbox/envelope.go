package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is stamped on envelopes whose emitter did not pick one.
const EnvelopeVersion = 1

// ActorRef is the user and workspace on whose behalf an event was emitted.
// The relay lifts WorkspaceID into a message attribute for subscription filters.
type ActorRef struct {
	UserID      uuid.UUID  `json:"userId"`
	WorkspaceID *uuid.UUID `json:"workspaceId,omitempty"`
	Role        string     `json:"role,omitempty"`
}

// PayloadEnvelope is the JSON stored in outbox_events.payload and published
// verbatim as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// Workspace returns the actor's workspace, if any.
func (e PayloadEnvelope) Workspace() (uuid.UUID, bool) {
	if e.Actor == nil || e.Actor.WorkspaceID == nil || *e.Actor.WorkspaceID == uuid.Nil {
		return uuid.Nil, false
	}
	return *e.Actor.WorkspaceID, true
}
