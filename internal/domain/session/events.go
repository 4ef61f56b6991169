package session

import (
	"github.com/google/uuid"
)

// RelayedUpdate is the broadcast payload a guest sends when it cannot write the
// durable record itself. Only the current host consumes it.
type RelayedUpdate struct {
	Updates       Update    `json:"updates"`
	ParticipantID uuid.UUID `json:"participant_id"`
}

// ViewportEvent is published on the viewport channel after a debounced flush.
type ViewportEvent struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	View          ViewState `json:"view"`
}

// PresenceSnapshot is the full presence map of a session, keyed by participant id.
type PresenceSnapshot map[uuid.UUID]PresenceData
