package realtime

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// Handler receives envelopes for a subscribed topic. Handlers must not block for long;
// the memory bus calls them on the publisher's goroutine.
type Handler func(Envelope)

type Subscription interface {
	Topic() string
	Close() error
}

// Bus is the pub/sub substrate behind every session channel.
// Publish reports how many subscribers received the envelope.
type Bus interface {
	Publish(ctx context.Context, env Envelope) (int, error)
	Subscribe(ctx context.Context, topic string, fn Handler) (Subscription, error)
	Close() error
}

// PresenceStore holds the current presence map per session.
// Entries are raw JSON so stores stay agnostic of the presence shape.
type PresenceStore interface {
	Track(ctx context.Context, sessionID, participantID uuid.UUID, entry json.RawMessage) error
	Untrack(ctx context.Context, sessionID, participantID uuid.UUID) error
	Snapshot(ctx context.Context, sessionID uuid.UUID) (map[uuid.UUID]json.RawMessage, error)
}
