package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Channel is one of the per-session streams.
type Channel string

const (
	ChannelChanges   Channel = "changes"
	ChannelBroadcast Channel = "broadcast"
	ChannelPresence  Channel = "presence"
	ChannelViewport  Channel = "viewport"
)

// Topic names a per-session channel on the bus: "session:<id>:<channel>".
func Topic(sessionID uuid.UUID, ch Channel) string {
	return fmt.Sprintf("session:%s:%s", sessionID, ch)
}

// ParseTopic is the inverse of Topic.
func ParseTopic(topic string) (uuid.UUID, Channel, bool) {
	parts := strings.Split(topic, ":")
	if len(parts) != 3 || parts[0] != "session" {
		return uuid.Nil, "", false
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, "", false
	}
	return id, Channel(parts[2]), true
}

// Message types carried in Envelope.Type.
const (
	TypeRowChanged    = "row_changed"
	TypeSessionUpdate = "session_update"
	TypePresenceSync  = "presence_sync"
	TypeViewport      = "viewport"
)

// Envelope is the unit published on the bus.
type Envelope struct {
	Topic  string          `json:"topic"`
	Type   string          `json:"type"`
	Sender uuid.UUID       `json:"sender,omitzero"`
	SentAt time.Time       `json:"sent_at"`
	Data   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope for topic.
func NewEnvelope(topic, typ string, sender uuid.UUID, payload any, at time.Time) (Envelope, error) {
	env := Envelope{Topic: topic, Type: typ, Sender: sender, SentAt: at.UTC()}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	env.Data = raw
	return env, nil
}

// Decode unmarshals the envelope payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("empty %s payload", e.Type)
	}
	return json.Unmarshal(e.Data, dst)
}
