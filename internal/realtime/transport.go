package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"

	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	"github.com/yungbote/tarotroom-backend/internal/observability"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

// Transport exposes the four per-session channels as typed operations on top of a Bus
// and a PresenceStore.
type Transport struct {
	log      *logger.Logger
	bus      Bus
	presence PresenceStore
	metrics  *observability.Metrics
	clock    clock.Clock
}

type TransportOption func(*Transport)

func WithClock(c clock.Clock) TransportOption {
	return func(t *Transport) {
		if c != nil {
			t.clock = c
		}
	}
}

func WithMetrics(m *observability.Metrics) TransportOption {
	return func(t *Transport) { t.metrics = m }
}

func NewTransport(log *logger.Logger, bus Bus, presence PresenceStore, opts ...TransportOption) *Transport {
	if log == nil {
		log = logger.Nop()
	}
	t := &Transport{
		log:      log.With("component", "Transport"),
		bus:      bus,
		presence: presence,
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) publish(ctx context.Context, sessionID uuid.UUID, ch Channel, typ string, sender uuid.UUID, payload any) (int, error) {
	env, err := NewEnvelope(Topic(sessionID, ch), typ, sender, payload, t.clock.Now())
	if err != nil {
		return 0, err
	}
	n, err := t.bus.Publish(ctx, env)
	t.metrics.IncPublish(string(ch), err)
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", ch, err)
	}
	return n, nil
}

// subscribe decodes every envelope of typ on the channel into T before calling fn.
// Undecodable envelopes are logged and skipped.
func subscribe[T any](ctx context.Context, t *Transport, sessionID uuid.UUID, ch Channel, typ string, fn func(T, Envelope)) (Subscription, error) {
	return t.bus.Subscribe(ctx, Topic(sessionID, ch), func(env Envelope) {
		if env.Type != typ {
			return
		}
		var v T
		if err := env.Decode(&v); err != nil {
			t.log.Warn("bad envelope payload", "topic", env.Topic, "type", env.Type, "error", err)
			return
		}
		fn(v, env)
	})
}

// PublishChange emits the full committed row on the change feed.
func (t *Transport) PublishChange(ctx context.Context, row *types.ReadingSession) error {
	if row == nil {
		return fmt.Errorf("publish change: nil row")
	}
	_, err := t.publish(ctx, row.ID, ChannelChanges, TypeRowChanged, uuid.Nil, row)
	return err
}

func (t *Transport) SubscribeChanges(ctx context.Context, sessionID uuid.UUID, fn func(*types.ReadingSession)) (Subscription, error) {
	return subscribe(ctx, t, sessionID, ChannelChanges, TypeRowChanged, func(row types.ReadingSession, _ Envelope) {
		fn(&row)
	})
}

// Broadcast sends a relayed update to whoever listens on the broadcast channel and
// returns the receiver count.
func (t *Transport) Broadcast(ctx context.Context, sessionID uuid.UUID, msg types.RelayedUpdate) (int, error) {
	return t.publish(ctx, sessionID, ChannelBroadcast, TypeSessionUpdate, msg.ParticipantID, msg)
}

func (t *Transport) SubscribeBroadcast(ctx context.Context, sessionID uuid.UUID, fn func(types.RelayedUpdate)) (Subscription, error) {
	return subscribe(ctx, t, sessionID, ChannelBroadcast, TypeSessionUpdate, func(msg types.RelayedUpdate, _ Envelope) {
		fn(msg)
	})
}

// Track stores the participant's presence entry and tells every presence
// subscriber to resync.
func (t *Transport) Track(ctx context.Context, sessionID uuid.UUID, data types.PresenceData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}
	if err := t.presence.Track(ctx, sessionID, data.ParticipantID, raw); err != nil {
		return fmt.Errorf("track presence: %w", err)
	}
	_, err = t.publish(ctx, sessionID, ChannelPresence, TypePresenceSync, data.ParticipantID, nil)
	return err
}

func (t *Transport) Untrack(ctx context.Context, sessionID, participantID uuid.UUID) error {
	if err := t.presence.Untrack(ctx, sessionID, participantID); err != nil {
		return fmt.Errorf("untrack presence: %w", err)
	}
	_, err := t.publish(ctx, sessionID, ChannelPresence, TypePresenceSync, participantID, nil)
	return err
}

// PresenceSnapshot returns the complete current presence map for the session.
func (t *Transport) PresenceSnapshot(ctx context.Context, sessionID uuid.UUID) (types.PresenceSnapshot, error) {
	raw, err := t.presence.Snapshot(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("presence snapshot: %w", err)
	}
	out := make(types.PresenceSnapshot, len(raw))
	for id, entry := range raw {
		var d types.PresenceData
		if err := json.Unmarshal(entry, &d); err != nil {
			t.log.Warn("bad presence entry", "session_id", sessionID, "participant_id", id, "error", err)
			continue
		}
		out[id] = d
	}
	return out, nil
}

// SubscribePresence calls fn with the full presence map after every join, leave or update.
func (t *Transport) SubscribePresence(ctx context.Context, sessionID uuid.UUID, fn func(types.PresenceSnapshot)) (Subscription, error) {
	return t.bus.Subscribe(ctx, Topic(sessionID, ChannelPresence), func(env Envelope) {
		if env.Type != TypePresenceSync {
			return
		}
		snap, err := t.PresenceSnapshot(ctx, sessionID)
		if err != nil {
			t.log.Warn("presence resync failed", "session_id", sessionID, "error", err)
			return
		}
		fn(snap)
	})
}

func (t *Transport) PublishViewport(ctx context.Context, sessionID uuid.UUID, ev types.ViewportEvent) error {
	_, err := t.publish(ctx, sessionID, ChannelViewport, TypeViewport, ev.ParticipantID, ev)
	return err
}

func (t *Transport) SubscribeViewport(ctx context.Context, sessionID uuid.UUID, fn func(types.ViewportEvent)) (Subscription, error) {
	return subscribe(ctx, t, sessionID, ChannelViewport, TypeViewport, func(ev types.ViewportEvent, _ Envelope) {
		fn(ev)
	})
}
