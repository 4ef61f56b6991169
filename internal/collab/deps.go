package collab

import (
	"context"

	"github.com/google/uuid"

	domainagg "github.com/yungbote/tarotroom-backend/internal/domain/aggregates"
	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	"github.com/yungbote/tarotroom-backend/internal/realtime"
)

// Records is the durable reading_session record. Update returns ErrWritePermission
// (matchable with errors.Is) when caller may not write the session directly.
// Every successful write is published on the change feed by the implementation.
type Records interface {
	LoadCritical(ctx context.Context, sessionID uuid.UUID) (*types.ReadingSession, error)
	LoadBulk(ctx context.Context, sessionID uuid.UUID) (*types.BulkFields, error)
	Update(ctx context.Context, sessionID uuid.UUID, caller types.Identity, u types.Update) (*types.ReadingSession, error)
}

// HostRecords performs host-identity writes and returns the committed row.
type HostRecords interface {
	TransferHost(ctx context.Context, in domainagg.TransferHostInput) (*types.ReadingSession, error)
	OfferHost(ctx context.Context, in domainagg.OfferHostInput) (*types.ReadingSession, error)
	RejectOffer(ctx context.Context, in domainagg.RejectOfferInput) (*types.ReadingSession, error)
	ReclaimHost(ctx context.Context, in domainagg.ReclaimHostInput) (*types.ReadingSession, error)
	ClearPendingFor(ctx context.Context, in domainagg.ClearPendingInput) error
	EndSession(ctx context.Context, in domainagg.EndSessionInput) (*types.ReadingSession, error)
}

type Participants interface {
	Activate(ctx context.Context, sessionID uuid.UUID, identity types.Identity, name string, role types.Role) (*types.Participant, error)
	Deactivate(ctx context.Context, participantID uuid.UUID) error
	ListActive(ctx context.Context, sessionID uuid.UUID) ([]*types.Participant, error)
}

// Viewports is the per-participant view side table. Load returns nil when no row exists.
type Viewports interface {
	Load(ctx context.Context, sessionID, participantID uuid.UUID) (*types.ViewState, error)
	Save(ctx context.Context, sessionID, participantID uuid.UUID, view types.ViewState) error
}

// Transport is the realtime substrate; *realtime.Transport implements it.
type Transport interface {
	SubscribeChanges(ctx context.Context, sessionID uuid.UUID, fn func(*types.ReadingSession)) (realtime.Subscription, error)
	Broadcast(ctx context.Context, sessionID uuid.UUID, msg types.RelayedUpdate) (int, error)
	SubscribeBroadcast(ctx context.Context, sessionID uuid.UUID, fn func(types.RelayedUpdate)) (realtime.Subscription, error)
	Track(ctx context.Context, sessionID uuid.UUID, data types.PresenceData) error
	Untrack(ctx context.Context, sessionID, participantID uuid.UUID) error
	PresenceSnapshot(ctx context.Context, sessionID uuid.UUID) (types.PresenceSnapshot, error)
	SubscribePresence(ctx context.Context, sessionID uuid.UUID, fn func(types.PresenceSnapshot)) (realtime.Subscription, error)
	PublishViewport(ctx context.Context, sessionID uuid.UUID, ev types.ViewportEvent) error
	SubscribeViewport(ctx context.Context, sessionID uuid.UUID, fn func(types.ViewportEvent)) (realtime.Subscription, error)
}

var _ Transport = (*realtime.Transport)(nil)

type EventKind string

const (
	EventJoined           EventKind = "joined"
	EventStage            EventKind = "stage"
	EventStateChanged     EventKind = "state_changed"
	EventPresence         EventKind = "presence"
	EventViewportMirrored EventKind = "viewport_mirrored"
	EventHostChanged      EventKind = "host_changed"
	EventUpdateRelayed    EventKind = "update_relayed"
	EventRoster           EventKind = "roster"
	EventSessionEnded     EventKind = "session_ended"
	EventStageFailed      EventKind = "stage_failed"
)

// Event is a client-visible notification from a Session.
type Event struct {
	Kind          EventKind
	SessionID     uuid.UUID
	ParticipantID uuid.UUID
	Data          any
}

// Notifier receives a Session's events. Notify is called without any Session lock
// held and may run on timer or transport goroutines.
type Notifier interface {
	Notify(ev Event)
}

type NotifierFunc func(Event)

func (f NotifierFunc) Notify(ev Event) { f(ev) }

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

// Event payloads.

type StageInfo struct {
	Stage     Stage  `json:"stage"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Error     string `json:"error,omitempty"`
}

type HostChange struct {
	HostUserID string `json:"host_user_id"`
	IsHost     bool   `json:"is_host"`
}

type RelayInfo struct {
	From   uuid.UUID `json:"from"`
	Fields []string  `json:"fields"`
}
