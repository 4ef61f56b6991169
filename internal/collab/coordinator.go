package collab

import (
	"context"
	"fmt"
	"strings"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	domainagg "github.com/yungbote/tarotroom-backend/internal/domain/aggregates"
	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	"github.com/yungbote/tarotroom-backend/internal/observability"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

// Deps are the collaborators every Session is built from.
type Deps struct {
	Log          *logger.Logger
	Records      Records
	Hosts        HostRecords
	Participants Participants
	Viewports    Viewports
	Transport    Transport
	Clock        clock.Clock
	Timing       Timing
	Metrics      *observability.Metrics
}

func (d Deps) withDefaults() (Deps, error) {
	if d.Records == nil || d.Hosts == nil || d.Participants == nil || d.Viewports == nil || d.Transport == nil {
		return d, fmt.Errorf("collab: records, hosts, participants, viewports and transport are required")
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Timing == (Timing{}) {
		d.Timing = DefaultTiming()
	}
	if err := d.Timing.Validate(); err != nil {
		return d, err
	}
	return d, nil
}

// SyncCoordinator runs the join pipeline.
type SyncCoordinator struct {
	log  *logger.Logger
	deps Deps
}

func NewSyncCoordinator(deps Deps) (*SyncCoordinator, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	return &SyncCoordinator{
		log:  deps.Log.With("component", "SyncCoordinator"),
		deps: deps,
	}, nil
}

func (c *SyncCoordinator) Timing() Timing { return c.deps.Timing }

type JoinRequest struct {
	SessionID uuid.UUID
	Identity  types.Identity
	Name      string
	Role      types.Role
	Notifier  Notifier
}

// JoinInfo is the payload of EventJoined.
type JoinInfo struct {
	Participant *types.Participant    `json:"participant"`
	State       *types.ReadingSession `json:"state"`
	IsHost      bool                  `json:"is_host"`
}

// Join runs the critical stage synchronously and returns the live Session. The
// remaining stages (view, presence, full, complete) run on the Session's timers.
// Failures after the critical stage are reported as EventStageFailed and never
// fail the join.
func (c *SyncCoordinator) Join(ctx context.Context, req JoinRequest) (sess *Session, err error) {
	const op = "collab.SyncCoordinator.Join"
	if req.SessionID == uuid.Nil {
		return nil, invalid(op, "session id is required")
	}
	if req.Identity.IsZero() {
		return nil, invalid(op, "caller identity is required")
	}
	if req.Role == "" {
		req.Role = types.RoleParticipant
	}
	if !req.Role.Valid() {
		return nil, invalid(op, fmt.Sprintf("unknown role %q", req.Role))
	}
	req.Name = strings.TrimSpace(req.Name)

	ctx, span := observability.StartSpan(ctx, "collab.join",
		attribute.String("session_id", req.SessionID.String()),
		attribute.String("role", string(req.Role)),
	)
	defer func() { observability.EndSpan(span, err) }()

	joinedAt := c.deps.Clock.Now()
	row, err := c.deps.Records.LoadCritical(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domainagg.Sentinel(domainagg.CodeNotFound, op, ErrSessionNotFound)
	}
	if !row.IsActive {
		return nil, domainagg.Sentinel(domainagg.CodeNotFound, op, ErrSessionEnded)
	}
	participant, err := c.deps.Participants.Activate(ctx, req.SessionID, req.Identity, req.Name, req.Role)
	if err != nil {
		return nil, err
	}
	if participant == nil {
		return nil, domainagg.NewError(domainagg.CodeInternal, op, "participant activation returned no row", nil)
	}

	s := newSession(ctx, c.deps, participant, req.Identity, req.Notifier, joinedAt)
	s.store.load(row)
	c.deps.Metrics.LiveSessionInc()

	if req.Role == types.RoleReader {
		if err := s.host.accept(ctx, domainagg.TransferAutoReaderJoin); err != nil {
			c.log.Warn("reader auto-accept failed", "session_id", req.SessionID, "error", err)
		}
	}

	s.emit(Event{Kind: EventJoined, Data: JoinInfo{
		Participant: participant,
		State:       s.store.State(),
		IsHost:      s.store.IsHost(),
	}})
	s.reach(StageCritical, nil)

	s.subscribe()
	s.schedule(c.deps.Timing.ViewDelay, s.runViewStages)

	c.log.Info("participant joined",
		"session_id", req.SessionID,
		"participant_id", participant.ID,
		"role", req.Role,
		"is_host", s.store.IsHost(),
	)
	return s, nil
}
