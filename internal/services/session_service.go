package services

import (
	"context"
	"sync"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"

	"github.com/yungbote/tarotroom-backend/internal/collab"
	domainagg "github.com/yungbote/tarotroom-backend/internal/domain/aggregates"
	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

type JoinInput struct {
	SessionID uuid.UUID
	Name      string
	Role      types.Role
	// Channel is the SSE channel the participant's events are sent to.
	Channel string
}

// SessionService owns the live participant sessions of this process. Every call
// acts as the identity stored in ctx; a participant session can only be driven
// by the identity that joined it.
type SessionService interface {
	Create(ctx context.Context, in CreateSessionInput) (*types.ReadingSession, error)
	Get(ctx context.Context, id uuid.UUID) (*types.ReadingSession, error)
	End(ctx context.Context, id uuid.UUID) (*types.ReadingSession, error)

	Join(ctx context.Context, in JoinInput) (*collab.Session, error)
	Participant(ctx context.Context, participantID uuid.UUID) (*collab.Session, error)
	Leave(ctx context.Context, participantID uuid.UUID) error

	// Close leaves every live participant session.
	Close(ctx context.Context)
}

type sessionService struct {
	log         *logger.Logger
	records     SessionRecords
	coordinator *collab.SyncCoordinator
	emit        SSEEmitter
	clock       clock.Clock

	mu   sync.Mutex
	live map[uuid.UUID]*collab.Session
}

func NewSessionService(log *logger.Logger, records SessionRecords, coordinator *collab.SyncCoordinator, emit SSEEmitter, clk clock.Clock) SessionService {
	if clk == nil {
		clk = clock.New()
	}
	return &sessionService{
		log:         log.With("service", "SessionService"),
		records:     records,
		coordinator: coordinator,
		emit:        emit,
		clock:       clk,
		live:        make(map[uuid.UUID]*collab.Session),
	}
}

func (ss *sessionService) Create(ctx context.Context, in CreateSessionInput) (*types.ReadingSession, error) {
	caller, err := IdentityFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return ss.records.Create(ctx, caller, in)
}

func (ss *sessionService) Get(ctx context.Context, id uuid.UUID) (*types.ReadingSession, error) {
	return ss.records.Get(ctx, id)
}

// End deactivates the session. Only its current host may end it.
func (ss *sessionService) End(ctx context.Context, id uuid.UUID) (*types.ReadingSession, error) {
	const op = "services.SessionService.End"
	caller, err := IdentityFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if caller.IsAnonymous() {
		return nil, domainagg.Sentinel(domainagg.CodeForbidden, op, domainagg.ErrNotCurrentHost)
	}
	return ss.records.EndSession(ctx, domainagg.EndSessionInput{
		SessionID:    id,
		CallerUserID: caller.UserID,
		At:           ss.clock.Now().UTC(),
	})
}

// Join connects the caller to a reading session. A live session already held by
// the same identity in the same reading session is left first, so one identity
// never has two live mirrors of one session in this process.
func (ss *sessionService) Join(ctx context.Context, in JoinInput) (*collab.Session, error) {
	caller, err := IdentityFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if prev := ss.findLive(in.SessionID, caller); prev != nil {
		ss.log.Info("replacing live participant session", "session_id", in.SessionID, "participant_id", prev.ParticipantID())
		ss.unregister(prev.ParticipantID())
		if err := prev.Leave(ctx); err != nil {
			ss.log.Warn("leave replaced session failed", "participant_id", prev.ParticipantID(), "error", err)
		}
	}
	s, err := ss.coordinator.Join(ctx, collab.JoinRequest{
		SessionID: in.SessionID,
		Identity:  caller,
		Name:      in.Name,
		Role:      in.Role,
		Notifier:  NewSessionNotifier(ss.log, ss.emit, in.Channel),
	})
	if err != nil {
		return nil, err
	}
	ss.mu.Lock()
	ss.live[s.ParticipantID()] = s
	ss.mu.Unlock()
	return s, nil
}

func (ss *sessionService) findLive(sessionID uuid.UUID, id types.Identity) *collab.Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for _, s := range ss.live {
		if s.SessionID() == sessionID && s.Identity() == id {
			return s
		}
	}
	return nil
}

func (ss *sessionService) unregister(participantID uuid.UUID) *collab.Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s := ss.live[participantID]
	delete(ss.live, participantID)
	return s
}

func (ss *sessionService) Participant(ctx context.Context, participantID uuid.UUID) (*collab.Session, error) {
	const op = "services.SessionService.Participant"
	caller, err := IdentityFromContext(ctx)
	if err != nil {
		return nil, err
	}
	ss.mu.Lock()
	s, ok := ss.live[participantID]
	ss.mu.Unlock()
	if !ok {
		return nil, domainagg.NewError(domainagg.CodeNotFound, op, "participant session not found", nil)
	}
	if s.Identity() != caller {
		return nil, domainagg.NewError(domainagg.CodeForbidden, op, "participant session belongs to another caller", nil)
	}
	return s, nil
}

func (ss *sessionService) Leave(ctx context.Context, participantID uuid.UUID) error {
	s, err := ss.Participant(ctx, participantID)
	if err != nil {
		return err
	}
	ss.unregister(participantID)
	return s.Leave(ctx)
}

func (ss *sessionService) Close(ctx context.Context) {
	ss.mu.Lock()
	live := ss.live
	ss.live = make(map[uuid.UUID]*collab.Session)
	ss.mu.Unlock()
	for _, s := range live {
		if err := s.Leave(ctx); err != nil {
			ss.log.Warn("leave on shutdown failed", "participant_id", s.ParticipantID(), "error", err)
		}
	}
}
