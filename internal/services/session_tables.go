package services

import (
	"context"
	"strings"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"

	"github.com/yungbote/tarotroom-backend/internal/collab"
	"github.com/yungbote/tarotroom-backend/internal/data/aggregates"
	"github.com/yungbote/tarotroom-backend/internal/data/repos"
	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	"github.com/yungbote/tarotroom-backend/internal/platform/dbctx"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

type participantTable struct {
	log   *logger.Logger
	repo  repos.ParticipantRepo
	clock clock.Clock
}

// NewParticipantTable adapts the participant repo to the roster the sync engine uses.
func NewParticipantTable(log *logger.Logger, repo repos.ParticipantRepo, clk clock.Clock) collab.Participants {
	if clk == nil {
		clk = clock.New()
	}
	return &participantTable{log: log.With("service", "ParticipantTable"), repo: repo, clock: clk}
}

func (pt *participantTable) Activate(ctx context.Context, sessionID uuid.UUID, identity types.Identity, name string, role types.Role) (*types.Participant, error) {
	row := &types.Participant{
		SessionID: sessionID,
		Name:      strings.TrimSpace(name),
		Role:      role,
		JoinedAt:  pt.clock.Now().UTC(),
	}
	if identity.UserID != "" {
		uid := identity.UserID
		row.UserID = &uid
	} else {
		aid := identity.AnonymousID
		row.AnonymousID = &aid
	}
	out, err := pt.repo.Activate(dbctx.Context{Ctx: ctx}, row)
	if err != nil {
		pt.log.Warn("activate participant failed", "session_id", sessionID, "identity", identity.Key(), "error", err)
		return nil, aggregates.MapError("services.ParticipantTable.Activate", err)
	}
	return out, nil
}

func (pt *participantTable) Deactivate(ctx context.Context, participantID uuid.UUID) error {
	if err := pt.repo.Deactivate(dbctx.Context{Ctx: ctx}, participantID, pt.clock.Now().UTC()); err != nil {
		return aggregates.MapError("services.ParticipantTable.Deactivate", err)
	}
	return nil
}

func (pt *participantTable) ListActive(ctx context.Context, sessionID uuid.UUID) ([]*types.Participant, error) {
	return pt.repo.ListActive(dbctx.Context{Ctx: ctx}, sessionID)
}

type viewportTable struct {
	repo  repos.ViewportRepo
	clock clock.Clock
}

func NewViewportTable(repo repos.ViewportRepo, clk clock.Clock) collab.Viewports {
	if clk == nil {
		clk = clock.New()
	}
	return &viewportTable{repo: repo, clock: clk}
}

func (vt *viewportTable) Load(ctx context.Context, sessionID, participantID uuid.UUID) (*types.ViewState, error) {
	row, err := vt.repo.Get(dbctx.Context{Ctx: ctx}, sessionID, participantID)
	if err != nil || row == nil {
		return nil, err
	}
	view := row.View()
	return &view, nil
}

func (vt *viewportTable) Save(ctx context.Context, sessionID, participantID uuid.UUID, view types.ViewState) error {
	row := types.NewParticipantViewport(sessionID, participantID, view, vt.clock.Now().UTC())
	return vt.repo.Upsert(dbctx.Context{Ctx: ctx}, row)
}
