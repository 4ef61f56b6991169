package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/tarotroom-backend/internal/collab"
	"github.com/yungbote/tarotroom-backend/internal/data/aggregates"
	"github.com/yungbote/tarotroom-backend/internal/data/repos"
	domainagg "github.com/yungbote/tarotroom-backend/internal/domain/aggregates"
	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	"github.com/yungbote/tarotroom-backend/internal/platform/dbctx"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

// ChangePublisher announces committed rows on the session change feed.
type ChangePublisher interface {
	PublishChange(ctx context.Context, row *types.ReadingSession) error
}

type CreateSessionInput struct {
	DeckID         string          `json:"deck_id"`
	Question       string          `json:"question"`
	SelectedLayout json.RawMessage `json:"selected_layout"`
}

// SessionRecords is the durable reading_session record. Every committed write is
// published on the change feed after the transaction commits.
type SessionRecords interface {
	collab.Records
	collab.HostRecords

	Create(ctx context.Context, host types.Identity, in CreateSessionInput) (*types.ReadingSession, error)
	Get(ctx context.Context, id uuid.UUID) (*types.ReadingSession, error)
}

type sessionRecords struct {
	db           *gorm.DB
	log          *logger.Logger
	sessions     repos.ReadingSessionRepo
	participants repos.ParticipantRepo
	hosts        domainagg.SessionHostAggregate
	publisher    ChangePublisher
	clock        clock.Clock
}

func NewSessionRecords(
	db *gorm.DB,
	log *logger.Logger,
	sessions repos.ReadingSessionRepo,
	participants repos.ParticipantRepo,
	hosts domainagg.SessionHostAggregate,
	publisher ChangePublisher,
	clk clock.Clock,
) SessionRecords {
	if clk == nil {
		clk = clock.New()
	}
	return &sessionRecords{
		db:           db,
		log:          log.With("service", "SessionRecords"),
		sessions:     sessions,
		participants: participants,
		hosts:        hosts,
		publisher:    publisher,
		clock:        clk,
	}
}

var _ collab.Records = (*sessionRecords)(nil)
var _ collab.HostRecords = (*sessionRecords)(nil)

func (sr *sessionRecords) Create(ctx context.Context, host types.Identity, in CreateSessionInput) (*types.ReadingSession, error) {
	const op = "services.SessionRecords.Create"
	if host.IsAnonymous() {
		return nil, domainagg.NewError(domainagg.CodeForbidden, op, "anonymous callers cannot create sessions", nil)
	}
	now := sr.clock.Now().UTC()
	h, orig := host.UserID, host.UserID
	row := &types.ReadingSession{
		ID:                  uuid.New(),
		HostUserID:          &h,
		OriginalHostUserID:  &orig,
		HostTransferHistory: datatypes.JSON([]byte(`[]`)),
		ReadingStep:         types.StepSetup,
		IsActive:            true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if deck := strings.TrimSpace(in.DeckID); deck != "" {
		row.DeckID = &deck
	}
	if q := strings.TrimSpace(in.Question); q != "" {
		row.Question = &q
	}
	if len(in.SelectedLayout) > 0 && string(in.SelectedLayout) != "null" {
		if !json.Valid(in.SelectedLayout) {
			return nil, domainagg.NewError(domainagg.CodeValidation, op, "selected_layout must be JSON", nil)
		}
		row.SelectedLayout = datatypes.JSON(in.SelectedLayout)
	}
	if err := sr.sessions.Create(dbctx.Context{Ctx: ctx}, row); err != nil {
		sr.log.Warn("create session failed", "error", err)
		return nil, aggregates.MapError(op, err)
	}
	sr.log.Info("session created", "session_id", row.ID, "host_user_id", host.UserID)
	return row, nil
}

func (sr *sessionRecords) Get(ctx context.Context, id uuid.UUID) (*types.ReadingSession, error) {
	const op = "services.SessionRecords.Get"
	row, err := sr.sessions.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	if row == nil {
		return nil, domainagg.Sentinel(domainagg.CodeNotFound, op, domainagg.ErrSessionNotFound)
	}
	return row, nil
}

func (sr *sessionRecords) LoadCritical(ctx context.Context, id uuid.UUID) (*types.ReadingSession, error) {
	return sr.sessions.GetCritical(dbctx.Context{Ctx: ctx}, id)
}

func (sr *sessionRecords) LoadBulk(ctx context.Context, id uuid.UUID) (*types.BulkFields, error) {
	return sr.sessions.GetBulk(dbctx.Context{Ctx: ctx}, id)
}

// Update writes u for caller. Only authenticated callers who are the current host
// or an active participant may write; everyone else gets ErrWritePermission.
// Fields outside GuestFields are dropped for non-host writers.
func (sr *sessionRecords) Update(ctx context.Context, id uuid.UUID, caller types.Identity, u types.Update) (*types.ReadingSession, error) {
	const op = "services.SessionRecords.Update"
	if caller.IsAnonymous() {
		return nil, domainagg.Sentinel(domainagg.CodeForbidden, op, collab.ErrWritePermission)
	}
	if err := u.Validate(); err != nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, err.Error(), nil)
	}

	var out *types.ReadingSession
	err := sr.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		row, err := sr.sessions.GetByID(dbc, id)
		if err != nil {
			return err
		}
		if row == nil {
			return domainagg.Sentinel(domainagg.CodeNotFound, op, domainagg.ErrSessionNotFound)
		}
		if !row.IsActive {
			return domainagg.Sentinel(domainagg.CodePreconditionFailed, op, domainagg.ErrSessionClosed)
		}
		isHost := row.Host() == caller.UserID
		if !isHost {
			member, err := sr.participants.FindActive(dbc, id, caller)
			if err != nil {
				return err
			}
			if member == nil {
				return domainagg.Sentinel(domainagg.CodeForbidden, op, collab.ErrWritePermission)
			}
		}
		allowed := collab.Resolve(u, isHost).Update
		cols, err := allowed.Columns()
		if err != nil {
			return domainagg.NewError(domainagg.CodeValidation, op, err.Error(), nil)
		}
		if allowed.ReadingStep.Set && !row.ReadingStep.CanAdvanceTo(*allowed.ReadingStep.Value) {
			return domainagg.NewError(domainagg.CodeValidation, op,
				fmt.Sprintf("reading_step cannot move from %s to %s", row.ReadingStep, *allowed.ReadingStep.Value), nil)
		}
		if len(cols) == 0 {
			out = row
			return nil
		}
		cols["updated_at"] = sr.clock.Now().UTC()
		if err := sr.sessions.UpdateFields(dbc, id, cols); err != nil {
			return err
		}
		out, err = sr.sessions.GetByID(dbc, id)
		return err
	})
	if err != nil {
		return nil, aggregates.MapError(op, err)
	}
	sr.publish(ctx, out)
	return out, nil
}

func (sr *sessionRecords) TransferHost(ctx context.Context, in domainagg.TransferHostInput) (*types.ReadingSession, error) {
	res, err := sr.hosts.TransferHost(ctx, in)
	return sr.afterHostWrite(ctx, res, err)
}

func (sr *sessionRecords) OfferHost(ctx context.Context, in domainagg.OfferHostInput) (*types.ReadingSession, error) {
	res, err := sr.hosts.OfferHost(ctx, in)
	return sr.afterHostWrite(ctx, res, err)
}

func (sr *sessionRecords) RejectOffer(ctx context.Context, in domainagg.RejectOfferInput) (*types.ReadingSession, error) {
	res, err := sr.hosts.RejectOffer(ctx, in)
	return sr.afterHostWrite(ctx, res, err)
}

func (sr *sessionRecords) ReclaimHost(ctx context.Context, in domainagg.ReclaimHostInput) (*types.ReadingSession, error) {
	res, err := sr.hosts.ReclaimHost(ctx, in)
	return sr.afterHostWrite(ctx, res, err)
}

func (sr *sessionRecords) EndSession(ctx context.Context, in domainagg.EndSessionInput) (*types.ReadingSession, error) {
	res, err := sr.hosts.EndSession(ctx, in)
	return sr.afterHostWrite(ctx, res, err)
}

func (sr *sessionRecords) ClearPendingFor(ctx context.Context, in domainagg.ClearPendingInput) error {
	res, err := sr.hosts.ClearPendingFor(ctx, in)
	_, err = sr.afterHostWrite(ctx, res, err)
	return err
}

// afterHostWrite reloads the committed row and publishes it when the aggregate
// changed anything.
func (sr *sessionRecords) afterHostWrite(ctx context.Context, res domainagg.SessionHostResult, err error) (*types.ReadingSession, error) {
	if err != nil {
		return nil, err
	}
	row, err := sr.sessions.GetByID(dbctx.Context{Ctx: ctx}, res.SessionID)
	if err != nil {
		return nil, aggregates.MapError("services.SessionRecords.reload", err)
	}
	if row == nil {
		return nil, domainagg.Sentinel(domainagg.CodeNotFound, "services.SessionRecords.reload", domainagg.ErrSessionNotFound)
	}
	if res.Changed {
		sr.publish(ctx, row)
	}
	return row, nil
}

func (sr *sessionRecords) publish(ctx context.Context, row *types.ReadingSession) {
	if sr.publisher == nil || row == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := sr.publisher.PublishChange(pubCtx, row); err != nil {
		sr.log.Warn("publish session change failed", "session_id", row.ID, "version", row.Version, "error", err)
	}
}
