// Package aggregates implements the reading session write boundaries on gorm.
// Each write owns its transaction.
package aggregates

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/tarotroom-backend/internal/data/repos"
	domainagg "github.com/yungbote/tarotroom-backend/internal/domain/aggregates"
	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	"github.com/yungbote/tarotroom-backend/internal/platform/dbctx"
)

const defaultReclaimTries = 3

type SessionHostAggregateDeps struct {
	Base BaseDeps

	Sessions     repos.ReadingSessionRepo
	Participants repos.ParticipantRepo
}

type sessionHostAggregate struct {
	deps SessionHostAggregateDeps
}

func NewSessionHostAggregate(deps SessionHostAggregateDeps) domainagg.SessionHostAggregate {
	deps.Base = deps.Base.withDefaults()
	return &sessionHostAggregate{deps: deps}
}

func (a *sessionHostAggregate) TransferHost(ctx context.Context, in domainagg.TransferHostInput) (domainagg.SessionHostResult, error) {
	const op = "Reading.SessionHost.TransferHost"
	out := domainagg.SessionHostResult{SessionID: in.SessionID}
	if err := a.validateSession(op, in.SessionID); err != nil {
		return out, err
	}
	if in.CallerUserID == "" {
		return out, domainagg.Sentinel(domainagg.CodeForbidden, op, domainagg.ErrNotCurrentHost)
	}
	kind := in.Type
	if kind == "" {
		kind = domainagg.TransferManual
	}
	at := a.at(in.At)

	err := executeWrite(ctx, a.deps.Base, op, 1, func(dbc dbctx.Context) error {
		row, err := a.loadActive(dbc, op, in.SessionID)
		if err != nil {
			return err
		}
		host := row.Host()
		if last := row.LastTransfer(); last != nil && in.Cooldown > 0 && at.Sub(last.Timestamp) < in.Cooldown {
			return domainagg.Sentinel(domainagg.CodePreconditionFailed, op, domainagg.ErrTransferCooldown)
		}

		target := in.TargetUserID
		if in.ViaPendingOffer {
			pending, err := row.Pending()
			if err != nil {
				return InvariantError("pending_host_transfer is unreadable")
			}
			if pending == nil || pending.ToUserID != in.CallerUserID || pending.Expired(at) || pending.FromUserID != host {
				return domainagg.Sentinel(domainagg.CodePreconditionFailed, op, domainagg.ErrNoPendingOffer)
			}
			target = in.CallerUserID
		} else if host != in.CallerUserID {
			return domainagg.Sentinel(domainagg.CodeForbidden, op, domainagg.ErrNotCurrentHost)
		}
		if target == host {
			return ValidationError("transfer target is already the host")
		}
		if err := a.requirePresentAuthenticated(dbc, op, row.ID, target); err != nil {
			return err
		}

		history, err := row.History()
		if err != nil {
			return InvariantError("host_transfer_history is unreadable")
		}
		history = append(history, types.HostTransfer{
			From:      host,
			To:        target,
			Timestamp: at,
			Type:      kind,
			Reason:    in.Reason,
		})
		if err := advanceVersion(dbc, a.deps.Base.DB, op, row, map[string]any{
			"host_user_id":          target,
			"host_transfer_history": mustJSON(history),
			"pending_host_transfer": nil,
			"updated_at":            at,
		}); err != nil {
			return err
		}
		out = domainagg.SessionHostResult{SessionID: row.ID, HostUserID: target, Version: row.Version + 1, Changed: true}
		return nil
	})
	return out, err
}

func (a *sessionHostAggregate) OfferHost(ctx context.Context, in domainagg.OfferHostInput) (domainagg.SessionHostResult, error) {
	const op = "Reading.SessionHost.OfferHost"
	out := domainagg.SessionHostResult{SessionID: in.SessionID}
	if err := a.validateSession(op, in.SessionID); err != nil {
		return out, err
	}
	if in.TTL <= 0 {
		return out, domainagg.NewError(domainagg.CodeValidation, op, "offer ttl must be positive", nil)
	}
	at := a.at(in.At)

	err := executeWrite(ctx, a.deps.Base, op, 1, func(dbc dbctx.Context) error {
		row, err := a.loadActive(dbc, op, in.SessionID)
		if err != nil {
			return err
		}
		if in.CallerUserID == "" || row.Host() != in.CallerUserID {
			return domainagg.Sentinel(domainagg.CodeForbidden, op, domainagg.ErrNotCurrentHost)
		}
		if in.TargetUserID == row.Host() {
			return ValidationError("offer target is already the host")
		}
		if err := a.requirePresentAuthenticated(dbc, op, row.ID, in.TargetUserID); err != nil {
			return err
		}
		pending := types.PendingHostTransfer{
			ToUserID:   in.TargetUserID,
			FromUserID: row.Host(),
			ExpiresAt:  at.Add(in.TTL),
		}
		if err := advanceVersion(dbc, a.deps.Base.DB, op, row, map[string]any{
			"pending_host_transfer": mustJSON(pending),
			"updated_at":            at,
		}); err != nil {
			return err
		}
		out = domainagg.SessionHostResult{SessionID: row.ID, HostUserID: row.Host(), Version: row.Version + 1, Changed: true}
		return nil
	})
	return out, err
}

func (a *sessionHostAggregate) RejectOffer(ctx context.Context, in domainagg.RejectOfferInput) (domainagg.SessionHostResult, error) {
	const op = "Reading.SessionHost.RejectOffer"
	out := domainagg.SessionHostResult{SessionID: in.SessionID}
	if err := a.validateSession(op, in.SessionID); err != nil {
		return out, err
	}
	at := a.at(time.Time{})

	err := executeWrite(ctx, a.deps.Base, op, 1, func(dbc dbctx.Context) error {
		row, err := a.loadActive(dbc, op, in.SessionID)
		if err != nil {
			return err
		}
		out.HostUserID = row.Host()
		out.Version = row.Version
		pending, err := row.Pending()
		if err != nil {
			return InvariantError("pending_host_transfer is unreadable")
		}
		if pending == nil {
			return nil
		}
		if in.CallerUserID == "" || (in.CallerUserID != pending.ToUserID && in.CallerUserID != row.Host()) {
			return domainagg.Sentinel(domainagg.CodeForbidden, op, domainagg.ErrNotOfferParty)
		}
		if err := advanceVersion(dbc, a.deps.Base.DB, op, row, map[string]any{
			"pending_host_transfer": nil,
			"updated_at":            at,
		}); err != nil {
			return err
		}
		out.Version = row.Version + 1
		out.Changed = true
		return nil
	})
	return out, err
}

func (a *sessionHostAggregate) ReclaimHost(ctx context.Context, in domainagg.ReclaimHostInput) (domainagg.SessionHostResult, error) {
	const op = "Reading.SessionHost.ReclaimHost"
	out := domainagg.SessionHostResult{SessionID: in.SessionID}
	if err := a.validateSession(op, in.SessionID); err != nil {
		return out, err
	}
	if in.CallerUserID == "" {
		return out, domainagg.Sentinel(domainagg.CodeForbidden, op, domainagg.ErrNotOriginalHost)
	}
	attempts := in.MaxAttempts
	if attempts <= 0 {
		attempts = defaultReclaimTries
	}
	at := a.at(in.At)

	err := executeWriteWithRetry(ctx, a.deps.Base, op, attempts, func(dbc dbctx.Context) error {
		row, err := a.loadActive(dbc, op, in.SessionID)
		if err != nil {
			return err
		}
		if row.OriginalHost() != in.CallerUserID {
			return domainagg.Sentinel(domainagg.CodeForbidden, op, domainagg.ErrNotOriginalHost)
		}
		pending, _ := row.Pending()
		if row.Host() == in.CallerUserID && pending == nil {
			out = domainagg.SessionHostResult{SessionID: row.ID, HostUserID: row.Host(), Version: row.Version}
			return nil
		}
		updates := map[string]any{
			"host_user_id":          in.CallerUserID,
			"pending_host_transfer": nil,
			"updated_at":            at,
		}
		if row.Host() != in.CallerUserID {
			history, err := row.History()
			if err != nil {
				return InvariantError("host_transfer_history is unreadable")
			}
			history = append(history, types.HostTransfer{
				From:      row.Host(),
				To:        in.CallerUserID,
				Timestamp: at,
				Type:      domainagg.TransferAutoReclaim,
				Reason:    in.Reason,
			})
			updates["host_transfer_history"] = mustJSON(history)
		}
		if err := advanceVersion(dbc, a.deps.Base.DB, op, row, updates); err != nil {
			return err
		}
		out = domainagg.SessionHostResult{SessionID: row.ID, HostUserID: in.CallerUserID, Version: row.Version + 1, Changed: true}
		return nil
	})
	return out, err
}

func (a *sessionHostAggregate) ClearPendingFor(ctx context.Context, in domainagg.ClearPendingInput) (domainagg.SessionHostResult, error) {
	const op = "Reading.SessionHost.ClearPendingFor"
	out := domainagg.SessionHostResult{SessionID: in.SessionID}
	if err := a.validateSession(op, in.SessionID); err != nil {
		return out, err
	}
	if in.UserID == "" {
		return out, nil
	}
	at := a.at(time.Time{})

	err := executeWriteWithRetry(ctx, a.deps.Base, op, defaultReclaimTries, func(dbc dbctx.Context) error {
		row, err := a.deps.Sessions.GetByID(dbc, in.SessionID)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		out.HostUserID = row.Host()
		out.Version = row.Version
		pending, err := row.Pending()
		if err != nil || pending == nil || pending.ToUserID != in.UserID {
			return nil
		}
		if err := advanceVersion(dbc, a.deps.Base.DB, op, row, map[string]any{
			"pending_host_transfer": nil,
			"updated_at":            at,
		}); err != nil {
			return err
		}
		out.Version = row.Version + 1
		out.Changed = true
		return nil
	})
	return out, err
}

func (a *sessionHostAggregate) EndSession(ctx context.Context, in domainagg.EndSessionInput) (domainagg.SessionHostResult, error) {
	const op = "Reading.SessionHost.EndSession"
	out := domainagg.SessionHostResult{SessionID: in.SessionID}
	if err := a.validateSession(op, in.SessionID); err != nil {
		return out, err
	}
	at := a.at(in.At)

	err := executeWrite(ctx, a.deps.Base, op, 1, func(dbc dbctx.Context) error {
		row, err := a.deps.Sessions.GetByID(dbc, in.SessionID)
		if err != nil {
			return err
		}
		if row == nil {
			return domainagg.Sentinel(domainagg.CodeNotFound, op, domainagg.ErrSessionNotFound)
		}
		if in.CallerUserID == "" || row.Host() != in.CallerUserID {
			return domainagg.Sentinel(domainagg.CodeForbidden, op, domainagg.ErrNotCurrentHost)
		}
		out.HostUserID = row.Host()
		out.Version = row.Version
		if !row.IsActive {
			return nil
		}
		if err := advanceVersion(dbc, a.deps.Base.DB, op, row, map[string]any{
			"is_active":             false,
			"pending_host_transfer": nil,
			"updated_at":            at,
		}); err != nil {
			return err
		}
		out.Version = row.Version + 1
		out.Changed = true
		return nil
	})
	return out, err
}

func (a *sessionHostAggregate) validateSession(op string, id uuid.UUID) error {
	if id == uuid.Nil {
		return domainagg.NewError(domainagg.CodeValidation, op, "missing session_id", nil)
	}
	if a.deps.Sessions == nil || a.deps.Participants == nil {
		return domainagg.NewError(domainagg.CodeInternal, op, "session host aggregate repos not configured", nil)
	}
	return nil
}

func (a *sessionHostAggregate) at(t time.Time) time.Time {
	if t.IsZero() {
		return a.deps.Base.Now().UTC()
	}
	return t.UTC()
}

func (a *sessionHostAggregate) loadActive(dbc dbctx.Context, op string, id uuid.UUID) (*types.ReadingSession, error) {
	row, err := a.deps.Sessions.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domainagg.Sentinel(domainagg.CodeNotFound, op, domainagg.ErrSessionNotFound)
	}
	if !row.IsActive {
		return nil, domainagg.Sentinel(domainagg.CodePreconditionFailed, op, domainagg.ErrSessionClosed)
	}
	return row, nil
}

// requirePresentAuthenticated checks target against the active roster. An anonymous
// participant whose id matches is rejected as anonymous rather than absent.
func (a *sessionHostAggregate) requirePresentAuthenticated(dbc dbctx.Context, op string, sessionID uuid.UUID, target string) error {
	if target == "" {
		return domainagg.Sentinel(domainagg.CodeValidation, op, domainagg.ErrTransferTargetAnonymous)
	}
	p, err := a.deps.Participants.FindActiveByAnyID(dbc, sessionID, target)
	if err != nil {
		return err
	}
	if p == nil {
		return domainagg.Sentinel(domainagg.CodeValidation, op, domainagg.ErrTransferTargetAbsent)
	}
	if p.Identity().IsAnonymous() {
		return domainagg.Sentinel(domainagg.CodeValidation, op, domainagg.ErrTransferTargetAnonymous)
	}
	return nil
}

func mustJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("null"))
	}
	return datatypes.JSON(b)
}
