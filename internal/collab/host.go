package collab

import (
	"context"
	"strings"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	domainagg "github.com/yungbote/tarotroom-backend/internal/domain/aggregates"
	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	"github.com/yungbote/tarotroom-backend/internal/observability"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

const reclaimAttempts = 3

// HostAuthority drives host changes for one participant. Local checks against
// the mirror reject obviously invalid calls early; the host aggregate re-checks
// everything against the stored row.
type HostAuthority struct {
	log     *logger.Logger
	hosts   HostRecords
	store   *Store
	clock   clock.Clock
	timing  Timing
	metrics *observability.Metrics

	sessionID uuid.UUID
	self      types.Identity
}

func newHostAuthority(store *Store, deps Deps) *HostAuthority {
	return &HostAuthority{
		log:       deps.Log.With("component", "HostAuthority"),
		hosts:     deps.Hosts,
		store:     store,
		clock:     deps.Clock,
		timing:    deps.Timing,
		metrics:   deps.Metrics,
		sessionID: store.sessionID,
		self:      store.self,
	}
}

// TransferHost hands host authority to target. Only the current host may call it.
func (h *HostAuthority) TransferHost(ctx context.Context, target string) error {
	const op = "collab.HostAuthority.TransferHost"
	return h.run(ctx, "transfer", func(ctx context.Context) (*types.ReadingSession, error) {
		target = strings.TrimSpace(target)
		now := h.clock.Now().UTC()
		// cooldown is reported ahead of authority, matching the stored-row check
		if last := h.store.State().LastTransfer(); last != nil && now.Sub(last.Timestamp) < h.timing.TransferCooldown {
			return nil, domainagg.Sentinel(domainagg.CodePreconditionFailed, op, ErrTransferCooldown)
		}
		if h.self.IsAnonymous() || !h.store.IsHost() {
			return nil, forbidden(op, ErrNotHost)
		}
		if target == "" {
			return nil, invalid(op, "transfer target is required")
		}
		return h.hosts.TransferHost(ctx, domainagg.TransferHostInput{
			SessionID:    h.sessionID,
			CallerUserID: h.self.UserID,
			TargetUserID: target,
			Type:         domainagg.TransferManual,
			Cooldown:     h.timing.TransferCooldown,
			At:           now,
		})
	})
}

// AcceptHostTransfer takes host authority through a pending offer naming the
// caller. Without such an offer it does nothing.
func (h *HostAuthority) AcceptHostTransfer(ctx context.Context) error {
	return h.accept(ctx, domainagg.TransferManual)
}

func (h *HostAuthority) accept(ctx context.Context, kind string) error {
	if !h.offeredToSelf() {
		return nil
	}
	return h.run(ctx, "accept", func(ctx context.Context) (*types.ReadingSession, error) {
		return h.hosts.TransferHost(ctx, domainagg.TransferHostInput{
			SessionID:       h.sessionID,
			CallerUserID:    h.self.UserID,
			Type:            kind,
			ViaPendingOffer: true,
			Cooldown:        h.timing.TransferCooldown,
			At:              h.clock.Now().UTC(),
		})
	})
}

func (h *HostAuthority) offeredToSelf() bool {
	if h.self.IsAnonymous() {
		return false
	}
	p := h.store.Pending()
	return p != nil && p.ToUserID == h.self.UserID && !p.Expired(h.clock.Now())
}

// OfferHostTransfer records a pending offer to target that expires after the offer TTL.
func (h *HostAuthority) OfferHostTransfer(ctx context.Context, target string) error {
	const op = "collab.HostAuthority.OfferHostTransfer"
	return h.run(ctx, "offer", func(ctx context.Context) (*types.ReadingSession, error) {
		target = strings.TrimSpace(target)
		if h.self.IsAnonymous() || !h.store.IsHost() {
			return nil, forbidden(op, ErrNotHost)
		}
		if target == "" {
			return nil, invalid(op, "offer target is required")
		}
		return h.hosts.OfferHost(ctx, domainagg.OfferHostInput{
			SessionID:    h.sessionID,
			CallerUserID: h.self.UserID,
			TargetUserID: target,
			TTL:          h.timing.OfferTTL,
			At:           h.clock.Now().UTC(),
		})
	})
}

// RejectHostTransfer clears the pending offer. The host stays the host.
func (h *HostAuthority) RejectHostTransfer(ctx context.Context) error {
	if h.store.Pending() == nil {
		return nil
	}
	return h.run(ctx, "reject", func(ctx context.Context) (*types.ReadingSession, error) {
		return h.hosts.RejectOffer(ctx, domainagg.RejectOfferInput{
			SessionID:    h.sessionID,
			CallerUserID: h.self.UserID,
		})
	})
}

// ReclaimHost restores the original host regardless of cooldown.
func (h *HostAuthority) ReclaimHost(ctx context.Context) error {
	const op = "collab.HostAuthority.ReclaimHost"
	return h.run(ctx, "reclaim", func(ctx context.Context) (*types.ReadingSession, error) {
		if h.self.IsAnonymous() || h.self.UserID != h.store.OriginalHost() {
			return nil, forbidden(op, ErrNotOriginalHost)
		}
		return h.hosts.ReclaimHost(ctx, domainagg.ReclaimHostInput{
			SessionID:    h.sessionID,
			CallerUserID: h.self.UserID,
			At:           h.clock.Now().UTC(),
			MaxAttempts:  reclaimAttempts,
		})
	})
}

// EndSession deactivates the session for everyone. Host only.
func (h *HostAuthority) EndSession(ctx context.Context) error {
	const op = "collab.HostAuthority.EndSession"
	return h.run(ctx, "end", func(ctx context.Context) (*types.ReadingSession, error) {
		if h.self.IsAnonymous() || !h.store.IsHost() {
			return nil, forbidden(op, ErrNotHost)
		}
		return h.hosts.EndSession(ctx, domainagg.EndSessionInput{
			SessionID:    h.sessionID,
			CallerUserID: h.self.UserID,
			At:           h.clock.Now().UTC(),
		})
	})
}

func (h *HostAuthority) run(ctx context.Context, op string, fn func(ctx context.Context) (*types.ReadingSession, error)) error {
	ctx, span := observability.StartSpan(ctx, "collab.host."+op,
		attribute.String("session_id", h.sessionID.String()),
	)
	row, err := fn(ctx)
	observability.EndSpan(span, err)

	status := "ok"
	if err != nil {
		status = string(domainagg.CodeOf(err))
		if status == "" {
			status = "error"
		}
		h.log.Debug("host operation rejected", "op", op, "session_id", h.sessionID, "error", err)
	}
	h.metrics.ObserveHostOp(op, status)
	if err != nil {
		return err
	}
	h.store.ApplyRemote(row)
	return nil
}
