package collab

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	"github.com/yungbote/tarotroom-backend/internal/observability"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

// PresenceTracker owns the local participant's presence entry and the latest
// session-wide presence snapshot. Outbound writes are throttled to one per
// throttle window; calls inside the window coalesce into a single trailing write
// carrying the latest value.
type PresenceTracker struct {
	log       *logger.Logger
	transport Transport
	clock     clock.Clock
	timing    Timing
	metrics   *observability.Metrics
	notify    func(Event)

	sessionID     uuid.UUID
	participantID uuid.UUID

	// ctx outlives the request that joined; writes are never cancelled mid-flight.
	ctx context.Context

	mu       sync.Mutex
	local    types.PresenceData
	limiter  *rate.Limiter
	trailing *clock.Timer
	snapshot types.PresenceSnapshot
	closed   bool
}

func newPresenceTracker(ctx context.Context, sessionID, participantID uuid.UUID, initial types.PresenceData, deps Deps, notify func(Event)) *PresenceTracker {
	initial.ParticipantID = participantID
	return &PresenceTracker{
		log:           deps.Log.With("component", "PresenceTracker"),
		transport:     deps.Transport,
		clock:         deps.Clock,
		timing:        deps.Timing,
		metrics:       deps.Metrics,
		notify:        notify,
		sessionID:     sessionID,
		participantID: participantID,
		ctx:           ctx,
		local:         initial,
		limiter:       rate.NewLimiter(rate.Every(deps.Timing.PresenceThrottle), 1),
		snapshot:      types.PresenceSnapshot{},
	}
}

// Update merges patch into the local entry, stamps LastActivity and schedules an
// outbound write.
func (p *PresenceTracker) Update(patch types.PresencePatch) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return closed("collab.PresenceTracker.Update")
	}
	now := p.clock.Now()
	p.local.Merge(patch)
	p.local.LastActivity = now.UTC()

	if p.trailing != nil {
		// a trailing write is already scheduled and will carry this value
		p.mu.Unlock()
		return nil
	}
	if p.limiter.AllowN(now, 1) {
		entry := p.local
		p.mu.Unlock()
		p.write(entry, "immediate")
		return nil
	}
	delay := p.limiter.ReserveN(now, 1).DelayFrom(now)
	p.trailing = p.clock.AfterFunc(delay, p.flushTrailing)
	p.mu.Unlock()
	return nil
}

func (p *PresenceTracker) flushTrailing() {
	p.mu.Lock()
	p.trailing = nil
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.local.LastActivity = p.clock.Now().UTC()
	entry := p.local
	p.mu.Unlock()
	p.write(entry, "coalesced")
}

// announce writes the local entry immediately, bypassing the throttle. Used for
// the initial track when the presence stage runs.
func (p *PresenceTracker) announce() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	now := p.clock.Now()
	p.local.LastActivity = now.UTC()
	p.limiter.AllowN(now, 1)
	entry := p.local
	p.mu.Unlock()
	p.write(entry, "announce")
}

func (p *PresenceTracker) write(entry types.PresenceData, mode string) {
	p.metrics.IncPresenceWrite(mode)
	if err := p.transport.Track(p.ctx, p.sessionID, entry); err != nil {
		p.log.Warn("presence write failed", "session_id", p.sessionID, "participant_id", p.participantID, "error", err)
	}
}

// Local returns the local participant's presence entry.
func (p *PresenceTracker) Local() types.PresenceData {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

// Following returns who the local participant is following, or nil.
func (p *PresenceTracker) Following() *uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local.IsFollowing == nil {
		return nil
	}
	id := *p.local.IsFollowing
	return &id
}

// sync replaces the snapshot with the channel's full state.
func (p *PresenceTracker) sync(snap types.PresenceSnapshot) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.snapshot = snap
	p.mu.Unlock()
	p.notify(Event{Kind: EventPresence, Data: snap})
}

func (p *PresenceTracker) Snapshot() types.PresenceSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(types.PresenceSnapshot, len(p.snapshot))
	for k, v := range p.snapshot {
		out[k] = v
	}
	return out
}

// ActiveCursors returns other participants whose cursor was updated within the
// cursor horizon.
func (p *PresenceTracker) ActiveCursors() []types.PresenceData {
	now := p.clock.Now()
	return p.filter(func(d types.PresenceData) bool {
		return d.ParticipantID != p.participantID && d.Cursor != nil && fresh(d, now, p.timing.CursorHorizon)
	})
}

// OnlineParticipants returns every entry active within the online horizon.
func (p *PresenceTracker) OnlineParticipants() []types.PresenceData {
	now := p.clock.Now()
	return p.filter(func(d types.PresenceData) bool {
		return fresh(d, now, p.timing.OnlineHorizon)
	})
}

func (p *PresenceTracker) filter(keep func(types.PresenceData) bool) []types.PresenceData {
	p.mu.Lock()
	out := make([]types.PresenceData, 0, len(p.snapshot))
	for _, d := range p.snapshot {
		if keep(d) {
			out = append(out, d)
		}
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID.String() < out[j].ParticipantID.String() })
	return out
}

func fresh(d types.PresenceData, now time.Time, horizon time.Duration) bool {
	return !d.LastActivity.IsZero() && now.Sub(d.LastActivity) <= horizon
}

// close stops the trailing timer. Further updates fail with ErrSessionClosed.
func (p *PresenceTracker) close() {
	p.mu.Lock()
	p.closed = true
	if p.trailing != nil {
		p.trailing.Stop()
		p.trailing = nil
	}
	p.mu.Unlock()
}
