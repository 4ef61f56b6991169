package collab

import (
	"context"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"

	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	"github.com/yungbote/tarotroom-backend/internal/observability"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

// ViewportSync owns the local participant's pan/zoom. Local changes are buffered
// and flushed after a quiet period; each new change restarts the period.
// Remote viewports replace the local view only while following their sender.
type ViewportSync struct {
	log       *logger.Logger
	viewports Viewports
	transport Transport
	clock     clock.Clock
	debounce  time.Duration
	metrics   *observability.Metrics
	notify    func(Event)
	following func() *uuid.UUID

	sessionID     uuid.UUID
	participantID uuid.UUID
	ctx           context.Context

	mu      sync.Mutex
	local   types.ViewState
	pending types.ViewPatch
	dirty   bool
	timer   *clock.Timer
	closed  bool
}

func newViewportSync(ctx context.Context, sessionID, participantID uuid.UUID, deps Deps, following func() *uuid.UUID, notify func(Event)) *ViewportSync {
	return &ViewportSync{
		log:           deps.Log.With("component", "ViewportSync"),
		viewports:     deps.Viewports,
		transport:     deps.Transport,
		clock:         deps.Clock,
		debounce:      deps.Timing.ViewportDebounce,
		metrics:       deps.Metrics,
		notify:        notify,
		following:     following,
		sessionID:     sessionID,
		participantID: participantID,
		ctx:           ctx,
		local:         types.DefaultViewState(),
	}
}

// Queue merges patch into the local view and the pending buffer and (re)starts
// the debounce timer.
func (v *ViewportSync) Queue(patch types.ViewPatch) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return closed("collab.ViewportSync.Queue")
	}
	if patch.Empty() {
		return nil
	}
	v.local = v.local.Apply(patch)
	v.pending = v.pending.Merge(patch)
	v.dirty = true
	if v.timer != nil {
		v.timer.Stop()
	}
	v.timer = v.clock.AfterFunc(v.debounce, v.flushFromTimer)
	return nil
}

func (v *ViewportSync) flushFromTimer() {
	if err := v.Flush(v.ctx); err != nil {
		v.log.Warn("viewport flush failed", "session_id", v.sessionID, "participant_id", v.participantID, "error", err)
	}
}

// Flush persists the buffered view keyed by (session, participant), clears the
// buffer and announces the view on the viewport channel.
func (v *ViewportSync) Flush(ctx context.Context) error {
	v.mu.Lock()
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	if !v.dirty || v.closed {
		v.mu.Unlock()
		return nil
	}
	view := v.local
	v.pending = types.ViewPatch{}
	v.dirty = false
	v.mu.Unlock()

	if err := v.viewports.Save(ctx, v.sessionID, v.participantID, view); err != nil {
		v.metrics.IncViewportFlush("error")
		return err
	}
	v.metrics.IncViewportFlush("ok")
	if err := v.transport.PublishViewport(ctx, v.sessionID, types.ViewportEvent{ParticipantID: v.participantID, View: view}); err != nil {
		v.log.Warn("viewport publish failed", "session_id", v.sessionID, "error", err)
	}
	return nil
}

// Pending returns the buffered, unflushed changes.
func (v *ViewportSync) Pending() (types.ViewPatch, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pending, v.dirty
}

func (v *ViewportSync) Local() types.ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.local
}

// restore installs a previously persisted view without scheduling a write.
func (v *ViewportSync) restore(view types.ViewState) {
	v.mu.Lock()
	if !v.dirty {
		v.local = view
	}
	v.mu.Unlock()
}

// onRemote applies another participant's viewport when the local participant is
// following that participant. It reports whether the view was mirrored.
func (v *ViewportSync) onRemote(ev types.ViewportEvent) bool {
	if ev.ParticipantID == v.participantID {
		return false
	}
	target := v.following()
	if target == nil || *target != ev.ParticipantID {
		return false
	}
	return v.mirror(ev)
}

func (v *ViewportSync) mirror(ev types.ViewportEvent) bool {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return false
	}
	v.local = ev.View
	v.mu.Unlock()
	v.notify(Event{Kind: EventViewportMirrored, Data: ev})
	return true
}

func (v *ViewportSync) close() {
	v.mu.Lock()
	v.closed = true
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	v.mu.Unlock()
}
