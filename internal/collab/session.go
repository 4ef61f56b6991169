package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	domainagg "github.com/yungbote/tarotroom-backend/internal/domain/aggregates"
	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
	"github.com/yungbote/tarotroom-backend/internal/realtime"
)

type Stage string

const (
	StageCritical Stage = "critical"
	StageView     Stage = "view"
	StagePresence Stage = "presence"
	StageFull     Stage = "full"
	StageComplete Stage = "complete"
)

// Session is one participant's live connection to a reading session. It owns its
// store, host authority, presence and viewport components, its channel
// subscriptions and its timers.
type Session struct {
	log      *logger.Logger
	deps     Deps
	notifier Notifier

	sessionID   uuid.UUID
	participant *types.Participant
	self        types.Identity
	joinedAt    time.Time

	// ctx carries request values but is never cancelled; work started by the
	// session (timers, relayed writes) must not die with the join request.
	ctx context.Context

	store    *Store
	host     *HostAuthority
	presence *PresenceTracker
	viewport *ViewportSync

	mu     sync.Mutex
	stages []Stage
	closed bool
	timer  *clock.Timer
	subs   map[realtime.Channel]realtime.Subscription
	done   chan struct{}

	hostSubMu sync.Mutex
}

func newSession(ctx context.Context, deps Deps, p *types.Participant, self types.Identity, notifier Notifier, joinedAt time.Time) *Session {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	s := &Session{
		log:         deps.Log.With("component", "Session", "session_id", p.SessionID, "participant_id", p.ID),
		deps:        deps,
		notifier:    notifier,
		sessionID:   p.SessionID,
		participant: p,
		self:        self,
		joinedAt:    joinedAt,
		ctx:         context.WithoutCancel(ctx),
		subs:        make(map[realtime.Channel]realtime.Subscription),
		done:        make(chan struct{}),
	}
	s.store = newStore(p.SessionID, p.ID, self, deps, s.emit)
	s.store.onHostChange = func(HostChange) { s.reconcileHostRole() }
	s.host = newHostAuthority(s.store, deps)
	s.presence = newPresenceTracker(s.ctx, p.SessionID, p.ID, types.PresenceData{
		UserID: self.UserID,
		Name:   p.Name,
	}, deps, s.emit)
	s.viewport = newViewportSync(s.ctx, p.SessionID, p.ID, deps, s.presence.Following, s.emit)
	return s
}

func (s *Session) SessionID() uuid.UUID           { return s.sessionID }
func (s *Session) ParticipantID() uuid.UUID       { return s.participant.ID }
func (s *Session) Participant() types.Participant { return *s.participant }
func (s *Session) Identity() types.Identity       { return s.self }
func (s *Session) Store() *Store                  { return s.store }
func (s *Session) Host() *HostAuthority           { return s.host }
func (s *Session) Presence() *PresenceTracker     { return s.presence }
func (s *Session) Viewport() *ViewportSync        { return s.viewport }
func (s *Session) State() *types.ReadingSession   { return s.store.State() }
func (s *Session) IsHost() bool                   { return s.store.IsHost() }
func (s *Session) LocalView() types.ViewState     { return s.viewport.Local() }
func (s *Session) ActiveCursors() []types.PresenceData {
	return s.presence.ActiveCursors()
}
func (s *Session) OnlineParticipants() []types.PresenceData {
	return s.presence.OnlineParticipants()
}

// Done is closed when the session has been left.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stage returns the most recent stage reached.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stages) == 0 {
		return ""
	}
	return s.stages[len(s.stages)-1]
}

// Stages returns every stage reached so far, in order.
func (s *Session) Stages() []Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Stage(nil), s.stages...)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) emit(ev Event) {
	ev.SessionID = s.sessionID
	ev.ParticipantID = s.participant.ID
	s.notifier.Notify(ev)
}

// ---- reading state ----

func (s *Session) ApplyUpdate(ctx context.Context, u types.Update) (ApplyResult, error) {
	if s.isClosed() {
		return ApplyResult{}, closed("collab.Session.ApplyUpdate")
	}
	return s.store.ApplyUpdate(ctx, u)
}

// ---- host authority ----

func (s *Session) TransferHost(ctx context.Context, target string) error {
	if s.isClosed() {
		return closed("collab.Session.TransferHost")
	}
	return s.host.TransferHost(ctx, target)
}

func (s *Session) OfferHostTransfer(ctx context.Context, target string) error {
	if s.isClosed() {
		return closed("collab.Session.OfferHostTransfer")
	}
	return s.host.OfferHostTransfer(ctx, target)
}

func (s *Session) AcceptHostTransfer(ctx context.Context) error {
	if s.isClosed() {
		return closed("collab.Session.AcceptHostTransfer")
	}
	return s.host.AcceptHostTransfer(ctx)
}

func (s *Session) RejectHostTransfer(ctx context.Context) error {
	if s.isClosed() {
		return closed("collab.Session.RejectHostTransfer")
	}
	return s.host.RejectHostTransfer(ctx)
}

func (s *Session) ReclaimHost(ctx context.Context) error {
	if s.isClosed() {
		return closed("collab.Session.ReclaimHost")
	}
	return s.host.ReclaimHost(ctx)
}

func (s *Session) EndSession(ctx context.Context) error {
	if s.isClosed() {
		return closed("collab.Session.EndSession")
	}
	return s.host.EndSession(ctx)
}

// ---- presence and viewport ----

func (s *Session) UpdatePresence(patch types.PresencePatch) error {
	return s.presence.Update(patch)
}

// QueueViewport buffers a view change for the debounced flush without touching
// follow mode.
func (s *Session) QueueViewport(patch types.ViewPatch) error {
	return s.viewport.Queue(patch)
}

func (s *Session) FlushViewport(ctx context.Context) error {
	if s.isClosed() {
		return closed("collab.Session.FlushViewport")
	}
	return s.viewport.Flush(ctx)
}

// PanZoom is a manual view change by the local participant. It leaves follow
// mode; mirroring resumes only after Follow is called again.
func (s *Session) PanZoom(patch types.ViewPatch) error {
	if err := s.viewport.Queue(patch); err != nil {
		return err
	}
	if s.presence.Following() != nil {
		return s.presence.Update(types.PresencePatch{IsFollowing: types.Null[uuid.UUID]()})
	}
	return nil
}

// Follow mirrors target's viewport from now on, starting from target's last
// persisted view.
func (s *Session) Follow(ctx context.Context, target uuid.UUID) error {
	const op = "collab.Session.Follow"
	if s.isClosed() {
		return closed(op)
	}
	if target == uuid.Nil || target == s.participant.ID {
		return invalid(op, "follow target must be another participant")
	}
	if err := s.presence.Update(types.PresencePatch{IsFollowing: types.Some(target)}); err != nil {
		return err
	}
	view, err := s.deps.Viewports.Load(ctx, s.sessionID, target)
	if err != nil {
		s.log.Warn("load followed viewport failed", "target", target, "error", err)
		return nil
	}
	if view != nil {
		s.viewport.mirror(types.ViewportEvent{ParticipantID: target, View: *view})
	}
	return nil
}

func (s *Session) Unfollow() error {
	return s.presence.Update(types.PresencePatch{IsFollowing: types.Null[uuid.UUID]()})
}

// ---- channel wiring ----

func (s *Session) subscribe() {
	changes, err := s.deps.Transport.SubscribeChanges(s.ctx, s.sessionID, s.onChange)
	if err != nil {
		s.log.Warn("subscribe changes failed", "error", err)
	} else {
		s.addSub(realtime.ChannelChanges, changes)
	}
	presence, err := s.deps.Transport.SubscribePresence(s.ctx, s.sessionID, s.presence.sync)
	if err != nil {
		s.log.Warn("subscribe presence failed", "error", err)
	} else {
		s.addSub(realtime.ChannelPresence, presence)
	}
	s.reconcileHostRole()
}

// addSub records sub, closing it straight away if the session was left meanwhile.
func (s *Session) addSub(ch realtime.Channel, sub realtime.Subscription) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = sub.Close()
		return false
	}
	if prev, ok := s.subs[ch]; ok {
		defer func() { _ = prev.Close() }()
	}
	s.subs[ch] = sub
	s.mu.Unlock()
	return true
}

// reconcileHostRole keeps the broadcast subscription in step with host status:
// only the current host listens for relayed updates.
func (s *Session) reconcileHostRole() {
	s.hostSubMu.Lock()
	defer s.hostSubMu.Unlock()

	isHost := s.store.IsHost()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	sub, subscribed := s.subs[realtime.ChannelBroadcast]
	if !isHost && subscribed {
		delete(s.subs, realtime.ChannelBroadcast)
	}
	s.mu.Unlock()

	switch {
	case isHost && !subscribed:
		next, err := s.deps.Transport.SubscribeBroadcast(s.ctx, s.sessionID, s.onRelayed)
		if err != nil {
			s.log.Warn("subscribe broadcast failed", "error", err)
			return
		}
		s.addSub(realtime.ChannelBroadcast, next)
	case !isHost && subscribed:
		_ = sub.Close()
	}
}

func (s *Session) onChange(row *types.ReadingSession) {
	if s.isClosed() {
		return
	}
	s.store.ApplyRemote(row)
}

func (s *Session) onRelayed(msg types.RelayedUpdate) {
	if s.isClosed() || msg.ParticipantID == s.participant.ID || !s.store.IsHost() {
		return
	}
	res, err := s.store.persistRelayed(s.ctx, msg)
	if err != nil {
		s.log.Warn("persist relayed update failed", "from", msg.ParticipantID, "error", err)
		return
	}
	if len(res.Applied) == 0 {
		return
	}
	s.emit(Event{Kind: EventUpdateRelayed, Data: RelayInfo{From: msg.ParticipantID, Fields: fieldNames(res.Applied)}})
}

func (s *Session) onViewport(ev types.ViewportEvent) {
	if s.isClosed() {
		return
	}
	s.viewport.onRemote(ev)
}

// ---- staged loading ----

func (s *Session) schedule(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.timer = s.deps.Clock.AfterFunc(d, fn)
}

func (s *Session) reach(stage Stage, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stages = append(s.stages, stage)
	s.mu.Unlock()

	elapsed := s.deps.Clock.Now().Sub(s.joinedAt)
	s.deps.Metrics.ObserveJoinStage(string(stage), elapsed)
	info := StageInfo{Stage: stage, ElapsedMS: elapsed.Milliseconds()}
	if err != nil {
		info.Error = err.Error()
		s.log.Warn("sync stage degraded", "stage", stage, "error", err)
		s.emit(Event{Kind: EventStageFailed, Data: info})
	}
	s.emit(Event{Kind: EventStage, Data: info})
}

// runViewStages loads the caller's last view and opens the viewport channel,
// then announces presence, then schedules the full stage relative to join time.
func (s *Session) runViewStages() {
	if s.isClosed() {
		return
	}
	s.reach(StageView, s.loadView())
	if s.isClosed() {
		return
	}
	s.reach(StagePresence, s.loadPresence())

	remaining := s.deps.Timing.FullDelay - s.deps.Clock.Now().Sub(s.joinedAt)
	if remaining <= 0 {
		s.runFullStage()
		return
	}
	s.schedule(remaining, s.runFullStage)
}

func (s *Session) loadView() error {
	var errs []error
	view, err := s.deps.Viewports.Load(s.ctx, s.sessionID, s.participant.ID)
	if err != nil {
		errs = append(errs, fmt.Errorf("load viewport: %w", err))
	} else if view != nil {
		s.viewport.restore(*view)
	}
	sub, err := s.deps.Transport.SubscribeViewport(s.ctx, s.sessionID, s.onViewport)
	if err != nil {
		errs = append(errs, fmt.Errorf("subscribe viewport: %w", err))
	} else {
		s.addSub(realtime.ChannelViewport, sub)
	}
	return errors.Join(errs...)
}

func (s *Session) loadPresence() error {
	s.presence.announce()
	snap, err := s.deps.Transport.PresenceSnapshot(s.ctx, s.sessionID)
	if err != nil {
		return fmt.Errorf("presence snapshot: %w", err)
	}
	s.presence.sync(snap)
	return nil
}

// runFullStage loads the roster and the bulk reading fields concurrently.
func (s *Session) runFullStage() {
	if s.isClosed() {
		return
	}
	var (
		roster []*types.Participant
		bulk   *types.BulkFields
		g      errgroup.Group
	)
	g.Go(func() error {
		var err error
		roster, err = s.deps.Participants.ListActive(s.ctx, s.sessionID)
		if err != nil {
			return fmt.Errorf("load roster: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		bulk, err = s.deps.Records.LoadBulk(s.ctx, s.sessionID)
		if err != nil {
			return fmt.Errorf("load bulk fields: %w", err)
		}
		return nil
	})
	err := g.Wait()
	if roster != nil {
		s.emit(Event{Kind: EventRoster, Data: roster})
	}
	s.store.mergeBulk(bulk)
	s.reach(StageFull, err)
	s.schedule(s.deps.Timing.CompleteGrace, func() { s.reach(StageComplete, nil) })
}

// ---- teardown ----

// Leave stops every timer, closes all channel subscriptions, removes the
// participant's presence and marks the participant inactive. Writes already in
// flight are left to finish. Calling Leave twice is a no-op.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	subs := s.subs
	s.subs = map[realtime.Channel]realtime.Subscription{}
	s.mu.Unlock()

	s.presence.close()
	s.viewport.close()
	for _, sub := range subs {
		_ = sub.Close()
	}
	close(s.done)
	s.deps.Metrics.LiveSessionDec()

	if err := s.deps.Transport.Untrack(ctx, s.sessionID, s.participant.ID); err != nil {
		s.log.Warn("untrack presence failed", "error", err)
	}
	if p := s.store.Pending(); p != nil && !s.self.IsAnonymous() && (p.ToUserID == s.self.UserID || p.FromUserID == s.self.UserID) {
		if err := s.deps.Hosts.ClearPendingFor(ctx, domainagg.ClearPendingInput{SessionID: s.sessionID, UserID: s.self.UserID}); err != nil {
			s.log.Warn("clear pending host offer failed", "error", err)
		}
	}
	if err := s.deps.Participants.Deactivate(ctx, s.participant.ID); err != nil {
		return err
	}
	s.log.Info("participant left")
	return nil
}
