package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"

	domainagg "github.com/yungbote/tarotroom-backend/internal/domain/aggregates"
	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	"github.com/yungbote/tarotroom-backend/internal/observability"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
	"github.com/yungbote/tarotroom-backend/internal/realtime"
)

var errUnsupported = errors.New("not supported by fake")

func ptr[T any](v T) *T { return &v }

// memRecords keeps reading_session rows in memory. Anonymous callers lack
// write permission, like the durable record service.
type memRecords struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*types.ReadingSession
	transport *realtime.Transport
	clock     clock.Clock

	writers    []types.Identity
	cleared    []domainagg.ClearPendingInput
	failBulk   error
	failUpdate error
}

func (r *memRecords) seed(host string) *types.ReadingSession {
	h, orig := host, host
	q := "what now?"
	row := &types.ReadingSession{
		ID:                 uuid.New(),
		HostUserID:         &h,
		OriginalHostUserID: &orig,
		ReadingStep:        types.StepSetup,
		Question:           &q,
		ShuffledDeck:       []byte(`[3,1,2]`),
		IsActive:           true,
		Version:            0,
	}
	r.mu.Lock()
	r.rows[row.ID] = row
	r.mu.Unlock()
	return row.Clone()
}

func (r *memRecords) LoadCritical(_ context.Context, id uuid.UUID) (*types.ReadingSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	out := row.Clone()
	out.ShuffledDeck = nil
	out.Interpretation = nil
	return out, nil
}

func (r *memRecords) LoadBulk(_ context.Context, id uuid.UUID) (*types.BulkFields, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failBulk != nil {
		return nil, r.failBulk
	}
	row, ok := r.rows[id]
	if !ok {
		return nil, nil
	}
	c := row.Clone()
	return &types.BulkFields{ID: c.ID, Version: c.Version, ShuffledDeck: c.ShuffledDeck, Interpretation: c.Interpretation}, nil
}

func (r *memRecords) Update(ctx context.Context, id uuid.UUID, caller types.Identity, u types.Update) (*types.ReadingSession, error) {
	if caller.IsAnonymous() {
		return nil, forbidden("memRecords.Update", ErrWritePermission)
	}
	r.mu.Lock()
	if r.failUpdate != nil {
		r.mu.Unlock()
		return nil, r.failUpdate
	}
	row, ok := r.rows[id]
	if !ok {
		r.mu.Unlock()
		return nil, domainagg.Sentinel(domainagg.CodeNotFound, "memRecords.Update", ErrSessionNotFound)
	}
	if err := u.ApplyTo(row, r.clock.Now().UTC()); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	row.Version++
	r.writers = append(r.writers, caller)
	out := row.Clone()
	r.mu.Unlock()
	if r.transport != nil {
		_ = r.transport.PublishChange(ctx, out)
	}
	return out, nil
}

func (r *memRecords) row(id uuid.UUID) *types.ReadingSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id].Clone()
}

func (r *memRecords) TransferHost(context.Context, domainagg.TransferHostInput) (*types.ReadingSession, error) {
	return nil, errUnsupported
}

func (r *memRecords) OfferHost(context.Context, domainagg.OfferHostInput) (*types.ReadingSession, error) {
	return nil, errUnsupported
}

func (r *memRecords) RejectOffer(context.Context, domainagg.RejectOfferInput) (*types.ReadingSession, error) {
	return nil, errUnsupported
}

func (r *memRecords) ReclaimHost(context.Context, domainagg.ReclaimHostInput) (*types.ReadingSession, error) {
	return nil, errUnsupported
}

func (r *memRecords) EndSession(ctx context.Context, in domainagg.EndSessionInput) (*types.ReadingSession, error) {
	r.mu.Lock()
	row := r.rows[in.SessionID]
	row.IsActive = false
	row.Version++
	out := row.Clone()
	r.mu.Unlock()
	_ = r.transport.PublishChange(ctx, out)
	return out, nil
}

func (r *memRecords) ClearPendingFor(_ context.Context, in domainagg.ClearPendingInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, in)
	return nil
}

type memParticipants struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*types.Participant
}

func (p *memParticipants) Activate(_ context.Context, sessionID uuid.UUID, identity types.Identity, name string, role types.Role) (*types.Participant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, row := range p.rows {
		if row.SessionID == sessionID && row.Identity() == identity {
			row.IsActive = true
			row.Name, row.Role = name, role
			c := *row
			return &c, nil
		}
	}
	row := &types.Participant{ID: uuid.New(), SessionID: sessionID, Name: name, Role: role, IsActive: true, JoinedAt: time.Now()}
	if identity.UserID != "" {
		uid := identity.UserID
		row.UserID = &uid
	} else {
		aid := identity.AnonymousID
		row.AnonymousID = &aid
	}
	p.rows[row.ID] = row
	c := *row
	return &c, nil
}

func (p *memParticipants) Deactivate(_ context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if row, ok := p.rows[id]; ok {
		row.IsActive = false
	}
	return nil
}

func (p *memParticipants) ListActive(_ context.Context, sessionID uuid.UUID) ([]*types.Participant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*types.Participant
	for _, row := range p.rows {
		if row.SessionID == sessionID && row.IsActive {
			c := *row
			out = append(out, &c)
		}
	}
	return out, nil
}

func (p *memParticipants) active(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	row, ok := p.rows[id]
	return ok && row.IsActive
}

type memViewports struct {
	mu    sync.Mutex
	views map[[2]uuid.UUID]types.ViewState
	saves int
}

func (v *memViewports) Load(_ context.Context, sessionID, participantID uuid.UUID) (*types.ViewState, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	view, ok := v.views[[2]uuid.UUID{sessionID, participantID}]
	if !ok {
		return nil, nil
	}
	return &view, nil
}

func (v *memViewports) Save(_ context.Context, sessionID, participantID uuid.UUID, view types.ViewState) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.views[[2]uuid.UUID{sessionID, participantID}] = view
	v.saves++
	return nil
}

// countingPresence records every Track so throttle tests can count writes.
type countingPresence struct {
	*realtime.MemoryPresence
	mu     sync.Mutex
	tracks int
}

func (c *countingPresence) Track(ctx context.Context, sessionID, participantID uuid.UUID, entry json.RawMessage) error {
	c.mu.Lock()
	c.tracks++
	c.mu.Unlock()
	return c.MemoryPresence.Track(ctx, sessionID, participantID, entry)
}

func (c *countingPresence) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracks
}

// eventLog is a Notifier that keeps every event.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Notify(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

func (l *eventLog) count(kind EventKind) int {
	n := 0
	for _, k := range l.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) last(kind EventKind) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Kind == kind {
			return l.events[i], true
		}
	}
	return Event{}, false
}

type harness struct {
	clock        *clock.Mock
	bus          *realtime.MemoryBus
	presence     *countingPresence
	transport    *realtime.Transport
	records      *memRecords
	participants *memParticipants
	viewports    *memViewports
	metrics      *observability.Metrics
	coord        *SyncCoordinator
}

func newHarness() *harness {
	mock := clock.NewMock()
	mock.Add(24 * time.Hour)
	bus := realtime.NewMemoryBus()
	presence := &countingPresence{MemoryPresence: realtime.NewMemoryPresence()}
	metrics := observability.New()
	transport := realtime.NewTransport(logger.Nop(), bus, presence, realtime.WithClock(mock), realtime.WithMetrics(metrics))
	h := &harness{
		clock:        mock,
		bus:          bus,
		presence:     presence,
		transport:    transport,
		records:      &memRecords{rows: map[uuid.UUID]*types.ReadingSession{}, transport: transport, clock: mock},
		participants: &memParticipants{rows: map[uuid.UUID]*types.Participant{}},
		viewports:    &memViewports{views: map[[2]uuid.UUID]types.ViewState{}},
		metrics:      metrics,
	}
	coord, err := NewSyncCoordinator(h.deps())
	if err != nil {
		panic(err)
	}
	h.coord = coord
	return h
}

func (h *harness) deps() Deps {
	return Deps{
		Log:          logger.Nop(),
		Records:      h.records,
		Hosts:        h.records,
		Participants: h.participants,
		Viewports:    h.viewports,
		Transport:    h.transport,
		Clock:        h.clock,
		Timing:       DefaultTiming(),
		Metrics:      h.metrics,
	}
}

func (h *harness) join(sessionID uuid.UUID, id types.Identity, name string, role types.Role) (*Session, *eventLog, error) {
	log := &eventLog{}
	s, err := h.coord.Join(context.Background(), JoinRequest{
		SessionID: sessionID,
		Identity:  id,
		Name:      name,
		Role:      role,
		Notifier:  log,
	})
	return s, log, err
}

// settle advances the mock clock past every join stage.
func (h *harness) settle() {
	t := DefaultTiming()
	h.clock.Add(t.FullDelay + t.CompleteGrace)
}
