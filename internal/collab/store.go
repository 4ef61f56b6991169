package collab

import (
	"context"
	"errors"
	"sync"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"

	domainagg "github.com/yungbote/tarotroom-backend/internal/domain/aggregates"
	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	"github.com/yungbote/tarotroom-backend/internal/observability"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

// Delivery says how an applied update reached (or failed to reach) the durable record.
type Delivery string

const (
	// DeliveryPersisted: written directly by the caller.
	DeliveryPersisted Delivery = observability.DeliveryPersisted
	// DeliveryRelayed: handed to a connected host over the broadcast channel.
	DeliveryRelayed Delivery = observability.DeliveryRelayed
	// DeliveryDropped: no host was listening; the change lives only in local mirrors.
	DeliveryDropped Delivery = observability.DeliveryDropped
	// DeliveryNone: nothing survived resolution.
	DeliveryNone Delivery = observability.DeliveryNone
)

type ApplyResult struct {
	Applied  []types.Field `json:"applied"`
	Dropped  []types.Field `json:"dropped"`
	Delivery Delivery      `json:"delivery"`
}

// Store is a participant's mirror of the reading_session record.
type Store struct {
	log       *logger.Logger
	records   Records
	transport Transport
	clock     clock.Clock
	metrics   *observability.Metrics

	sessionID     uuid.UUID
	participantID uuid.UUID
	self          types.Identity

	notify       func(Event)
	onHostChange func(HostChange)

	mu     sync.Mutex
	state  *types.ReadingSession
	isHost bool
}

func newStore(sessionID, participantID uuid.UUID, self types.Identity, deps Deps, notify func(Event)) *Store {
	return &Store{
		log:           deps.Log.With("component", "SessionStateStore"),
		records:       deps.Records,
		transport:     deps.Transport,
		clock:         deps.Clock,
		metrics:       deps.Metrics,
		sessionID:     sessionID,
		participantID: participantID,
		self:          self,
		notify:        notify,
		onHostChange:  func(HostChange) {},
	}
}

// State returns a copy of the mirrored record, or nil before the first load.
func (s *Store) State() *types.ReadingSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

func (s *Store) IsHost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isHost
}

func (s *Store) Host() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return ""
	}
	return s.state.Host()
}

func (s *Store) OriginalHost() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return ""
	}
	return s.state.OriginalHost()
}

// Pending returns the outstanding host offer, if any.
func (s *Store) Pending() *types.PendingHostTransfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil
	}
	p, err := s.state.Pending()
	if err != nil {
		s.log.Warn("unreadable pending host transfer", "session_id", s.sessionID, "error", err)
		return nil
	}
	return p
}

func (s *Store) hostFor(row *types.ReadingSession) bool {
	return !s.self.IsAnonymous() && row.Host() == s.self.UserID
}

// load installs the critical fields as the initial mirror.
func (s *Store) load(row *types.ReadingSession) {
	s.mu.Lock()
	s.state = row.Clone()
	s.isHost = s.hostFor(row)
	s.mu.Unlock()
}

// ApplyUpdate resolves u against the participant's authority, applies the
// surviving fields to the mirror immediately, then makes them durable: directly
// when the participant may write the record, otherwise by relaying them to the
// host over the broadcast channel.
func (s *Store) ApplyUpdate(ctx context.Context, u types.Update) (ApplyResult, error) {
	const op = "collab.Store.ApplyUpdate"
	if err := u.Validate(); err != nil {
		return ApplyResult{}, invalid(op, err.Error())
	}

	s.mu.Lock()
	if s.state == nil {
		s.mu.Unlock()
		return ApplyResult{}, domainagg.Sentinel(domainagg.CodeNotFound, op, ErrSessionNotFound)
	}
	if !s.state.IsActive {
		s.mu.Unlock()
		return ApplyResult{}, domainagg.Sentinel(domainagg.CodePreconditionFailed, op, ErrSessionEnded)
	}
	res := Resolve(u, s.isHost)
	out := ApplyResult{Applied: res.Applied, Dropped: res.Dropped, Delivery: DeliveryNone}
	if res.Update.Empty() {
		s.mu.Unlock()
		s.metrics.ObserveUpdate(string(out.Delivery), fieldNames(out.Dropped))
		return out, nil
	}
	before := s.state.Clone()
	if err := res.Update.ApplyTo(s.state, s.clock.Now().UTC()); err != nil {
		s.state = before
		s.mu.Unlock()
		return ApplyResult{}, invalid(op, err.Error())
	}
	optimistic := s.state.Clone()
	s.mu.Unlock()

	s.notify(Event{Kind: EventStateChanged, Data: optimistic})

	row, err := s.records.Update(ctx, s.sessionID, s.self, res.Update)
	switch {
	case err == nil:
		out.Delivery = DeliveryPersisted
		s.ApplyRemote(row)
	case errors.Is(err, ErrWritePermission):
		delivery, berr := s.relay(ctx, res.Update)
		if berr != nil {
			s.rollback(before)
			return out, berr
		}
		out.Delivery = delivery
	default:
		s.rollback(before)
		return out, err
	}
	s.metrics.ObserveUpdate(string(out.Delivery), fieldNames(out.Dropped))
	return out, nil
}

// rollback restores the mirror from before a refused optimistic merge, unless a
// committed change has replaced it since.
func (s *Store) rollback(before *types.ReadingSession) {
	s.mu.Lock()
	if s.state == nil || s.state.Version != before.Version {
		s.mu.Unlock()
		return
	}
	s.state = before.Clone()
	snapshot := s.state.Clone()
	s.mu.Unlock()
	s.notify(Event{Kind: EventStateChanged, Data: snapshot})
}

func (s *Store) relay(ctx context.Context, u types.Update) (Delivery, error) {
	n, err := s.transport.Broadcast(ctx, s.sessionID, types.RelayedUpdate{Updates: u, ParticipantID: s.participantID})
	if err != nil {
		return DeliveryNone, err
	}
	if n == 0 {
		s.log.Warn("relayed update has no host to persist it",
			"session_id", s.sessionID,
			"participant_id", s.participantID,
			"fields", fieldNames(u.Fields()),
		)
		return DeliveryDropped, nil
	}
	return DeliveryRelayed, nil
}

// persistRelayed writes a guest's relayed update with this (host) participant's
// authority. The update is resolved again as a guest write first.
func (s *Store) persistRelayed(ctx context.Context, msg types.RelayedUpdate) (Resolution, error) {
	res := Resolve(msg.Updates, false)
	if res.Update.Empty() {
		return res, nil
	}
	if err := res.Update.Validate(); err != nil {
		return res, invalid("collab.Store.persistRelayed", err.Error())
	}
	row, err := s.records.Update(ctx, s.sessionID, s.self, res.Update)
	if err != nil {
		return res, err
	}
	s.ApplyRemote(row)
	return res, nil
}

// ApplyRemote merges a committed row into the mirror. Rows not newer than the
// mirror are ignored; newer rows replace every field, discarding optimistic
// local values.
func (s *Store) ApplyRemote(row *types.ReadingSession) bool {
	if row == nil || row.ID != s.sessionID {
		return false
	}
	s.mu.Lock()
	if s.state != nil && row.Version <= s.state.Version {
		s.mu.Unlock()
		return false
	}
	prevHost := ""
	wasActive := true
	if s.state != nil {
		prevHost = s.state.Host()
		wasActive = s.state.IsActive
	}
	s.state = row.Clone()
	s.isHost = s.hostFor(row)
	change := HostChange{HostUserID: row.Host(), IsHost: s.isHost}
	hostMoved := prevHost != row.Host()
	ended := wasActive && !row.IsActive
	snapshot := s.state.Clone()
	s.mu.Unlock()

	s.notify(Event{Kind: EventStateChanged, Data: snapshot})
	if hostMoved {
		s.onHostChange(change)
		s.notify(Event{Kind: EventHostChanged, Data: change})
	}
	if ended {
		s.notify(Event{Kind: EventSessionEnded, Data: snapshot})
	}
	return true
}

// mergeBulk fills the fields deferred from the critical load unless a newer
// change already carried them.
func (s *Store) mergeBulk(b *types.BulkFields) {
	if b == nil {
		return
	}
	s.mu.Lock()
	if s.state == nil || b.Version < s.state.Version {
		s.mu.Unlock()
		return
	}
	s.state.ShuffledDeck = b.ShuffledDeck
	s.state.Interpretation = b.Interpretation
	snapshot := s.state.Clone()
	s.mu.Unlock()
	s.notify(Event{Kind: EventStateChanged, Data: snapshot})
}
