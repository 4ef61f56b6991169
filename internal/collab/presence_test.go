package collab

import (
	"errors"
	"testing"
	"time"

	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
)

func TestPresenceThrottleCoalescesIntoTrailingWrite(t *testing.T) {
	h := newHarness()
	row := h.records.seed("host-1")
	s, _, err := h.join(row.ID, types.Identity{UserID: "host-1"}, "Host", types.RoleHost)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	h.settle()
	base := h.presence.count()

	if err := s.UpdatePresence(types.PresencePatch{Cursor: types.Some(types.Point{X: 1, Y: 1})}); err != nil {
		t.Fatalf("update 1: %v", err)
	}
	if got := h.presence.count() - base; got != 1 {
		t.Fatalf("first update writes immediately: want=1 got=%d", got)
	}
	_ = s.UpdatePresence(types.PresencePatch{Cursor: types.Some(types.Point{X: 2, Y: 2})})
	_ = s.UpdatePresence(types.PresencePatch{Cursor: types.Some(types.Point{X: 3, Y: 3})})
	if got := h.presence.count() - base; got != 1 {
		t.Fatalf("updates inside the window wait: want=1 got=%d", got)
	}

	h.clock.Add(DefaultTiming().PresenceThrottle)
	if got := h.presence.count() - base; got != 2 {
		t.Fatalf("trailing write: want=2 got=%d", got)
	}
	snap := s.Presence().Snapshot()
	entry, ok := snap[s.ParticipantID()]
	if !ok || entry.Cursor == nil {
		t.Fatalf("own entry missing from snapshot: %+v", snap)
	}
	if entry.Cursor.X != 3 {
		t.Fatalf("trailing write carries latest cursor: want=3 got=%v", entry.Cursor.X)
	}
}

func TestPresenceHorizons(t *testing.T) {
	h := newHarness()
	row := h.records.seed("host-1")
	host, _, err := h.join(row.ID, types.Identity{UserID: "host-1"}, "Host", types.RoleHost)
	if err != nil {
		t.Fatalf("join host: %v", err)
	}
	guest, _, err := h.join(row.ID, types.Identity{AnonymousID: "anon-1"}, "Guest", types.RoleParticipant)
	if err != nil {
		t.Fatalf("join guest: %v", err)
	}
	h.settle()

	if err := guest.UpdatePresence(types.PresencePatch{Cursor: types.Some(types.Point{X: 10, Y: 20})}); err != nil {
		t.Fatalf("guest cursor: %v", err)
	}
	cursors := host.ActiveCursors()
	if len(cursors) != 1 || cursors[0].ParticipantID != guest.ParticipantID() {
		t.Fatalf("host sees guest cursor: got=%+v", cursors)
	}
	if got := guest.ActiveCursors(); len(got) != 0 {
		t.Fatalf("own cursor is not listed: got=%+v", got)
	}
	if got := len(host.OnlineParticipants()); got != 2 {
		t.Fatalf("online: want=2 got=%d", got)
	}

	h.clock.Add(6 * time.Second)
	if got := host.ActiveCursors(); len(got) != 0 {
		t.Fatalf("stale cursor hidden: got=%+v", got)
	}
	if got := len(host.OnlineParticipants()); got != 2 {
		t.Fatalf("online after 6s: want=2 got=%d", got)
	}

	h.clock.Add(31 * time.Second)
	if got := len(host.OnlineParticipants()); got != 0 {
		t.Fatalf("online after 37s: want=0 got=%d", got)
	}
}

func TestPresenceUpdateAfterLeaveFails(t *testing.T) {
	h := newHarness()
	row := h.records.seed("host-1")
	s, _, err := h.join(row.ID, types.Identity{UserID: "host-1"}, "Host", types.RoleHost)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.Leave(t.Context()); err != nil {
		t.Fatalf("leave: %v", err)
	}
	err = s.UpdatePresence(types.PresencePatch{IsTyping: ptr(true)})
	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("update after leave: want=%v got=%v", ErrSessionClosed, err)
	}
}
