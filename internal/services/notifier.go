package services

import (
	"github.com/yungbote/tarotroom-backend/internal/collab"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
	"github.com/yungbote/tarotroom-backend/internal/realtime"
)

// SSEEmitter delivers a message to the SSE clients on its channel and reports
// how many received it. *realtime.SSEHub satisfies it.
type SSEEmitter interface {
	Broadcast(msg realtime.SSEMessage) int
}

var sseEvents = map[collab.EventKind]realtime.SSEEvent{
	collab.EventJoined:           realtime.SSEEventJoined,
	collab.EventStage:            realtime.SSEEventStageReached,
	collab.EventStateChanged:     realtime.SSEEventStateChanged,
	collab.EventPresence:         realtime.SSEEventPresenceSynced,
	collab.EventViewportMirrored: realtime.SSEEventViewportMirror,
	collab.EventHostChanged:      realtime.SSEEventHostChanged,
	collab.EventUpdateRelayed:    realtime.SSEEventUpdateRelayed,
	collab.EventRoster:           realtime.SSEEventRosterLoaded,
	collab.EventSessionEnded:     realtime.SSEEventSessionEnded,
	collab.EventStageFailed:      realtime.SSEEventStageLoadFailed,
}

type sessionNotifier struct {
	log     *logger.Logger
	emit    SSEEmitter
	channel string
}

// NewSessionNotifier forwards a participant session's events to one SSE channel,
// normally the id of the stream that joined.
func NewSessionNotifier(log *logger.Logger, emit SSEEmitter, channel string) collab.Notifier {
	if log == nil {
		log = logger.Nop()
	}
	return &sessionNotifier{log: log, emit: emit, channel: channel}
}

func (n *sessionNotifier) Notify(ev collab.Event) {
	if n == nil || n.emit == nil || n.channel == "" {
		return
	}
	name, ok := sseEvents[ev.Kind]
	if !ok {
		return
	}
	delivered := n.emit.Broadcast(realtime.SSEMessage{
		Channel: n.channel,
		Event:   name,
		Data: map[string]any{
			"session_id":     ev.SessionID,
			"participant_id": ev.ParticipantID,
			"payload":        ev.Data,
		},
	})
	if delivered == 0 {
		n.log.Debug("session event had no listening stream", "channel", n.channel, "event", name)
	}
}
