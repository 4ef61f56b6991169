package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/tarotroom-backend/internal/collab"
	domainagg "github.com/yungbote/tarotroom-backend/internal/domain/aggregates"
	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	"github.com/yungbote/tarotroom-backend/internal/http/response"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
	"github.com/yungbote/tarotroom-backend/internal/realtime"
	"github.com/yungbote/tarotroom-backend/internal/services"
)

type SessionHandler struct {
	log      *logger.Logger
	sessions services.SessionService
	hub      *realtime.SSEHub
}

func NewSessionHandler(log *logger.Logger, sessions services.SessionService, hub *realtime.SSEHub) *SessionHandler {
	return &SessionHandler{
		log:      log.With("handler", "SessionHandler"),
		sessions: sessions,
		hub:      hub,
	}
}

type participantView struct {
	ParticipantID uuid.UUID             `json:"participant_id"`
	IsHost        bool                  `json:"is_host"`
	State         *types.ReadingSession `json:"state"`
}

func viewOf(s *collab.Session) participantView {
	return participantView{ParticipantID: s.ParticipantID(), IsHost: s.IsHost(), State: s.State()}
}

// POST /api/sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req services.CreateSessionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	row, err := h.sessions.Create(c.Request.Context(), req)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": row})
}

// GET /api/sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	row, err := h.sessions.Get(c.Request.Context(), id)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"session": row})
}

// DELETE /api/sessions/:id
func (h *SessionHandler) EndSession(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	row, err := h.sessions.End(c.Request.Context(), id)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"session": row})
}

// GET /api/sessions/:id/stream?name=&role=
//
// Joins the session and streams its events until the client disconnects or the
// participant session is left. Disconnecting leaves the session.
func (h *SessionHandler) Stream(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}

	client := h.hub.NewSSEClient()
	channel := client.ID.String()
	h.hub.AddChannel(client, channel)

	live, err := h.sessions.Join(c.Request.Context(), services.JoinInput{
		SessionID: id,
		Name:      c.Query("name"),
		Role:      types.Role(strings.TrimSpace(c.Query("role"))),
		Channel:   channel,
	})
	if err != nil {
		h.hub.CloseClient(client)
		response.RespondFromError(c, err)
		return
	}
	pid := live.ParticipantID()
	h.log.Info("SSE stream open", "session_id", id, "participant_id", pid, "client_id", client.ID)

	go func() {
		select {
		case <-live.Done():
			h.hub.CloseClient(client)
		case <-c.Request.Context().Done():
		}
	}()

	h.hub.ServeHTTP(c.Writer, c.Request, client)

	h.hub.CloseClient(client)
	leaveCtx := context.WithoutCancel(c.Request.Context())
	if err := h.sessions.Leave(leaveCtx, pid); err != nil && !domainagg.IsCode(err, domainagg.CodeNotFound) {
		h.log.Warn("leave on disconnect failed", "participant_id", pid, "error", err)
	}
	h.log.Info("SSE stream closed", "session_id", id, "participant_id", pid)
}

// POST /api/participants/:pid/leave
func (h *SessionHandler) Leave(c *gin.Context) {
	pid, ok := h.participantID(c)
	if !ok {
		return
	}
	if err := h.sessions.Leave(c.Request.Context(), pid); err != nil {
		response.RespondFromError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PATCH /api/participants/:pid/state
func (h *SessionHandler) UpdateState(c *gin.Context) {
	live, ok := h.participant(c)
	if !ok {
		return
	}
	var u types.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := live.ApplyUpdate(c.Request.Context(), u)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"result": res, "state": live.State()})
}

type hostTargetRequest struct {
	UserID string `json:"user_id"`
}

// POST /api/participants/:pid/host/transfer
func (h *SessionHandler) TransferHost(c *gin.Context) {
	h.hostTarget(c, (*collab.Session).TransferHost)
}

// POST /api/participants/:pid/host/offer
func (h *SessionHandler) OfferHost(c *gin.Context) {
	h.hostTarget(c, (*collab.Session).OfferHostTransfer)
}

// POST /api/participants/:pid/host/accept
func (h *SessionHandler) AcceptHost(c *gin.Context) {
	h.hostAction(c, (*collab.Session).AcceptHostTransfer)
}

// POST /api/participants/:pid/host/reject
func (h *SessionHandler) RejectHost(c *gin.Context) {
	h.hostAction(c, (*collab.Session).RejectHostTransfer)
}

// POST /api/participants/:pid/host/reclaim
func (h *SessionHandler) ReclaimHost(c *gin.Context) {
	h.hostAction(c, (*collab.Session).ReclaimHost)
}

func (h *SessionHandler) hostTarget(c *gin.Context, fn func(*collab.Session, context.Context, string) error) {
	live, ok := h.participant(c)
	if !ok {
		return
	}
	var req hostTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := fn(live, c.Request.Context(), strings.TrimSpace(req.UserID)); err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, viewOf(live))
}

func (h *SessionHandler) hostAction(c *gin.Context, fn func(*collab.Session, context.Context) error) {
	live, ok := h.participant(c)
	if !ok {
		return
	}
	if err := fn(live, c.Request.Context()); err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, viewOf(live))
}

// POST /api/participants/:pid/presence
func (h *SessionHandler) UpdatePresence(c *gin.Context) {
	live, ok := h.participant(c)
	if !ok {
		return
	}
	var patch types.PresencePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := live.UpdatePresence(patch); err != nil {
		response.RespondFromError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// GET /api/participants/:pid/presence
func (h *SessionHandler) GetPresence(c *gin.Context) {
	live, ok := h.participant(c)
	if !ok {
		return
	}
	response.RespondOK(c, gin.H{
		"online":  live.OnlineParticipants(),
		"cursors": live.ActiveCursors(),
	})
}

type viewportRequest struct {
	types.ViewPatch
	// Manual marks a user pan or zoom, which leaves follow mode.
	Manual bool `json:"manual"`
	Flush  bool `json:"flush"`
}

// POST /api/participants/:pid/viewport
func (h *SessionHandler) UpdateViewport(c *gin.Context) {
	live, ok := h.participant(c)
	if !ok {
		return
	}
	var req viewportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	var err error
	if req.Manual {
		err = live.PanZoom(req.ViewPatch)
	} else {
		err = live.QueueViewport(req.ViewPatch)
	}
	if err == nil && req.Flush {
		err = live.FlushViewport(c.Request.Context())
	}
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"view": live.LocalView()})
}

type followRequest struct {
	ParticipantID *uuid.UUID `json:"participant_id"`
}

// POST /api/participants/:pid/follow
//
// A null participant_id stops following.
func (h *SessionHandler) Follow(c *gin.Context) {
	live, ok := h.participant(c)
	if !ok {
		return
	}
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	var err error
	if req.ParticipantID == nil {
		err = live.Unfollow()
	} else {
		err = live.Follow(c.Request.Context(), *req.ParticipantID)
	}
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"view": live.LocalView()})
}

func (h *SessionHandler) sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return uuid.Nil, false
	}
	return id, true
}

func (h *SessionHandler) participantID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("pid"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_participant_id", err)
		return uuid.Nil, false
	}
	return id, true
}

func (h *SessionHandler) participant(c *gin.Context) (*collab.Session, bool) {
	pid, ok := h.participantID(c)
	if !ok {
		return nil, false
	}
	live, err := h.sessions.Participant(c.Request.Context(), pid)
	if err != nil {
		response.RespondFromError(c, err)
		return nil, false
	}
	return live, true
}
