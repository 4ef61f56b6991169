package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/tarotroom-backend/internal/collab"
	"github.com/yungbote/tarotroom-backend/internal/data/aggregates"
	"github.com/yungbote/tarotroom-backend/internal/data/repos"
	repotest "github.com/yungbote/tarotroom-backend/internal/data/repos/testutil"
	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	httpH "github.com/yungbote/tarotroom-backend/internal/http/handlers"
	httpMW "github.com/yungbote/tarotroom-backend/internal/http/middleware"
	"github.com/yungbote/tarotroom-backend/internal/platform/ctxutil"
	"github.com/yungbote/tarotroom-backend/internal/realtime"
	"github.com/yungbote/tarotroom-backend/internal/services"
)

type apiFixture struct {
	engine   *gin.Engine
	identity services.IdentityService
	svc      services.SessionService
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := repotest.DB(t)
	log := repotest.Logger(t)
	mock := clock.NewMock()
	mock.Add(24 * time.Hour)

	sessions := repos.NewReadingSessionRepo(db, log)
	participants := repos.NewParticipantRepo(db, log)
	viewports := repos.NewViewportRepo(db, log)
	hosts := aggregates.NewSessionHostAggregate(aggregates.SessionHostAggregateDeps{
		Base:         aggregates.BaseDeps{DB: db, Log: log, Now: mock.Now},
		Sessions:     sessions,
		Participants: participants,
	})
	transport := realtime.NewTransport(log, realtime.NewMemoryBus(), realtime.NewMemoryPresence(), realtime.WithClock(mock))
	records := services.NewSessionRecords(db, log, sessions, participants, hosts, transport, mock)
	coord, err := collab.NewSyncCoordinator(collab.Deps{
		Log:          log,
		Records:      records,
		Hosts:        records,
		Participants: services.NewParticipantTable(log, participants, mock),
		Viewports:    services.NewViewportTable(viewports, mock),
		Transport:    transport,
		Clock:        mock,
	})
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	hub := realtime.NewSSEHub(log)
	svc := services.NewSessionService(log, records, coord, hub, mock)
	t.Cleanup(func() { svc.Close(context.Background()) })

	identity := services.NewIdentityService(log, "test-secret")
	engine := NewRouter(RouterConfig{
		Log:                log,
		IdentityMiddleware: httpMW.NewIdentityMiddleware(log, identity),
		SessionHandler:     httpH.NewSessionHandler(log, svc, hub),
		HealthHandler:      httpH.NewHealthHandler(nil),
	})
	return &apiFixture{engine: engine, identity: identity, svc: svc}
}

func (f *apiFixture) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := f.identity.IssueToken(userID, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

type sessionBody struct {
	Session types.ReadingSession `json:"session"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (f *apiFixture) createSession(t *testing.T, hostToken string) uuid.UUID {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/sessions", hostToken, map[string]any{"question": "will it rain?", "deck_id": "rider-waite"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: want=%d got=%d body=%s", http.StatusCreated, rec.Code, rec.Body.String())
	}
	return decode[sessionBody](t, rec).Session.ID
}

func (f *apiFixture) join(t *testing.T, sessionID uuid.UUID, userID string, role types.Role) *collab.Session {
	t.Helper()
	ctx := ctxutil.WithRequestData(context.Background(), &ctxutil.RequestData{UserID: userID})
	live, err := f.svc.Join(ctx, services.JoinInput{SessionID: sessionID, Name: userID, Role: role})
	if err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
	return live
}

func TestHealthCheck(t *testing.T) {
	f := newAPI(t)
	rec := f.do(t, http.MethodGet, "/healthcheck", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: want=%d got=%d", http.StatusOK, rec.Code)
	}
}

func TestIdentityResolution(t *testing.T) {
	f := newAPI(t)

	rec := f.do(t, http.MethodPost, "/api/sessions", "", map[string]any{"question": "q"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("anonymous create: want=%d got=%d", http.StatusForbidden, rec.Code)
	}
	if rec.Header().Get("X-Anonymous-Id") == "" {
		t.Fatalf("anonymous id header missing")
	}

	rec = f.do(t, http.MethodPost, "/api/sessions", "not-a-token", map[string]any{"question": "q"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: want=%d got=%d", http.StatusUnauthorized, rec.Code)
	}
	if got := decode[errorBody](t, rec).Error.Code; got != "unauthorized" {
		t.Fatalf("error code: want=unauthorized got=%s", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newAPI(t)
	host := f.token(t, "user-1")
	id := f.createSession(t, host)

	rec := f.do(t, http.MethodGet, "/api/sessions/"+id.String(), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: want=%d got=%d", http.StatusOK, rec.Code)
	}
	got := decode[sessionBody](t, rec).Session
	if got.Host() != "user-1" || got.ReadingStep != types.StepSetup || !got.IsActive {
		t.Fatalf("created session: %+v", got)
	}

	if rec := f.do(t, http.MethodGet, "/api/sessions/not-a-uuid", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: want=%d got=%d", http.StatusBadRequest, rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/sessions/"+uuid.NewString(), "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id: want=%d got=%d", http.StatusNotFound, rec.Code)
	}

	if rec := f.do(t, http.MethodDelete, "/api/sessions/"+id.String(), f.token(t, "user-2"), nil); rec.Code != http.StatusForbidden {
		t.Fatalf("end by non-host: want=%d got=%d", http.StatusForbidden, rec.Code)
	}
	rec = f.do(t, http.MethodDelete, "/api/sessions/"+id.String(), host, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("end: want=%d got=%d body=%s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if decode[sessionBody](t, rec).Session.IsActive {
		t.Fatalf("ended session still active")
	}
}

func TestStreamUnknownSessionFailsBeforeStreaming(t *testing.T) {
	f := newAPI(t)
	rec := f.do(t, http.MethodGet, "/api/sessions/"+uuid.NewString()+"/stream?name=Ana", f.token(t, "user-1"), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("stream: want=%d got=%d", http.StatusNotFound, rec.Code)
	}
}

func TestUpdateStateThroughParticipant(t *testing.T) {
	f := newAPI(t)
	host := f.token(t, "user-1")
	id := f.createSession(t, host)
	live := f.join(t, id, "user-1", types.RoleHost)
	path := "/api/participants/" + live.ParticipantID().String() + "/state"

	rec := f.do(t, http.MethodPatch, path, host, map[string]any{"reading_step": "drawing", "question": "and tomorrow?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: want=%d got=%d body=%s", http.StatusOK, rec.Code, rec.Body.String())
	}
	body := decode[struct {
		Result collab.ApplyResult   `json:"result"`
		State  types.ReadingSession `json:"state"`
	}](t, rec)
	if body.Result.Delivery != collab.DeliveryPersisted {
		t.Fatalf("delivery: want=%s got=%s", collab.DeliveryPersisted, body.Result.Delivery)
	}
	if body.State.ReadingStep != types.StepDrawing || body.State.Question == nil || *body.State.Question != "and tomorrow?" {
		t.Fatalf("state: %+v", body.State)
	}

	if rec := f.do(t, http.MethodPatch, path, f.token(t, "user-2"), map[string]any{"question": "mine"}); rec.Code != http.StatusForbidden {
		t.Fatalf("foreign participant: want=%d got=%d", http.StatusForbidden, rec.Code)
	}
	if rec := f.do(t, http.MethodPatch, "/api/participants/"+uuid.NewString()+"/state", host, map[string]any{"question": "x"}); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown participant: want=%d got=%d", http.StatusNotFound, rec.Code)
	}
}

func TestHostTransferRoutes(t *testing.T) {
	f := newAPI(t)
	host := f.token(t, "user-1")
	id := f.createSession(t, host)
	hostLive := f.join(t, id, "user-1", types.RoleHost)
	guestLive := f.join(t, id, "user-2", types.RoleParticipant)
	hostPath := "/api/participants/" + hostLive.ParticipantID().String()

	rec := f.do(t, http.MethodPost, hostPath+"/host/transfer", host, map[string]any{"user_id": "user-9"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("absent target: want=%d got=%d", http.StatusBadRequest, rec.Code)
	}
	if got := decode[errorBody](t, rec).Error.Code; got != "validation" {
		t.Fatalf("absent target code: want=validation got=%s", got)
	}

	rec = f.do(t, http.MethodPost, hostPath+"/host/offer", host, map[string]any{"user_id": "user-2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("offer: want=%d got=%d body=%s", http.StatusOK, rec.Code, rec.Body.String())
	}
	guestPath := "/api/participants/" + guestLive.ParticipantID().String()
	rec = f.do(t, http.MethodPost, guestPath+"/host/accept", f.token(t, "user-2"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: want=%d got=%d body=%s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if !decode[struct {
		IsHost bool `json:"is_host"`
	}](t, rec).IsHost {
		t.Fatalf("accepting participant should be host")
	}

	rec = f.do(t, http.MethodPost, hostPath+"/host/transfer", host, map[string]any{"user_id": "user-2"})
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("transfer during cooldown: want=%d got=%d", http.StatusPreconditionFailed, rec.Code)
	}

	rec = f.do(t, http.MethodPost, hostPath+"/host/reclaim", host, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reclaim: want=%d got=%d body=%s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if !hostLive.IsHost() {
		t.Fatalf("original host should hold authority after reclaim")
	}
}

func TestPresenceViewportAndFollowRoutes(t *testing.T) {
	f := newAPI(t)
	host := f.token(t, "user-1")
	id := f.createSession(t, host)
	hostLive := f.join(t, id, "user-1", types.RoleHost)
	guestLive := f.join(t, id, "user-2", types.RoleParticipant)
	guest := f.token(t, "user-2")
	guestPath := "/api/participants/" + guestLive.ParticipantID().String()

	rec := f.do(t, http.MethodPost, guestPath+"/presence", guest, map[string]any{"cursor": map[string]float64{"x": 1, "y": 2}})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("presence: want=%d got=%d body=%s", http.StatusAccepted, rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, guestPath+"/presence", guest, nil); rec.Code != http.StatusOK {
		t.Fatalf("presence read: want=%d got=%d", http.StatusOK, rec.Code)
	}

	rec = f.do(t, http.MethodPost, guestPath+"/viewport", guest, map[string]any{"zoom_level": 2.5, "flush": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("viewport: want=%d got=%d body=%s", http.StatusOK, rec.Code, rec.Body.String())
	}
	view := decode[struct {
		View types.ViewState `json:"view"`
	}](t, rec).View
	if view.ZoomLevel != 2.5 {
		t.Fatalf("zoom: want=2.5 got=%v", view.ZoomLevel)
	}

	rec = f.do(t, http.MethodPost, guestPath+"/follow", guest, map[string]any{"participant_id": hostLive.ParticipantID()})
	if rec.Code != http.StatusOK {
		t.Fatalf("follow: want=%d got=%d body=%s", http.StatusOK, rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, guestPath+"/follow", guest, map[string]any{"participant_id": guestLive.ParticipantID()})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("follow self: want=%d got=%d", http.StatusBadRequest, rec.Code)
	}
	if rec := f.do(t, http.MethodPost, guestPath+"/follow", guest, map[string]any{"participant_id": nil}); rec.Code != http.StatusOK {
		t.Fatalf("unfollow: want=%d got=%d", http.StatusOK, rec.Code)
	}

	if rec := f.do(t, http.MethodPost, guestPath+"/leave", guest, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("leave: want=%d got=%d", http.StatusNoContent, rec.Code)
	}
	if rec := f.do(t, http.MethodGet, guestPath+"/presence", guest, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("presence after leave: want=%d got=%d", http.StatusNotFound, rec.Code)
	}
}
