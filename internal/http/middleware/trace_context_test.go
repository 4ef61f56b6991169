package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/tarotroom-backend/internal/observability"
	"github.com/yungbote/tarotroom-backend/internal/platform/ctxutil"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

func traceRouter(seen **ctxutil.TraceData) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext(), Metrics(nil), RequestLogger(logger.Nop()))
	r.GET("/api/sessions/:id", func(c *gin.Context) {
		*seen = ctxutil.GetTraceData(c.Request.Context())
		c.Status(http.StatusOK)
	})
	return r
}

func TestAttachTraceContextKeepsCallerIDs(t *testing.T) {
	var seen *ctxutil.TraceData
	r := traceRouter(&seen)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/abc", nil)
	req.Header.Set(headerRequestID, "req-1")
	req.Header.Set(headerTraceID, "trace-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if seen == nil || seen.RequestID != "req-1" || seen.TraceID != "trace-1" {
		t.Fatalf("trace data: got=%+v", seen)
	}
	if got := rec.Header().Get(headerRequestID); got != "req-1" {
		t.Fatalf("request id header: want=req-1 got=%q", got)
	}
}

func TestAttachTraceContextGeneratesIDs(t *testing.T) {
	var seen *ctxutil.TraceData
	r := traceRouter(&seen)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/abc", nil))

	if seen == nil || seen.RequestID == "" || seen.TraceID == "" {
		t.Fatalf("trace data: got=%+v", seen)
	}
	if rec.Header().Get(headerTraceID) != seen.TraceID {
		t.Fatalf("trace header: want=%s got=%s", seen.TraceID, rec.Header().Get(headerTraceID))
	}
}

func TestMetricsSkipsStreamLatency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := observability.New()
	r := gin.New()
	r.Use(Metrics(m))
	r.GET("/api/sessions/:id/stream", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/sessions/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/sessions/abc/stream", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/sessions/abc", nil))

	if got := m.APIRequestCount("GET", "/api/sessions/:id/stream", "200"); got != 0 {
		t.Fatalf("stream requests: want=0 got=%v", got)
	}
	if got := m.APIRequestCount("GET", "/api/sessions/:id", "200"); got != 1 {
		t.Fatalf("session requests: want=1 got=%v", got)
	}
}
