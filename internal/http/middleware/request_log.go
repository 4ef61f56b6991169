package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/tarotroom-backend/internal/platform/ctxutil"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

// RequestLogger writes one line per request once it completes. Passing health
// probes are not logged.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		status := c.Writer.Status()
		if route == "/healthcheck" && status < 400 {
			return
		}
		if route == "" {
			route = c.Request.URL.Path
		}

		ctx := c.Request.Context()
		fields := []interface{}{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		fields = append(fields, ctxutil.GetTraceData(ctx).LogFields()...)
		fields = append(fields, ctxutil.GetRequestData(ctx).LogFields()...)
		for _, p := range []struct{ param, key string }{{"id", "session_id"}, {"pid", "participant_id"}} {
			if v := c.Param(p.param); v != "" {
				fields = append(fields, p.key, v)
			}
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
