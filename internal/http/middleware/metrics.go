package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/tarotroom-backend/internal/observability"
)

// Metrics records request counts and latency per route. Event streams stay open
// for the life of a participant, so they count toward inflight only.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.ApiInflightInc()
		defer m.ApiInflightDec()
		if strings.HasSuffix(route, "/stream") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		m.ObserveAPI(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
