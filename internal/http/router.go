package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/tarotroom-backend/internal/http/handlers"
	httpMW "github.com/yungbote/tarotroom-backend/internal/http/middleware"
	"github.com/yungbote/tarotroom-backend/internal/observability"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	CORSOrigins []string
	ServiceName string

	IdentityMiddleware *httpMW.IdentityMiddleware
	SessionHandler     *httpH.SessionHandler
	HealthHandler      *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.CORS(cfg.CORSOrigins...))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.RequestLogger(cfg.Log))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	if cfg.IdentityMiddleware != nil {
		api.Use(cfg.IdentityMiddleware.ResolveIdentity())
	}

	if h := cfg.SessionHandler; h != nil {
		// Sessions
		api.POST("/sessions", h.CreateSession)
		api.GET("/sessions/:id", h.GetSession)
		api.DELETE("/sessions/:id", h.EndSession)
		api.GET("/sessions/:id/stream", h.Stream)

		// Participants
		p := api.Group("/participants/:pid")
		p.POST("/leave", h.Leave)
		p.PATCH("/state", h.UpdateState)

		p.POST("/host/transfer", h.TransferHost)
		p.POST("/host/offer", h.OfferHost)
		p.POST("/host/accept", h.AcceptHost)
		p.POST("/host/reject", h.RejectHost)
		p.POST("/host/reclaim", h.ReclaimHost)

		p.GET("/presence", h.GetPresence)
		p.POST("/presence", h.UpdatePresence)
		p.POST("/viewport", h.UpdateViewport)
		p.POST("/follow", h.Follow)
	}

	return r
}
