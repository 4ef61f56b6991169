package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/tarotroom-backend/internal/http/response"
	"github.com/yungbote/tarotroom-backend/internal/platform/ctxutil"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
	"github.com/yungbote/tarotroom-backend/internal/services"
)

const headerAnonymousID = "X-Anonymous-Id"

type IdentityMiddleware struct {
	log      *logger.Logger
	identity services.IdentityService
}

func NewIdentityMiddleware(log *logger.Logger, identity services.IdentityService) *IdentityMiddleware {
	return &IdentityMiddleware{log: log.With("middleware", "IdentityMiddleware"), identity: identity}
}

// ResolveIdentity attaches the caller to the request. EventSource cannot send
// headers, so the stream endpoint passes the token and anonymous id as query
// parameters instead.
func (im *IdentityMiddleware) ResolveIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		anon := strings.TrimSpace(c.GetHeader(headerAnonymousID))
		if anon == "" {
			anon = strings.TrimSpace(c.Query("anonymous_id"))
		}
		ctx, err := im.identity.SetContextFromRequest(c.Request.Context(), token, anon)
		if err != nil {
			im.log.Debug("identity rejected", "path", c.Request.URL.Path, "error", err)
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", err)
			c.Abort()
			return
		}
		c.Request = c.Request.WithContext(ctx)
		if rd := ctxutil.GetRequestData(ctx); rd != nil && rd.AnonymousID != "" {
			c.Writer.Header().Set(headerAnonymousID, rd.AnonymousID)
		}
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	if h := strings.TrimSpace(c.GetHeader("Authorization")); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	return strings.TrimSpace(c.Query("token"))
}
