package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	domainagg "github.com/yungbote/tarotroom-backend/internal/domain/aggregates"
	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	"github.com/yungbote/tarotroom-backend/internal/platform/ctxutil"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

const anonymousPrefix = "anon-"

type JWTClaims struct {
	jwt.RegisteredClaims
}

// IdentityService resolves the caller of a request. Authenticated callers carry
// an HS256 JWT whose subject is their user id; everyone else is an anonymous
// guest identified by a client-held id.
type IdentityService interface {
	SetContextFromRequest(ctx context.Context, tokenString, anonymousID string) (context.Context, error)
	IssueToken(userID string, ttl time.Duration) (string, error)
}

type identityService struct {
	log          *logger.Logger
	jwtSecretKey string
}

func NewIdentityService(log *logger.Logger, jwtSecretKey string) IdentityService {
	return &identityService{
		log:          log.With("service", "IdentityService"),
		jwtSecretKey: jwtSecretKey,
	}
}

// SetContextFromRequest stores the resolved identity as request data. A present
// but invalid token is an error; it never falls back to anonymous. Without a
// token the given anonymous id is used, or a fresh one is generated.
func (is *identityService) SetContextFromRequest(ctx context.Context, tokenString, anonymousID string) (context.Context, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString != "" {
		userID, err := is.parse(tokenString)
		if err != nil {
			return ctx, err
		}
		return ctxutil.WithRequestData(ctx, &ctxutil.RequestData{TokenString: tokenString, UserID: userID}), nil
	}
	anonymousID = strings.TrimSpace(anonymousID)
	if anonymousID == "" {
		anonymousID = anonymousPrefix + uuid.NewString()
	}
	return ctxutil.WithRequestData(ctx, &ctxutil.RequestData{AnonymousID: anonymousID}), nil
}

func (is *identityService) parse(tokenString string) (string, error) {
	if is.jwtSecretKey == "" {
		return "", fmt.Errorf("token auth is not configured")
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(is.jwtSecretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*JWTClaims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("invalid or expired token")
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" || strings.HasPrefix(sub, anonymousPrefix) {
		return "", fmt.Errorf("invalid token subject")
	}
	return sub, nil
}

func (is *identityService) IssueToken(userID string, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("user id required")
	}
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(is.jwtSecretKey))
}

// IdentityFromContext returns the caller stored by SetContextFromRequest.
func IdentityFromContext(ctx context.Context) (types.Identity, error) {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil {
		return types.Identity{}, domainagg.NewError(domainagg.CodeForbidden, "services.IdentityFromContext", "request identity not set", nil)
	}
	id := types.Identity{UserID: rd.UserID, AnonymousID: rd.AnonymousID}
	if id.IsZero() {
		return types.Identity{}, domainagg.NewError(domainagg.CodeForbidden, "services.IdentityFromContext", "request identity not set", nil)
	}
	return id, nil
}
