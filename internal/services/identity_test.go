package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yungbote/tarotroom-backend/internal/platform/ctxutil"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

func TestIdentityFromToken(t *testing.T) {
	is := NewIdentityService(logger.Nop(), "secret")
	token, err := is.IssueToken("user-42", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	ctx, err := is.SetContextFromRequest(context.Background(), token, "anon-ignored")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	id, err := IdentityFromContext(ctx)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if id.UserID != "user-42" || id.AnonymousID != "" {
		t.Fatalf("identity: got=%+v", id)
	}
	if rd := ctxutil.GetRequestData(ctx); rd.TokenString != token {
		t.Fatalf("token kept in request data")
	}
}

func TestIdentityRejectsBadTokens(t *testing.T) {
	is := NewIdentityService(logger.Nop(), "secret")
	other := NewIdentityService(logger.Nop(), "other-secret")
	forged, _ := other.IssueToken("user-42", time.Hour)
	expired, _ := is.IssueToken("user-42", -time.Minute)
	none := jwt.NewWithClaims(jwt.SigningMethodNone, JWTClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-42"}})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, token := range map[string]string{"forged": forged, "expired": expired, "none": unsigned, "garbage": "abc.def"} {
		if _, err := is.SetContextFromRequest(context.Background(), token, ""); err == nil {
			t.Fatalf("%s token: want error", name)
		}
	}
}

func TestAnonymousIdentity(t *testing.T) {
	is := NewIdentityService(logger.Nop(), "secret")
	ctx, err := is.SetContextFromRequest(context.Background(), "", " anon-7 ")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	id, _ := IdentityFromContext(ctx)
	if !id.IsAnonymous() || id.AnonymousID != "anon-7" {
		t.Fatalf("given anonymous id: got=%+v", id)
	}

	ctx, _ = is.SetContextFromRequest(context.Background(), "", "")
	id, _ = IdentityFromContext(ctx)
	if !strings.HasPrefix(id.AnonymousID, anonymousPrefix) || len(id.AnonymousID) <= len(anonymousPrefix) {
		t.Fatalf("generated anonymous id: got=%q", id.AnonymousID)
	}

	if _, err := IdentityFromContext(context.Background()); err == nil {
		t.Fatalf("missing identity: want error")
	}
}
