package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
)

func SeedSession(tb testing.TB, ctx context.Context, tx *gorm.DB, hostUserID string) *types.ReadingSession {
	tb.Helper()
	now := time.Now().UTC()
	host := hostUserID
	orig := hostUserID
	s := &types.ReadingSession{
		ID:                  uuid.New(),
		HostUserID:          &host,
		OriginalHostUserID:  &orig,
		HostTransferHistory: datatypes.JSON([]byte("[]")),
		ReadingStep:         types.StepSetup,
		IsActive:            true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed session: %v", err)
	}
	return s
}

func SeedParticipant(tb testing.TB, ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, identity types.Identity, role types.Role) *types.Participant {
	tb.Helper()
	now := time.Now().UTC()
	p := &types.Participant{
		ID:        uuid.New(),
		SessionID: sessionID,
		Name:      "guest",
		Role:      role,
		IsActive:  true,
		JoinedAt:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if identity.UserID != "" {
		uid := identity.UserID
		p.UserID = &uid
	} else {
		aid := identity.AnonymousID
		p.AnonymousID = &aid
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed participant: %v", err)
	}
	return p
}
