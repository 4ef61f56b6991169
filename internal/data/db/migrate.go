package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/tarotroom-backend/internal/domain/session"
)

// AutoMigrateAll creates the reading session tables and the indexes gorm tags
// cannot express. Both statements are valid on postgres and sqlite.
func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&session.ReadingSession{},
		&session.Participant{},
		&session.ParticipantViewport{},
	); err != nil {
		return err
	}
	return EnsureSessionIndexes(db)
}

var sessionIndexes = []struct {
	name string
	sql  string
}{
	// Roster loads and the reader-join check scan active participants of one session.
	{"idx_session_participant_active", `
		CREATE INDEX IF NOT EXISTS idx_session_participant_active
		ON session_participant (session_id, joined_at)
		WHERE is_active`},
	// Viewport fetches for a following participant.
	{"idx_participant_viewport_session", `
		CREATE INDEX IF NOT EXISTS idx_participant_viewport_session
		ON participant_viewport (session_id, updated_at)`},
}

func EnsureSessionIndexes(db *gorm.DB) error {
	for _, idx := range sessionIndexes {
		if err := db.Exec(idx.sql).Error; err != nil {
			return fmt.Errorf("create %s: %w", idx.name, err)
		}
	}
	return nil
}
