package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/tarotroom-backend/internal/data/repos/reading"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

type ReadingSessionRepo = reading.ReadingSessionRepo
type ParticipantRepo = reading.ParticipantRepo
type ViewportRepo = reading.ViewportRepo

func NewReadingSessionRepo(db *gorm.DB, log *logger.Logger) ReadingSessionRepo {
	return reading.NewReadingSessionRepo(db, log)
}

func NewParticipantRepo(db *gorm.DB, log *logger.Logger) ParticipantRepo {
	return reading.NewParticipantRepo(db, log)
}

func NewViewportRepo(db *gorm.DB, log *logger.Logger) ViewportRepo {
	return reading.NewViewportRepo(db, log)
}
