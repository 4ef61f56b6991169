package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/tarotroom-backend/internal/data/repos"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

type Repos struct {
	Sessions     repos.ReadingSessionRepo
	Participants repos.ParticipantRepo
	Viewports    repos.ViewportRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Sessions:     repos.NewReadingSessionRepo(db, log),
		Participants: repos.NewParticipantRepo(db, log),
		Viewports:    repos.NewViewportRepo(db, log),
	}
}
