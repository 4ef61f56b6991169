package reading

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	"github.com/yungbote/tarotroom-backend/internal/platform/dbctx"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

type ViewportRepo interface {
	Upsert(dbc dbctx.Context, row *types.ParticipantViewport) error
	Get(dbc dbctx.Context, sessionID, participantID uuid.UUID) (*types.ParticipantViewport, error)
}

type viewportRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewViewportRepo(db *gorm.DB, baseLog *logger.Logger) ViewportRepo {
	return &viewportRepo{
		db:  db,
		log: baseLog.With("repo", "ViewportRepo"),
	}
}

func (r *viewportRepo) Upsert(dbc dbctx.Context, row *types.ParticipantViewport) error {
	if row == nil || row.SessionID == uuid.Nil || row.ParticipantID == uuid.Nil {
		return nil
	}
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	return t.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}, {Name: "participant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"pan_x", "pan_y", "zoom_level", "focus_x", "focus_y", "updated_at"}),
		}).
		Create(row).Error
}

func (r *viewportRepo) Get(dbc dbctx.Context, sessionID, participantID uuid.UUID) (*types.ParticipantViewport, error) {
	if sessionID == uuid.Nil || participantID == uuid.Nil {
		return nil, nil
	}
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var row types.ParticipantViewport
	if err := t.WithContext(dbc.Ctx).
		Where("session_id = ? AND participant_id = ?", sessionID, participantID).
		Limit(1).
		Find(&row).Error; err != nil {
		return nil, err
	}
	if row.SessionID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}
