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

type ParticipantRepo interface {
	// Activate inserts the participant or reactivates the existing row for the same identity.
	Activate(dbc dbctx.Context, p *types.Participant) (*types.Participant, error)
	Deactivate(dbc dbctx.Context, id uuid.UUID, at time.Time) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Participant, error)
	ListActive(dbc dbctx.Context, sessionID uuid.UUID) ([]*types.Participant, error)
	FindActive(dbc dbctx.Context, sessionID uuid.UUID, identity types.Identity) (*types.Participant, error)
	// FindActiveByAnyID matches id against both user_id and anonymous_id.
	FindActiveByAnyID(dbc dbctx.Context, sessionID uuid.UUID, id string) (*types.Participant, error)
}

type participantRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewParticipantRepo(db *gorm.DB, baseLog *logger.Logger) ParticipantRepo {
	return &participantRepo{
		db:  db,
		log: baseLog.With("repo", "ParticipantRepo"),
	}
}

func (r *participantRepo) tx(dbc dbctx.Context) *gorm.DB {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx)
}

func (r *participantRepo) Activate(dbc dbctx.Context, p *types.Participant) (*types.Participant, error) {
	if p == nil || p.SessionID == uuid.Nil {
		return nil, nil
	}
	now := time.Now().UTC()
	row := *p
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	row.IsActive = true
	row.LeftAt = nil
	if row.JoinedAt.IsZero() {
		row.JoinedAt = now
	}
	row.CreatedAt = now
	row.UpdatedAt = now

	conflictCols := []clause.Column{{Name: "session_id"}, {Name: "user_id"}}
	if row.UserID == nil {
		conflictCols = []clause.Column{{Name: "session_id"}, {Name: "anonymous_id"}}
	}
	if err := r.tx(dbc).
		Clauses(clause.OnConflict{
			Columns:   conflictCols,
			DoUpdates: clause.AssignmentColumns([]string{"name", "role", "is_active", "joined_at", "left_at", "updated_at"}),
		}).
		Create(&row).Error; err != nil {
		return nil, err
	}
	return r.FindActive(dbc, row.SessionID, row.Identity())
}

func (r *participantRepo) Deactivate(dbc dbctx.Context, id uuid.UUID, at time.Time) error {
	if id == uuid.Nil {
		return nil
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return r.tx(dbc).
		Model(&types.Participant{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_active":  false,
			"left_at":    at,
			"updated_at": at,
		}).Error
}

func (r *participantRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Participant, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.Participant
	if err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *participantRepo) ListActive(dbc dbctx.Context, sessionID uuid.UUID) ([]*types.Participant, error) {
	var out []*types.Participant
	if sessionID == uuid.Nil {
		return out, nil
	}
	if err := r.tx(dbc).
		Where("session_id = ? AND is_active = ?", sessionID, true).
		Order("joined_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *participantRepo) FindActive(dbc dbctx.Context, sessionID uuid.UUID, identity types.Identity) (*types.Participant, error) {
	if sessionID == uuid.Nil || identity.IsZero() {
		return nil, nil
	}
	q := r.tx(dbc).Where("session_id = ? AND is_active = ?", sessionID, true)
	if identity.UserID != "" {
		q = q.Where("user_id = ?", identity.UserID)
	} else {
		q = q.Where("anonymous_id = ?", identity.AnonymousID)
	}
	var row types.Participant
	if err := q.Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *participantRepo) FindActiveByAnyID(dbc dbctx.Context, sessionID uuid.UUID, id string) (*types.Participant, error) {
	if sessionID == uuid.Nil || id == "" {
		return nil, nil
	}
	var row types.Participant
	if err := r.tx(dbc).
		Where("session_id = ? AND is_active = ?", sessionID, true).
		Where("user_id = ? OR anonymous_id = ?", id, id).
		Limit(1).
		Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}
