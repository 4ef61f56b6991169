package reading

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	"github.com/yungbote/tarotroom-backend/internal/platform/dbctx"
	"github.com/yungbote/tarotroom-backend/internal/platform/logger"
)

type ReadingSessionRepo interface {
	Create(dbc dbctx.Context, row *types.ReadingSession) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ReadingSession, error)
	// GetCritical loads everything but the bulk columns, for first paint.
	GetCritical(dbc dbctx.Context, id uuid.UUID) (*types.ReadingSession, error)
	GetBulk(dbc dbctx.Context, id uuid.UUID) (*types.BulkFields, error)
	// UpdateFields bumps version and updated_at alongside updates.
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]any) error
}

type readingSessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReadingSessionRepo(db *gorm.DB, baseLog *logger.Logger) ReadingSessionRepo {
	return &readingSessionRepo{
		db:  db,
		log: baseLog.With("repo", "ReadingSessionRepo"),
	}
}

func (r *readingSessionRepo) tx(dbc dbctx.Context) *gorm.DB {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx)
}

func (r *readingSessionRepo) Create(dbc dbctx.Context, row *types.ReadingSession) error {
	if row == nil {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = now
	}
	if row.ReadingStep == "" {
		row.ReadingStep = types.StepSetup
	}
	return r.tx(dbc).Create(row).Error
}

func (r *readingSessionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ReadingSession, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.ReadingSession
	if err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *readingSessionRepo) GetCritical(dbc dbctx.Context, id uuid.UUID) (*types.ReadingSession, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.ReadingSession
	if err := r.tx(dbc).Omit(types.BulkColumns...).Where("id = ?", id).Limit(1).Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *readingSessionRepo) GetBulk(dbc dbctx.Context, id uuid.UUID) (*types.BulkFields, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.ReadingSession
	if err := r.tx(dbc).
		Select("id", "version", "shuffled_deck", "interpretation").
		Where("id = ?", id).
		Limit(1).
		Find(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &types.BulkFields{
		ID:             row.ID,
		Version:        row.Version,
		ShuffledDeck:   row.ShuffledDeck,
		Interpretation: row.Interpretation,
	}, nil
}

func (r *readingSessionRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]any) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]any{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	updates["version"] = gorm.Expr("version + 1")
	return r.tx(dbc).
		Model(&types.ReadingSession{}).
		Where("id = ?", id).
		Updates(updates).Error
}
