package aggregates

import (
	"gorm.io/gorm"

	domainagg "github.com/yungbote/tarotroom-backend/internal/domain/aggregates"
	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
	"github.com/yungbote/tarotroom-backend/internal/platform/dbctx"
)

// advanceVersion writes updates to row only while the stored version still
// equals row.Version, and moves the version forward by one in the same
// statement. row itself is not modified. A lost race is ErrHostConflict.
func advanceVersion(dbc dbctx.Context, db *gorm.DB, op string, row *types.ReadingSession, updates map[string]any) error {
	q := dbc.Tx
	if q == nil {
		q = db
	}
	if q == nil {
		return InvariantError("no database handle for versioned write")
	}
	cols := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		cols[k] = v
	}
	cols["version"] = row.Version + 1

	res := q.WithContext(dbc.Ctx).
		Model(&types.ReadingSession{}).
		Where("id = ? AND version = ?", row.ID, row.Version).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainagg.Sentinel(domainagg.CodeConflict, op, domainagg.ErrHostConflict)
	}
	return nil
}
