package aggregates

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	domainagg "github.com/yungbote/tarotroom-backend/internal/domain/aggregates"
)

func TestMapError_Validation(t *testing.T) {
	err := MapError("op", ValidationError("bad input"))
	if !domainagg.IsCode(err, domainagg.CodeValidation) {
		t.Fatalf("expected validation code, got %q (%v)", domainagg.CodeOf(err), err)
	}
}

func TestMapError_Conflict(t *testing.T) {
	err := MapError("op", ConflictError("stale"))
	if !domainagg.IsCode(err, domainagg.CodeConflict) {
		t.Fatalf("expected conflict code, got %q (%v)", domainagg.CodeOf(err), err)
	}
}

func TestMapError_NotFound(t *testing.T) {
	err := MapError("op", gorm.ErrRecordNotFound)
	if !domainagg.IsCode(err, domainagg.CodeNotFound) {
		t.Fatalf("expected not_found code, got %q (%v)", domainagg.CodeOf(err), err)
	}
}

func TestMapError_PassthroughAggregateError(t *testing.T) {
	in := domainagg.NewError(domainagg.CodeRetryable, "op", "retry", errors.New("boom"))
	out := MapError("other", in)
	if out != in {
		t.Fatalf("expected passthrough aggregate error")
	}
}

func TestMapError_SQLiteUniqueConstraint(t *testing.T) {
	err := MapError("op", errors.New("UNIQUE constraint failed: session_participant.session_id"))
	if !domainagg.IsCode(err, domainagg.CodeConflict) {
		t.Fatalf("expected conflict code, got %q (%v)", domainagg.CodeOf(err), err)
	}
}

func TestMapError_KeepsSentinel(t *testing.T) {
	in := domainagg.Sentinel(domainagg.CodePreconditionFailed, "op", domainagg.ErrTransferCooldown)
	out := MapError("other", fmt.Errorf("tx: %w", in))
	if !errors.Is(out, domainagg.ErrTransferCooldown) {
		t.Fatalf("expected cooldown sentinel to survive mapping, got %v", out)
	}
	if !domainagg.IsCode(out, domainagg.CodePreconditionFailed) {
		t.Fatalf("expected precondition code, got %q", domainagg.CodeOf(out))
	}
}

func TestMapError_PostgresCodes(t *testing.T) {
	cases := map[string]domainagg.ErrorCode{
		"23505": domainagg.CodeConflict,
		"23503": domainagg.CodePreconditionFailed,
		"40P01": domainagg.CodeRetryable,
		"22001": domainagg.CodeInternal,
	}
	for sqlstate, want := range cases {
		err := MapError("op", fmt.Errorf("insert: %w", &pgconn.PgError{Code: sqlstate}))
		if got := domainagg.CodeOf(err); got != want {
			t.Fatalf("sqlstate %s: want=%s got=%s", sqlstate, want, got)
		}
	}
}

func TestMapError_SQLiteLocked(t *testing.T) {
	err := MapError("op", errors.New("database is locked (5) (SQLITE_BUSY)"))
	if !domainagg.IsCode(err, domainagg.CodeRetryable) {
		t.Fatalf("locked: want=retryable got=%s", domainagg.CodeOf(err))
	}
}
