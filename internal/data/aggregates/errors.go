package aggregates

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	domainagg "github.com/yungbote/tarotroom-backend/internal/domain/aggregates"
)

// codedError is raised inside a write transaction when the failure class is
// known but no sentinel exists for it.
type codedError struct {
	code domainagg.ErrorCode
	msg  string
}

func (e *codedError) Error() string { return e.msg }

func coded(code domainagg.ErrorCode, msg string) error {
	return &codedError{code: code, msg: strings.TrimSpace(msg)}
}

func ValidationError(msg string) error { return coded(domainagg.CodeValidation, msg) }
func InvariantError(msg string) error  { return coded(domainagg.CodeInvariantViolation, msg) }
func ConflictError(msg string) error   { return coded(domainagg.CodeConflict, msg) }
func RetryableError(msg string) error  { return coded(domainagg.CodeRetryable, msg) }

// SQLSTATE classes seen from postgres during session writes.
var pgCodes = map[string]domainagg.ErrorCode{
	"23505": domainagg.CodeConflict,           // unique_violation
	"23503": domainagg.CodePreconditionFailed, // foreign_key_violation
	"40001": domainagg.CodeRetryable,          // serialization_failure
	"40P01": domainagg.CodeRetryable,          // deadlock_detected
	"55P03": domainagg.CodeRetryable,          // lock_not_available
}

// Driver messages without a typed error, mostly sqlite.
var messageCodes = []struct {
	fragment string
	code     domainagg.ErrorCode
}{
	{"unique constraint failed", domainagg.CodeConflict},
	{"duplicate key", domainagg.CodeConflict},
	{"foreign key constraint failed", domainagg.CodePreconditionFailed},
	{"database is locked", domainagg.CodeRetryable},
	{"database table is locked", domainagg.CodeRetryable},
	{"deadlock", domainagg.CodeRetryable},
	{"could not serialize", domainagg.CodeRetryable},
	{"timeout", domainagg.CodeRetryable},
}

// MapError gives err an aggregate code. Errors that already carry one pass
// through untouched.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if domainagg.CodeOf(err) != "" {
		return err
	}
	return domainagg.Wrap(classify(err), op, err)
}

func classify(err error) domainagg.ErrorCode {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domainagg.CodeNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domainagg.CodeRetryable
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if code, ok := pgCodes[strings.TrimSpace(pgErr.Code)]; ok {
			return code
		}
	}
	msg := strings.ToLower(err.Error())
	for _, m := range messageCodes {
		if strings.Contains(msg, m.fragment) {
			return m.code
		}
	}
	return domainagg.CodeInternal
}
