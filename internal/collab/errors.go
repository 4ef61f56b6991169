package collab

import (
	"errors"

	domainagg "github.com/yungbote/tarotroom-backend/internal/domain/aggregates"
)

// Host-authority errors are shared with the host aggregate so errors.Is matches
// whether a check failed locally or against the stored row.
var (
	ErrSessionNotFound         = domainagg.ErrSessionNotFound
	ErrSessionEnded            = domainagg.ErrSessionClosed
	ErrNotHost                 = domainagg.ErrNotCurrentHost
	ErrTransferTargetAnonymous = domainagg.ErrTransferTargetAnonymous
	ErrTransferTargetAbsent    = domainagg.ErrTransferTargetAbsent
	ErrTransferCooldown        = domainagg.ErrTransferCooldown
	ErrNotOriginalHost         = domainagg.ErrNotOriginalHost
	ErrHostConflict            = domainagg.ErrHostConflict
)

var (
	// ErrWritePermission means the caller has no durable-write capability for the
	// session. ApplyUpdate recovers from it through the broadcast relay.
	ErrWritePermission = errors.New("caller lacks durable write permission")

	// ErrSessionClosed is returned by every Session operation after Leave.
	ErrSessionClosed = errors.New("participant session closed")
)

func forbidden(op string, err error) error {
	return domainagg.Sentinel(domainagg.CodeForbidden, op, err)
}

func closed(op string) error {
	return domainagg.Sentinel(domainagg.CodePreconditionFailed, op, ErrSessionClosed)
}

func invalid(op, msg string) error {
	return domainagg.NewError(domainagg.CodeValidation, op, msg, nil)
}
