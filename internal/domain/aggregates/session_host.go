// Package aggregates declares the write boundaries of a reading session whose
// invariants must hold atomically, and the coded errors they fail with.
package aggregates

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound         = errors.New("reading session not found")
	ErrSessionClosed           = errors.New("reading session is no longer active")
	ErrNotCurrentHost          = errors.New("caller is not the current host")
	ErrTransferTargetAnonymous = errors.New("transfer target must be an authenticated participant")
	ErrTransferTargetAbsent    = errors.New("transfer target is not present in the session")
	ErrTransferCooldown        = errors.New("transfer cooldown active")
	ErrNotOriginalHost         = errors.New("only the original host may reclaim the session")
	ErrHostConflict            = errors.New("host changed concurrently")
	ErrNoPendingOffer          = errors.New("no pending host offer for caller")
	ErrNotOfferParty           = errors.New("caller is not a party to the pending host offer")
)

// Transfer types recorded in host_transfer_history.
const (
	TransferManual         = "manual"
	TransferAutoReaderJoin = "auto_reader_join"
	TransferAutoReclaim    = "auto_reclaim"
)

// SessionHostAggregate owns host identity invariants of a reading session.
//
// Every write is a compare-and-set on reading_session.version inside one transaction;
// a lost race surfaces as CodeConflict wrapping ErrHostConflict.
type SessionHostAggregate interface {
	// TransferHost moves host authority to an authenticated participant who is present,
	// appending a history entry. Cooldown applies to manual and offer-accept transfers.
	TransferHost(ctx context.Context, in TransferHostInput) (SessionHostResult, error)

	// OfferHost records a pending offer, replacing any outstanding one.
	OfferHost(ctx context.Context, in OfferHostInput) (SessionHostResult, error)

	// RejectOffer clears the pending offer without changing the host.
	RejectOffer(ctx context.Context, in RejectOfferInput) (SessionHostResult, error)

	// ReclaimHost restores the original host, bypassing cooldown.
	ReclaimHost(ctx context.Context, in ReclaimHostInput) (SessionHostResult, error)

	// ClearPendingFor drops a pending offer naming UserID, used when that participant leaves.
	ClearPendingFor(ctx context.Context, in ClearPendingInput) (SessionHostResult, error)

	// EndSession soft-deletes the session. Host only.
	EndSession(ctx context.Context, in EndSessionInput) (SessionHostResult, error)
}

type TransferHostInput struct {
	SessionID    uuid.UUID
	CallerUserID string
	TargetUserID string
	Type         string
	Reason       string
	// ViaPendingOffer authorizes the caller through a pending offer naming them
	// instead of requiring the caller to be host.
	ViaPendingOffer bool
	Cooldown        time.Duration
	At              time.Time
}

type OfferHostInput struct {
	SessionID    uuid.UUID
	CallerUserID string
	TargetUserID string
	TTL          time.Duration
	At           time.Time
}

type RejectOfferInput struct {
	SessionID    uuid.UUID
	CallerUserID string
}

type ReclaimHostInput struct {
	SessionID    uuid.UUID
	CallerUserID string
	Reason       string
	At           time.Time
	MaxAttempts  int
}

type ClearPendingInput struct {
	SessionID uuid.UUID
	UserID    string
}

type EndSessionInput struct {
	SessionID    uuid.UUID
	CallerUserID string
	At           time.Time
}

type SessionHostResult struct {
	SessionID  uuid.UUID
	HostUserID string
	Version    int
	Changed    bool
}
