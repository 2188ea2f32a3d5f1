package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Failures shared by all ledger implementations.
var (
	// ErrAuthorizationAlreadyUsed is the canonical replay-protection
	// rejection: the (signer, nonce) pair was already consumed or is held by
	// an in-flight reservation.
	ErrAuthorizationAlreadyUsed = errors.New("authorization already used")

	// ErrClosed is returned by operations after Close.
	ErrClosed = errors.New("authorization ledger is closed")
)

// Reservation is a staged consumption of a (signer, nonce) pair. The pair is
// unavailable to other reservations from the moment Reserve returns until the
// reservation is resolved. Commit makes the consumption durable; Rollback
// releases the pair when a downstream step fails, so a failed operation never
// burns a nonce.
//
// Exactly one of Commit or Rollback must be called, once.
type Reservation interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context)
}

// Ledger is the replay-protection store: a per-signer set of consumed nonces.
// A pair transitions at most once, from unconsumed to consumed, and is never
// reset. Implementations must be safe for concurrent use; serialization of
// competing submissions for the same pair happens per key, inside Reserve.
//
// The interface supports:
// - Public queryability (IsConsumed, usable by anyone at any time)
// - Two-phase consumption (Reserve, then Commit or Rollback) so consumption
//   stays atomic with the action it authorizes
// - Lifecycle management (Close, HealthCheck)
type Ledger interface {
	// IsConsumed reports whether the pair has been durably consumed.
	// Returns error only on storage failure.
	IsConsumed(ctx context.Context, signer common.Address, nonce [32]byte) (bool, error)

	// Reserve stages consumption of the pair. Fails with
	// ErrAuthorizationAlreadyUsed if the pair is consumed or already
	// reserved; whichever competing submission is sequenced first wins.
	Reserve(ctx context.Context, signer common.Address, nonce [32]byte) (Reservation, error)

	// Close cleanly shuts down the ledger. Idempotent.
	Close() error

	// HealthCheck verifies the ledger is operational.
	HealthCheck() error
}

// Key renders the canonical storage key for a (signer, nonce) pair.
func Key(signer common.Address, nonce [32]byte) string {
	return fmt.Sprintf("%s:%s", signer.Hex(), common.Hash(nonce).Hex())
}
