package token

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token is the fungible-token collaborator boundary. The engine only ever
// calls through this interface; balance and allowance bookkeeping, permit
// (EIP-2612) and transfer-authorization (EIP-3009) validation all belong to
// the implementation behind it. Collaborator failures are propagated to the
// caller verbatim.
type Token interface {
	// Name returns the token's name.
	Name(ctx context.Context) (string, error)

	// Nonces returns the owner's current permit nonce.
	Nonces(ctx context.Context, owner common.Address) (*big.Int, error)

	// TransferFrom moves value from `from` to `to` against a standing
	// allowance for the engine.
	TransferFrom(ctx context.Context, from, to common.Address, value *big.Int) error

	// Permit sets an allowance from a signed off-chain approval. The token
	// validates signature and deadline itself.
	Permit(ctx context.Context, owner, spender common.Address, value, deadline *big.Int, signature []byte) error

	// TransferWithAuthorization executes a transfer authorized by a signed,
	// single-use authorization. The token validates signature, the
	// validAfter/validBefore window, and consumes its own nonce.
	TransferWithAuthorization(ctx context.Context, from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte, signature []byte) error

	// AuthorizationState reports whether the token-level authorization nonce
	// has been consumed.
	AuthorizationState(ctx context.Context, authorizer common.Address, nonce [32]byte) (bool, error)
}

// SplitSignature splits a 65-byte r||s||v signature into its components,
// normalizing v to 27/28 as token contracts expect.
func SplitSignature(signature []byte) (r, s [32]byte, v uint8, err error) {
	if len(signature) != 65 {
		return r, s, 0, fmt.Errorf("invalid signature length: expected 65 bytes, got %d", len(signature))
	}
	copy(r[:], signature[:32])
	copy(s[:], signature[32:64])
	v = signature[64]
	if v < 27 {
		v += 27
	}
	return r, s, v, nil
}
