package testutil

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/recibo-network/recibo-go/pkg/token"
	"github.com/recibo-network/recibo-go/pkg/token/memtoken"
	"github.com/recibo-network/recibo-go/pkg/typeddata"
	"github.com/recibo-network/recibo-go/pkg/types"
)

// Account is a funded test identity.
type Account struct {
	Key     *ecdsa.PrivateKey
	Address common.Address
}

// NewAccount generates a fresh secp256k1 keypair.
func NewAccount(t *testing.T) *Account {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return &Account{
		Key:     key,
		Address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// TestDomain returns a typed-data domain for tests.
func TestDomain(verifyingContract common.Address) typeddata.Domain {
	return typeddata.Domain{
		Name:              "Recibo",
		Version:           "1",
		ChainID:           big.NewInt(31337),
		VerifyingContract: verifyingContract,
	}
}

// NewRecord builds a record attributed to from, addressed to to.
func NewRecord(from, to common.Address, message string) *types.ReciboInfo {
	return &types.ReciboInfo{
		MessageFrom: from,
		MessageTo:   to,
		Metadata:    `{"encryption":"none"}`,
		Message:     []byte(message),
	}
}

// SignRecord fills the record's signature over the domain digest using the
// signer's key. The nonce must already be set.
func SignRecord(t *testing.T, signer *Account, domain typeddata.Domain, record *types.ReciboInfo) {
	t.Helper()

	digest := typeddata.Digest(domain, record)
	sig, err := crypto.Sign(digest[:], signer.Key)
	require.NoError(t, err)
	record.Signature = sig
}

// SignPermit produces a permit signature accepted by MemToken.
func SignPermit(t *testing.T, signer *Account, separator [32]byte, owner, spender common.Address, value, nonce, deadline *big.Int) []byte {
	t.Helper()

	digest := memtoken.PermitDigest(separator, owner, spender, value, nonce, deadline)
	sig, err := crypto.Sign(digest[:], signer.Key)
	require.NoError(t, err)
	return sig
}

// SignTransferAuthorization produces a transfer authorization signature
// accepted by MemToken.
func SignTransferAuthorization(t *testing.T, signer *Account, separator [32]byte, from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte) []byte {
	t.Helper()

	digest := memtoken.TransferAuthorizationDigest(separator, from, to, value, validAfter, validBefore, nonce)
	sig, err := crypto.Sign(digest[:], signer.Key)
	require.NoError(t, err)
	return sig
}

// FailingToken wraps a token.Token and fails every mutating call with Err.
// Used to verify that collaborator failures leave no engine state behind.
type FailingToken struct {
	token.Token
	Err error
}

func (f *FailingToken) TransferFrom(ctx context.Context, from, to common.Address, value *big.Int) error {
	return f.Err
}

func (f *FailingToken) Permit(ctx context.Context, owner, spender common.Address, value, deadline *big.Int, signature []byte) error {
	return f.Err
}

func (f *FailingToken) TransferWithAuthorization(ctx context.Context, from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte, signature []byte) error {
	return f.Err
}
