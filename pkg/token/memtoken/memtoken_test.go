package memtoken

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testContract = common.HexToAddress("0x00000000000000000000000000000000000000AA")

func newTestToken() *MemToken {
	return NewMemToken("TestUSD", big.NewInt(31337), testContract)
}

func newKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func sign(t *testing.T, key *ecdsa.PrivateKey, digest [32]byte) []byte {
	t.Helper()
	sig, err := crypto.Sign(digest[:], key)
	require.NoError(t, err)
	return sig
}

func TestTransferFrom_DebitsEngineAllowance(t *testing.T) {
	ctx := context.Background()
	tok := newTestToken()

	_, holder := newKey(t)
	_, recipient := newKey(t)
	engine := common.HexToAddress("0xE0")
	tok.SetEngineSpender(engine)

	tok.Mint(holder, big.NewInt(100))
	tok.Approve(holder, engine, big.NewInt(60))

	require.NoError(t, tok.TransferFrom(ctx, holder, recipient, big.NewInt(40)))

	assert.Equal(t, big.NewInt(60), tok.BalanceOf(holder))
	assert.Equal(t, big.NewInt(40), tok.BalanceOf(recipient))
	assert.Equal(t, big.NewInt(20), tok.Allowance(holder, engine))

	// Remaining allowance is 20, so 30 must fail.
	err := tok.TransferFrom(ctx, holder, recipient, big.NewInt(30))
	require.ErrorContains(t, err, "exceeds allowance")
}

func TestTransferFrom_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	tok := newTestToken()

	_, holder := newKey(t)
	_, recipient := newKey(t)
	engine := common.HexToAddress("0xE0")
	tok.SetEngineSpender(engine)

	tok.Mint(holder, big.NewInt(10))
	tok.Approve(holder, engine, big.NewInt(100))

	err := tok.TransferFrom(ctx, holder, recipient, big.NewInt(50))
	require.ErrorContains(t, err, "exceeds balance")
}

func TestPermit_SetsAllowanceAndBumpsNonce(t *testing.T) {
	ctx := context.Background()
	tok := newTestToken()

	ownerKey, owner := newKey(t)
	spender := common.HexToAddress("0xE0")

	value := big.NewInt(75)
	deadline := big.NewInt(time.Now().Add(time.Hour).Unix())

	nonce, err := tok.Nonces(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), nonce)

	digest := PermitDigest(tok.DomainSeparator(), owner, spender, value, nonce, deadline)
	require.NoError(t, tok.Permit(ctx, owner, spender, value, deadline, sign(t, ownerKey, digest)))

	assert.Equal(t, value, tok.Allowance(owner, spender))

	nonce, err = tok.Nonces(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), nonce)

	// Replaying the same permit fails because the nonce moved on.
	err = tok.Permit(ctx, owner, spender, value, deadline, sign(t, ownerKey, digest))
	require.ErrorContains(t, err, "invalid permit signature")
}

func TestPermit_Expired(t *testing.T) {
	ctx := context.Background()
	tok := newTestToken()
	tok.SetNow(func() time.Time { return time.Unix(1_000_000, 0) })

	ownerKey, owner := newKey(t)
	spender := common.HexToAddress("0xE0")

	value := big.NewInt(1)
	deadline := big.NewInt(999_999)

	digest := PermitDigest(tok.DomainSeparator(), owner, spender, value, big.NewInt(0), deadline)
	err := tok.Permit(ctx, owner, spender, value, deadline, sign(t, ownerKey, digest))
	require.ErrorContains(t, err, "expired")
}

func TestPermit_WrongSigner(t *testing.T) {
	ctx := context.Background()
	tok := newTestToken()

	_, owner := newKey(t)
	mallory, _ := newKey(t)
	spender := common.HexToAddress("0xE0")

	value := big.NewInt(1)
	deadline := big.NewInt(time.Now().Add(time.Hour).Unix())

	digest := PermitDigest(tok.DomainSeparator(), owner, spender, value, big.NewInt(0), deadline)
	err := tok.Permit(ctx, owner, spender, value, deadline, sign(t, mallory, digest))
	require.ErrorContains(t, err, "invalid permit signature")
}

func TestTransferWithAuthorization_MovesFundsOnce(t *testing.T) {
	ctx := context.Background()
	tok := newTestToken()

	fromKey, from := newKey(t)
	_, to := newKey(t)
	tok.Mint(from, big.NewInt(100))

	value := big.NewInt(30)
	validAfter := big.NewInt(0)
	validBefore := big.NewInt(time.Now().Add(time.Hour).Unix())
	var nonce [32]byte
	nonce[31] = 7

	used, err := tok.AuthorizationState(ctx, from, nonce)
	require.NoError(t, err)
	assert.False(t, used)

	digest := TransferAuthorizationDigest(tok.DomainSeparator(), from, to, value, validAfter, validBefore, nonce)
	sig := sign(t, fromKey, digest)

	require.NoError(t, tok.TransferWithAuthorization(ctx, from, to, value, validAfter, validBefore, nonce, sig))
	assert.Equal(t, big.NewInt(70), tok.BalanceOf(from))
	assert.Equal(t, big.NewInt(30), tok.BalanceOf(to))

	used, err = tok.AuthorizationState(ctx, from, nonce)
	require.NoError(t, err)
	assert.True(t, used)

	// Same authorization again is a replay.
	err = tok.TransferWithAuthorization(ctx, from, to, value, validAfter, validBefore, nonce, sig)
	require.ErrorContains(t, err, "used or canceled")
}

func TestTransferWithAuthorization_ValidityWindow(t *testing.T) {
	ctx := context.Background()
	tok := newTestToken()
	tok.SetNow(func() time.Time { return time.Unix(1_000_000, 0) })

	fromKey, from := newKey(t)
	_, to := newKey(t)
	tok.Mint(from, big.NewInt(100))

	value := big.NewInt(1)
	var nonce [32]byte

	// Not yet valid.
	validAfter := big.NewInt(1_000_000)
	validBefore := big.NewInt(2_000_000)
	digest := TransferAuthorizationDigest(tok.DomainSeparator(), from, to, value, validAfter, validBefore, nonce)
	err := tok.TransferWithAuthorization(ctx, from, to, value, validAfter, validBefore, nonce, sign(t, fromKey, digest))
	require.ErrorContains(t, err, "not yet valid")

	// Expired.
	validAfter = big.NewInt(0)
	validBefore = big.NewInt(1_000_000)
	digest = TransferAuthorizationDigest(tok.DomainSeparator(), from, to, value, validAfter, validBefore, nonce)
	err = tok.TransferWithAuthorization(ctx, from, to, value, validAfter, validBefore, nonce, sign(t, fromKey, digest))
	require.ErrorContains(t, err, "expired")
}

func TestTransferWithAuthorization_WrongSigner(t *testing.T) {
	ctx := context.Background()
	tok := newTestToken()

	_, from := newKey(t)
	malloryKey, _ := newKey(t)
	_, to := newKey(t)
	tok.Mint(from, big.NewInt(100))

	value := big.NewInt(1)
	validAfter := big.NewInt(0)
	validBefore := big.NewInt(time.Now().Add(time.Hour).Unix())
	var nonce [32]byte

	digest := TransferAuthorizationDigest(tok.DomainSeparator(), from, to, value, validAfter, validBefore, nonce)
	err := tok.TransferWithAuthorization(ctx, from, to, value, validAfter, validBefore, nonce, sign(t, malloryKey, digest))
	require.ErrorContains(t, err, "invalid authorization signature")
}

func TestDomainSeparator_StableAndUnique(t *testing.T) {
	a := NewMemToken("TestUSD", big.NewInt(31337), testContract)
	b := NewMemToken("TestUSD", big.NewInt(31337), testContract)
	require.Equal(t, a.DomainSeparator(), b.DomainSeparator())

	other := NewMemToken("OtherUSD", big.NewInt(31337), testContract)
	require.NotEqual(t, a.DomainSeparator(), other.DomainSeparator())
}
