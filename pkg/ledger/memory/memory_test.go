package memory

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recibo-network/recibo-go/pkg/ledger"
)

func testNonce(b byte) [32]byte {
	var n [32]byte
	n[31] = b
	return n
}

func TestMemoryLedger_ReserveAndCommit(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	defer l.Close()

	signer := common.HexToAddress("0x01")
	nonce := testNonce(1)

	consumed, err := l.IsConsumed(ctx, signer, nonce)
	require.NoError(t, err)
	assert.False(t, consumed)

	res, err := l.Reserve(ctx, signer, nonce)
	require.NoError(t, err)
	require.NoError(t, res.Commit(ctx))

	consumed, err = l.IsConsumed(ctx, signer, nonce)
	require.NoError(t, err)
	assert.True(t, consumed)
}

func TestMemoryLedger_ReplayRejected(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	defer l.Close()

	signer := common.HexToAddress("0x01")
	nonce := testNonce(1)

	res, err := l.Reserve(ctx, signer, nonce)
	require.NoError(t, err)

	// A second reservation before commit must already be excluded.
	_, err = l.Reserve(ctx, signer, nonce)
	require.ErrorIs(t, err, ledger.ErrAuthorizationAlreadyUsed)

	require.NoError(t, res.Commit(ctx))

	_, err = l.Reserve(ctx, signer, nonce)
	require.ErrorIs(t, err, ledger.ErrAuthorizationAlreadyUsed)
}

func TestMemoryLedger_RollbackFreesNonce(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	defer l.Close()

	signer := common.HexToAddress("0x01")
	nonce := testNonce(1)

	res, err := l.Reserve(ctx, signer, nonce)
	require.NoError(t, err)
	res.Rollback(ctx)

	consumed, err := l.IsConsumed(ctx, signer, nonce)
	require.NoError(t, err)
	assert.False(t, consumed)

	res, err = l.Reserve(ctx, signer, nonce)
	require.NoError(t, err)
	require.NoError(t, res.Commit(ctx))
}

func TestMemoryLedger_NoncesScopedPerSigner(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	defer l.Close()

	nonce := testNonce(1)
	alice := common.HexToAddress("0x01")
	bob := common.HexToAddress("0x02")

	res, err := l.Reserve(ctx, alice, nonce)
	require.NoError(t, err)
	require.NoError(t, res.Commit(ctx))

	// Same nonce value under a different signer is a distinct authorization.
	res, err = l.Reserve(ctx, bob, nonce)
	require.NoError(t, err)
	require.NoError(t, res.Commit(ctx))
}

func TestMemoryLedger_Closed(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.Close())

	_, err := l.Reserve(ctx, common.HexToAddress("0x01"), testNonce(1))
	require.ErrorIs(t, err, ledger.ErrClosed)

	_, err = l.IsConsumed(ctx, common.HexToAddress("0x01"), testNonce(1))
	require.ErrorIs(t, err, ledger.ErrClosed)

	require.Error(t, l.HealthCheck())
}

func TestMemoryLedger_HealthCheck(t *testing.T) {
	l := NewMemoryLedger()
	defer l.Close()
	require.NoError(t, l.HealthCheck())
}
