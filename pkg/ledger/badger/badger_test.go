package badger

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recibo-network/recibo-go/pkg/ledger"
)

func testNonce(b byte) [32]byte {
	var n [32]byte
	n[31] = b
	return n
}

func newTestLedger(t *testing.T) (*BadgerLedger, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := NewBadgerLedger(dir, zap.NewNop())
	require.NoError(t, err)
	return l, dir
}

func TestBadgerLedger_ReserveAndCommit(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
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

func TestBadgerLedger_ReplayRejected(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	defer l.Close()

	signer := common.HexToAddress("0x01")
	nonce := testNonce(1)

	res, err := l.Reserve(ctx, signer, nonce)
	require.NoError(t, err)

	_, err = l.Reserve(ctx, signer, nonce)
	require.ErrorIs(t, err, ledger.ErrAuthorizationAlreadyUsed)

	require.NoError(t, res.Commit(ctx))

	_, err = l.Reserve(ctx, signer, nonce)
	require.ErrorIs(t, err, ledger.ErrAuthorizationAlreadyUsed)
}

func TestBadgerLedger_RollbackFreesNonce(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
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

func TestBadgerLedger_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	signer := common.HexToAddress("0x01")
	nonce := testNonce(1)

	l1, err := NewBadgerLedger(dir, zap.NewNop())
	require.NoError(t, err)

	res, err := l1.Reserve(ctx, signer, nonce)
	require.NoError(t, err)
	require.NoError(t, res.Commit(ctx))
	require.NoError(t, l1.Close())

	l2, err := NewBadgerLedger(dir, zap.NewNop())
	require.NoError(t, err)
	defer l2.Close()

	consumed, err := l2.IsConsumed(ctx, signer, nonce)
	require.NoError(t, err)
	assert.True(t, consumed)

	_, err = l2.Reserve(ctx, signer, nonce)
	require.ErrorIs(t, err, ledger.ErrAuthorizationAlreadyUsed)
}

func TestBadgerLedger_ReservationsNotPersisted(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	signer := common.HexToAddress("0x01")
	nonce := testNonce(1)

	l1, err := NewBadgerLedger(dir, zap.NewNop())
	require.NoError(t, err)

	// Reserved but never committed. A restart must not treat it as used.
	_, err = l1.Reserve(ctx, signer, nonce)
	require.NoError(t, err)
	require.NoError(t, l1.Close())

	l2, err := NewBadgerLedger(dir, zap.NewNop())
	require.NoError(t, err)
	defer l2.Close()

	consumed, err := l2.IsConsumed(ctx, signer, nonce)
	require.NoError(t, err)
	assert.False(t, consumed)
}

func TestBadgerLedger_HealthCheck(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.HealthCheck())
	require.NoError(t, l.Close())
	require.Error(t, l.HealthCheck())
}
