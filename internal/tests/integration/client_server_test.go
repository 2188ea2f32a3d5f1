package integration

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/recibo-network/recibo-go/pkg/auth"
	"github.com/recibo-network/recibo-go/pkg/client"
	"github.com/recibo-network/recibo-go/pkg/events"
	"github.com/recibo-network/recibo-go/pkg/ledger/memory"
	"github.com/recibo-network/recibo-go/pkg/recibo"
	"github.com/recibo-network/recibo-go/pkg/server"
	"github.com/recibo-network/recibo-go/pkg/testutil"
	"github.com/recibo-network/recibo-go/pkg/token/memtoken"
	"github.com/recibo-network/recibo-go/pkg/typeddata"
	"github.com/recibo-network/recibo-go/pkg/types"
)

var serviceAddress = common.HexToAddress("0x00000000000000000000000000000000000000AA")

type env struct {
	client *client.Client
	token  *memtoken.MemToken
	domain typeddata.Domain
}

// newEnv wires a full service in signature-delegated mode behind a real HTTP
// listener and returns a client pointed at it.
func newEnv(t *testing.T) *env {
	t.Helper()

	domain := testutil.TestDomain(serviceAddress)
	led := memory.NewMemoryLedger()
	t.Cleanup(func() { _ = led.Close() })

	sink := events.NewMemorySink()
	t.Cleanup(func() { _ = sink.Close() })

	tok := memtoken.NewMemToken("TestUSD", domain.ChainID, serviceAddress)
	tok.SetEngineSpender(serviceAddress)

	engine, err := auth.NewEngine(auth.Config{
		Mode:     auth.ModeSignatureDelegated,
		Verifier: typeddata.NewVerifier(domain, nil),
		Ledger:   led,
	})
	require.NoError(t, err)

	facade, err := recibo.NewRecibo(recibo.Config{
		Engine:         engine,
		Token:          tok,
		Ledger:         led,
		Sink:           sink,
		ServiceAddress: serviceAddress,
	})
	require.NoError(t, err)

	srv := server.NewServer(facade, 0, 0, zap.NewNop())
	httpSrv := httptest.NewServer(srv.GetHandler())
	t.Cleanup(httpSrv.Close)

	c, err := client.NewClient(&client.ClientConfig{BaseURL: httpSrv.URL})
	require.NoError(t, err)

	return &env{client: c, token: tok, domain: domain}
}

func TestEndToEnd_DelegatedMessageLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	require.NoError(t, e.client.Health(ctx))

	alice := testutil.NewAccount(t)
	relayer := testutil.NewAccount(t)

	record := testutil.NewRecord(alice.Address, relayer.Address, "invoice#1")
	record.Nonce[31] = 1
	testutil.SignRecord(t, alice, e.domain, record)

	req := types.SendMsgRequestV1{
		Caller: relayer.Address,
		Record: types.ReciboInfoV1{
			MessageFrom: record.MessageFrom,
			MessageTo:   record.MessageTo,
			Metadata:    record.Metadata,
			Message:     record.Message,
			Nonce:       record.Nonce,
			Signature:   record.Signature,
		},
	}

	consumed, err := e.client.AuthorizationState(ctx, alice.Address, record.Nonce)
	require.NoError(t, err)
	assert.False(t, consumed)

	require.NoError(t, e.client.SendMsg(ctx, req))

	consumed, err = e.client.AuthorizationState(ctx, alice.Address, record.Nonce)
	require.NoError(t, err)
	assert.True(t, consumed)

	// Resubmission is a replay and must surface as a conflict.
	err = e.client.SendMsg(ctx, req)
	var statusErr *client.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusConflict, statusErr.Status)

	evs, err := e.client.Events(ctx, events.Filter{MessageFrom: alice.Address})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, events.KindSentMsg, evs[0].Kind)
	assert.Equal(t, relayer.Address, evs[0].ActualSender)

	root, err := e.client.AuditRoot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, root.Events)
	assert.NotEqual(t, common.Hash{}, root.Root)
}

func TestEndToEnd_BoundAuthorizationTransfer(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	alice := testutil.NewAccount(t)
	bob := testutil.NewAccount(t)
	e.token.Mint(alice.Address, big.NewInt(100))

	record := testutil.NewRecord(alice.Address, bob.Address, "invoice#1")
	nonce := typeddata.MessageHashNonce(record.MessageFrom, record.MessageTo, record.Message)

	value := big.NewInt(25)
	validAfter := big.NewInt(0)
	validBefore := big.NewInt(time.Now().Add(time.Hour).Unix())
	sig := testutil.SignTransferAuthorization(t, alice, e.token.DomainSeparator(),
		alice.Address, bob.Address, value, validAfter, validBefore, nonce)

	req := types.TransferWithAuthorizationRequestV1{
		Caller:      alice.Address,
		From:        alice.Address,
		To:          bob.Address,
		Value:       (*hexutil.Big)(value),
		ValidAfter:  (*hexutil.Big)(validAfter),
		ValidBefore: (*hexutil.Big)(validBefore),
		Nonce:       nonce,
		Signature:   sig,
		Record: types.ReciboInfoV1{
			MessageFrom: record.MessageFrom,
			MessageTo:   record.MessageTo,
			Metadata:    record.Metadata,
			Message:     record.Message,
		},
	}

	require.NoError(t, e.client.TransferWithAuthorizationWithMsg(ctx, req))
	assert.Equal(t, big.NewInt(75), e.token.BalanceOf(alice.Address))
	assert.Equal(t, big.NewInt(25), e.token.BalanceOf(bob.Address))

	// A nonce that is not the message hash must be rejected before any
	// token interaction.
	var badNonce common.Hash
	badNonce[31] = 9
	req.Nonce = badNonce
	err := e.client.TransferWithAuthorizationWithMsg(ctx, req)
	var statusErr *client.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.Status)
}
