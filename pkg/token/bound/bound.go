package bound

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/recibo-network/recibo-go/pkg/token"
)

// erc20ABI is the slice of the token ABI the engine actually calls:
// ERC-20 transferFrom, EIP-2612 permit/nonces/name, EIP-3009
// transferWithAuthorization/authorizationState.
const erc20ABI = `[
	{"name":"name","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"name":"nonces","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"permit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"},{"name":"value","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"outputs":[]},
	{"name":"transferWithAuthorization","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"validAfter","type":"uint256"},{"name":"validBefore","type":"uint256"},{"name":"nonce","type":"bytes32"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"outputs":[]},
	{"name":"authorizationState","type":"function","stateMutability":"view","inputs":[{"name":"authorizer","type":"address"},{"name":"nonce","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]}
]`

// BoundToken is a token.Token backed by a live ERC-20 contract reached over
// an Ethereum RPC endpoint. Transactions are signed with the engine
// operator's key and waited to inclusion so collaborator failures surface
// synchronously.
type BoundToken struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	address  common.Address
	chainID  *big.Int
	signer   *ecdsa.PrivateKey
	logger   *zap.Logger
}

var _ token.Token = (*BoundToken)(nil)

// NewBoundToken binds the token contract at tokenAddress. signer is the
// operator key used to submit transactions.
func NewBoundToken(client *ethclient.Client, tokenAddress common.Address, signer *ecdsa.PrivateKey, logger *zap.Logger) (*BoundToken, error) {
	chainID, err := client.ChainID(context.Background())
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chain ID")
	}

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse token ABI")
	}

	return &BoundToken{
		client:   client,
		contract: bind.NewBoundContract(tokenAddress, parsed, client, client, client),
		address:  tokenAddress,
		chainID:  chainID,
		signer:   signer,
		logger:   logger,
	}, nil
}

// Address returns the bound contract address.
func (b *BoundToken) Address() common.Address {
	return b.address
}

func (b *BoundToken) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(b.signer, b.chainID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build transaction options")
	}
	opts.Context = ctx
	return opts, nil
}

func (b *BoundToken) transactAndWait(ctx context.Context, operation, method string, params ...interface{}) error {
	opts, err := b.transactOpts(ctx)
	if err != nil {
		return err
	}

	tx, err := b.contract.Transact(opts, method, params...)
	if err != nil {
		return errors.Wrapf(err, "failed to send %s transaction", operation)
	}

	b.logger.Sugar().Infow("Sent token transaction",
		zap.String("operation", operation),
		zap.String("txHash", tx.Hash().Hex()),
		zap.String("token", b.address.Hex()),
	)

	receipt, err := bind.WaitMined(ctx, b.client, tx)
	if err != nil {
		return errors.Wrapf(err, "failed waiting for %s transaction %s", operation, tx.Hash().Hex())
	}
	if receipt.Status == 0 {
		return errors.Errorf("%s transaction %s reverted", operation, tx.Hash().Hex())
	}
	return nil
}

// Name implements token.Token.
func (b *BoundToken) Name(ctx context.Context) (string, error) {
	var out []interface{}
	if err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, "name"); err != nil {
		return "", errors.Wrap(err, "failed to call name")
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

// Nonces implements token.Token.
func (b *BoundToken) Nonces(ctx context.Context, owner common.Address) (*big.Int, error) {
	var out []interface{}
	if err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, "nonces", owner); err != nil {
		return nil, errors.Wrapf(err, "failed to call nonces for %s", owner.Hex())
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// TransferFrom implements token.Token.
func (b *BoundToken) TransferFrom(ctx context.Context, from, to common.Address, value *big.Int) error {
	return b.transactAndWait(ctx, "transferFrom", "transferFrom", from, to, value)
}

// Permit implements token.Token.
func (b *BoundToken) Permit(ctx context.Context, owner, spender common.Address, value, deadline *big.Int, signature []byte) error {
	r, s, v, err := token.SplitSignature(signature)
	if err != nil {
		return errors.Wrap(err, "invalid permit signature")
	}
	return b.transactAndWait(ctx, "permit", "permit", owner, spender, value, deadline, v, r, s)
}

// TransferWithAuthorization implements token.Token.
func (b *BoundToken) TransferWithAuthorization(ctx context.Context, from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte, signature []byte) error {
	r, s, v, err := token.SplitSignature(signature)
	if err != nil {
		return errors.Wrap(err, "invalid authorization signature")
	}
	return b.transactAndWait(ctx, "transferWithAuthorization", "transferWithAuthorization",
		from, to, value, validAfter, validBefore, nonce, v, r, s)
}

// AuthorizationState implements token.Token.
func (b *BoundToken) AuthorizationState(ctx context.Context, authorizer common.Address, nonce [32]byte) (bool, error) {
	var out []interface{}
	if err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, "authorizationState", authorizer, nonce); err != nil {
		return false, errors.Wrapf(err, "failed to call authorizationState for %s", authorizer.Hex())
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}
