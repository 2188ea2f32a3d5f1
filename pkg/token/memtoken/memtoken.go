package memtoken

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/recibo-network/recibo-go/pkg/ledger"
)

// Type hashes for the token's own signed primitives.
var (
	domainTypeHash = crypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	permitTypeHash = crypto.Keccak256(
		[]byte("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"))
	transferAuthTypeHash = crypto.Keccak256(
		[]byte("TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))
)

// MemToken is an in-memory fungible-token collaborator implementing the
// EIP-2612 permit and EIP-3009 transfer-with-authorization semantics the
// engine delegates to. It exists for tests and local development; a real
// deployment points the engine at an on-chain token instead.
//
// Thread-safe via sync.RWMutex.
type MemToken struct {
	mu sync.RWMutex

	name     string
	version  string
	chainID  *big.Int
	contract common.Address

	// spender is the engine address that TransferFrom debits allowances
	// against, mirroring how the on-chain engine is the msg.sender of
	// transferFrom calls.
	spender common.Address

	balances     map[common.Address]*big.Int
	allowances   map[common.Address]map[common.Address]*big.Int
	permitNonces map[common.Address]*big.Int
	authConsumed map[string]bool

	// now is injectable so deadline and validity-window behavior is testable.
	now func() time.Time
}

// NewMemToken creates an empty in-memory token. chainID and contract feed the
// token's own signing domain.
func NewMemToken(name string, chainID *big.Int, contract common.Address) *MemToken {
	return &MemToken{
		name:         name,
		version:      "1",
		chainID:      new(big.Int).Set(chainID),
		contract:     contract,
		balances:     make(map[common.Address]*big.Int),
		allowances:   make(map[common.Address]map[common.Address]*big.Int),
		permitNonces: make(map[common.Address]*big.Int),
		authConsumed: make(map[string]bool),
		now:          time.Now,
	}
}

// SetNow overrides the token's clock. Testing only.
func (t *MemToken) SetNow(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// DomainSeparator returns the token's EIP-712 domain separator, needed by
// holders to sign permits and transfer authorizations.
func (t *MemToken) DomainSeparator() [32]byte {
	encoded := make([]byte, 0, 160)
	encoded = append(encoded, domainTypeHash...)
	encoded = append(encoded, crypto.Keccak256([]byte(t.name))...)
	encoded = append(encoded, crypto.Keccak256([]byte(t.version))...)
	encoded = append(encoded, common.BigToHash(t.chainID).Bytes()...)
	encoded = append(encoded, common.BytesToHash(t.contract.Bytes()).Bytes()...)

	var sep [32]byte
	copy(sep[:], crypto.Keccak256(encoded))
	return sep
}

// PermitDigest computes the signable digest for a permit.
func PermitDigest(separator [32]byte, owner, spender common.Address, value, nonce, deadline *big.Int) [32]byte {
	encoded := make([]byte, 0, 224)
	encoded = append(encoded, permitTypeHash...)
	encoded = append(encoded, common.BytesToHash(owner.Bytes()).Bytes()...)
	encoded = append(encoded, common.BytesToHash(spender.Bytes()).Bytes()...)
	encoded = append(encoded, common.BigToHash(value).Bytes()...)
	encoded = append(encoded, common.BigToHash(nonce).Bytes()...)
	encoded = append(encoded, common.BigToHash(deadline).Bytes()...)

	return finalDigest(separator, crypto.Keccak256(encoded))
}

// TransferAuthorizationDigest computes the signable digest for a single-use
// transfer authorization.
func TransferAuthorizationDigest(separator [32]byte, from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte) [32]byte {
	encoded := make([]byte, 0, 256)
	encoded = append(encoded, transferAuthTypeHash...)
	encoded = append(encoded, common.BytesToHash(from.Bytes()).Bytes()...)
	encoded = append(encoded, common.BytesToHash(to.Bytes()).Bytes()...)
	encoded = append(encoded, common.BigToHash(value).Bytes()...)
	encoded = append(encoded, common.BigToHash(validAfter).Bytes()...)
	encoded = append(encoded, common.BigToHash(validBefore).Bytes()...)
	encoded = append(encoded, nonce[:]...)

	return finalDigest(separator, crypto.Keccak256(encoded))
}

func finalDigest(separator [32]byte, structHash []byte) [32]byte {
	encoded := make([]byte, 0, 66)
	encoded = append(encoded, 0x19, 0x01)
	encoded = append(encoded, separator[:]...)
	encoded = append(encoded, structHash...)

	var digest [32]byte
	copy(digest[:], crypto.Keccak256(encoded))
	return digest
}

func recoverSigner(digest [32]byte, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pubKey, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// Mint credits an account. Testing/bootstrap helper, not part of the
// collaborator interface.
func (t *MemToken) Mint(account common.Address, value *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(account, value)
}

// Approve sets an allowance directly, as a holder calling approve() would.
func (t *MemToken) Approve(owner, spender common.Address, value *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setAllowance(owner, spender, value)
}

// BalanceOf reports an account's balance.
func (t *MemToken) BalanceOf(account common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if bal, ok := t.balances[account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

// Allowance reports the remaining allowance from owner to spender.
func (t *MemToken) Allowance(owner, spender common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if a, ok := t.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Name implements token.Token.
func (t *MemToken) Name(_ context.Context) (string, error) {
	return t.name, nil
}

// Nonces implements token.Token.
func (t *MemToken) Nonces(_ context.Context, owner common.Address) (*big.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n, ok := t.permitNonces[owner]; ok {
		return new(big.Int).Set(n), nil
	}
	return new(big.Int), nil
}

// TransferFrom implements token.Token. Allowances are debited against the
// engine spender address set via SetEngineSpender.
func (t *MemToken) TransferFrom(_ context.Context, from, to common.Address, value *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowance := t.allowance(from, t.spender)
	if allowance.Cmp(value) < 0 {
		return fmt.Errorf("transfer amount exceeds allowance")
	}
	if err := t.move(from, to, value); err != nil {
		return err
	}
	t.setAllowance(from, t.spender, new(big.Int).Sub(allowance, value))
	return nil
}

// Permit implements token.Token.
func (t *MemToken) Permit(_ context.Context, owner, spender common.Address, value, deadline *big.Int, signature []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if deadline.Cmp(big.NewInt(t.now().Unix())) < 0 {
		return fmt.Errorf("permit is expired")
	}

	nonce := t.permitNonce(owner)
	digest := PermitDigest(t.DomainSeparator(), owner, spender, value, nonce, deadline)

	signer, err := recoverSigner(digest, signature)
	if err != nil {
		return err
	}
	if signer != owner {
		return fmt.Errorf("invalid permit signature")
	}

	t.permitNonces[owner] = new(big.Int).Add(nonce, big.NewInt(1))
	t.setAllowance(owner, spender, new(big.Int).Set(value))
	return nil
}

// TransferWithAuthorization implements token.Token.
func (t *MemToken) TransferWithAuthorization(_ context.Context, from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte, signature []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := big.NewInt(t.now().Unix())
	if now.Cmp(validAfter) <= 0 {
		return fmt.Errorf("authorization is not yet valid")
	}
	if now.Cmp(validBefore) >= 0 {
		return fmt.Errorf("authorization is expired")
	}

	authKey := ledger.Key(from, nonce)
	if t.authConsumed[authKey] {
		return fmt.Errorf("authorization is used or canceled")
	}

	digest := TransferAuthorizationDigest(t.DomainSeparator(), from, to, value, validAfter, validBefore, nonce)
	signer, err := recoverSigner(digest, signature)
	if err != nil {
		return err
	}
	if signer != from {
		return fmt.Errorf("invalid authorization signature")
	}

	if err := t.move(from, to, value); err != nil {
		return err
	}
	t.authConsumed[authKey] = true
	return nil
}

// AuthorizationState implements token.Token.
func (t *MemToken) AuthorizationState(_ context.Context, authorizer common.Address, nonce [32]byte) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.authConsumed[ledger.Key(authorizer, nonce)], nil
}

// SetEngineSpender fixes the engine spender address. Must be called before
// TransferFrom is exercised.
func (t *MemToken) SetEngineSpender(spender common.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spender = spender
}

// Unexported book-keeping below. Callers hold t.mu.

func (t *MemToken) credit(account common.Address, value *big.Int) {
	bal, ok := t.balances[account]
	if !ok {
		bal = new(big.Int)
	}
	t.balances[account] = new(big.Int).Add(bal, value)
}

func (t *MemToken) move(from, to common.Address, value *big.Int) error {
	bal, ok := t.balances[from]
	if !ok || bal.Cmp(value) < 0 {
		return fmt.Errorf("transfer amount exceeds balance")
	}
	t.balances[from] = new(big.Int).Sub(bal, value)
	t.credit(to, value)
	return nil
}

func (t *MemToken) allowance(owner, spender common.Address) *big.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

func (t *MemToken) setAllowance(owner, spender common.Address, value *big.Int) {
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(value)
}

func (t *MemToken) permitNonce(owner common.Address) *big.Int {
	if n, ok := t.permitNonces[owner]; ok {
		return new(big.Int).Set(n)
	}
	return new(big.Int)
}
