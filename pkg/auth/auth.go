package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/recibo-network/recibo-go/pkg/ledger"
	"github.com/recibo-network/recibo-go/pkg/typeddata"
	"github.com/recibo-network/recibo-go/pkg/types"
)

// Authentication failures. Signature and replay failures surface as
// typeddata.ErrInvalidSignature and ledger.ErrAuthorizationAlreadyUsed.
var (
	// ErrSenderMismatch means the caller is not the claimed messageFrom under
	// direct-mode rules.
	ErrSenderMismatch = errors.New("sender mismatch")

	// ErrSenderNotAuthorized means the caller is neither the trusted
	// forwarder nor the claimed messageFrom.
	ErrSenderNotAuthorized = errors.New("sender not authorized")

	// ErrNotOwner guards the owner-only administrative surface.
	ErrNotOwner = errors.New("caller is not the owner")

	// ErrModeMismatch is returned by administrative calls that only make
	// sense in another authentication mode.
	ErrModeMismatch = errors.New("operation not available in this authentication mode")
)

// Mode selects the sender-authentication strategy. It is fixed at
// construction; the three strategies are successive designs of the same
// surface, not layered features, so exactly one is active per deployment.
type Mode string

const (
	// ModeDirect requires the caller to be the claimed messageFrom.
	ModeDirect Mode = "direct"

	// ModeForwarderDelegated trusts a single privileged relayer to submit on
	// behalf of any principal; everyone else falls back to the direct rule.
	ModeForwarderDelegated Mode = "forwarder"

	// ModeSignatureDelegated lets any caller submit a record carrying a
	// valid, unconsumed signature from messageFrom. Callers submitting for
	// themselves are exempt from the signature requirement.
	ModeSignatureDelegated Mode = "signature"
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDirect, ModeForwarderDelegated, ModeSignatureDelegated:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unsupported authentication mode: %q", s)
	}
}

// handler is one authentication strategy. It returns the ledger reservation
// backing the decision (nil when no nonce was consumed) so the caller can
// commit or roll back atomically with settlement.
type handler func(ctx context.Context, caller common.Address, record *types.ReciboInfo) (ledger.Reservation, error)

// Engine decides whether a caller is entitled to act as a record's
// messageFrom. The strategy is resolved once at construction.
type Engine struct {
	mode     Mode
	owner    common.Address
	verifier *typeddata.Verifier
	ledger   ledger.Ledger
	logger   *zap.Logger

	authenticate handler

	// forwarderMu guards the trusted forwarder, the only runtime-mutable
	// piece of configuration.
	forwarderMu      sync.RWMutex
	trustedForwarder common.Address
}

// Config holds engine construction parameters.
type Config struct {
	Mode Mode

	// Owner may change the trusted forwarder in forwarder mode.
	Owner common.Address

	// TrustedForwarder is required in forwarder mode.
	TrustedForwarder common.Address

	// Verifier and Ledger are required in signature mode.
	Verifier *typeddata.Verifier
	Ledger   ledger.Ledger

	// Logger is optional; a nop logger is used if nil.
	Logger *zap.Logger
}

// NewEngine creates an authentication engine with the strategy fixed by
// cfg.Mode.
func NewEngine(cfg Config) (*Engine, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	e := &Engine{
		mode:             cfg.Mode,
		owner:            cfg.Owner,
		verifier:         cfg.Verifier,
		ledger:           cfg.Ledger,
		trustedForwarder: cfg.TrustedForwarder,
		logger:           log,
	}

	switch cfg.Mode {
	case ModeDirect:
		e.authenticate = e.authenticateDirect
	case ModeForwarderDelegated:
		if cfg.TrustedForwarder == (common.Address{}) {
			return nil, fmt.Errorf("forwarder mode requires a trusted forwarder address")
		}
		e.authenticate = e.authenticateForwarder
	case ModeSignatureDelegated:
		if cfg.Verifier == nil {
			return nil, fmt.Errorf("signature mode requires a typed-data verifier")
		}
		if cfg.Ledger == nil {
			return nil, fmt.Errorf("signature mode requires an authorization ledger")
		}
		e.authenticate = e.authenticateSignature
	default:
		return nil, fmt.Errorf("unsupported authentication mode: %q", cfg.Mode)
	}

	return e, nil
}

// Mode returns the configured authentication mode.
func (e *Engine) Mode() Mode {
	return e.mode
}

// TrustedForwarder returns the current trusted forwarder address.
func (e *Engine) TrustedForwarder() common.Address {
	e.forwarderMu.RLock()
	defer e.forwarderMu.RUnlock()
	return e.trustedForwarder
}

// SetTrustedForwarder replaces the trusted forwarder. Owner-only, and only
// meaningful in forwarder mode.
func (e *Engine) SetTrustedForwarder(caller, forwarder common.Address) error {
	if e.mode != ModeForwarderDelegated {
		return ErrModeMismatch
	}
	if caller != e.owner {
		return ErrNotOwner
	}
	if forwarder == (common.Address{}) {
		return fmt.Errorf("trusted forwarder cannot be the zero address")
	}

	e.forwarderMu.Lock()
	old := e.trustedForwarder
	e.trustedForwarder = forwarder
	e.forwarderMu.Unlock()

	e.logger.Sugar().Infow("Trusted forwarder updated",
		"previous", old.Hex(), "current", forwarder.Hex())
	return nil
}

// Authenticate decides whether caller may act as record.MessageFrom. On the
// signature-delegated path the returned reservation holds the consumed nonce
// staged; callers must Commit it with settlement or Rollback it on failure.
// The reservation is nil whenever no nonce was consumed.
func (e *Engine) Authenticate(ctx context.Context, caller common.Address, record *types.ReciboInfo) (ledger.Reservation, error) {
	return e.authenticate(ctx, caller, record)
}

func (e *Engine) authenticateDirect(_ context.Context, caller common.Address, record *types.ReciboInfo) (ledger.Reservation, error) {
	if caller != record.MessageFrom {
		return nil, fmt.Errorf("%w: caller %s cannot act as %s",
			ErrSenderMismatch, caller.Hex(), record.MessageFrom.Hex())
	}
	return nil, nil
}

func (e *Engine) authenticateForwarder(_ context.Context, caller common.Address, record *types.ReciboInfo) (ledger.Reservation, error) {
	if caller == e.TrustedForwarder() {
		// The forwarder has verified the true originator off-band.
		return nil, nil
	}
	if caller != record.MessageFrom {
		return nil, fmt.Errorf("%w: caller %s is neither the forwarder nor %s",
			ErrSenderNotAuthorized, caller.Hex(), record.MessageFrom.Hex())
	}
	return nil, nil
}

func (e *Engine) authenticateSignature(ctx context.Context, caller common.Address, record *types.ReciboInfo) (ledger.Reservation, error) {
	// Self-attestation needs no proof beyond the caller being the principal.
	if caller == record.MessageFrom {
		return nil, nil
	}

	if !record.HasSignature() {
		return nil, fmt.Errorf("%w: record carries no signature and caller %s is not %s",
			typeddata.ErrInvalidSignature, caller.Hex(), record.MessageFrom.Hex())
	}

	if err := e.verifier.Verify(ctx, record.MessageFrom, record); err != nil {
		return nil, err
	}

	reservation, err := e.ledger.Reserve(ctx, record.MessageFrom, record.Nonce)
	if err != nil {
		return nil, err
	}

	e.logger.Sugar().Debugw("Delegated signature authenticated",
		"messageFrom", record.MessageFrom.Hex(),
		"caller", caller.Hex(),
		"nonce", common.Hash(record.Nonce).Hex(),
	)
	return reservation, nil
}
