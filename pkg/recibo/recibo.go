package recibo

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/recibo-network/recibo-go/pkg/auth"
	"github.com/recibo-network/recibo-go/pkg/events"
	"github.com/recibo-network/recibo-go/pkg/ledger"
	"github.com/recibo-network/recibo-go/pkg/token"
	"github.com/recibo-network/recibo-go/pkg/typeddata"
	"github.com/recibo-network/recibo-go/pkg/types"
)

// ErrMessageAttributionMismatch means a structural rule tying the record's
// messageFrom to a required principal (permit owner, authorization source)
// was violated.
var ErrMessageAttributionMismatch = errors.New("message attribution mismatch")

// Recibo is the operation façade: it authenticates the claimed sender,
// enforces the message binding where applicable, and only then delegates the
// value movement to the token collaborator and publishes the audit event.
// No side effect of any operation is reachable without authentication
// succeeding first.
type Recibo struct {
	engine *auth.Engine
	token  token.Token
	ledger ledger.Ledger
	sink   events.Sink
	logger *zap.Logger

	// serviceAddress is this deployment's own identity, the spender in the
	// self-permit composed by PermitAndTransferFromWithMsg.
	serviceAddress common.Address
}

// Config holds façade construction parameters.
type Config struct {
	Engine         *auth.Engine
	Token          token.Token
	Ledger         ledger.Ledger
	Sink           events.Sink
	ServiceAddress common.Address
	Logger         *zap.Logger
}

// NewRecibo wires the façade. All collaborators are required.
func NewRecibo(cfg Config) (*Recibo, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("authentication engine is required")
	}
	if cfg.Token == nil {
		return nil, fmt.Errorf("token collaborator is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("authorization ledger is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("event sink is required")
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Recibo{
		engine:         cfg.Engine,
		token:          cfg.Token,
		ledger:         cfg.Ledger,
		sink:           cfg.Sink,
		logger:         log,
		serviceAddress: cfg.ServiceAddress,
	}, nil
}

// Engine exposes the authentication engine (for the administrative surface).
func (r *Recibo) Engine() *auth.Engine {
	return r.engine
}

// AuthorizationState reports whether the engine-level (signer, nonce) pair
// has been consumed. Read-only, usable by anyone.
func (r *Recibo) AuthorizationState(ctx context.Context, signer common.Address, nonce [32]byte) (bool, error) {
	return r.ledger.IsConsumed(ctx, signer, nonce)
}

// Events returns committed audit events matching the filter.
func (r *Recibo) Events(ctx context.Context, filter events.Filter) ([]*events.Event, error) {
	return r.sink.Query(ctx, filter)
}

// AuditRoot returns the Merkle commitment over the audit trail and the
// number of committed events it covers. Both come from one sink snapshot,
// so the count always matches the root even under concurrent commits.
func (r *Recibo) AuditRoot(ctx context.Context) (common.Hash, int, error) {
	root, count, err := r.sink.Root(ctx)
	if err != nil {
		return common.Hash{}, 0, err
	}
	return root, count, nil
}

// settle runs the value-moving action and resolves the staged consumption
// and event atomically with it: a failed action leaves the nonce unconsumed
// and the event invisible; a successful action commits both.
func (r *Recibo) settle(ctx context.Context, reservation ledger.Reservation, staged events.StagedEvent, action func() error) error {
	if action != nil {
		if err := action(); err != nil {
			staged.Discard()
			if reservation != nil {
				reservation.Rollback(ctx)
			}
			return err
		}
	}

	if reservation != nil {
		if err := reservation.Commit(ctx); err != nil {
			staged.Discard()
			return fmt.Errorf("failed to consume authorization: %w", err)
		}
	}

	if err := staged.Commit(ctx); err != nil {
		return fmt.Errorf("failed to publish audit event: %w", err)
	}
	return nil
}

// SendMsg records a message with no value movement. Terminal on success or
// failure; there is no retry path within a submission.
func (r *Recibo) SendMsg(ctx context.Context, caller common.Address, record *types.ReciboInfo) error {
	reservation, err := r.engine.Authenticate(ctx, caller, record)
	if err != nil {
		return err
	}

	staged, err := r.sink.Stage(ctx, events.NewSentMsg(caller, record.MessageFrom, record.MessageTo))
	if err != nil {
		if reservation != nil {
			reservation.Rollback(ctx)
		}
		return err
	}

	if err := r.settle(ctx, reservation, staged, nil); err != nil {
		return err
	}

	r.logger.Sugar().Infow("Message sent",
		"caller", caller.Hex(),
		"messageFrom", record.MessageFrom.Hex(),
		"messageTo", record.MessageTo.Hex(),
	)
	return nil
}

// TransferFromWithMsg moves value from the authenticated principal against a
// standing allowance, settling the message with it.
func (r *Recibo) TransferFromWithMsg(ctx context.Context, caller, to common.Address, value *big.Int, record *types.ReciboInfo) error {
	reservation, err := r.engine.Authenticate(ctx, caller, record)
	if err != nil {
		return err
	}

	staged, err := r.sink.Stage(ctx, events.NewTransferWithMsg(caller, to, record.MessageFrom, record.MessageTo, value))
	if err != nil {
		if reservation != nil {
			reservation.Rollback(ctx)
		}
		return err
	}

	err = r.settle(ctx, reservation, staged, func() error {
		return r.token.TransferFrom(ctx, record.MessageFrom, to, value)
	})
	if err != nil {
		return err
	}

	r.logger.Sugar().Infow("Transfer with message settled",
		"caller", caller.Hex(),
		"from", record.MessageFrom.Hex(),
		"to", to.Hex(),
		"value", value.String(),
	)
	return nil
}

// PermitWithMsg applies a signed off-chain approval, settling the message
// with it. The message must be attributed to the permit owner; attribution
// is never delegated to the spender.
func (r *Recibo) PermitWithMsg(ctx context.Context, caller, owner, spender common.Address, value, deadline *big.Int, signature []byte, record *types.ReciboInfo) error {
	if record.MessageFrom != owner {
		return fmt.Errorf("%w: messageFrom %s must be the permit owner %s",
			ErrMessageAttributionMismatch, record.MessageFrom.Hex(), owner.Hex())
	}

	reservation, err := r.engine.Authenticate(ctx, caller, record)
	if err != nil {
		return err
	}

	staged, err := r.sink.Stage(ctx, events.NewApproveWithMsg(owner, spender, record.MessageFrom, record.MessageTo, value))
	if err != nil {
		if reservation != nil {
			reservation.Rollback(ctx)
		}
		return err
	}

	err = r.settle(ctx, reservation, staged, func() error {
		return r.token.Permit(ctx, owner, spender, value, deadline, signature)
	})
	if err != nil {
		return err
	}

	r.logger.Sugar().Infow("Permit with message settled",
		"owner", owner.Hex(),
		"spender", spender.Hex(),
		"value", value.String(),
	)
	return nil
}

// PermitAndTransferFromWithMsg composes a self-permit (the authenticated
// principal authorizes this service as spender) with an immediate pull
// transfer, settling the message with them.
func (r *Recibo) PermitAndTransferFromWithMsg(ctx context.Context, caller, to common.Address, value, deadline *big.Int, signature []byte, record *types.ReciboInfo) error {
	reservation, err := r.engine.Authenticate(ctx, caller, record)
	if err != nil {
		return err
	}

	staged, err := r.sink.Stage(ctx, events.NewTransferWithMsg(caller, to, record.MessageFrom, record.MessageTo, value))
	if err != nil {
		if reservation != nil {
			reservation.Rollback(ctx)
		}
		return err
	}

	err = r.settle(ctx, reservation, staged, func() error {
		if err := r.token.Permit(ctx, record.MessageFrom, r.serviceAddress, value, deadline, signature); err != nil {
			return err
		}
		return r.token.TransferFrom(ctx, record.MessageFrom, to, value)
	})
	if err != nil {
		return err
	}

	r.logger.Sugar().Infow("Permit-and-transfer with message settled",
		"caller", caller.Hex(),
		"from", record.MessageFrom.Hex(),
		"to", to.Hex(),
		"value", value.String(),
	)
	return nil
}

// TransferWithAuthorizationWithMsg settles a signed, single-use token
// authorization whose nonce must be the hash of the attached message. The
// token collaborator independently verifies the authorization signature and
// validity window and consumes its own nonce.
func (r *Recibo) TransferWithAuthorizationWithMsg(ctx context.Context, caller, from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte, signature []byte, record *types.ReciboInfo) error {
	if err := typeddata.ValidateBoundNonce(record, nonce); err != nil {
		return err
	}
	if record.MessageFrom != from {
		return fmt.Errorf("%w: messageFrom %s must be the authorization source %s",
			ErrMessageAttributionMismatch, record.MessageFrom.Hex(), from.Hex())
	}

	reservation, err := r.engine.Authenticate(ctx, caller, record)
	if err != nil {
		return err
	}

	staged, err := r.sink.Stage(ctx, events.NewTransferWithMsg(caller, to, record.MessageFrom, record.MessageTo, value))
	if err != nil {
		if reservation != nil {
			reservation.Rollback(ctx)
		}
		return err
	}

	err = r.settle(ctx, reservation, staged, func() error {
		return r.token.TransferWithAuthorization(ctx, from, to, value, validAfter, validBefore, nonce, signature)
	})
	if err != nil {
		return err
	}

	r.logger.Sugar().Infow("Authorized transfer with message settled",
		"caller", caller.Hex(),
		"from", from.Hex(),
		"to", to.Hex(),
		"value", value.String(),
		"nonce", common.Hash(nonce).Hex(),
	)
	return nil
}
