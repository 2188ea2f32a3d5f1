package events

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Kind identifies the audit event type.
type Kind string

const (
	// KindSentMsg records a message with no value movement.
	KindSentMsg Kind = "SentMsg"
	// KindTransferWithMsg records a message settled with a transfer.
	KindTransferWithMsg Kind = "TransferWithMsg"
	// KindApproveWithMsg records a message settled with an approval.
	KindApproveWithMsg Kind = "ApproveWithMsg"
)

// Event is one entry in the append-only audit trail. Indexed fields
// (MessageFrom, MessageTo, To, Spender) support filtered queries.
type Event struct {
	// ID is a unique identifier assigned at staging time.
	ID string `json:"id"`

	// Sequence is the event's position in the trail, assigned at commit.
	Sequence uint64 `json:"sequence"`

	// Timestamp is the commit time.
	Timestamp time.Time `json:"timestamp"`

	Kind Kind `json:"kind"`

	// ActualSender is the caller that submitted the operation, which may
	// differ from MessageFrom on delegated paths.
	ActualSender common.Address `json:"actualSender"`

	MessageFrom common.Address `json:"messageFrom"`
	MessageTo   common.Address `json:"messageTo"`

	// To is the token recipient (transfer events only).
	To common.Address `json:"to,omitempty"`

	// Owner and Spender are set on approval events.
	Owner   common.Address `json:"owner,omitempty"`
	Spender common.Address `json:"spender,omitempty"`

	// Value is the token amount moved or approved, nil for SentMsg.
	Value *big.Int `json:"value,omitempty"`
}

// NewSentMsg builds an unsequenced SentMsg event.
func NewSentMsg(actualSender, messageFrom, messageTo common.Address) *Event {
	return &Event{
		ID:           uuid.New().String(),
		Kind:         KindSentMsg,
		ActualSender: actualSender,
		MessageFrom:  messageFrom,
		MessageTo:    messageTo,
	}
}

// NewTransferWithMsg builds an unsequenced TransferWithMsg event.
func NewTransferWithMsg(actualSender, to, messageFrom, messageTo common.Address, value *big.Int) *Event {
	return &Event{
		ID:           uuid.New().String(),
		Kind:         KindTransferWithMsg,
		ActualSender: actualSender,
		To:           to,
		MessageFrom:  messageFrom,
		MessageTo:    messageTo,
		Value:        new(big.Int).Set(value),
	}
}

// NewApproveWithMsg builds an unsequenced ApproveWithMsg event.
func NewApproveWithMsg(owner, spender, messageFrom, messageTo common.Address, value *big.Int) *Event {
	return &Event{
		ID:           uuid.New().String(),
		Kind:         KindApproveWithMsg,
		Owner:        owner,
		ActualSender: owner,
		Spender:      spender,
		MessageFrom:  messageFrom,
		MessageTo:    messageTo,
		Value:        new(big.Int).Set(value),
	}
}

// StagedEvent is an event prepared for publication but not yet visible.
// Commit appends it to the trail; Discard drops it. Exactly one must be
// called, once. This keeps event visibility atomic with settlement.
type StagedEvent interface {
	Commit(ctx context.Context) error
	Discard()
}

// Filter selects events on indexed fields. Zero-valued fields match
// everything.
type Filter struct {
	Kind        Kind
	MessageFrom common.Address
	MessageTo   common.Address
	To          common.Address
	Spender     common.Address
}

// Matches reports whether the event satisfies the filter.
func (f Filter) Matches(ev *Event) bool {
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	if f.MessageFrom != (common.Address{}) && ev.MessageFrom != f.MessageFrom {
		return false
	}
	if f.MessageTo != (common.Address{}) && ev.MessageTo != f.MessageTo {
		return false
	}
	if f.To != (common.Address{}) && ev.To != f.To {
		return false
	}
	if f.Spender != (common.Address{}) && ev.Spender != f.Spender {
		return false
	}
	return true
}

// Sink is the audit trail boundary: staged, append-only publication with
// filtered reads.
type Sink interface {
	// Stage prepares an event for publication without making it visible.
	Stage(ctx context.Context, ev *Event) (StagedEvent, error)

	// Query returns committed events matching the filter, in commit order.
	Query(ctx context.Context, filter Filter) ([]*Event, error)

	// Root returns a Merkle commitment over the committed trail and the
	// number of events it covers, taken in one snapshot so the pair is
	// consistent under concurrent commits. An empty trail yields a zero
	// hash and zero count.
	Root(ctx context.Context) ([32]byte, int, error)

	// Close shuts down the sink. Idempotent.
	Close() error
}
