package types

import (
	"github.com/ethereum/go-ethereum/common"
)

// ReciboInfo is the message record submitted with every operation. It binds
// an off-chain-opaque payload to the token movement it travels with.
//
// MessageFrom is the principal the message is attributed to, which is not
// necessarily the transaction caller. The engine never mutates a record once
// it has been authenticated; it only validates and forwards it.
type ReciboInfo struct {
	// MessageFrom is the claimed principal on whose behalf the message is sent.
	MessageFrom common.Address `json:"messageFrom"`

	// MessageTo is the intended recipient of the message. It need not equal
	// the token recipient.
	MessageTo common.Address `json:"messageTo"`

	// Metadata is a small structured string (typically JSON) describing the
	// message format or encryption scheme. Opaque to the engine.
	Metadata string `json:"metadata"`

	// Message is the arbitrary payload, possibly ciphertext. Opaque to the
	// engine.
	Message []byte `json:"message"`

	// Nonce is a signer-chosen 256-bit value, scoped per signer. Only
	// meaningful on the signature-delegated path.
	Nonce [32]byte `json:"nonce"`

	// Signature is the 65-byte (r||s||v) signature over the typed-data digest
	// of the fields above, produced by MessageFrom. Empty on self-attested
	// submissions.
	Signature []byte `json:"signature"`
}

// HasSignature reports whether the record carries a delegated signature.
func (r *ReciboInfo) HasSignature() bool {
	return len(r.Signature) > 0
}

// Copy returns a deep copy of the record so callers cannot mutate
// authenticated state through retained slices.
func (r *ReciboInfo) Copy() *ReciboInfo {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Message != nil {
		cp.Message = make([]byte, len(r.Message))
		copy(cp.Message, r.Message)
	}
	if r.Signature != nil {
		cp.Signature = make([]byte, len(r.Signature))
		copy(cp.Signature, r.Signature)
	}
	return &cp
}
