package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ReciboInfoV1 is the wire form of a message record.
type ReciboInfoV1 struct {
	MessageFrom common.Address `json:"messageFrom"`
	MessageTo   common.Address `json:"messageTo"`
	Metadata    string         `json:"metadata"`
	Message     hexutil.Bytes  `json:"message"`
	Nonce       common.Hash    `json:"nonce,omitempty"`
	Signature   hexutil.Bytes  `json:"signature,omitempty"`
}

// ToRecord converts the wire form into the internal record.
func (r *ReciboInfoV1) ToRecord() *ReciboInfo {
	return &ReciboInfo{
		MessageFrom: r.MessageFrom,
		MessageTo:   r.MessageTo,
		Metadata:    r.Metadata,
		Message:     r.Message,
		Nonce:       r.Nonce,
		Signature:   r.Signature,
	}
}

// SendMsgRequestV1 is the request body for POST /msg.
type SendMsgRequestV1 struct {
	Caller common.Address `json:"caller"`
	Record ReciboInfoV1   `json:"record"`
}

// TransferFromRequestV1 is the request body for POST /transfer.
type TransferFromRequestV1 struct {
	Caller common.Address `json:"caller"`
	To     common.Address `json:"to"`
	Value  *hexutil.Big   `json:"value"`
	Record ReciboInfoV1   `json:"record"`
}

// PermitRequestV1 is the request body for POST /permit.
type PermitRequestV1 struct {
	Caller    common.Address `json:"caller"`
	Owner     common.Address `json:"owner"`
	Spender   common.Address `json:"spender"`
	Value     *hexutil.Big   `json:"value"`
	Deadline  *hexutil.Big   `json:"deadline"`
	Signature hexutil.Bytes  `json:"signature"`
	Record    ReciboInfoV1   `json:"record"`
}

// PermitAndTransferRequestV1 is the request body for POST /permit-transfer.
type PermitAndTransferRequestV1 struct {
	Caller    common.Address `json:"caller"`
	To        common.Address `json:"to"`
	Value     *hexutil.Big   `json:"value"`
	Deadline  *hexutil.Big   `json:"deadline"`
	Signature hexutil.Bytes  `json:"signature"`
	Record    ReciboInfoV1   `json:"record"`
}

// TransferWithAuthorizationRequestV1 is the request body for
// POST /transfer-authorization.
type TransferWithAuthorizationRequestV1 struct {
	Caller      common.Address `json:"caller"`
	From        common.Address `json:"from"`
	To          common.Address `json:"to"`
	Value       *hexutil.Big   `json:"value"`
	ValidAfter  *hexutil.Big   `json:"validAfter"`
	ValidBefore *hexutil.Big   `json:"validBefore"`
	Nonce       common.Hash    `json:"nonce"`
	Signature   hexutil.Bytes  `json:"signature"`
	Record      ReciboInfoV1   `json:"record"`
}

// SetForwarderRequestV1 is the request body for POST /admin/forwarder.
type SetForwarderRequestV1 struct {
	Caller    common.Address `json:"caller"`
	Forwarder common.Address `json:"forwarder"`
}

// OperationResponseV1 acknowledges a settled operation.
type OperationResponseV1 struct {
	Status string `json:"status"`
}

// AuthorizationStateResponseV1 is the response body for
// GET /authorization-state.
type AuthorizationStateResponseV1 struct {
	Signer   common.Address `json:"signer"`
	Nonce    common.Hash    `json:"nonce"`
	Consumed bool           `json:"consumed"`
}

// AuditRootResponseV1 is the response body for GET /events/root.
type AuditRootResponseV1 struct {
	Root   common.Hash `json:"root"`
	Events int         `json:"events"`
}
