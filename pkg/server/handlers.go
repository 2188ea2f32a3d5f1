package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/recibo-network/recibo-go/pkg/auth"
	"github.com/recibo-network/recibo-go/pkg/events"
	"github.com/recibo-network/recibo-go/pkg/ledger"
	"github.com/recibo-network/recibo-go/pkg/recibo"
	"github.com/recibo-network/recibo-go/pkg/typeddata"
	"github.com/recibo-network/recibo-go/pkg/types"
)

// writeOperationError maps the façade's failure taxonomy onto HTTP statuses.
// Unrecognized errors are collaborator failures propagated verbatim.
func (s *Server) writeOperationError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, auth.ErrSenderMismatch), errors.Is(err, auth.ErrSenderNotAuthorized), errors.Is(err, auth.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, typeddata.ErrInvalidSignature):
		status = http.StatusUnauthorized
	case errors.Is(err, ledger.ErrAuthorizationAlreadyUsed):
		status = http.StatusConflict
	case errors.Is(err, typeddata.ErrNonceMustBeMessageHash), errors.Is(err, recibo.ErrMessageAttributionMismatch):
		status = http.StatusBadRequest
	default:
		status = http.StatusUnprocessableEntity
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse request: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

// handleSendMsg handles POST /msg.
func (s *Server) handleSendMsg(w http.ResponseWriter, r *http.Request) {
	var req types.SendMsgRequestV1
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := s.facade.SendMsg(r.Context(), req.Caller, req.Record.ToRecord()); err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeJSON(w, types.OperationResponseV1{Status: "settled"})
}

// handleTransferFrom handles POST /transfer.
func (s *Server) handleTransferFrom(w http.ResponseWriter, r *http.Request) {
	var req types.TransferFromRequestV1
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.Value == nil {
		http.Error(w, "value is required", http.StatusBadRequest)
		return
	}

	if err := s.facade.TransferFromWithMsg(r.Context(), req.Caller, req.To, req.Value.ToInt(), req.Record.ToRecord()); err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeJSON(w, types.OperationResponseV1{Status: "settled"})
}

// handlePermit handles POST /permit.
func (s *Server) handlePermit(w http.ResponseWriter, r *http.Request) {
	var req types.PermitRequestV1
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.Value == nil || req.Deadline == nil {
		http.Error(w, "value and deadline are required", http.StatusBadRequest)
		return
	}

	err := s.facade.PermitWithMsg(r.Context(), req.Caller, req.Owner, req.Spender,
		req.Value.ToInt(), req.Deadline.ToInt(), req.Signature, req.Record.ToRecord())
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeJSON(w, types.OperationResponseV1{Status: "settled"})
}

// handlePermitAndTransfer handles POST /permit-transfer.
func (s *Server) handlePermitAndTransfer(w http.ResponseWriter, r *http.Request) {
	var req types.PermitAndTransferRequestV1
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.Value == nil || req.Deadline == nil {
		http.Error(w, "value and deadline are required", http.StatusBadRequest)
		return
	}

	err := s.facade.PermitAndTransferFromWithMsg(r.Context(), req.Caller, req.To,
		req.Value.ToInt(), req.Deadline.ToInt(), req.Signature, req.Record.ToRecord())
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeJSON(w, types.OperationResponseV1{Status: "settled"})
}

// handleTransferWithAuthorization handles POST /transfer-authorization.
func (s *Server) handleTransferWithAuthorization(w http.ResponseWriter, r *http.Request) {
	var req types.TransferWithAuthorizationRequestV1
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.Value == nil || req.ValidAfter == nil || req.ValidBefore == nil {
		http.Error(w, "value, validAfter and validBefore are required", http.StatusBadRequest)
		return
	}

	err := s.facade.TransferWithAuthorizationWithMsg(r.Context(), req.Caller, req.From, req.To,
		req.Value.ToInt(), req.ValidAfter.ToInt(), req.ValidBefore.ToInt(),
		req.Nonce, req.Signature, req.Record.ToRecord())
	if err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeJSON(w, types.OperationResponseV1{Status: "settled"})
}

// handleSetForwarder handles POST /admin/forwarder (owner-only).
func (s *Server) handleSetForwarder(w http.ResponseWriter, r *http.Request) {
	var req types.SetForwarderRequestV1
	if !decodeRequest(w, r, &req) {
		return
	}

	if err := s.facade.Engine().SetTrustedForwarder(req.Caller, req.Forwarder); err != nil {
		s.writeOperationError(w, err)
		return
	}
	writeJSON(w, types.OperationResponseV1{Status: "updated"})
}

// handleAuthorizationState handles GET /authorization-state?signer=0x..&nonce=0x..
func (s *Server) handleAuthorizationState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	signerParam := r.URL.Query().Get("signer")
	nonceParam := r.URL.Query().Get("nonce")
	if !common.IsHexAddress(signerParam) {
		http.Error(w, "signer must be a hex address", http.StatusBadRequest)
		return
	}
	nonceBytes, err := decodeHash(nonceParam)
	if err != nil {
		http.Error(w, "nonce must be a 32-byte hex value", http.StatusBadRequest)
		return
	}

	signer := common.HexToAddress(signerParam)
	consumed, err := s.facade.AuthorizationState(r.Context(), signer, nonceBytes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, types.AuthorizationStateResponseV1{
		Signer:   signer,
		Nonce:    nonceBytes,
		Consumed: consumed,
	})
}

// handleEvents handles GET /events with optional messageFrom/messageTo/to/
// spender/kind filters.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter := events.Filter{Kind: events.Kind(r.URL.Query().Get("kind"))}
	if v := r.URL.Query().Get("messageFrom"); v != "" {
		filter.MessageFrom = common.HexToAddress(v)
	}
	if v := r.URL.Query().Get("messageTo"); v != "" {
		filter.MessageTo = common.HexToAddress(v)
	}
	if v := r.URL.Query().Get("to"); v != "" {
		filter.To = common.HexToAddress(v)
	}
	if v := r.URL.Query().Get("spender"); v != "" {
		filter.Spender = common.HexToAddress(v)
	}

	evs, err := s.facade.Events(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, evs)
}

// handleEventsRoot handles GET /events/root.
func (s *Server) handleEventsRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	root, count, err := s.facade.AuditRoot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, types.AuditRootResponseV1{Root: root, Events: count})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func decodeHash(s string) (common.Hash, error) {
	if len(s) != 66 || s[:2] != "0x" {
		return common.Hash{}, fmt.Errorf("invalid hash: %q", s)
	}
	var h common.Hash
	if err := h.UnmarshalText([]byte(s)); err != nil {
		return common.Hash{}, err
	}
	return h, nil
}
