package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/recibo-network/recibo-go/pkg/events"
	"github.com/recibo-network/recibo-go/pkg/types"
)

// ClientConfig holds the configuration for the service client.
type ClientConfig struct {
	// BaseURL is the service endpoint, e.g. "http://localhost:8080".
	BaseURL string

	// HTTPClient is optional; a client with a 30s timeout is used if nil.
	HTTPClient *http.Client

	// Logger is optional; a nop logger is used if nil.
	Logger *zap.Logger
}

// Client is a reusable library interface for submitting operations to a
// running service instance over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a service client with dependency injection.
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		logger:     log,
	}, nil
}

// StatusError is returned when the service rejects a request. Status carries
// the HTTP code so callers can distinguish the failure classes the service
// maps its errors onto.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("service returned %d: %s", e.Status, e.Body)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// SendMsg submits a message with no value movement.
func (c *Client) SendMsg(ctx context.Context, req types.SendMsgRequestV1) error {
	var resp types.OperationResponseV1
	return c.post(ctx, "/msg", req, &resp)
}

// TransferFromWithMsg submits an allowance-backed transfer with a message.
func (c *Client) TransferFromWithMsg(ctx context.Context, req types.TransferFromRequestV1) error {
	var resp types.OperationResponseV1
	return c.post(ctx, "/transfer", req, &resp)
}

// PermitWithMsg submits a signed approval with a message.
func (c *Client) PermitWithMsg(ctx context.Context, req types.PermitRequestV1) error {
	var resp types.OperationResponseV1
	return c.post(ctx, "/permit", req, &resp)
}

// PermitAndTransferFromWithMsg submits a composed self-permit and transfer
// with a message.
func (c *Client) PermitAndTransferFromWithMsg(ctx context.Context, req types.PermitAndTransferRequestV1) error {
	var resp types.OperationResponseV1
	return c.post(ctx, "/permit-transfer", req, &resp)
}

// TransferWithAuthorizationWithMsg submits a single-use signed transfer
// authorization whose nonce binds the attached message.
func (c *Client) TransferWithAuthorizationWithMsg(ctx context.Context, req types.TransferWithAuthorizationRequestV1) error {
	var resp types.OperationResponseV1
	return c.post(ctx, "/transfer-authorization", req, &resp)
}

// SetTrustedForwarder rotates the trusted forwarder. Owner-only.
func (c *Client) SetTrustedForwarder(ctx context.Context, req types.SetForwarderRequestV1) error {
	var resp types.OperationResponseV1
	return c.post(ctx, "/admin/forwarder", req, &resp)
}

// AuthorizationState reports whether the (signer, nonce) pair has been
// consumed by the service's ledger.
func (c *Client) AuthorizationState(ctx context.Context, signer common.Address, nonce common.Hash) (bool, error) {
	query := url.Values{}
	query.Set("signer", signer.Hex())
	query.Set("nonce", nonce.Hex())

	var resp types.AuthorizationStateResponseV1
	if err := c.get(ctx, "/authorization-state", query, &resp); err != nil {
		return false, err
	}
	return resp.Consumed, nil
}

// Events fetches committed audit events matching the filter.
func (c *Client) Events(ctx context.Context, filter events.Filter) ([]*events.Event, error) {
	query := url.Values{}
	if filter.Kind != "" {
		query.Set("kind", string(filter.Kind))
	}
	if filter.MessageFrom != (common.Address{}) {
		query.Set("messageFrom", filter.MessageFrom.Hex())
	}
	if filter.MessageTo != (common.Address{}) {
		query.Set("messageTo", filter.MessageTo.Hex())
	}
	if filter.To != (common.Address{}) {
		query.Set("to", filter.To.Hex())
	}
	if filter.Spender != (common.Address{}) {
		query.Set("spender", filter.Spender.Hex())
	}

	var evs []*events.Event
	if err := c.get(ctx, "/events", query, &evs); err != nil {
		return nil, err
	}
	return evs, nil
}

// AuditRoot fetches the Merkle commitment over the audit trail.
func (c *Client) AuditRoot(ctx context.Context) (types.AuditRootResponseV1, error) {
	var resp types.AuditRootResponseV1
	if err := c.get(ctx, "/events/root", nil, &resp); err != nil {
		return types.AuditRootResponseV1{}, err
	}
	return resp, nil
}

// Health checks service liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil, nil)
}
