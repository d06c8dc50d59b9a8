package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// RPCClient is a thin JSON-RPC transport against a ledger node.
type RPCClient struct {
	endpoint string
	http     *http.Client
	nextID   atomic.Uint64
}

func NewRPCClient(endpoint string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RPCClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsProgramRejection reports whether the error is a constraint rejection
// from the ledger program itself (e.g. closing an already-closed round)
// rather than a transport failure. Callers treat these as benign no-ops.
func IsProgramRejection(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "custom program error") ||
		strings.Contains(msg, "InstructionError")
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params any, out any) error {
	if c == nil {
		return fmt.Errorf("rpc client is nil")
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc http %d: %s", resp.StatusCode, string(raw))
	}
	var envelope rpcResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out != nil {
		return json.Unmarshal(envelope.Result, out)
	}
	return nil
}

type commitmentParam struct {
	Commitment string `json:"commitment,omitempty"`
}

func (c *RPCClient) GetLatestBlockhash(ctx context.Context, commitment string) (string, error) {
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	err := c.call(ctx, "getLatestBlockhash", []any{commitmentParam{commitment}}, &result)
	if err != nil {
		return "", err
	}
	return result.Value.Blockhash, nil
}

func (c *RPCClient) SendTransaction(ctx context.Context, txBase64 string, commitment string) (string, error) {
	var signature string
	err := c.call(ctx, "sendTransaction", []any{txBase64, map[string]any{
		"encoding":            "base64",
		"preflightCommitment": commitment,
	}}, &signature)
	if err != nil {
		return "", err
	}
	return signature, nil
}

type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

func (c *RPCClient) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error) {
	var result struct {
		Value []*SignatureStatus `json:"value"`
	}
	err := c.call(ctx, "getSignatureStatuses", []any{signatures}, &result)
	if err != nil {
		return nil, err
	}
	return result.Value, nil
}

// TransactionDetail is the subset of getTransaction the indexer needs.
type TransactionDetail struct {
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      struct {
		Err         json.RawMessage `json:"err"`
		LogMessages []string        `json:"logMessages"`
	} `json:"meta"`
}

func (c *RPCClient) GetTransaction(ctx context.Context, signature, commitment string) (*TransactionDetail, error) {
	var result *TransactionDetail
	err := c.call(ctx, "getTransaction", []any{signature, map[string]any{
		"commitment":                     commitment,
		"maxSupportedTransactionVersion": 0,
	}}, &result)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *RPCClient) GetSlot(ctx context.Context, commitment string) (uint64, error) {
	var slot uint64
	err := c.call(ctx, "getSlot", []any{commitmentParam{commitment}}, &slot)
	if err != nil {
		return 0, err
	}
	return slot, nil
}
