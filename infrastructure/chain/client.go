// Package chain provides EVM-style JSON-RPC and log-subscription access
// used by the Chain Subscriber (C1) and pool discovery.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/r3e-network/arb-engine/infrastructure/httputil"
	"github.com/r3e-network/arb-engine/infrastructure/resilience"
)

// callRetryConfig bounds retries against a single endpoint before the pool
// rotates to the next one; kept short since ExecuteWithFailover provides
// the outer retry loop across endpoints.
var callRetryConfig = resilience.RetryConfig{
	MaxAttempts:  2,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     1 * time.Second,
	Multiplier:   2.0,
	Jitter:       0.2,
}

// maxEndpointFailovers bounds how many times ExecuteWithFailover rotates to
// a different endpoint for a single call before giving up.
const maxEndpointFailovers = 2

// Client provides EVM JSON-RPC client functionality: factory/pool reads via
// eth_call, and historical log fetches via eth_getLogs. It never signs or
// submits transactions — constructing and broadcasting transactions is out
// of scope for this engine. When configured with more than one endpoint, it
// rotates away from a failing one via an RPCPool rather than pinning to a
// single URL for the life of the process.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	chainID    uint64
	pool       *RPCPool // nil when only a single endpoint is configured
}

// Config holds client configuration.
type Config struct {
	// RPCURL is a single RPC endpoint. Prefer Endpoints when more than one
	// is available; RPCURL is kept for single-endpoint callers and tests.
	RPCURL string
	// Endpoints, when non-empty, is the ordered set of RPC URLs the client
	// rotates across on failure via an RPCPool. Endpoints[0] seeds RPCURL.
	Endpoints  []string
	ChainID    uint64
	Timeout    time.Duration
	HTTPClient *http.Client // Optional custom HTTP client.
}

// NewClient creates a new EVM JSON-RPC client.
func NewClient(cfg Config) (*Client, error) {
	endpoints := cfg.Endpoints
	if len(endpoints) == 0 && cfg.RPCURL != "" {
		endpoints = []string{cfg.RPCURL}
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("RPC URL required")
	}

	normalizedURL, err := httputil.NormalizeBaseURL(endpoints[0])
	if err != nil {
		return nil, fmt.Errorf("invalid RPC URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = httputil.NewHTTPClient(timeout)
	}

	client := &Client{
		rpcURL:     normalizedURL,
		httpClient: httpClient,
		chainID:    cfg.ChainID,
	}

	if len(endpoints) > 1 {
		poolCfg := DefaultRPCPoolConfig()
		poolCfg.Endpoints = endpoints
		poolCfg.HTTPClient = httpClient
		pool, err := NewRPCPool(poolCfg)
		if err != nil {
			return nil, fmt.Errorf("rpc pool: %w", err)
		}
		client.pool = pool
	}

	return client, nil
}

// ChainID returns the configured chain ID for this client.
func (c *Client) ChainID() uint64 {
	if c == nil {
		return 0
	}
	return c.chainID
}

// CloneWithRPCURL returns a new Client that uses the provided RPC URL while
// retaining the existing client's ChainID and HTTP client configuration.
// Nothing in the engine calls it: the Chain Subscriber rotates its own
// endpoint list, and Client rotates through its internal RPCPool.
func (c *Client) CloneWithRPCURL(rpcURL string) (*Client, error) {
	if c == nil {
		return nil, fmt.Errorf("chain client is nil")
	}

	timeout := time.Duration(0)
	if c.httpClient != nil {
		timeout = c.httpClient.Timeout
	}

	return NewClient(Config{
		RPCURL:     rpcURL,
		ChainID:    c.chainID,
		Timeout:    timeout,
		HTTPClient: c.httpClient,
	})
}

// =============================================================================
// Core RPC Methods
// =============================================================================

// Call makes a JSON-RPC call to the node. With a single configured
// endpoint, it retries a failed call once in place, whatever the error; with
// more than one, it
// rotates across the pool on failure (§5: "on timeout, the endpoint is
// rotated"), retrying briefly against whichever endpoint is current before
// rotating away from it.
func (c *Client) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if c.pool == nil {
		var result json.RawMessage
		err := resilience.Retry(ctx, callRetryConfig, func() error {
			var callErr error
			result, callErr = c.callOnce(ctx, c.rpcURL, method, params)
			return callErr
		})
		return result, err
	}

	var result json.RawMessage
	err := c.pool.ExecuteWithFailover(ctx, maxEndpointFailovers, func(url string) error {
		return resilience.Retry(ctx, callRetryConfig, func() error {
			var callErr error
			result, callErr = c.callOnce(ctx, url, method, params)
			return callErr
		})
	})
	return result, err
}

// callOnce issues a single JSON-RPC request against url with no retry.
func (c *Client) callOnce(ctx context.Context, url, method string, params []interface{}) (json.RawMessage, error) {
	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, truncated, readErr := httputil.ReadAllWithLimit(resp.Body, 32<<10)
		if readErr != nil {
			return nil, fmt.Errorf("read error response: %w", readErr)
		}
		msg := strings.TrimSpace(string(respBody))
		if truncated {
			msg += "...(truncated)"
		}
		return nil, fmt.Errorf("rpc http error %d: %s", resp.StatusCode, msg)
	}

	respBody, err := httputil.ReadAllStrict(resp.Body, 8<<20)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// BlockNumber returns the current block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, err
	}

	var hexNum string
	if err := json.Unmarshal(result, &hexNum); err != nil {
		return 0, err
	}
	return parseHexUint(hexNum)
}

// ethCall performs an eth_call against the given contract address with the
// given calldata (already ABI-encoded, "0x"-prefixed), returning the raw
// "0x"-prefixed hex result.
func (c *Client) ethCall(ctx context.Context, to, data string) (string, error) {
	params := []interface{}{
		map[string]interface{}{
			"to":   to,
			"data": data,
		},
		"latest",
	}

	result, err := c.Call(ctx, "eth_call", params)
	if err != nil {
		return "", err
	}

	var hexResult string
	if err := json.Unmarshal(result, &hexResult); err != nil {
		return "", fmt.Errorf("unmarshal eth_call result: %w", err)
	}
	return hexResult, nil
}

// GetLogs fetches historical logs matching the given address set and topic0
// within [fromBlock, toBlock]. The Chain Subscriber does not call it: no
// gap backfill happens after a reconnection.
func (c *Client) GetLogs(ctx context.Context, addresses []string, topic0 string, fromBlock, toBlock uint64) ([]RawLog, error) {
	filter := map[string]interface{}{
		"fromBlock": fmt.Sprintf("0x%x", fromBlock),
		"toBlock":   fmt.Sprintf("0x%x", toBlock),
		"address":   addresses,
		"topics":    []interface{}{topic0},
	}

	result, err := c.Call(ctx, "eth_getLogs", []interface{}{filter})
	if err != nil {
		return nil, err
	}

	var logs []RawLog
	if err := json.Unmarshal(result, &logs); err != nil {
		return nil, fmt.Errorf("unmarshal logs: %w", err)
	}
	return logs, nil
}
