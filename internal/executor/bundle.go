package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"solana-brain/internal/blockchain"
)

// BlockEngineClient submits MEV-protected bundles to a block engine over the
// same JSON-RPC envelope shape the RPC endpoint pool speaks. No block-engine
// client exists anywhere in the retrieved corpus, so this generalizes
// Endpoint's request/response wire format rather than copying a reference.
type BlockEngineClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewBlockEngineClient wraps a block engine's sendBundle endpoint.
func NewBlockEngineClient(url, apiKey string) *BlockEngineClient {
	return &BlockEngineClient{
		url:    url,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type bundleRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type bundleResponse struct {
	JSONRPC string               `json:"jsonrpc"`
	ID      int                  `json:"id"`
	Result  string               `json:"result,omitempty"`
	Error   *blockchain.RPCError `json:"error,omitempty"`
}

// SendBundle submits an ordered list of base64-encoded signed transactions
// as a single atomic bundle and returns the bundle ID for status polling.
// The last transaction in txsBase64 must be the tip payment; block engines
// only land a bundle whose final transaction pays the tip account.
func (c *BlockEngineClient) SendBundle(ctx context.Context, txsBase64 []string) (string, error) {
	req := bundleRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sendBundle",
		Params:  []interface{}{txsBase64, map[string]string{"encoding": "base64"}},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal bundle request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create bundle request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("bundle http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("bundle submission failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var bundleResp bundleResponse
	if err := json.NewDecoder(resp.Body).Decode(&bundleResp); err != nil {
		return "", fmt.Errorf("decode bundle response: %w", err)
	}
	if bundleResp.Error != nil {
		return "", bundleResp.Error
	}

	return bundleResp.Result, nil
}
