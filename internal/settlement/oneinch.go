package settlement

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duration-fi/durationd/internal/domain"
)

// OneInchClient is the REST client for a 1inch-style aggregation router.
// It implements Venue and Approver.
type OneInchClient struct {
	baseURL    string
	apiKey     string
	chainID    int64
	httpClient *http.Client
}

// NewOneInchClient creates a router client.
//
// baseURL is the aggregation API root, e.g. "https://api.1inch.dev/swap/v6.0".
func NewOneInchClient(baseURL, apiKey string, chainID int64) *OneInchClient {
	return &OneInchClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		chainID: chainID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type quoteResponse struct {
	DstAmount string `json:"dstAmount"`
}

type swapResponse struct {
	DstAmount string `json:"dstAmount"`
	TxHash    string `json:"txHash"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"description"`
}

// Quote returns the router's expected output for a swap, without executing.
func (c *OneInchClient) Quote(ctx context.Context, assetIn, assetOut common.Address, amountIn *big.Int) (*big.Int, error) {
	params := url.Values{}
	params.Set("src", assetIn.Hex())
	params.Set("dst", assetOut.Hex())
	params.Set("amount", amountIn.String())

	body, err := c.doGet(ctx, fmt.Sprintf("/%d/quote?%s", c.chainID, params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("settlement/oneinch: quote: %w", err)
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("settlement/oneinch: decode quote: %w", err)
	}
	return parseAmount(resp.DstAmount)
}

// Swap executes a swap through the router. RoutingHint is the opaque
// route/calldata blob the caller sourced from the router's pathfinder; it is
// forwarded untouched.
func (c *OneInchClient) Swap(ctx context.Context, req domain.SwapRequest) (*big.Int, error) {
	payload := map[string]any{
		"src":         req.AssetIn.Hex(),
		"dst":         req.AssetOut.Hex(),
		"amount":      req.AmountIn.String(),
		"minReturn":   req.MinAmountOut.String(),
		"routingData": hex.EncodeToString(req.RoutingHint),
	}
	if !req.Deadline.IsZero() {
		payload["deadline"] = req.Deadline.Unix()
	}

	body, err := c.doPost(ctx, fmt.Sprintf("/%d/swap", c.chainID), payload)
	if err != nil {
		return nil, fmt.Errorf("settlement/oneinch: swap: %w", err)
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("settlement/oneinch: decode swap: %w", err)
	}
	return parseAmount(resp.DstAmount)
}

// Approve sets the router's allowance for asset to exactly amount.
func (c *OneInchClient) Approve(ctx context.Context, asset, spender common.Address, amount *big.Int) error {
	payload := map[string]any{
		"token":   asset.Hex(),
		"spender": spender.Hex(),
		"amount":  amount.String(),
	}
	if _, err := c.doPost(ctx, fmt.Sprintf("/%d/approve", c.chainID), payload); err != nil {
		return fmt.Errorf("settlement/oneinch: approve: %w", err)
	}
	return nil
}

func (c *OneInchClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *OneInchClient) doPost(ctx context.Context, path string, payload any) ([]byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *OneInchClient) do(req *http.Request) ([]byte, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Description != "" {
			return nil, fmt.Errorf("router status %d: %s", resp.StatusCode, apiErr.Description)
		}
		return nil, fmt.Errorf("router status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("settlement/oneinch: invalid amount %q", s)
	}
	return v, nil
}
