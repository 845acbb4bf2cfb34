package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// HTTPOracle queries a REST price oracle: GET {base}/spot?asset=0x…
// returning {"price":"<decimal string, 8dp>","at":<unix>}.
type HTTPOracle struct {
	name       string
	baseURL    string
	apiKey     string
	maxAge     time.Duration
	httpClient *http.Client
}

// NewHTTPOracle creates an oracle tier. maxAge rejects quotes older than the
// given staleness bound; zero disables the check.
func NewHTTPOracle(name, baseURL, apiKey string, maxAge time.Duration) *HTTPOracle {
	return &HTTPOracle{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		maxAge:  maxAge,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name identifies the tier in chain logs.
func (o *HTTPOracle) Name() string { return o.name }

type spotResponse struct {
	Price string `json:"price"`
	At    int64  `json:"at"`
}

// Spot fetches the current price for asset.
func (o *HTTPOracle) Spot(ctx context.Context, asset common.Address) (*big.Int, error) {
	params := url.Values{}
	params.Set("asset", asset.Hex())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/spot?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price/%s: %w", o.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("price/%s: read: %w", o.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price/%s: status %d: %s", o.name, resp.StatusCode, string(body))
	}

	var out spotResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("price/%s: decode: %w", o.name, err)
	}

	if o.maxAge > 0 && out.At > 0 {
		if age := time.Since(time.Unix(out.At, 0)); age > o.maxAge {
			return nil, fmt.Errorf("price/%s: quote stale by %s", o.name, age)
		}
	}

	p, ok := new(big.Int).SetString(out.Price, 10)
	if !ok {
		return nil, fmt.Errorf("price/%s: invalid price %q", o.name, out.Price)
	}
	return p, nil
}
