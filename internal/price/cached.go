package price

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duration-fi/durationd/internal/domain"
)

// Cached is a read-through tier over a shared price cache (Redis in
// production). It declines when the cached quote is missing or stale, so
// the chain falls through to a live oracle.
type Cached struct {
	cache  domain.PriceCache
	maxAge time.Duration
}

// NewCached creates a cache tier with the given staleness bound.
func NewCached(cache domain.PriceCache, maxAge time.Duration) *Cached {
	return &Cached{cache: cache, maxAge: maxAge}
}

// Name identifies the tier in chain logs.
func (c *Cached) Name() string { return "cache" }

// Spot returns the cached price when fresh enough.
func (c *Cached) Spot(ctx context.Context, asset common.Address) (*big.Int, error) {
	p, ts, err := c.cache.GetPrice(ctx, asset.Hex())
	if err != nil {
		return nil, err
	}
	if c.maxAge > 0 && time.Since(ts) > c.maxAge {
		return nil, fmt.Errorf("price/cache: quote stale by %s", time.Since(ts))
	}
	return p, nil
}

// Warm writes a freshly observed price back into the cache. The chain calls
// it after a slower tier answers.
func (c *Cached) Warm(ctx context.Context, asset common.Address, p *big.Int) error {
	return c.cache.SetPrice(ctx, asset.Hex(), p, time.Now())
}
