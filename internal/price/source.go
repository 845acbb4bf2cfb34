// Package price supplies spot prices through an ordered chain of sources.
// A price of zero means "unavailable"; the chain never invents one.
package price

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duration-fi/durationd/internal/domain"
)

// Source supplies an 8-decimal spot price for an asset. Implementations
// return an error (or a zero price) when they cannot answer; they never
// guess.
type Source interface {
	Name() string
	Spot(ctx context.Context, asset common.Address) (*big.Int, error)
}

// Warmer is implemented by tiers that can absorb a price observed by a
// slower tier, so the next lookup is served locally.
type Warmer interface {
	Warm(ctx context.Context, asset common.Address, p *big.Int) error
}

// Chain tries sources in order and returns the first usable price, logging
// which tier answered. Tiers ahead of the one that answered are warmed with
// the observed price. It fails with domain.ErrInvalidPrice when every tier
// declines. It never falls back to a constant on its own.
type Chain struct {
	tiers []Source
	log   *slog.Logger
}

// NewChain creates a Chain over the given tiers, tried front to back.
func NewChain(log *slog.Logger, tiers ...Source) *Chain {
	return &Chain{tiers: tiers, log: log}
}

// Spot queries the tiers in order.
func (c *Chain) Spot(ctx context.Context, asset common.Address) (*big.Int, error) {
	for i, tier := range c.tiers {
		p, err := tier.Spot(ctx, asset)
		if err != nil {
			c.log.Debug("price tier declined",
				slog.String("tier", tier.Name()),
				slog.String("asset", asset.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if p == nil || p.Sign() <= 0 {
			continue
		}
		c.log.Debug("price tier answered",
			slog.String("tier", tier.Name()),
			slog.String("asset", asset.Hex()),
			slog.String("price", p.String()),
		)
		c.warm(ctx, c.tiers[:i], asset, p)
		return p, nil
	}
	return nil, fmt.Errorf("price: no tier answered for %s: %w", asset.Hex(), domain.ErrInvalidPrice)
}

// warm writes an observed price back into the skipped tiers. A warm failure
// never fails the lookup.
func (c *Chain) warm(ctx context.Context, skipped []Source, asset common.Address, p *big.Int) {
	for _, tier := range skipped {
		w, ok := tier.(Warmer)
		if !ok {
			continue
		}
		if err := w.Warm(ctx, asset, p); err != nil {
			c.log.Warn("price tier warm failed",
				slog.String("tier", tier.Name()),
				slog.String("asset", asset.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
}
