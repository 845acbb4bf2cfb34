package price

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Static serves fixed prices from a table. It is a development convenience
// only: the constructor refuses to build unless explicitly enabled, so a
// production configuration can never silently settle against constants.
type Static struct {
	mu     sync.RWMutex
	prices map[common.Address]*big.Int
}

// NewStatic creates a static tier from an address -> 8-decimal price table.
// enabled must be set deliberately (the allow_static_prices config flag).
func NewStatic(prices map[common.Address]*big.Int, enabled bool) (*Static, error) {
	if !enabled {
		return nil, errors.New("price: static prices not enabled for this environment")
	}
	cp := make(map[common.Address]*big.Int, len(prices))
	for a, p := range prices {
		cp[a] = new(big.Int).Set(p)
	}
	return &Static{prices: cp}, nil
}

// Name identifies the tier in chain logs.
func (s *Static) Name() string { return "static" }

// Spot returns the configured price for asset.
func (s *Static) Spot(_ context.Context, asset common.Address) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[asset]
	if !ok {
		return nil, fmt.Errorf("price/static: no price for %s", asset.Hex())
	}
	return new(big.Int).Set(p), nil
}

// Set updates a price. Test and dev-console hook.
func (s *Static) Set(asset common.Address, p *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[asset] = new(big.Int).Set(p)
}
