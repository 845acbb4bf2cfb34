package engine

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duration-fi/durationd/internal/domain"
)

// CollateralLedger tracks total locked collateral per asset. It is pure
// accounting: it never moves funds. Lock and Release only adjust counters;
// the lifecycle engine orders the matching vault movements around them.
type CollateralLedger struct {
	mu     sync.Mutex
	locked map[common.Address]*big.Int
}

// NewCollateralLedger creates an empty ledger.
func NewCollateralLedger() *CollateralLedger {
	return &CollateralLedger{locked: make(map[common.Address]*big.Int)}
}

// Lock adds amount to the locked total for asset.
func (l *CollateralLedger) Lock(asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("engine: lock amount: %w", domain.ErrInvalidAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.locked[asset]
	if cur == nil {
		cur = new(big.Int)
		l.locked[asset] = cur
	}
	cur.Add(cur, amount)
	return nil
}

// Release subtracts amount from the locked total for asset. An underflow is
// a bookkeeping bug elsewhere; it fails loudly instead of clamping so the
// whole operation halts.
func (l *CollateralLedger) Release(asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("engine: release amount: %w", domain.ErrInvalidAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.locked[asset]
	if cur == nil || cur.Cmp(amount) < 0 {
		return fmt.Errorf("engine: release %s of %s: %w",
			amount.String(), asset.Hex(), domain.ErrLedgerUnderflow)
	}
	cur.Sub(cur, amount)
	return nil
}

// TotalLocked returns a copy of the locked total for asset.
func (l *CollateralLedger) TotalLocked(asset common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur := l.locked[asset]; cur != nil {
		return new(big.Int).Set(cur)
	}
	return new(big.Int)
}
