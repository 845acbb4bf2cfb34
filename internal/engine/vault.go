package engine

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duration-fi/durationd/internal/domain"
)

// Vault models custody of tokens: per-account, per-asset balances. Accounts
// include LPs, takers, the protocol custody account (holding locked
// collateral and PUT proceeds), and the treasury. Every fund movement the
// protocol performs is a Vault operation, so the collateralization invariant
// can be checked against real balances rather than assumed.
type Vault struct {
	mu       sync.Mutex
	balances map[common.Address]map[common.Address]*big.Int // asset -> account -> balance
}

// NewVault creates an empty vault.
func NewVault() *Vault {
	return &Vault{balances: make(map[common.Address]map[common.Address]*big.Int)}
}

func (v *Vault) slot(asset, account common.Address) *big.Int {
	accounts := v.balances[asset]
	if accounts == nil {
		accounts = make(map[common.Address]*big.Int)
		v.balances[asset] = accounts
	}
	bal := accounts[account]
	if bal == nil {
		bal = new(big.Int)
		accounts[account] = bal
	}
	return bal
}

// Credit adds amount of asset to account (an external deposit).
func (v *Vault) Credit(asset, account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("engine: credit amount: %w", domain.ErrInvalidAmount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	bal := v.slot(asset, account)
	bal.Add(bal, amount)
	return nil
}

// Debit removes amount of asset from account (an external withdrawal).
func (v *Vault) Debit(asset, account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("engine: debit amount: %w", domain.ErrInvalidAmount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	bal := v.slot(asset, account)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("engine: debit %s of %s from %s: %w",
			amount.String(), asset.Hex(), account.Hex(), domain.ErrVaultInsufficient)
	}
	bal.Sub(bal, amount)
	return nil
}

// Move transfers amount of asset between two accounts atomically.
func (v *Vault) Move(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("engine: move amount: %w", domain.ErrInvalidAmount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	src := v.slot(asset, from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("engine: move %s of %s from %s: %w",
			amount.String(), asset.Hex(), from.Hex(), domain.ErrVaultInsufficient)
	}
	dst := v.slot(asset, to)
	src.Sub(src, amount)
	dst.Add(dst, amount)
	return nil
}

// Balance returns a copy of account's balance of asset.
func (v *Vault) Balance(asset, account common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if accounts := v.balances[asset]; accounts != nil {
		if bal := accounts[account]; bal != nil {
			return new(big.Int).Set(bal)
		}
	}
	return new(big.Int)
}
