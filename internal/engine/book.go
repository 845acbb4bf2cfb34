package engine

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duration-fi/durationd/internal/domain"
)

// AssetLimits bounds commitment sizes for one allow-listed asset, in atomic
// units of that asset.
type AssetLimits struct {
	Info    domain.AssetInfo
	MinSize *big.Int
	MaxSize *big.Int
}

// Book holds pending commitments keyed by their EIP-712 struct hash. It only
// validates intrinsic commitment parameters; signatures and balances are the
// lifecycle engine's job at take-time, since balances can change between
// creation and taking.
type Book struct {
	mu     sync.RWMutex
	byHash map[common.Hash]domain.Commitment
	assets map[common.Address]AssetLimits
}

// NewBook creates a Book accepting only the given assets.
func NewBook(assets map[common.Address]AssetLimits) *Book {
	return &Book{
		byHash: make(map[common.Hash]domain.Commitment),
		assets: assets,
	}
}

// Limits returns the limits for an allow-listed asset.
func (b *Book) Limits(asset common.Address) (AssetLimits, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	lim, ok := b.assets[asset]
	return lim, ok
}

// Validate checks the intrinsic invariants of a commitment without storing
// it: positive in-bounds amount, allow-listed asset, sane duration bounds,
// future expiry, and exactly one premium field for the declared side.
func (b *Book) Validate(c domain.Commitment, now time.Time) error {
	lim, ok := b.assets[c.Asset]
	if !ok {
		return fmt.Errorf("engine: asset %s: %w", c.Asset.Hex(), domain.ErrAssetNotAllowed)
	}
	if c.Amount == nil || c.Amount.Sign() <= 0 ||
		c.Amount.Cmp(lim.MinSize) < 0 || c.Amount.Cmp(lim.MaxSize) > 0 {
		return fmt.Errorf("engine: amount: %w", domain.ErrInvalidAmount)
	}
	if c.MinLockDays == 0 || c.MinLockDays > c.MaxDurationDays {
		return fmt.Errorf("engine: lock days %d..%d: %w",
			c.MinLockDays, c.MaxDurationDays, domain.ErrInvalidDuration)
	}
	if c.Expired(now) {
		return fmt.Errorf("engine: expiry %d: %w", c.Expiry, domain.ErrCommitmentExpired)
	}

	// Exactly one premium field matches the declared polarity.
	offerRate := c.DailyPremiumRate != nil && c.DailyPremiumRate.Sign() > 0
	demandFlat := c.PremiumOffered != nil && c.PremiumOffered.Sign() > 0
	switch c.CommitmentType {
	case domain.CommitmentTypeOffer:
		if !offerRate || demandFlat {
			return fmt.Errorf("engine: offer premium fields: %w", domain.ErrInvalidCommitment)
		}
	case domain.CommitmentTypeDemand:
		if !demandFlat || offerRate {
			return fmt.Errorf("engine: demand premium fields: %w", domain.ErrInvalidCommitment)
		}
	default:
		return fmt.Errorf("engine: commitment type %d: %w", c.CommitmentType, domain.ErrInvalidCommitment)
	}
	return nil
}

// Store validates and inserts a commitment, returning its hash id.
func (b *Book) Store(c domain.Commitment, now time.Time) (common.Hash, error) {
	if err := b.Validate(c, now); err != nil {
		return common.Hash{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byHash[c.Hash]; ok {
		return common.Hash{}, fmt.Errorf("engine: commitment %s: %w", c.Hash.Hex(), domain.ErrAlreadyExists)
	}
	b.byHash[c.Hash] = c
	return c.Hash, nil
}

// Get returns the commitment stored under hash.
func (b *Book) Get(hash common.Hash) (domain.Commitment, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.byHash[hash]
	if !ok {
		return domain.Commitment{}, fmt.Errorf("engine: commitment %s: %w", hash.Hex(), domain.ErrNotFound)
	}
	return c, nil
}

// Remove deletes the commitment under hash. Creator authorization for
// explicit cancels is checked at the service layer.
func (b *Book) Remove(hash common.Hash) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.byHash[hash]; !ok {
		return fmt.Errorf("engine: commitment %s: %w", hash.Hex(), domain.ErrNotFound)
	}
	delete(b.byHash, hash)
	return nil
}

// Restore inserts a commitment without validation. Used when reloading the
// book from the durable index at startup.
func (b *Book) Restore(c domain.Commitment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byHash[c.Hash] = c
}

// Sweep drops expired commitments and returns their hashes so the caller can
// delete them from the durable index too.
func (b *Book) Sweep(now time.Time) []common.Hash {
	b.mu.Lock()
	defer b.mu.Unlock()

	var dropped []common.Hash
	for h, c := range b.byHash {
		if c.Expired(now) {
			delete(b.byHash, h)
			dropped = append(dropped, h)
		}
	}
	return dropped
}

// Len returns the number of pending commitments.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byHash)
}
