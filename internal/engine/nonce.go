package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duration-fi/durationd/internal/domain"
)

// NonceRegistry tracks used commitment nonces per creator. It is set-based:
// nonces may be consumed in any order, which lets a creator sign multiple
// commitments concurrently. Storage growth is bounded by Sweep, which drops
// entries once their associated commitment expiry has passed: a replay of an
// expired commitment fails the expiry check regardless of nonce state.
type NonceRegistry struct {
	mu   sync.Mutex
	used map[common.Address]map[uint64]int64 // nonce -> commitment expiry (unix)
}

// NewNonceRegistry creates an empty registry.
func NewNonceRegistry() *NonceRegistry {
	return &NonceRegistry{
		used: make(map[common.Address]map[uint64]int64),
	}
}

// Consume marks (creator, nonce) as used, recording the commitment expiry
// for later cleanup. Returns domain.ErrNonceUsed if already consumed.
func (r *NonceRegistry) Consume(creator common.Address, nonce uint64, expiry int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.used[creator]
	if set == nil {
		set = make(map[uint64]int64)
		r.used[creator] = set
	}
	if _, ok := set[nonce]; ok {
		return fmt.Errorf("engine: nonce %d for %s: %w", nonce, creator.Hex(), domain.ErrNonceUsed)
	}
	set[nonce] = expiry
	return nil
}

// Release un-marks a nonce. It exists solely so a failed take can roll back
// its own Consume; it must never be called outside that compensation path.
func (r *NonceRegistry) Release(creator common.Address, nonce uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set := r.used[creator]; set != nil {
		delete(set, nonce)
		if len(set) == 0 {
			delete(r.used, creator)
		}
	}
}

// Used reports whether (creator, nonce) has been consumed.
func (r *NonceRegistry) Used(creator common.Address, nonce uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.used[creator][nonce]
	return ok
}

// Sweep removes entries whose commitment expiry is in the past and returns
// the number removed.
func (r *NonceRegistry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Unix()
	removed := 0
	for creator, set := range r.used {
		for nonce, expiry := range set {
			if expiry < cutoff {
				delete(set, nonce)
				removed++
			}
		}
		if len(set) == 0 {
			delete(r.used, creator)
		}
	}
	return removed
}
