package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SettlementParams are caller-supplied parameters for a settlement swap.
// RoutingHint is opaque venue data (1inch tx calldata or route description);
// the engine never interprets it.
type SettlementParams struct {
	MinReturn   *big.Int
	RoutingHint []byte
	Deadline    time.Time
}

// SwapRequest is what the engine hands the settlement gateway. ExpectedOut
// is the engine's independent estimate of the swap output; the gateway
// rejects fills deviating from it beyond its configured tolerance.
type SwapRequest struct {
	OptionID     uint64 // 0 for take-time swaps
	AssetIn      common.Address
	AssetOut     common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	ExpectedOut  *big.Int
	RoutingHint  []byte
	Deadline     time.Time
}

// SettlementRecord is the audit trail entry written for every settlement
// attempt, successful or not.
type SettlementRecord struct {
	ID        string
	OptionID  uint64
	AssetIn   common.Address
	AssetOut  common.Address
	AmountIn  *big.Int
	AmountOut *big.Int // nil when the attempt failed
	MinReturn *big.Int
	Expected  *big.Int
	Success   bool
	Reason    string // failure reason, empty on success
	CreatedAt time.Time
}
