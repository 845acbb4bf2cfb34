package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OptionType distinguishes calls from puts.
type OptionType uint8

const (
	OptionTypeCall OptionType = 0
	OptionTypePut  OptionType = 1
)

func (t OptionType) String() string {
	if t == OptionTypePut {
		return "PUT"
	}
	return "CALL"
}

// CommitmentType encodes which side the creator takes. An offer is signed by
// an LP supplying collateral; a demand is signed by a taker requesting it.
type CommitmentType uint8

const (
	CommitmentTypeOffer  CommitmentType = 0
	CommitmentTypeDemand CommitmentType = 1
)

func (t CommitmentType) String() string {
	if t == CommitmentTypeDemand {
		return "DEMAND"
	}
	return "OFFER"
}

// Commitment is an off-chain signed intent to provide (OFFER) or take
// (DEMAND) option liquidity. It is never a position by itself; it becomes an
// ActiveOption when a counterparty takes it.
//
// Exactly one of DailyPremiumRate (OFFER) and PremiumOffered (DEMAND) is
// non-nil. Amount is in atomic units of Asset; premium fields are 6-decimal
// stable-coin units; TargetPrice is 8-decimal, zero meaning "no target".
type Commitment struct {
	Creator          common.Address
	Asset            common.Address
	Amount           *big.Int
	DailyPremiumRate *big.Int
	PremiumOffered   *big.Int
	TargetPrice      *big.Int
	MinLockDays      uint32
	MaxDurationDays  uint32
	OptionType       OptionType
	CommitmentType   CommitmentType
	Expiry           int64 // unix seconds
	Nonce            uint64
	Signature        string // 65-byte hex, 0x-prefixed

	// Hash is the EIP-712 struct hash; it doubles as the commitment id.
	// Derived, never signed over.
	Hash      common.Hash
	CreatedAt time.Time
}

// Expired reports whether the commitment is void at the given instant.
func (c *Commitment) Expired(now time.Time) bool {
	return now.Unix() >= c.Expiry
}

// Premium returns the total 6-decimal premium for the chosen duration.
// For an OFFER it is rate*days; for a DEMAND it is the flat pre-committed
// amount regardless of days.
func (c *Commitment) Premium(durationDays uint32) *big.Int {
	if c.CommitmentType == CommitmentTypeDemand {
		return new(big.Int).Set(c.PremiumOffered)
	}
	return new(big.Int).Mul(c.DailyPremiumRate, big.NewInt(int64(durationDays)))
}

// AssetInfo describes an allow-listed collateral asset.
type AssetInfo struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}
