package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OptionState tracks the option lifecycle. The machine is linear:
// TAKEN -> {EXERCISED, EXPIRED, LIQUIDATED}, all terminal.
type OptionState string

const (
	OptionStateTaken      OptionState = "taken"
	OptionStateExercised  OptionState = "exercised"
	OptionStateExpired    OptionState = "expired"
	OptionStateLiquidated OptionState = "liquidated"
)

// Terminal reports whether no further transition is possible.
func (s OptionState) Terminal() bool {
	return s != OptionStateTaken
}

// ActiveOption is a live, fully collateralized position created by taking a
// commitment. Asset, Amount and StrikePrice are fixed at take-time and never
// change afterwards.
type ActiveOption struct {
	ID          uint64
	Taker       common.Address
	LP          common.Address
	Asset       common.Address
	Amount      *big.Int // atomic units of Asset
	StrikePrice *big.Int // 8-decimal, spot observed at take-time
	PremiumPaid *big.Int // 6-decimal stable, transferred to the LP at take-time
	OptionType  OptionType
	State       OptionState

	// HeldProceeds is set for PUT options only: the 6-decimal stable amount
	// obtained by liquidating the collateral at take-time. Nil for CALLs.
	HeldProceeds *big.Int

	CreatedAt time.Time
	ExpiresAt time.Time
	SettledAt *time.Time

	// TakerPayout is the taker's realized 6-decimal profit after fees.
	// Populated on exercise, nil otherwise.
	TakerPayout *big.Int
}

// Expired reports whether the option is past its expiry timestamp.
func (o *ActiveOption) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// TakeResult is returned by the lifecycle engine's take path. When the
// simple-swap short-circuit fires no option is created: OptionID is zero and
// ShortCircuited is true.
type TakeResult struct {
	OptionID       uint64
	ShortCircuited bool
	StrikePrice    *big.Int
	PremiumPaid    *big.Int
}
