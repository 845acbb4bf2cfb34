package engine

import (
	"fmt"
	"math/big"

	"github.com/duration-fi/durationd/internal/domain"
)

const bpsDenominator = 10_000

// Distribution is a three-way split of settlement proceeds. The parts always
// sum exactly to the total passed to Split.
type Distribution struct {
	LP       *big.Int
	Taker    *big.Int
	Treasury *big.Int
}

// FeeDistributor splits settlement proceeds among the LP, the taker and the
// protocol treasury. The LP is paid their floor first; the protocol fee (in
// basis points) applies to the residual only; truncation remainders accrue
// to the treasury, never the taker, so nothing is ever lost.
type FeeDistributor struct {
	feeBps uint32
}

// NewFeeDistributor creates a distributor with the given protocol fee rate.
func NewFeeDistributor(feeBps uint32) (*FeeDistributor, error) {
	if feeBps > bpsDenominator {
		return nil, fmt.Errorf("engine: fee %d bps exceeds 100%%", feeBps)
	}
	return &FeeDistributor{feeBps: feeBps}, nil
}

// Split divides total proceeds: the LP receives min(total, lpFloor), the
// taker receives the residual net of the protocol fee, and the treasury
// receives the fee plus any truncation remainder.
func (f *FeeDistributor) Split(total, lpFloor *big.Int) (Distribution, error) {
	if total == nil || total.Sign() < 0 || lpFloor == nil || lpFloor.Sign() < 0 {
		return Distribution{}, fmt.Errorf("engine: split inputs: %w", domain.ErrInvalidAmount)
	}

	lp := new(big.Int).Set(lpFloor)
	if lp.Cmp(total) > 0 {
		lp.Set(total)
	}

	residual := new(big.Int).Sub(total, lp)

	// taker = floor(residual * (1 - fee)); treasury absorbs the remainder.
	taker := new(big.Int).Mul(residual, big.NewInt(int64(bpsDenominator-f.feeBps)))
	taker.Div(taker, big.NewInt(bpsDenominator))
	treasury := new(big.Int).Sub(residual, taker)

	// Conservation check: lp + taker + treasury == total.
	sum := new(big.Int).Add(lp, taker)
	sum.Add(sum, treasury)
	if sum.Cmp(total) != 0 {
		return Distribution{}, fmt.Errorf("engine: split of %s sums to %s: %w",
			total.String(), sum.String(), domain.ErrOverDistribution)
	}

	return Distribution{LP: lp, Taker: taker, Treasury: treasury}, nil
}
