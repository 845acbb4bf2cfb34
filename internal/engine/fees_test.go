package engine

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/duration-fi/durationd/internal/domain"
)

func TestNewFeeDistributorRejectsOverUnity(t *testing.T) {
	_, err := NewFeeDistributor(10_001)
	require.Error(t, err)

	_, err = NewFeeDistributor(10_000)
	require.NoError(t, err)
}

func TestSplitPaysFloorThenFeesResidual(t *testing.T) {
	f, err := NewFeeDistributor(500)
	require.NoError(t, err)

	dist, err := f.Split(usd6(3500), usd6(3000))
	require.NoError(t, err)
	require.Equal(t, usd6(3000), dist.LP)
	require.Equal(t, usd6(475), dist.Taker)
	require.Equal(t, usd6(25), dist.Treasury)
}

func TestSplitCapsFloorAtTotal(t *testing.T) {
	f, err := NewFeeDistributor(500)
	require.NoError(t, err)

	dist, err := f.Split(usd6(2000), usd6(3000))
	require.NoError(t, err)
	require.Equal(t, usd6(2000), dist.LP)
	require.Equal(t, int64(0), dist.Taker.Int64())
	require.Equal(t, int64(0), dist.Treasury.Int64())
}

func TestSplitTruncationRemainderGoesToTreasury(t *testing.T) {
	f, err := NewFeeDistributor(500)
	require.NoError(t, err)

	// Residual 7: taker floor(7*9500/10000) = 6, treasury 1.
	dist, err := f.Split(big.NewInt(107), big.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, int64(100), dist.LP.Int64())
	require.Equal(t, int64(6), dist.Taker.Int64())
	require.Equal(t, int64(1), dist.Treasury.Int64())
}

func TestSplitConservesTotal(t *testing.T) {
	f, err := NewFeeDistributor(137)
	require.NoError(t, err)

	for _, tc := range []struct{ total, floor int64 }{
		{0, 0},
		{1, 0},
		{999_999, 1},
		{1_000_000, 999_999},
		{123_456_789, 87_654_321},
	} {
		dist, err := f.Split(big.NewInt(tc.total), big.NewInt(tc.floor))
		require.NoError(t, err)
		sum := new(big.Int).Add(dist.LP, dist.Taker)
		sum.Add(sum, dist.Treasury)
		require.Equal(t, tc.total, sum.Int64(), "total=%d floor=%d", tc.total, tc.floor)
	}
}

func TestSplitRejectsNegativeInputs(t *testing.T) {
	f, err := NewFeeDistributor(500)
	require.NoError(t, err)

	_, err = f.Split(big.NewInt(-1), big.NewInt(0))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.Split(big.NewInt(10), big.NewInt(-1))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.Split(nil, big.NewInt(0))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}
