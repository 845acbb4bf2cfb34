package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/duration-fi/durationd/internal/domain"
)

var (
	assetIn  = common.HexToAddress("0x4200000000000000000000000000000000000006")
	assetOut = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	router   = common.HexToAddress("0x0000000000000000000000000000000000001111")
)

type fakeVenue struct {
	out *big.Int
	err error
}

func (v *fakeVenue) Quote(_ context.Context, _, _ common.Address, _ *big.Int) (*big.Int, error) {
	return new(big.Int).Set(v.out), nil
}

func (v *fakeVenue) Swap(_ context.Context, _ domain.SwapRequest) (*big.Int, error) {
	if v.err != nil {
		return nil, v.err
	}
	return new(big.Int).Set(v.out), nil
}

type approval struct {
	asset, spender common.Address
	amount         *big.Int
}

type fakeApprover struct {
	grants []approval
}

func (a *fakeApprover) Approve(_ context.Context, asset, spender common.Address, amount *big.Int) error {
	a.grants = append(a.grants, approval{asset: asset, spender: spender, amount: new(big.Int).Set(amount)})
	return nil
}

func testRequest() domain.SwapRequest {
	return domain.SwapRequest{
		AssetIn:      assetIn,
		AssetOut:     assetOut,
		AmountIn:     big.NewInt(1e18),
		MinAmountOut: big.NewInt(2_900_000_000),
		ExpectedOut:  big.NewInt(3_000_000_000),
	}
}

func newTestGateway(venue Venue, approver Approver) *Gateway {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGateway(venue, approver, router, 300, log)
}

func TestSettleHappyPath(t *testing.T) {
	venue := &fakeVenue{out: big.NewInt(3_000_000_000)}
	approver := &fakeApprover{}
	g := newTestGateway(venue, approver)

	out, err := g.Settle(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, big.NewInt(3_000_000_000), out)

	// Exact-amount approval followed by a reset to zero.
	require.Len(t, approver.grants, 2)
	require.Equal(t, assetIn, approver.grants[0].asset)
	require.Equal(t, router, approver.grants[0].spender)
	require.Equal(t, big.NewInt(1e18), approver.grants[0].amount)
	require.Equal(t, int64(0), approver.grants[1].amount.Int64())
}

func TestSettleRejectsElapsedDeadline(t *testing.T) {
	g := newTestGateway(&fakeVenue{out: big.NewInt(1)}, nil)
	now := time.Unix(1_700_000_000, 0)
	g.WithClock(func() time.Time { return now })

	req := testRequest()
	req.Deadline = now.Add(-time.Second)
	_, err := g.Settle(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrDeadlineElapsed)
}

func TestSettleRejectsMissingFloor(t *testing.T) {
	g := newTestGateway(&fakeVenue{out: big.NewInt(1)}, nil)

	req := testRequest()
	req.MinAmountOut = nil
	_, err := g.Settle(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrZeroMinReturn)

	req.MinAmountOut = big.NewInt(0)
	_, err = g.Settle(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrZeroMinReturn)
}

func TestSettleRejectsOutputBelowFloor(t *testing.T) {
	venue := &fakeVenue{out: big.NewInt(2_899_999_999)}
	g := newTestGateway(venue, &fakeApprover{})

	_, err := g.Settle(context.Background(), testRequest())
	require.ErrorIs(t, err, domain.ErrSettlementFailed)
}

func TestSettleRejectsDeviationBothWays(t *testing.T) {
	// 300 bps of 3_000_000_000 is 90_000_000.
	cases := []struct {
		name string
		out  int64
		ok   bool
	}{
		{"at lower bound", 2_910_000_000, true},
		{"below lower bound", 2_909_999_999, false},
		{"at upper bound", 3_090_000_000, true},
		{"suspiciously favorable", 3_090_000_001, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newTestGateway(&fakeVenue{out: big.NewInt(tc.out)}, &fakeApprover{})
			_, err := g.Settle(context.Background(), testRequest())
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, domain.ErrSettlementFailed)
			}
		})
	}
}

func TestSettleWrapsVenueFailure(t *testing.T) {
	venue := &fakeVenue{err: errors.New("insufficient liquidity")}
	approver := &fakeApprover{}
	g := newTestGateway(venue, approver)

	_, err := g.Settle(context.Background(), testRequest())
	require.ErrorIs(t, err, domain.ErrSettlementFailed)

	// Approval is still reset after a failed swap.
	require.Len(t, approver.grants, 2)
	require.Equal(t, int64(0), approver.grants[1].amount.Int64())
}

func TestSettleSkipsDeviationWithoutExpectation(t *testing.T) {
	venue := &fakeVenue{out: big.NewInt(9_000_000_000)}
	g := newTestGateway(venue, nil)

	req := testRequest()
	req.ExpectedOut = nil
	out, err := g.Settle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(9_000_000_000), out)
}
