// Package settlement adapts the external best-execution swap venue (a
// 1inch-style aggregator) and validates its output before the engine
// trusts it.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duration-fi/durationd/internal/domain"
)

// Venue is the raw aggregator surface. Quote estimates; Swap executes.
// Venues are untrusted: nothing they return is used without validation.
type Venue interface {
	Quote(ctx context.Context, assetIn, assetOut common.Address, amountIn *big.Int) (*big.Int, error)
	Swap(ctx context.Context, req domain.SwapRequest) (*big.Int, error)
}

// Approver bounds token approvals granted to the venue. Approvals are for
// the exact swap amount and are reset afterwards; an infinite approval
// would hand the venue the whole custody balance if it were compromised.
type Approver interface {
	Approve(ctx context.Context, asset, spender common.Address, amount *big.Int) error
}

// Gateway wraps a Venue with the checks the engine relies on: deadline
// enforcement, the caller's minimum-return floor, and a symmetric deviation
// bound against the engine's independent output estimate. It never reports
// success with an output below the floor.
type Gateway struct {
	venue        Venue
	approver     Approver
	spender      common.Address // venue router receiving approvals
	toleranceBps uint32
	now          func() time.Time
	log          *slog.Logger
}

// NewGateway creates a validating Gateway. toleranceBps bounds how far the
// realized output may deviate from the expected output in either direction;
// a suspiciously favorable fill is rejected the same as a shortfall.
func NewGateway(venue Venue, approver Approver, spender common.Address, toleranceBps uint32, log *slog.Logger) *Gateway {
	return &Gateway{
		venue:        venue,
		approver:     approver,
		spender:      spender,
		toleranceBps: toleranceBps,
		now:          time.Now,
		log:          log,
	}
}

// WithClock overrides the gateway clock. Test hook.
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	g.now = now
	return g
}

// Settle executes req against the venue and validates the result.
func (g *Gateway) Settle(ctx context.Context, req domain.SwapRequest) (*big.Int, error) {
	if !req.Deadline.IsZero() && g.now().After(req.Deadline) {
		return nil, fmt.Errorf("settlement: %w", domain.ErrDeadlineElapsed)
	}
	if req.MinAmountOut == nil || req.MinAmountOut.Sign() <= 0 {
		return nil, fmt.Errorf("settlement: %w", domain.ErrZeroMinReturn)
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("settlement: %w", domain.ErrInvalidAmount)
	}

	// Exact-amount approval, reset after the swap regardless of outcome.
	if g.approver != nil {
		if err := g.approver.Approve(ctx, req.AssetIn, g.spender, req.AmountIn); err != nil {
			return nil, fmt.Errorf("settlement: approve: %w", err)
		}
		defer func() {
			if err := g.approver.Approve(ctx, req.AssetIn, g.spender, new(big.Int)); err != nil {
				g.log.Warn("approval reset failed",
					slog.String("asset", req.AssetIn.Hex()),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	out, err := g.venue.Swap(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("settlement: swap: %w: %v", domain.ErrSettlementFailed, err)
	}
	if out == nil || out.Cmp(req.MinAmountOut) < 0 {
		return nil, fmt.Errorf("settlement: output %s below floor %s: %w",
			outStr(out), req.MinAmountOut.String(), domain.ErrSettlementFailed)
	}
	if err := g.checkDeviation(out, req.ExpectedOut); err != nil {
		return nil, err
	}

	g.log.Debug("swap settled",
		slog.Uint64("option_id", req.OptionID),
		slog.String("asset_in", req.AssetIn.Hex()),
		slog.String("amount_in", req.AmountIn.String()),
		slog.String("amount_out", out.String()),
	)
	return out, nil
}

// checkDeviation rejects outputs off the expectation by more than the
// configured tolerance in either direction. Deviation both ways guards
// against adverse and suspiciously favorable manipulation.
func (g *Gateway) checkDeviation(out, expected *big.Int) error {
	if expected == nil || expected.Sign() <= 0 {
		return nil
	}
	diff := new(big.Int).Sub(out, expected)
	diff.Abs(diff)
	limit := new(big.Int).Mul(expected, big.NewInt(int64(g.toleranceBps)))
	limit.Div(limit, big.NewInt(10_000))
	if diff.Cmp(limit) > 0 {
		return fmt.Errorf("settlement: output %s deviates from expected %s beyond %d bps: %w",
			out.String(), expected.String(), g.toleranceBps, domain.ErrSettlementFailed)
	}
	return nil
}

func outStr(v *big.Int) string {
	if v == nil {
		return "nil"
	}
	return v.String()
}
