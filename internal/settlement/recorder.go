package settlement

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/duration-fi/durationd/internal/domain"
)

// Settler is the gateway surface the recorder wraps.
type Settler interface {
	Settle(ctx context.Context, req domain.SwapRequest) (*big.Int, error)
}

// RecordingGateway wraps a settlement gateway and writes one audit record
// per attempt, failed attempts included. Recording is best effort: a store
// failure is logged, never surfaced, so bookkeeping cannot block settlement.
type RecordingGateway struct {
	inner Settler
	store domain.SettlementStore
	now   func() time.Time
	log   *slog.Logger
}

// NewRecordingGateway wraps inner with settlement-trail recording.
func NewRecordingGateway(inner Settler, store domain.SettlementStore, log *slog.Logger) *RecordingGateway {
	return &RecordingGateway{
		inner: inner,
		store: store,
		now:   time.Now,
		log:   log.With(slog.String("component", "settlement_recorder")),
	}
}

// Settle delegates to the wrapped gateway and records the outcome.
func (g *RecordingGateway) Settle(ctx context.Context, req domain.SwapRequest) (*big.Int, error) {
	out, err := g.inner.Settle(ctx, req)

	rec := domain.SettlementRecord{
		ID:        uuid.NewString(),
		OptionID:  req.OptionID,
		AssetIn:   req.AssetIn,
		AssetOut:  req.AssetOut,
		AmountIn:  req.AmountIn,
		MinReturn: req.MinAmountOut,
		Expected:  req.ExpectedOut,
		Success:   err == nil,
		CreatedAt: g.now().UTC(),
	}
	if err != nil {
		rec.Reason = err.Error()
	} else {
		rec.AmountOut = out
	}

	if insertErr := g.store.Insert(ctx, rec); insertErr != nil {
		g.log.ErrorContext(ctx, "settlement record insert failed",
			slog.String("record_id", rec.ID),
			slog.Uint64("option_id", rec.OptionID),
			slog.String("error", insertErr.Error()),
		)
	}

	return out, err
}
