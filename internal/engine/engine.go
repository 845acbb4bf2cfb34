// Package engine implements the Duration.Finance commitment-matching and
// settlement state machine: pending commitment book, nonce replay
// protection, collateral accounting, and the option lifecycle
// TAKEN -> {EXERCISED, EXPIRED, LIQUIDATED}.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duration-fi/durationd/internal/crypto"
	"github.com/duration-fi/durationd/internal/domain"
)

// Fixed-point bases used across the protocol.
const (
	PriceDecimals   = 8 // spot and strike prices
	PremiumDecimals = 6 // stable-coin premiums and payouts
)

// PriceSource supplies spot prices, 8-decimal fixed point. A zero price
// means "unavailable" and must never be acted on.
type PriceSource interface {
	Spot(ctx context.Context, asset common.Address) (*big.Int, error)
}

// SettlementGateway executes swaps on the external venue. Implementations
// must never report success with an output below MinAmountOut.
type SettlementGateway interface {
	Settle(ctx context.Context, req domain.SwapRequest) (*big.Int, error)
}

// Config carries the deployment parameters the engine needs. All of it is
// injected; nothing is compiled in.
type Config struct {
	Domain      crypto.Domain
	Stable      domain.AssetInfo // settlement stable coin, 6 decimals
	Custody     common.Address   // protocol account holding locked funds
	Treasury    common.Address
	SlippageBps uint32 // tolerance for the PUT take-time conversion
	Now         func() time.Time
}

// TakeRequest asks the engine to take a pending commitment.
type TakeRequest struct {
	CommitmentHash common.Hash
	Caller         common.Address
	DurationDays   uint32
	RoutingHint    []byte    // venue routing for take-time swaps
	Deadline       time.Time // deadline for take-time swaps
}

// ExerciseRequest asks the engine to exercise an option the caller holds.
type ExerciseRequest struct {
	OptionID uint64
	Caller   common.Address
	Params   domain.SettlementParams
}

// Engine is the option lifecycle orchestrator. Every mutating entry point
// runs under a single engine-wide mutex, mirroring the atomic-transaction
// execution model: one call runs to completion (or is fully compensated)
// before the next begins. A per-option in-settlement flag is the second
// guard layer against re-entry through the settlement venue.
type Engine struct {
	mu sync.Mutex

	book    *Book
	nonces  *NonceRegistry
	ledger  *CollateralLedger
	vault   *Vault
	fees    *FeeDistributor
	prices  PriceSource
	gateway SettlementGateway
	cfg     Config
	log     *slog.Logger

	options  map[uint64]*domain.ActiveOption
	settling map[uint64]bool
	nextID   uint64
}

// New creates an Engine from its collaborators.
func New(
	book *Book,
	nonces *NonceRegistry,
	ledger *CollateralLedger,
	vault *Vault,
	fees *FeeDistributor,
	prices PriceSource,
	gateway SettlementGateway,
	cfg Config,
	log *slog.Logger,
) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		book:     book,
		nonces:   nonces,
		ledger:   ledger,
		vault:    vault,
		fees:     fees,
		prices:   prices,
		gateway:  gateway,
		cfg:      cfg,
		log:      log,
		options:  make(map[uint64]*domain.ActiveOption),
		settling: make(map[uint64]bool),
		nextID:   1,
	}
}

// Book exposes the commitment book for the service layer.
func (e *Engine) Book() *Book { return e.book }

// Nonces exposes the nonce registry.
func (e *Engine) Nonces() *NonceRegistry { return e.nonces }

// Ledger exposes the collateral ledger.
func (e *Engine) Ledger() *CollateralLedger { return e.ledger }

// Vault exposes the custody vault.
func (e *Engine) Vault() *Vault { return e.vault }

// ---------------------------------------------------------------------------
// takeCommitment
// ---------------------------------------------------------------------------

// TakeCommitment validates the commitment under hash, locks collateral,
// transfers the premium, and creates an ActiveOption. When the market
// has already moved past an LP offer's declared target, it executes the
// simple-swap short-circuit and creates no option.
func (e *Engine) TakeCommitment(ctx context.Context, req TakeRequest) (domain.TakeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Now()

	c, err := e.book.Get(req.CommitmentHash)
	if err != nil {
		return domain.TakeResult{}, err
	}

	// Checks. Nothing below mutates until all of these pass.
	if c.Expired(now) {
		return domain.TakeResult{}, fmt.Errorf("engine: take: %w", domain.ErrCommitmentExpired)
	}
	if err := e.book.Validate(c, now); err != nil {
		return domain.TakeResult{}, err
	}
	if req.DurationDays < c.MinLockDays || req.DurationDays > c.MaxDurationDays {
		return domain.TakeResult{}, fmt.Errorf("engine: duration %d outside %d..%d: %w",
			req.DurationDays, c.MinLockDays, c.MaxDurationDays, domain.ErrInvalidDuration)
	}
	if req.Caller == c.Creator || req.Caller == (common.Address{}) {
		return domain.TakeResult{}, fmt.Errorf("engine: take: %w", domain.ErrUnauthorizedCaller)
	}
	if _, err := crypto.Verify(e.cfg.Domain, c); err != nil {
		return domain.TakeResult{}, err
	}
	if e.nonces.Used(c.Creator, c.Nonce) {
		return domain.TakeResult{}, fmt.Errorf("engine: take: %w", domain.ErrNonceUsed)
	}

	spot, err := e.spot(ctx, c.Asset)
	if err != nil {
		return domain.TakeResult{}, err
	}

	// Role resolution: the caller is the complement of the creator's side.
	var lp, taker common.Address
	if c.CommitmentType == domain.CommitmentTypeOffer {
		lp, taker = c.Creator, req.Caller
	} else {
		lp, taker = req.Caller, c.Creator
	}

	lim, _ := e.book.Limits(c.Asset)
	decimals := lim.Info.Decimals

	if c.CommitmentType == domain.CommitmentTypeOffer && beyondTarget(c.OptionType, spot, c.TargetPrice) {
		return e.simpleSwap(ctx, c, lp, spot, decimals, req)
	}

	premium := c.Premium(req.DurationDays)

	// Effects. From here on every failure path compensates fully before
	// returning, so a failed take leaves no trace.
	if err := e.nonces.Consume(c.Creator, c.Nonce, c.Expiry); err != nil {
		return domain.TakeResult{}, err
	}
	if err := e.book.Remove(c.Hash); err != nil {
		e.nonces.Release(c.Creator, c.Nonce)
		return domain.TakeResult{}, err
	}

	undo := func() {
		e.book.Restore(c)
		e.nonces.Release(c.Creator, c.Nonce)
	}

	// Premium taker -> LP.
	if err := e.vault.Move(e.cfg.Stable.Address, taker, lp, premium); err != nil {
		undo()
		return domain.TakeResult{}, fmt.Errorf("engine: premium transfer: %w", err)
	}
	// Collateral LP -> protocol custody.
	if err := e.vault.Move(c.Asset, lp, e.cfg.Custody, c.Amount); err != nil {
		_ = e.vault.Move(e.cfg.Stable.Address, lp, taker, premium)
		undo()
		return domain.TakeResult{}, fmt.Errorf("engine: collateral transfer: %w", err)
	}

	opt := &domain.ActiveOption{
		ID:          e.nextID,
		Taker:       taker,
		LP:          lp,
		Asset:       c.Asset,
		Amount:      new(big.Int).Set(c.Amount),
		StrikePrice: new(big.Int).Set(spot),
		PremiumPaid: premium,
		OptionType:  c.OptionType,
		State:       domain.OptionStateTaken,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(req.DurationDays) * 24 * time.Hour),
	}

	if c.OptionType == domain.OptionTypePut {
		// PUT: convert the collateral to stable immediately at the strike
		// (minus slippage). The LP trades upside for a guaranteed floor;
		// the proceeds, not the raw asset, back the position.
		strikeVal := stableValue(spot, c.Amount, decimals)
		minOut := applyBps(strikeVal, bpsDenominator-e.cfg.SlippageBps)

		out, err := e.gateway.Settle(ctx, domain.SwapRequest{
			AssetIn:      c.Asset,
			AssetOut:     e.cfg.Stable.Address,
			AmountIn:     c.Amount,
			MinAmountOut: minOut,
			ExpectedOut:  strikeVal,
			RoutingHint:  req.RoutingHint,
			Deadline:     req.Deadline,
		})
		if err != nil {
			_ = e.vault.Move(c.Asset, e.cfg.Custody, lp, c.Amount)
			_ = e.vault.Move(e.cfg.Stable.Address, lp, taker, premium)
			undo()
			return domain.TakeResult{}, fmt.Errorf("engine: put conversion: %w", err)
		}

		// Custody swaps asset for stable.
		if err := e.vault.Debit(c.Asset, e.cfg.Custody, c.Amount); err != nil {
			return domain.TakeResult{}, err
		}
		if err := e.vault.Credit(e.cfg.Stable.Address, e.cfg.Custody, out); err != nil {
			return domain.TakeResult{}, err
		}
		opt.HeldProceeds = out
		if err := e.ledger.Lock(e.cfg.Stable.Address, out); err != nil {
			return domain.TakeResult{}, err
		}
	} else {
		if err := e.ledger.Lock(c.Asset, c.Amount); err != nil {
			return domain.TakeResult{}, err
		}
	}

	if err := e.checkCollateralInvariant(opt); err != nil {
		return domain.TakeResult{}, err
	}

	e.options[opt.ID] = opt
	e.nextID++

	e.log.Info("option taken",
		slog.Uint64("option_id", opt.ID),
		slog.String("type", opt.OptionType.String()),
		slog.String("taker", taker.Hex()),
		slog.String("lp", lp.Hex()),
		slog.String("strike", spot.String()),
		slog.String("premium", premium.String()),
	)

	return domain.TakeResult{
		OptionID:    opt.ID,
		StrikePrice: new(big.Int).Set(spot),
		PremiumPaid: new(big.Int).Set(premium),
	}, nil
}

// simpleSwap handles the short-circuit where spot has already moved past an
// LP offer's declared target: the collateral is sold at market immediately,
// the LP is paid their full ask-equivalent, and only the surplus over the
// ask accrues to the treasury. No option is created.
func (e *Engine) simpleSwap(
	ctx context.Context,
	c domain.Commitment,
	lp common.Address,
	spot *big.Int,
	decimals uint8,
	req TakeRequest,
) (domain.TakeResult, error) {
	targetVal := stableValue(c.TargetPrice, c.Amount, decimals)
	spotVal := stableValue(spot, c.Amount, decimals)

	// Effects before the venue call: consume the nonce and delete the
	// commitment so a reentrant take of the same commitment cannot land.
	if err := e.nonces.Consume(c.Creator, c.Nonce, c.Expiry); err != nil {
		return domain.TakeResult{}, err
	}
	if err := e.book.Remove(c.Hash); err != nil {
		e.nonces.Release(c.Creator, c.Nonce)
		return domain.TakeResult{}, err
	}
	if err := e.vault.Move(c.Asset, lp, e.cfg.Custody, c.Amount); err != nil {
		e.book.Restore(c)
		e.nonces.Release(c.Creator, c.Nonce)
		return domain.TakeResult{}, fmt.Errorf("engine: simple swap collateral: %w", err)
	}

	out, err := e.gateway.Settle(ctx, domain.SwapRequest{
		AssetIn:      c.Asset,
		AssetOut:     e.cfg.Stable.Address,
		AmountIn:     c.Amount,
		MinAmountOut: targetVal,
		ExpectedOut:  spotVal,
		RoutingHint:  req.RoutingHint,
		Deadline:     req.Deadline,
	})
	if err != nil {
		_ = e.vault.Move(c.Asset, e.cfg.Custody, lp, c.Amount)
		e.book.Restore(c)
		e.nonces.Release(c.Creator, c.Nonce)
		return domain.TakeResult{}, fmt.Errorf("engine: simple swap: %w", err)
	}

	if err := e.vault.Debit(c.Asset, e.cfg.Custody, c.Amount); err != nil {
		return domain.TakeResult{}, err
	}
	if err := e.vault.Credit(e.cfg.Stable.Address, e.cfg.Custody, out); err != nil {
		return domain.TakeResult{}, err
	}

	// LP gets the full ask; surplus to the treasury.
	lpShare := new(big.Int).Set(targetVal)
	if lpShare.Cmp(out) > 0 {
		lpShare.Set(out)
	}
	if err := e.vault.Move(e.cfg.Stable.Address, e.cfg.Custody, lp, lpShare); err != nil {
		return domain.TakeResult{}, err
	}
	if surplus := new(big.Int).Sub(out, lpShare); surplus.Sign() > 0 {
		if err := e.vault.Move(e.cfg.Stable.Address, e.cfg.Custody, e.cfg.Treasury, surplus); err != nil {
			return domain.TakeResult{}, err
		}
	}

	e.log.Info("simple swap executed",
		slog.String("commitment", c.Hash.Hex()),
		slog.String("lp", lp.Hex()),
		slog.String("target_value", targetVal.String()),
		slog.String("realized", out.String()),
	)

	return domain.TakeResult{
		ShortCircuited: true,
		StrikePrice:    new(big.Int).Set(spot),
	}, nil
}

// ---------------------------------------------------------------------------
// exerciseOption
// ---------------------------------------------------------------------------

// Exercise settles a profitable option for its taker. State transitions and
// ledger releases land strictly before the venue call; a venue failure is
// fully compensated under the engine lock, leaving the option TAKEN.
func (e *Engine) Exercise(ctx context.Context, req ExerciseRequest) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Now()

	opt, ok := e.options[req.OptionID]
	if !ok {
		return nil, fmt.Errorf("engine: option %d: %w", req.OptionID, domain.ErrNotFound)
	}
	if e.settling[opt.ID] {
		return nil, fmt.Errorf("engine: option %d: %w", opt.ID, domain.ErrInSettlement)
	}
	if req.Caller != opt.Taker {
		return nil, fmt.Errorf("engine: exercise: %w", domain.ErrUnauthorizedCaller)
	}
	if opt.State != domain.OptionStateTaken {
		return nil, fmt.Errorf("engine: option %d state %s: %w", opt.ID, opt.State, domain.ErrBadState)
	}
	if opt.Expired(now) {
		return nil, fmt.Errorf("engine: option %d past expiry: %w", opt.ID, domain.ErrNotExercisable)
	}
	if !req.Params.Deadline.IsZero() && now.After(req.Params.Deadline) {
		return nil, fmt.Errorf("engine: exercise: %w", domain.ErrDeadlineElapsed)
	}
	if req.Params.MinReturn == nil || req.Params.MinReturn.Sign() <= 0 {
		return nil, fmt.Errorf("engine: exercise: %w", domain.ErrZeroMinReturn)
	}

	spot, err := e.spot(ctx, opt.Asset)
	if err != nil {
		return nil, err
	}

	// Exercise is voluntary and conditional: never forced at a loss.
	exercisable := (opt.OptionType == domain.OptionTypeCall && spot.Cmp(opt.StrikePrice) > 0) ||
		(opt.OptionType == domain.OptionTypePut && spot.Cmp(opt.StrikePrice) < 0)
	if !exercisable {
		return nil, fmt.Errorf("engine: spot %s vs strike %s: %w",
			spot.String(), opt.StrikePrice.String(), domain.ErrNotExercisable)
	}

	lim, _ := e.book.Limits(opt.Asset)
	decimals := lim.Info.Decimals

	if opt.OptionType == domain.OptionTypeCall {
		return e.exerciseCall(ctx, opt, spot, decimals, req, now)
	}
	return e.exercisePut(opt, spot, decimals, req, now)
}

func (e *Engine) exerciseCall(
	ctx context.Context,
	opt *domain.ActiveOption,
	spot *big.Int,
	decimals uint8,
	req ExerciseRequest,
	now time.Time,
) (*big.Int, error) {
	strikeVal := stableValue(opt.StrikePrice, opt.Amount, decimals)
	curVal := stableValue(spot, opt.Amount, decimals)

	// Effects before the venue interaction.
	e.settling[opt.ID] = true
	opt.State = domain.OptionStateExercised
	if err := e.ledger.Release(opt.Asset, opt.Amount); err != nil {
		opt.State = domain.OptionStateTaken
		delete(e.settling, opt.ID)
		return nil, err
	}

	minOut := new(big.Int).Add(strikeVal, req.Params.MinReturn)
	out, err := e.gateway.Settle(ctx, domain.SwapRequest{
		OptionID:     opt.ID,
		AssetIn:      opt.Asset,
		AssetOut:     e.cfg.Stable.Address,
		AmountIn:     opt.Amount,
		MinAmountOut: minOut,
		ExpectedOut:  curVal,
		RoutingHint:  req.Params.RoutingHint,
		Deadline:     req.Params.Deadline,
	})
	if err != nil {
		// Compensate: the option returns to TAKEN and may be retried with
		// fresh settlement parameters.
		if lockErr := e.ledger.Lock(opt.Asset, opt.Amount); lockErr != nil {
			return nil, lockErr
		}
		opt.State = domain.OptionStateTaken
		delete(e.settling, opt.ID)
		return nil, err
	}

	if err := e.vault.Debit(opt.Asset, e.cfg.Custody, opt.Amount); err != nil {
		return nil, err
	}
	if err := e.vault.Credit(e.cfg.Stable.Address, e.cfg.Custody, out); err != nil {
		return nil, err
	}

	dist, err := e.fees.Split(out, strikeVal)
	if err != nil {
		return nil, err
	}
	if err := e.distribute(opt, dist); err != nil {
		return nil, err
	}

	opt.TakerPayout = dist.Taker
	opt.SettledAt = &now
	delete(e.settling, opt.ID)

	e.log.Info("call exercised",
		slog.Uint64("option_id", opt.ID),
		slog.String("spot", spot.String()),
		slog.String("realized", out.String()),
		slog.String("taker_payout", dist.Taker.String()),
	)
	return new(big.Int).Set(dist.Taker), nil
}

func (e *Engine) exercisePut(
	opt *domain.ActiveOption,
	spot *big.Int,
	decimals uint8,
	req ExerciseRequest,
	now time.Time,
) (*big.Int, error) {
	// PUT collateral was converted to stable at take-time; the held
	// proceeds are already in the payout currency, so no venue call.
	held := opt.HeldProceeds
	profit := new(big.Int).Sub(opt.StrikePrice, spot)
	profit = stableValue(profit, opt.Amount, decimals)
	if profit.Cmp(held) > 0 {
		profit.Set(held)
	}
	if profit.Cmp(req.Params.MinReturn) < 0 {
		return nil, fmt.Errorf("engine: put profit %s below floor %s: %w",
			profit.String(), req.Params.MinReturn.String(), domain.ErrSettlementFailed)
	}

	opt.State = domain.OptionStateExercised
	if err := e.ledger.Release(e.cfg.Stable.Address, held); err != nil {
		opt.State = domain.OptionStateTaken
		return nil, err
	}

	lpFloor := new(big.Int).Sub(held, profit)
	dist, err := e.fees.Split(held, lpFloor)
	if err != nil {
		return nil, err
	}
	if err := e.distribute(opt, dist); err != nil {
		return nil, err
	}

	opt.TakerPayout = dist.Taker
	opt.SettledAt = &now

	e.log.Info("put exercised",
		slog.Uint64("option_id", opt.ID),
		slog.String("spot", spot.String()),
		slog.String("taker_payout", dist.Taker.String()),
	)
	return new(big.Int).Set(dist.Taker), nil
}

// distribute moves a settlement split out of custody.
func (e *Engine) distribute(opt *domain.ActiveOption, dist Distribution) error {
	stable := e.cfg.Stable.Address
	if dist.LP.Sign() > 0 {
		if err := e.vault.Move(stable, e.cfg.Custody, opt.LP, dist.LP); err != nil {
			return err
		}
	}
	if dist.Taker.Sign() > 0 {
		if err := e.vault.Move(stable, e.cfg.Custody, opt.Taker, dist.Taker); err != nil {
			return err
		}
	}
	if dist.Treasury.Sign() > 0 {
		if err := e.vault.Move(stable, e.cfg.Custody, e.cfg.Treasury, dist.Treasury); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// liquidateExpiredOption
// ---------------------------------------------------------------------------

// Liquidate returns an expired option's backing to its LP. It is
// permissionless: anyone may call it once the expiry timestamp has passed.
// The taker's premium is never refunded.
func (e *Engine) Liquidate(ctx context.Context, optionID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Now()

	opt, ok := e.options[optionID]
	if !ok {
		return fmt.Errorf("engine: option %d: %w", optionID, domain.ErrNotFound)
	}
	if e.settling[opt.ID] {
		return fmt.Errorf("engine: option %d: %w", opt.ID, domain.ErrInSettlement)
	}
	if opt.State != domain.OptionStateTaken {
		return fmt.Errorf("engine: option %d state %s: %w", opt.ID, opt.State, domain.ErrBadState)
	}
	if !opt.Expired(now) {
		return fmt.Errorf("engine: option %d: %w", opt.ID, domain.ErrNotExpired)
	}

	stable := e.cfg.Stable.Address
	if opt.OptionType == domain.OptionTypePut {
		if err := e.ledger.Release(stable, opt.HeldProceeds); err != nil {
			return err
		}
		if err := e.vault.Move(stable, e.cfg.Custody, opt.LP, opt.HeldProceeds); err != nil {
			return err
		}
		opt.State = domain.OptionStateLiquidated
	} else {
		if err := e.ledger.Release(opt.Asset, opt.Amount); err != nil {
			return err
		}
		if err := e.vault.Move(opt.Asset, e.cfg.Custody, opt.LP, opt.Amount); err != nil {
			return err
		}
		opt.State = domain.OptionStateExpired
	}
	opt.SettledAt = &now

	e.log.Info("option liquidated",
		slog.Uint64("option_id", opt.ID),
		slog.String("state", string(opt.State)),
		slog.String("lp", opt.LP.Hex()),
	)
	return nil
}

// ---------------------------------------------------------------------------
// Queries and restore
// ---------------------------------------------------------------------------

// Option returns a copy of the option under id.
func (e *Engine) Option(id uint64) (domain.ActiveOption, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	opt, ok := e.options[id]
	if !ok {
		return domain.ActiveOption{}, fmt.Errorf("engine: option %d: %w", id, domain.ErrNotFound)
	}
	return *opt, nil
}

// ExpiredOptions returns ids of TAKEN options past expiry at now.
func (e *Engine) ExpiredOptions(now time.Time) []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []uint64
	for id, opt := range e.options {
		if opt.State == domain.OptionStateTaken && opt.Expired(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Restore reloads an option from the durable store at startup, rebuilding
// both sides of its collateral accounting: the ledger lock and the custody
// balance backing it.
func (e *Engine) Restore(opt domain.ActiveOption) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := opt
	e.options[opt.ID] = &cp
	if opt.ID >= e.nextID {
		e.nextID = opt.ID + 1
	}
	if opt.State != domain.OptionStateTaken {
		return nil
	}

	asset, backing := opt.Asset, opt.Amount
	if opt.OptionType == domain.OptionTypePut {
		asset, backing = e.cfg.Stable.Address, opt.HeldProceeds
	}
	if err := e.vault.Credit(asset, e.cfg.Custody, backing); err != nil {
		return err
	}
	return e.ledger.Lock(asset, backing)
}

// SeedNextID raises the ID counter to at least next. Called at startup with
// the store's high-water mark so IDs never collide with rows that were
// archived out of the restore set.
func (e *Engine) SeedNextID(next uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if next > e.nextID {
		e.nextID = next
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (e *Engine) spot(ctx context.Context, asset common.Address) (*big.Int, error) {
	p, err := e.prices.Spot(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("engine: %w: %v", domain.ErrInvalidPrice, err)
	}
	if p == nil || p.Sign() <= 0 {
		return nil, fmt.Errorf("engine: zero spot for %s: %w", asset.Hex(), domain.ErrInvalidPrice)
	}
	return p, nil
}

// checkCollateralInvariant verifies locked accounting never exceeds actual
// custody holdings for the option's backing asset.
func (e *Engine) checkCollateralInvariant(opt *domain.ActiveOption) error {
	asset := opt.Asset
	if opt.OptionType == domain.OptionTypePut {
		asset = e.cfg.Stable.Address
	}
	if e.ledger.TotalLocked(asset).Cmp(e.vault.Balance(asset, e.cfg.Custody)) > 0 {
		return fmt.Errorf("engine: asset %s: %w", asset.Hex(), domain.ErrCollateralInvariant)
	}
	return nil
}

// beyondTarget reports whether spot is already at or past the LP's declared
// target in the direction that makes an option pointless to create.
func beyondTarget(t domain.OptionType, spot, target *big.Int) bool {
	if target == nil || target.Sign() <= 0 {
		return false
	}
	if t == domain.OptionTypeCall {
		return spot.Cmp(target) >= 0
	}
	return spot.Cmp(target) <= 0
}

// stableValue converts price (8-decimal) times amount (atomic units of an
// asset with the given decimals) into 6-decimal stable units, truncating
// toward zero.
func stableValue(price, amount *big.Int, assetDecimals uint8) *big.Int {
	v := new(big.Int).Mul(price, amount)
	return v.Div(v, pow10(int(assetDecimals)+PriceDecimals-PremiumDecimals))
}

// applyBps returns floor(v * bps / 10000).
func applyBps(v *big.Int, bps uint32) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(int64(bps)))
	return out.Div(out, big.NewInt(bpsDenominator))
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
