package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/duration-fi/durationd/internal/domain"
	"github.com/duration-fi/durationd/internal/engine"
)

// lockTTL bounds how long a distributed lock outlives a crashed holder.
const lockTTL = 30 * time.Second

// OptionService drives the option lifecycle through the engine and keeps
// the durable store, event bus, and audit log in step with it. Distributed
// locks serialize takes per commitment and settlements per option across
// processes; the engine mutex serializes within one.
type OptionService struct {
	eng     *engine.Engine
	locks   domain.LockManager
	options domain.OptionStore
	commits domain.CommitmentStore
	audit   domain.AuditStore
	events  eventPublisher
	logger  *slog.Logger
}

// NewOptionService creates an OptionService.
func NewOptionService(
	eng *engine.Engine,
	locks domain.LockManager,
	options domain.OptionStore,
	commits domain.CommitmentStore,
	bus domain.EventBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *OptionService {
	logger = logger.With(slog.String("component", "option_service"))
	return &OptionService{
		eng:     eng,
		locks:   locks,
		options: options,
		commits: commits,
		audit:   audit,
		events:  eventPublisher{bus: bus, logger: logger},
		logger:  logger,
	}
}

// Take takes a pending commitment, persisting the resulting option and
// removing the commitment from the durable index.
func (s *OptionService) Take(ctx context.Context, req engine.TakeRequest) (domain.TakeResult, error) {
	unlock, err := s.locks.Acquire(ctx, "lock:commitment:"+req.CommitmentHash.Hex(), lockTTL)
	if err != nil {
		return domain.TakeResult{}, err
	}
	defer unlock()

	res, err := s.eng.TakeCommitment(ctx, req)
	if err != nil {
		return domain.TakeResult{}, err
	}

	now := time.Now().UTC()
	if err := s.commits.Delete(ctx, req.CommitmentHash); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "taken commitment delete failed",
			slog.String("hash", req.CommitmentHash.Hex()),
			slog.String("error", err.Error()),
		)
	}

	if res.ShortCircuited {
		s.events.publish(ctx, domain.Event{
			Type:           domain.EventSimpleSwap,
			CommitmentHash: req.CommitmentHash.Hex(),
			StrikePrice:    res.StrikePrice.String(),
			At:             now,
		})
		auditLog(ctx, s.audit, s.logger, "option.simple_swap", map[string]any{
			"commitment": req.CommitmentHash.Hex(),
			"caller":     req.Caller.Hex(),
		})
		return res, nil
	}

	opt, err := s.eng.Option(res.OptionID)
	if err != nil {
		return res, err
	}
	if err := s.options.Create(ctx, opt); err != nil {
		s.logger.ErrorContext(ctx, "option persist failed",
			slog.Uint64("option_id", opt.ID),
			slog.String("error", err.Error()),
		)
	}

	s.events.publish(ctx, domain.Event{
		Type:           domain.EventOptionTaken,
		CommitmentHash: req.CommitmentHash.Hex(),
		OptionID:       opt.ID,
		Taker:          opt.Taker.Hex(),
		LP:             opt.LP.Hex(),
		Asset:          opt.Asset.Hex(),
		Amount:         opt.Amount.String(),
		StrikePrice:    opt.StrikePrice.String(),
		Premium:        opt.PremiumPaid.String(),
		At:             now,
	})
	auditLog(ctx, s.audit, s.logger, "option.taken", map[string]any{
		"option_id":  opt.ID,
		"commitment": req.CommitmentHash.Hex(),
		"taker":      opt.Taker.Hex(),
		"lp":         opt.LP.Hex(),
	})
	return res, nil
}

// Exercise settles a profitable option for its taker and returns the
// taker's payout.
func (s *OptionService) Exercise(ctx context.Context, req engine.ExerciseRequest) (*big.Int, error) {
	unlock, err := s.locks.Acquire(ctx, optionLockKey(req.OptionID), lockTTL)
	if err != nil {
		return nil, err
	}
	defer unlock()

	out, err := s.eng.Exercise(ctx, req)
	if err != nil {
		return nil, err
	}

	opt, err := s.eng.Option(req.OptionID)
	if err != nil {
		return out, err
	}
	s.persistUpdate(ctx, opt)

	s.events.publish(ctx, domain.Event{
		Type:     domain.EventOptionExercised,
		OptionID: opt.ID,
		Taker:    opt.Taker.Hex(),
		LP:       opt.LP.Hex(),
		Asset:    opt.Asset.Hex(),
		Payout:   out.String(),
		At:       time.Now().UTC(),
	})
	auditLog(ctx, s.audit, s.logger, "option.exercised", map[string]any{
		"option_id": opt.ID,
		"payout":    out.String(),
	})
	return out, nil
}

// Liquidate returns an expired option's backing to its LP. Permissionless.
func (s *OptionService) Liquidate(ctx context.Context, optionID uint64) error {
	unlock, err := s.locks.Acquire(ctx, optionLockKey(optionID), lockTTL)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.eng.Liquidate(ctx, optionID); err != nil {
		return err
	}

	opt, err := s.eng.Option(optionID)
	if err != nil {
		return err
	}
	s.persistUpdate(ctx, opt)

	eventType := domain.EventOptionExpired
	if opt.State == domain.OptionStateLiquidated {
		eventType = domain.EventOptionLiquidated
	}
	s.events.publish(ctx, domain.Event{
		Type:     eventType,
		OptionID: opt.ID,
		LP:       opt.LP.Hex(),
		Asset:    opt.Asset.Hex(),
		At:       time.Now().UTC(),
	})
	auditLog(ctx, s.audit, s.logger, "option.liquidated", map[string]any{
		"option_id": opt.ID,
		"state":     string(opt.State),
	})
	return nil
}

// SweepExpired liquidates every TAKEN option past expiry and returns how
// many were settled. Candidates come from the engine's memory and from the
// durable store; rows the engine has no memory of (written by another mode,
// or missed by a partial restore) are restored before liquidation.
// Individual failures are logged; the sweep continues.
func (s *OptionService) SweepExpired(ctx context.Context) int {
	now := time.Now().UTC()
	ids := s.eng.ExpiredOptions(now)
	known := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}

	rows, err := s.options.ListExpired(ctx, now, 0)
	if err != nil {
		s.logger.WarnContext(ctx, "expired option listing failed",
			slog.String("error", err.Error()),
		)
	}
	for _, opt := range rows {
		if _, ok := known[opt.ID]; ok {
			continue
		}
		if _, err := s.eng.Option(opt.ID); err == nil {
			// The engine knows the option but did not report it expired;
			// its clock decides.
			continue
		}
		if err := s.eng.Restore(opt); err != nil {
			s.logger.WarnContext(ctx, "expired option restore failed",
				slog.Uint64("option_id", opt.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		ids = append(ids, opt.ID)
	}

	settled := 0
	for _, id := range ids {
		if err := s.Liquidate(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "expiry sweep liquidation failed",
				slog.Uint64("option_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		settled++
	}
	return settled
}

// Get returns an option, preferring live engine state over the store.
func (s *OptionService) Get(ctx context.Context, id uint64) (domain.ActiveOption, error) {
	if opt, err := s.eng.Option(id); err == nil {
		return opt, nil
	}
	return s.options.GetByID(ctx, id)
}

// ListByState returns options in the given state from the store.
func (s *OptionService) ListByState(ctx context.Context, state domain.OptionState, opts domain.ListOpts) ([]domain.ActiveOption, error) {
	return s.options.ListByState(ctx, state, opts)
}

// RestoreState reloads persisted options into the engine at startup so IDs
// never collide and TAKEN collateral is re-locked.
func (s *OptionService) RestoreState(ctx context.Context) (int, error) {
	states := []domain.OptionState{
		domain.OptionStateTaken,
		domain.OptionStateExercised,
		domain.OptionStateExpired,
		domain.OptionStateLiquidated,
	}

	restored := 0
	for _, state := range states {
		opts, err := s.options.ListByState(ctx, state, domain.ListOpts{})
		if err != nil {
			return restored, fmt.Errorf("service: restore options %s: %w", state, err)
		}
		for _, opt := range opts {
			if err := s.eng.Restore(opt); err != nil {
				return restored, fmt.Errorf("service: restore option %d: %w", opt.ID, err)
			}
			restored++
		}
	}

	next, err := s.options.NextID(ctx)
	if err != nil {
		return restored, fmt.Errorf("service: restore next option id: %w", err)
	}
	s.eng.SeedNextID(next)

	s.logger.InfoContext(ctx, "options restored",
		slog.Int("count", restored),
		slog.Uint64("next_id", next),
	)
	return restored, nil
}

func (s *OptionService) persistUpdate(ctx context.Context, opt domain.ActiveOption) {
	if err := s.options.Update(ctx, opt); err != nil {
		s.logger.ErrorContext(ctx, "option update failed",
			slog.Uint64("option_id", opt.ID),
			slog.String("error", err.Error()),
		)
	}
}

func optionLockKey(id uint64) string {
	return fmt.Sprintf("lock:option:%d", id)
}
