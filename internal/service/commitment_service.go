package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/duration-fi/durationd/internal/crypto"
	"github.com/duration-fi/durationd/internal/domain"
	"github.com/duration-fi/durationd/internal/engine"
)

// CommitmentService handles the off-chain commitment lifecycle: signed
// submission, cancellation, queries, and the expiry sweep. The engine's book
// is authoritative while the process runs; the Postgres index makes the book
// survivable across restarts.
type CommitmentService struct {
	eng    *engine.Engine
	store  domain.CommitmentStore
	audit  domain.AuditStore
	dom    crypto.Domain
	events eventPublisher
	logger *slog.Logger
}

// NewCommitmentService creates a CommitmentService.
func NewCommitmentService(
	eng *engine.Engine,
	store domain.CommitmentStore,
	bus domain.EventBus,
	audit domain.AuditStore,
	dom crypto.Domain,
	logger *slog.Logger,
) *CommitmentService {
	logger = logger.With(slog.String("component", "commitment_service"))
	return &CommitmentService{
		eng:    eng,
		store:  store,
		audit:  audit,
		dom:    dom,
		events: eventPublisher{bus: bus, logger: logger},
		logger: logger,
	}
}

// Create verifies and indexes a signed commitment. The hash is derived
// server-side from the signed fields; a client-supplied hash is ignored.
func (s *CommitmentService) Create(ctx context.Context, c domain.Commitment) (common.Hash, error) {
	now := time.Now().UTC()
	c.Hash = crypto.CommitmentHash(c)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}

	if _, err := crypto.Verify(s.dom, c); err != nil {
		return common.Hash{}, err
	}
	if s.eng.Nonces().Used(c.Creator, c.Nonce) {
		return common.Hash{}, fmt.Errorf("service: commitment nonce %d: %w", c.Nonce, domain.ErrNonceUsed)
	}

	hash, err := s.eng.Book().Store(c, now)
	if err != nil {
		return common.Hash{}, err
	}

	if err := s.store.Create(ctx, c); err != nil {
		// Keep book and index consistent.
		_ = s.eng.Book().Remove(hash)
		return common.Hash{}, err
	}

	s.events.publish(ctx, domain.Event{
		Type:           domain.EventCommitmentCreated,
		CommitmentHash: hash.Hex(),
		Asset:          c.Asset.Hex(),
		Amount:         c.Amount.String(),
		At:             now,
	})
	auditLog(ctx, s.audit, s.logger, "commitment.created", map[string]any{
		"hash":    hash.Hex(),
		"creator": c.Creator.Hex(),
		"asset":   c.Asset.Hex(),
		"amount":  c.Amount.String(),
	})

	s.logger.InfoContext(ctx, "commitment created",
		slog.String("hash", hash.Hex()),
		slog.String("creator", c.Creator.Hex()),
	)
	return hash, nil
}

// Cancel withdraws a pending commitment. Only the creator may cancel, and
// cancellation burns the nonce so the same signed payload can never be
// replayed later.
func (s *CommitmentService) Cancel(ctx context.Context, hash common.Hash, caller common.Address) error {
	c, err := s.eng.Book().Get(hash)
	if err != nil {
		return err
	}
	if caller != c.Creator {
		return fmt.Errorf("service: cancel by %s: %w", caller.Hex(), domain.ErrUnauthorizedCaller)
	}

	if err := s.eng.Book().Remove(hash); err != nil {
		return err
	}
	if err := s.eng.Nonces().Consume(c.Creator, c.Nonce, c.Expiry); err != nil {
		s.eng.Book().Restore(c)
		return err
	}
	if err := s.store.Delete(ctx, hash); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "commitment index delete failed",
			slog.String("hash", hash.Hex()),
			slog.String("error", err.Error()),
		)
	}

	now := time.Now().UTC()
	s.events.publish(ctx, domain.Event{
		Type:           domain.EventCommitmentCancelled,
		CommitmentHash: hash.Hex(),
		At:             now,
	})
	auditLog(ctx, s.audit, s.logger, "commitment.cancelled", map[string]any{
		"hash":    hash.Hex(),
		"creator": c.Creator.Hex(),
	})

	s.logger.InfoContext(ctx, "commitment cancelled", slog.String("hash", hash.Hex()))
	return nil
}

// Get returns a commitment, preferring the live book over the index.
func (s *CommitmentService) Get(ctx context.Context, hash common.Hash) (domain.Commitment, error) {
	if c, err := s.eng.Book().Get(hash); err == nil {
		return c, nil
	}
	return s.store.GetByHash(ctx, hash)
}

// ListActive returns unexpired commitments from the index.
func (s *CommitmentService) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Commitment, error) {
	return s.store.ListActive(ctx, time.Now().UTC(), opts)
}

// ListByCreator returns a creator's commitments from the index.
func (s *CommitmentService) ListByCreator(ctx context.Context, creator common.Address, opts domain.ListOpts) ([]domain.Commitment, error) {
	return s.store.ListByCreator(ctx, creator, opts)
}

// ReloadBook repopulates the in-memory book from the durable index at
// startup. Rows the book rejects (expired since shutdown, asset no longer
// allowed) are logged and skipped.
func (s *CommitmentService) ReloadBook(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	const pageSize = 500

	loaded := 0
	for offset := 0; ; offset += pageSize {
		page, err := s.store.ListActive(ctx, now, domain.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			return loaded, fmt.Errorf("service: reload book: %w", err)
		}
		for _, c := range page {
			if _, err := s.eng.Book().Store(c, now); err != nil {
				s.logger.WarnContext(ctx, "commitment skipped on reload",
					slog.String("hash", c.Hash.Hex()),
					slog.String("error", err.Error()),
				)
				continue
			}
			loaded++
		}
		if len(page) < pageSize {
			break
		}
	}

	s.logger.InfoContext(ctx, "commitment book reloaded", slog.Int("loaded", loaded))
	return loaded, nil
}

// SweepExpired drops expired commitments from the book and the index and
// prunes nonce entries whose commitments can no longer be taken.
func (s *CommitmentService) SweepExpired(ctx context.Context) int {
	now := time.Now().UTC()

	swept := s.eng.Book().Sweep(now)
	for _, hash := range swept {
		if err := s.store.Delete(ctx, hash); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "expired commitment delete failed",
				slog.String("hash", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	pruned := s.eng.Nonces().Sweep(now)

	if len(swept) > 0 || pruned > 0 {
		s.logger.InfoContext(ctx, "commitment sweep",
			slog.Int("expired", len(swept)),
			slog.Int("nonces_pruned", pruned),
		)
	}
	return len(swept)
}
