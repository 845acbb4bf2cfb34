package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// CommitmentStore persists the off-chain commitment index. The book inside
// the engine is authoritative during a process lifetime; the store is the
// durable index the API layer reads and the engine reloads on restart.
type CommitmentStore interface {
	Create(ctx context.Context, c Commitment) error
	GetByHash(ctx context.Context, hash common.Hash) (Commitment, error)
	ListActive(ctx context.Context, now time.Time, opts ListOpts) ([]Commitment, error)
	ListByCreator(ctx context.Context, creator common.Address, opts ListOpts) ([]Commitment, error)
	Delete(ctx context.Context, hash common.Hash) error
}

// OptionStore persists active options and their terminal outcomes.
type OptionStore interface {
	Create(ctx context.Context, o ActiveOption) error
	Update(ctx context.Context, o ActiveOption) error
	GetByID(ctx context.Context, id uint64) (ActiveOption, error)
	ListByState(ctx context.Context, state OptionState, opts ListOpts) ([]ActiveOption, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]ActiveOption, error)
	NextID(ctx context.Context) (uint64, error)
}

// SettlementStore persists the settlement audit trail.
type SettlementStore interface {
	Insert(ctx context.Context, rec SettlementRecord) error
	ListByOption(ctx context.Context, optionID uint64) ([]SettlementRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]SettlementRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
