package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duration-fi/durationd/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL. Every
// settlement attempt is recorded, failed ones included.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a SettlementStore backed by the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

const settlementSelectCols = `id, option_id, asset_in, asset_out, amount_in,
	amount_out, min_return, expected, success, reason, created_at`

func scanSettlement(row pgx.Row) (domain.SettlementRecord, error) {
	var (
		rec                 domain.SettlementRecord
		optionID            int64
		assetIn, assetOut   string
		amountIn, minRet    string
		amountOut, expected *string
	)
	err := row.Scan(
		&rec.ID, &optionID, &assetIn, &assetOut, &amountIn,
		&amountOut, &minRet, &expected, &rec.Success, &rec.Reason, &rec.CreatedAt,
	)
	if err != nil {
		return domain.SettlementRecord{}, err
	}

	rec.OptionID = uint64(optionID)
	rec.AssetIn = common.HexToAddress(assetIn)
	rec.AssetOut = common.HexToAddress(assetOut)

	if rec.AmountIn, err = parseNumeric(amountIn); err != nil {
		return domain.SettlementRecord{}, fmt.Errorf("postgres: settlement amount_in: %w", err)
	}
	if rec.MinReturn, err = parseNumeric(minRet); err != nil {
		return domain.SettlementRecord{}, fmt.Errorf("postgres: settlement min_return: %w", err)
	}
	if rec.AmountOut, err = parseNumericPtr(amountOut); err != nil {
		return domain.SettlementRecord{}, fmt.Errorf("postgres: settlement amount_out: %w", err)
	}
	if rec.Expected, err = parseNumericPtr(expected); err != nil {
		return domain.SettlementRecord{}, fmt.Errorf("postgres: settlement expected: %w", err)
	}
	return rec, nil
}

// Insert writes a settlement record.
func (s *SettlementStore) Insert(ctx context.Context, rec domain.SettlementRecord) error {
	const query = `
		INSERT INTO settlements (
			id, option_id, asset_in, asset_out, amount_in,
			amount_out, min_return, expected, success, reason, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11
		)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, int64(rec.OptionID), rec.AssetIn.Hex(), rec.AssetOut.Hex(), numericArg(rec.AmountIn),
		numericArgPtr(rec.AmountOut), numericArg(rec.MinReturn), numericArgPtr(rec.Expected), rec.Success, rec.Reason, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert settlement %s: %w", rec.ID, err)
	}
	return nil
}

// ListByOption returns all settlement attempts for an option, oldest first.
func (s *SettlementStore) ListByOption(ctx context.Context, optionID uint64) ([]domain.SettlementRecord, error) {
	query := `SELECT ` + settlementSelectCols + `
		FROM settlements WHERE option_id = $1 ORDER BY created_at ASC`
	return s.list(ctx, query, []any{int64(optionID)})
}

// ListBefore returns settlement records older than the cutoff, oldest first.
// The archiver uses this to page aged records out to blob storage.
func (s *SettlementStore) ListBefore(ctx context.Context, before time.Time) ([]domain.SettlementRecord, error) {
	query := `SELECT ` + settlementSelectCols + `
		FROM settlements WHERE created_at < $1 ORDER BY created_at ASC`
	return s.list(ctx, query, []any{before})
}

func (s *SettlementStore) list(ctx context.Context, query string, args []any) ([]domain.SettlementRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements: %w", err)
	}
	defer rows.Close()

	var out []domain.SettlementRecord
	for rows.Next() {
		rec, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.SettlementStore = (*SettlementStore)(nil)
