package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duration-fi/durationd/internal/domain"
)

// OptionStore implements domain.OptionStore using PostgreSQL.
type OptionStore struct {
	pool *pgxpool.Pool
}

// NewOptionStore creates an OptionStore backed by the given pool.
func NewOptionStore(pool *pgxpool.Pool) *OptionStore {
	return &OptionStore{pool: pool}
}

const optionSelectCols = `id, taker, lp, asset, amount, strike_price,
	premium_paid, option_type, state, held_proceeds, taker_payout,
	created_at, expires_at, settled_at`

func scanOption(row pgx.Row) (domain.ActiveOption, error) {
	var (
		o                domain.ActiveOption
		id               int64
		taker, lp, asset string
		amount, strike   string
		premium          string
		optType          int16
		state            string
		held, payout     *string
	)
	err := row.Scan(
		&id, &taker, &lp, &asset, &amount, &strike,
		&premium, &optType, &state, &held, &payout,
		&o.CreatedAt, &o.ExpiresAt, &o.SettledAt,
	)
	if err != nil {
		return domain.ActiveOption{}, err
	}

	o.ID = uint64(id)
	o.Taker = common.HexToAddress(taker)
	o.LP = common.HexToAddress(lp)
	o.Asset = common.HexToAddress(asset)
	o.OptionType = domain.OptionType(optType)
	o.State = domain.OptionState(state)

	if o.Amount, err = parseNumeric(amount); err != nil {
		return domain.ActiveOption{}, fmt.Errorf("postgres: option amount: %w", err)
	}
	if o.StrikePrice, err = parseNumeric(strike); err != nil {
		return domain.ActiveOption{}, fmt.Errorf("postgres: option strike: %w", err)
	}
	if o.PremiumPaid, err = parseNumeric(premium); err != nil {
		return domain.ActiveOption{}, fmt.Errorf("postgres: option premium: %w", err)
	}
	if o.HeldProceeds, err = parseNumericPtr(held); err != nil {
		return domain.ActiveOption{}, fmt.Errorf("postgres: held proceeds: %w", err)
	}
	if o.TakerPayout, err = parseNumericPtr(payout); err != nil {
		return domain.ActiveOption{}, fmt.Errorf("postgres: taker payout: %w", err)
	}
	return o, nil
}

// Create inserts a new option row.
func (s *OptionStore) Create(ctx context.Context, o domain.ActiveOption) error {
	const query = `
		INSERT INTO options (
			id, taker, lp, asset, amount, strike_price,
			premium_paid, option_type, state, held_proceeds, taker_payout,
			created_at, expires_at, settled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14
		)`

	_, err := s.pool.Exec(ctx, query,
		int64(o.ID), o.Taker.Hex(), o.LP.Hex(), o.Asset.Hex(), numericArg(o.Amount), numericArg(o.StrikePrice),
		numericArg(o.PremiumPaid), int16(o.OptionType), string(o.State), numericArgPtr(o.HeldProceeds), numericArgPtr(o.TakerPayout),
		o.CreatedAt, o.ExpiresAt, o.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create option %d: %w", o.ID, err)
	}
	return nil
}

// Update rewrites the mutable columns of an option row.
func (s *OptionStore) Update(ctx context.Context, o domain.ActiveOption) error {
	const query = `
		UPDATE options SET
			state = $2,
			held_proceeds = $3,
			taker_payout = $4,
			settled_at = $5
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		int64(o.ID), string(o.State), numericArgPtr(o.HeldProceeds), numericArgPtr(o.TakerPayout), o.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update option %d: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns a single option.
func (s *OptionStore) GetByID(ctx context.Context, id uint64) (domain.ActiveOption, error) {
	query := `SELECT ` + optionSelectCols + ` FROM options WHERE id = $1`
	o, err := scanOption(s.pool.QueryRow(ctx, query, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ActiveOption{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ActiveOption{}, fmt.Errorf("postgres: get option %d: %w", id, err)
	}
	return o, nil
}

// ListByState returns options in the given state, newest first.
func (s *OptionStore) ListByState(ctx context.Context, state domain.OptionState, opts domain.ListOpts) ([]domain.ActiveOption, error) {
	query := `SELECT ` + optionSelectCols + `
		FROM options WHERE state = $1 ORDER BY created_at DESC`
	args := []any{string(state)}
	query, args = paginate(query, args, opts)

	return s.list(ctx, query, args)
}

// ListExpired returns taken options past expiry, oldest expiry first, for the
// expiry sweeper to liquidate.
func (s *OptionStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.ActiveOption, error) {
	query := `SELECT ` + optionSelectCols + `
		FROM options WHERE state = $1 AND expires_at < $2 ORDER BY expires_at ASC`
	args := []any{string(domain.OptionStateTaken), now}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	return s.list(ctx, query, args)
}

// NextID returns one past the highest assigned option ID. IDs are assigned
// by the engine; this seeds its counter on restart.
func (s *OptionStore) NextID(ctx context.Context) (uint64, error) {
	var max int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM options`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("postgres: next option id: %w", err)
	}
	return uint64(max) + 1, nil
}

func (s *OptionStore) list(ctx context.Context, query string, args []any) ([]domain.ActiveOption, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list options: %w", err)
	}
	defer rows.Close()

	var out []domain.ActiveOption
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan option: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Compile-time interface check.
var _ domain.OptionStore = (*OptionStore)(nil)
