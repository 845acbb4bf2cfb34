package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duration-fi/durationd/internal/domain"
)

// CommitmentStore implements domain.CommitmentStore using PostgreSQL. It is
// the durable off-chain index; the in-memory book remains authoritative
// during a process lifetime.
type CommitmentStore struct {
	pool *pgxpool.Pool
}

// NewCommitmentStore creates a CommitmentStore backed by the given pool.
func NewCommitmentStore(pool *pgxpool.Pool) *CommitmentStore {
	return &CommitmentStore{pool: pool}
}

const commitmentSelectCols = `hash, creator, asset, amount, daily_premium_rate,
	premium_offered, target_price, min_lock_days, max_duration_days,
	option_type, commitment_type, expiry, nonce, signature, created_at`

func scanCommitment(row pgx.Row) (domain.Commitment, error) {
	var (
		c                     domain.Commitment
		hash, creator, asset  string
		amount                string
		rate, offered, target *string
		minDays, maxDays      int32
		optType, commType     int16
		nonce                 int64
	)
	err := row.Scan(
		&hash, &creator, &asset, &amount, &rate,
		&offered, &target, &minDays, &maxDays,
		&optType, &commType, &c.Expiry, &nonce, &c.Signature, &c.CreatedAt,
	)
	if err != nil {
		return domain.Commitment{}, err
	}

	c.Hash = common.HexToHash(hash)
	c.Creator = common.HexToAddress(creator)
	c.Asset = common.HexToAddress(asset)
	c.MinLockDays = uint32(minDays)
	c.MaxDurationDays = uint32(maxDays)
	c.OptionType = domain.OptionType(optType)
	c.CommitmentType = domain.CommitmentType(commType)
	c.Nonce = uint64(nonce)

	if c.Amount, err = parseNumeric(amount); err != nil {
		return domain.Commitment{}, fmt.Errorf("postgres: commitment amount: %w", err)
	}
	if c.DailyPremiumRate, err = parseNumericPtr(rate); err != nil {
		return domain.Commitment{}, fmt.Errorf("postgres: daily premium rate: %w", err)
	}
	if c.PremiumOffered, err = parseNumericPtr(offered); err != nil {
		return domain.Commitment{}, fmt.Errorf("postgres: premium offered: %w", err)
	}
	if c.TargetPrice, err = parseNumericPtr(target); err != nil {
		return domain.Commitment{}, fmt.Errorf("postgres: target price: %w", err)
	}
	return c, nil
}

// Create inserts a new commitment row.
func (s *CommitmentStore) Create(ctx context.Context, c domain.Commitment) error {
	const query = `
		INSERT INTO commitments (
			hash, creator, asset, amount, daily_premium_rate,
			premium_offered, target_price, min_lock_days, max_duration_days,
			option_type, commitment_type, expiry, nonce, signature, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15
		)`

	_, err := s.pool.Exec(ctx, query,
		c.Hash.Hex(), c.Creator.Hex(), c.Asset.Hex(), numericArg(c.Amount), numericArgPtr(c.DailyPremiumRate),
		numericArgPtr(c.PremiumOffered), numericArgPtr(c.TargetPrice), int32(c.MinLockDays), int32(c.MaxDurationDays),
		int16(c.OptionType), int16(c.CommitmentType), c.Expiry, int64(c.Nonce), c.Signature, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create commitment %s: %w", c.Hash.Hex(), err)
	}
	return nil
}

// GetByHash returns a single commitment.
func (s *CommitmentStore) GetByHash(ctx context.Context, hash common.Hash) (domain.Commitment, error) {
	query := `SELECT ` + commitmentSelectCols + ` FROM commitments WHERE hash = $1`
	c, err := scanCommitment(s.pool.QueryRow(ctx, query, hash.Hex()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Commitment{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Commitment{}, fmt.Errorf("postgres: get commitment %s: %w", hash.Hex(), err)
	}
	return c, nil
}

// ListActive returns unexpired commitments, newest first.
func (s *CommitmentStore) ListActive(ctx context.Context, now time.Time, opts domain.ListOpts) ([]domain.Commitment, error) {
	query := `SELECT ` + commitmentSelectCols + `
		FROM commitments WHERE expiry > $1 ORDER BY created_at DESC`
	args := []any{now.Unix()}
	query, args = paginate(query, args, opts)

	return s.list(ctx, query, args)
}

// ListByCreator returns commitments signed by creator, newest first.
func (s *CommitmentStore) ListByCreator(ctx context.Context, creator common.Address, opts domain.ListOpts) ([]domain.Commitment, error) {
	query := `SELECT ` + commitmentSelectCols + `
		FROM commitments WHERE creator = $1 ORDER BY created_at DESC`
	args := []any{creator.Hex()}
	query, args = paginate(query, args, opts)

	return s.list(ctx, query, args)
}

// Delete removes a commitment row (taken or cancelled).
func (s *CommitmentStore) Delete(ctx context.Context, hash common.Hash) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM commitments WHERE hash = $1`, hash.Hex())
	if err != nil {
		return fmt.Errorf("postgres: delete commitment %s: %w", hash.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *CommitmentStore) list(ctx context.Context, query string, args []any) ([]domain.Commitment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list commitments: %w", err)
	}
	defer rows.Close()

	var out []domain.Commitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan commitment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

func paginate(query string, args []any, opts domain.ListOpts) (string, []any) {
	idx := len(args) + 1
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, opts.Limit)
		idx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, opts.Offset)
	}
	return query, args
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid numeric %q", s)
	}
	return v, nil
}

func parseNumericPtr(s *string) (*big.Int, error) {
	if s == nil {
		return nil, nil
	}
	return parseNumeric(*s)
}

func numericArg(v *big.Int) string {
	return v.String()
}

func numericArgPtr(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

// Compile-time interface check.
var _ domain.CommitmentStore = (*CommitmentStore)(nil)
