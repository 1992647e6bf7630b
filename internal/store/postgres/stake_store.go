package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// StakeStore implements domain.StakeStore on the stakes and claims tables.
type StakeStore struct {
	pool *pgxpool.Pool
}

// NewStakeStore creates a new StakeStore backed by the given connection pool.
func NewStakeStore(pool *pgxpool.Pool) *StakeStore {
	return &StakeStore{pool: pool}
}

// UpsertStake stores the running total of one (market, account, side) stake.
func (s *StakeStore) UpsertStake(ctx context.Context, st domain.Stake) error {
	const query = `
		INSERT INTO stakes (market_id, account, side, amount, updated_at)
		VALUES ($1, $2, $3, $4::numeric, NOW())
		ON CONFLICT (market_id, account, side) DO UPDATE SET
			amount     = EXCLUDED.amount,
			updated_at = NOW()`
	_, err := s.pool.Exec(ctx, query, st.MarketID, string(st.Account), int16(st.Side), amountText(st.Amount))
	if err != nil {
		return fmt.Errorf("postgres: upsert stake %d/%s/%s: %w", st.MarketID, st.Account, st.Side, err)
	}
	return nil
}

// RecordClaim inserts c. Claims are terminal, so a repeat insert is a no-op.
func (s *StakeStore) RecordClaim(ctx context.Context, c domain.Claim) error {
	const query = `
		INSERT INTO claims (market_id, account, fee, amount, height)
		VALUES ($1, $2, $3, $4::numeric, $5)
		ON CONFLICT (market_id, account, fee) DO NOTHING`
	_, err := s.pool.Exec(ctx, query, c.MarketID, string(c.Account), c.Fee, amountText(c.Amount), c.Height)
	if err != nil {
		return fmt.Errorf("postgres: record claim %d/%s: %w", c.MarketID, c.Account, err)
	}
	return nil
}

// ListByAccount returns every stake held by account.
func (s *StakeStore) ListByAccount(ctx context.Context, account domain.Principal) ([]domain.Stake, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT market_id, account, side, amount::text
		FROM stakes WHERE account = $1 ORDER BY market_id, side`, string(account))
	if err != nil {
		return nil, fmt.Errorf("postgres: list stakes of %s: %w", account, err)
	}
	defer rows.Close()

	var out []domain.Stake
	for rows.Next() {
		st, err := scanStake(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan stake: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list stakes rows: %w", err)
	}
	return out, nil
}

func scanStake(row pgx.Row) (domain.Stake, error) {
	var (
		st      domain.Stake
		account string
		side    int16
		amount  string
	)
	if err := row.Scan(&st.MarketID, &account, &side, &amount); err != nil {
		return domain.Stake{}, err
	}
	v, err := parseAmount(amount)
	if err != nil {
		return domain.Stake{}, err
	}
	st.Account = domain.Principal(account)
	st.Side = domain.Side(side)
	st.Amount = v
	return st, nil
}

// ListClaims returns the claims recorded against marketID.
func (s *StakeStore) ListClaims(ctx context.Context, marketID uint64) ([]domain.Claim, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT market_id, account, fee, amount::text, height
		FROM claims WHERE market_id = $1 ORDER BY created_at, account`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list claims of %d: %w", marketID, err)
	}
	defer rows.Close()

	var out []domain.Claim
	for rows.Next() {
		var (
			c       domain.Claim
			account string
			amount  string
		)
		if err := rows.Scan(&c.MarketID, &account, &c.Fee, &amount, &c.Height); err != nil {
			return nil, fmt.Errorf("postgres: scan claim: %w", err)
		}
		if c.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		c.Account = domain.Principal(account)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list claims rows: %w", err)
	}
	return out, nil
}

var _ domain.StakeStore = (*StakeStore)(nil)
