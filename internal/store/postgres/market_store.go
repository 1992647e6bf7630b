package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// MarketStore implements domain.MarketStore. Rows are written only by the
// projector, after the chain has committed the call.
type MarketStore struct {
	pool *pgxpool.Pool
}

func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Immutable columns are written once; later upserts only move totals and
// resolution forward, so an older read never replaces a newer row.
const upsertMarketSQL = `
INSERT INTO markets (id, question, deadline, resolver, fee_bps, fee_recipient,
                     total_yes, total_no, outcome, resolved, created_at)
VALUES (@id, @question, @deadline, @resolver, @fee_bps, @fee_recipient,
        @total_yes::numeric, @total_no::numeric, @outcome, @resolved, @created_at)
ON CONFLICT (id) DO UPDATE SET
    total_yes  = EXCLUDED.total_yes,
    total_no   = EXCLUDED.total_no,
    outcome    = EXCLUDED.outcome,
    resolved   = EXCLUDED.resolved,
    updated_at = NOW()
WHERE (markets.total_yes, markets.total_no, markets.resolved)
      IS DISTINCT FROM (EXCLUDED.total_yes, EXCLUDED.total_no, EXCLUDED.resolved)
  AND markets.total_yes <= EXCLUDED.total_yes
  AND markets.total_no <= EXCLUDED.total_no
  AND NOT (markets.resolved AND NOT EXCLUDED.resolved)`

func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	args := pgx.NamedArgs{
		"id":            m.ID,
		"question":      m.Question,
		"deadline":      m.Deadline,
		"resolver":      string(m.Resolver),
		"fee_bps":       int32(m.FeeBps),
		"fee_recipient": string(m.FeeRecipient),
		"total_yes":     amountText(m.TotalYes),
		"total_no":      amountText(m.TotalNo),
		"outcome":       nil,
		"resolved":      m.Resolved,
		"created_at":    m.CreatedAt,
	}
	if m.Resolved {
		args["outcome"] = m.Outcome
	}
	if _, err := s.pool.Exec(ctx, upsertMarketSQL, args); err != nil {
		return fmt.Errorf("postgres: upsert market %d: %w", m.ID, err)
	}
	return nil
}

const selectMarketSQL = `SELECT id, question, deadline, resolver, fee_bps, fee_recipient,
       total_yes::text, total_no::text, outcome, resolved, created_at
  FROM markets`

func scanMarket(row pgx.CollectableRow) (domain.Market, error) {
	var (
		m                   domain.Market
		resolver, recipient string
		feeBps              int32
		yes, no             string
		outcome             *bool
	)
	if err := row.Scan(&m.ID, &m.Question, &m.Deadline, &resolver, &feeBps, &recipient,
		&yes, &no, &outcome, &m.Resolved, &m.CreatedAt); err != nil {
		return domain.Market{}, err
	}
	var err error
	if m.TotalYes, err = parseAmount(yes); err != nil {
		return domain.Market{}, err
	}
	if m.TotalNo, err = parseAmount(no); err != nil {
		return domain.Market{}, err
	}
	m.Resolver = domain.Principal(resolver)
	m.FeeRecipient = domain.Principal(recipient)
	m.FeeBps = uint64(feeBps)
	m.Outcome = outcome != nil && *outcome
	return m, nil
}

func (s *MarketStore) GetByID(ctx context.Context, id uint64) (domain.Market, error) {
	rows, err := s.pool.Query(ctx, selectMarketSQL+` WHERE id = @id`, pgx.NamedArgs{"id": id})
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMarket)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.Market{}, domain.ErrNotFound
	case err != nil:
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// marketWhere renders f as a WHERE clause over named arguments.
func marketWhere(f domain.MarketFilter) (string, pgx.NamedArgs) {
	var conds []string
	args := pgx.NamedArgs{}
	if f.Resolved != nil {
		conds = append(conds, "resolved = @resolved")
		args["resolved"] = *f.Resolved
	}
	if f.Resolver != "" {
		conds = append(conds, "lower(resolver) = lower(@resolver)")
		args["resolver"] = string(f.Resolver)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *MarketStore) List(ctx context.Context, f domain.MarketFilter, opts domain.ListOpts) ([]domain.Market, error) {
	where, args := marketWhere(f)
	query := selectMarketSQL + where + ` ORDER BY id`
	if opts.Limit > 0 {
		query += ` LIMIT @limit`
		args["limit"] = opts.Limit
	}
	if opts.Offset > 0 {
		query += ` OFFSET @offset`
		args["offset"] = opts.Offset
	}

	rows, err := s.pool.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	markets, err := pgx.CollectRows(rows, scanMarket)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	return markets, nil
}

func (s *MarketStore) Count(ctx context.Context, f domain.MarketFilter) (int64, error) {
	where, args := marketWhere(f)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`+where, args).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

var _ domain.MarketStore = (*MarketStore)(nil)
