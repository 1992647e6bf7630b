package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

const uniqueViolation = "23505"

// ReceiptStore implements domain.ReceiptStore on the ledger_receipts table.
type ReceiptStore struct {
	pool *pgxpool.Pool
}

// NewReceiptStore creates a new ReceiptStore backed by the given connection pool.
func NewReceiptStore(pool *pgxpool.Pool) *ReceiptStore {
	return &ReceiptStore{pool: pool}
}

// Append inserts r. A duplicate sequence number or transaction id returns
// domain.ErrAlreadyExists.
func (s *ReceiptStore) Append(ctx context.Context, r domain.Receipt) error {
	args, err := json.Marshal(r.Args)
	if err != nil {
		return fmt.Errorf("postgres: marshal receipt %d args: %w", r.Seq, err)
	}
	var value []byte
	if len(r.Value) > 0 {
		value = r.Value
	}

	const query = `
		INSERT INTO ledger_receipts (
			seq, tx_id, height, sender, function,
			args, ok, value, code, error, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = s.pool.Exec(ctx, query,
		r.Seq, r.TxID, r.Height, string(r.Sender), string(r.Function),
		args, r.OK, value, int32(r.Code), r.Error, r.At,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: append receipt %d: %w", r.Seq, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: append receipt %d: %w", r.Seq, err)
	}
	return nil
}

// ListSince returns up to limit receipts with seq > afterSeq in order.
func (s *ReceiptStore) ListSince(ctx context.Context, afterSeq uint64, limit int) ([]domain.Receipt, error) {
	query := `SELECT seq, tx_id, height, sender, function, args, ok, value, code, error, created_at
		FROM ledger_receipts WHERE seq > $1 ORDER BY seq`
	query, args := paginate(query, []any{afterSeq}, domain.ListOpts{Limit: limit})

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list receipts after %d: %w", afterSeq, err)
	}
	defer rows.Close()

	var out []domain.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan receipt: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list receipts rows: %w", err)
	}
	return out, nil
}

func scanReceipt(row pgx.Row) (domain.Receipt, error) {
	var (
		r        domain.Receipt
		sender   string
		function string
		args     []byte
		value    []byte
		code     int32
	)
	if err := row.Scan(&r.Seq, &r.TxID, &r.Height, &sender, &function,
		&args, &r.OK, &value, &code, &r.Error, &r.At); err != nil {
		return domain.Receipt{}, err
	}
	if err := json.Unmarshal(args, &r.Args); err != nil {
		return domain.Receipt{}, fmt.Errorf("unmarshal args of %d: %w", r.Seq, err)
	}
	r.Sender = domain.Principal(sender)
	r.Function = domain.Function(function)
	r.Code = uint32(code)
	if len(value) > 0 {
		r.Value = json.RawMessage(value)
	}
	r.At = r.At.UTC()
	return r, nil
}

// SaveHeight records height. The stored height never decreases.
func (s *ReceiptStore) SaveHeight(ctx context.Context, height uint64) error {
	const query = `
		INSERT INTO chain_state (id, height, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET
			height     = GREATEST(chain_state.height, EXCLUDED.height),
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, height); err != nil {
		return fmt.Errorf("postgres: save height %d: %w", height, err)
	}
	return nil
}

// LoadHeight returns the last saved height, or 0 on a fresh database.
func (s *ReceiptStore) LoadHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := s.pool.QueryRow(ctx, `SELECT height FROM chain_state WHERE id = 1`).Scan(&height)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: load height: %w", err)
	}
	return height, nil
}

var _ domain.ReceiptStore = (*ReceiptStore)(nil)
