package postgres

import (
	"fmt"
	"strconv"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// Amounts span the full uint64 range, so they are stored as NUMERIC(20,0)
// and moved across the wire as decimal text.

func amountText(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("postgres: parse amount %q: %w", s, err)
	}
	return v, nil
}

// paginate appends LIMIT/OFFSET placeholders for opts to query.
func paginate(query string, args []any, opts domain.ListOpts) (string, []any) {
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
