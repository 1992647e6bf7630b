package domain

import (
	"context"
	"strings"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketFilter narrows market listings. Zero fields match every market.
type MarketFilter struct {
	Resolved *bool
	Resolver Principal
}

// Match reports whether m passes the filter.
func (f MarketFilter) Match(m Market) bool {
	if f.Resolved != nil && m.Resolved != *f.Resolved {
		return false
	}
	return f.Resolver == "" || strings.EqualFold(string(m.Resolver), string(f.Resolver))
}

// ReceiptStore is the append-only transaction log the ledger is rebuilt from.
type ReceiptStore interface {
	Append(ctx context.Context, r Receipt) error
	// ListSince returns receipts with Seq > afterSeq in ascending order.
	ListSince(ctx context.Context, afterSeq uint64, limit int) ([]Receipt, error)
	// SaveHeight records the latest produced block height.
	SaveHeight(ctx context.Context, height uint64) error
	LoadHeight(ctx context.Context) (uint64, error)
}

// MarketStore persists the read projection of markets.
type MarketStore interface {
	Upsert(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id uint64) (Market, error)
	// List returns matching markets in id order.
	List(ctx context.Context, f MarketFilter, opts ListOpts) ([]Market, error)
	Count(ctx context.Context, f MarketFilter) (int64, error)
}

// StakeStore persists the read projection of stakes and claims.
type StakeStore interface {
	UpsertStake(ctx context.Context, s Stake) error
	RecordClaim(ctx context.Context, c Claim) error
	ListByAccount(ctx context.Context, account Principal) ([]Stake, error)
	ListClaims(ctx context.Context, marketID uint64) ([]Claim, error)
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
	// List returns entries newest first. An empty event lists every type.
	List(ctx context.Context, event string, opts ListOpts) ([]AuditEntry, error)
}
