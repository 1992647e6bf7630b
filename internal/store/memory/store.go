// Package memory implements the domain store interfaces in process memory.
// It backs the memory run mode and service tests; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// ReceiptStore is an append-only in-memory receipt log.
type ReceiptStore struct {
	mu       sync.RWMutex
	receipts []domain.Receipt
	height   uint64
}

// NewReceiptStore returns an empty ReceiptStore.
func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{}
}

// Append adds r to the log. Sequence numbers must be strictly increasing.
func (s *ReceiptStore) Append(_ context.Context, r domain.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.receipts); n > 0 && s.receipts[n-1].Seq >= r.Seq {
		return domain.ErrAlreadyExists
	}
	s.receipts = append(s.receipts, r)
	return nil
}

// ListSince returns up to limit receipts with Seq > afterSeq.
func (s *ReceiptStore) ListSince(_ context.Context, afterSeq uint64, limit int) ([]domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.receipts), func(i int) bool { return s.receipts[i].Seq > afterSeq })
	end := len(s.receipts)
	if limit > 0 && i+limit < end {
		end = i + limit
	}
	out := make([]domain.Receipt, end-i)
	copy(out, s.receipts[i:end])
	return out, nil
}

// SaveHeight records the latest block height.
func (s *ReceiptStore) SaveHeight(_ context.Context, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if height > s.height {
		s.height = height
	}
	return nil
}

// LoadHeight returns the last saved height.
func (s *ReceiptStore) LoadHeight(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height, nil
}

// MarketStore holds the market projection.
type MarketStore struct {
	mu      sync.RWMutex
	markets map[uint64]domain.Market
}

// NewMarketStore returns an empty MarketStore.
func NewMarketStore() *MarketStore {
	return &MarketStore{markets: make(map[uint64]domain.Market)}
}

// Upsert stores m, replacing any earlier version.
// Upsert keeps the stored row when m is an older read of the same market.
func (s *MarketStore) Upsert(_ context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.markets[m.ID]; ok && !m.Supersedes(prev) {
		return nil
	}
	s.markets[m.ID] = m
	return nil
}

// GetByID returns domain.ErrNotFound for unknown ids.
func (s *MarketStore) GetByID(_ context.Context, id uint64) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

// List returns markets matching f ordered by id.
func (s *MarketStore) List(_ context.Context, f domain.MarketFilter, opts domain.ListOpts) ([]domain.Market, error) {
	out := s.matching(f)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, opts), nil
}

// Count returns the number of markets matching f.
func (s *MarketStore) Count(_ context.Context, f domain.MarketFilter) (int64, error) {
	return int64(len(s.matching(f))), nil
}

func (s *MarketStore) matching(f domain.MarketFilter) []domain.Market {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if f.Match(m) {
			out = append(out, m)
		}
	}
	return out
}

type stakeKey struct {
	market  uint64
	account domain.Principal
	side    domain.Side
}

// StakeStore holds the stake and claim projections.
type StakeStore struct {
	mu     sync.RWMutex
	stakes map[stakeKey]domain.Stake
	claims []domain.Claim
}

// NewStakeStore returns an empty StakeStore.
func NewStakeStore() *StakeStore {
	return &StakeStore{stakes: make(map[stakeKey]domain.Stake)}
}

// UpsertStake stores the running stake total.
func (s *StakeStore) UpsertStake(_ context.Context, st domain.Stake) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stakes[stakeKey{st.MarketID, st.Account, st.Side}] = st
	return nil
}

// RecordClaim stores c. A second claim for the same market, account and
// kind is rejected with domain.ErrAlreadyExists.
func (s *StakeStore) RecordClaim(_ context.Context, c domain.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.claims {
		if existing.MarketID == c.MarketID && existing.Account == c.Account && existing.Fee == c.Fee {
			return domain.ErrAlreadyExists
		}
	}
	s.claims = append(s.claims, c)
	return nil
}

// ListByAccount returns account's stakes ordered by market and side.
func (s *StakeStore) ListByAccount(_ context.Context, account domain.Principal) ([]domain.Stake, error) {
	s.mu.RLock()
	var out []domain.Stake
	for k, st := range s.stakes {
		if k.account == account {
			out = append(out, st)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketID != out[j].MarketID {
			return out[i].MarketID < out[j].MarketID
		}
		return out[i].Side < out[j].Side
	})
	return out, nil
}

// ListClaims returns the claims recorded against marketID in insertion order.
func (s *StakeStore) ListClaims(_ context.Context, marketID uint64) ([]domain.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Claim
	for _, c := range s.claims {
		if c.MarketID == marketID {
			out = append(out, c)
		}
	}
	return out, nil
}

// AuditStore is an in-memory audit log.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
	now     func() time.Time
}

// NewAuditStore returns an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{now: time.Now}
}

// Log appends an entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	})
	return nil
}

// List returns entries newest first, optionally of one event type.
func (s *AuditStore) List(_ context.Context, event string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	out := make([]domain.AuditEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		if event == "" || s.entries[i].Event == event {
			out = append(out, s.entries[i])
		}
	}
	s.mu.RUnlock()
	return page(out, opts), nil
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

var (
	_ domain.ReceiptStore = (*ReceiptStore)(nil)
	_ domain.MarketStore  = (*MarketStore)(nil)
	_ domain.StakeStore   = (*StakeStore)(nil)
	_ domain.AuditStore   = (*AuditStore)(nil)
)
