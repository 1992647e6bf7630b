package service

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/polystakes/internal/domain"
	"github.com/alanyoungcy/polystakes/internal/ledger"
)

// StakeView is a participant's position in one market.
type StakeView struct {
	MarketID  uint64           `json:"market_id"`
	Principal domain.Principal `json:"principal"`
	Yes       uint64           `json:"yes"`
	No        uint64           `json:"no"`
}

// ClaimView reports whether a participant has withdrawn and what a withdrawal
// would pay now.
type ClaimView struct {
	MarketID   uint64           `json:"market_id"`
	Principal  domain.Principal `json:"principal"`
	HasClaimed bool             `json:"has_claimed"`
	Quote      uint64           `json:"quote"`
	FeeClaimed bool             `json:"fee_claimed"`
}

// ChainStatus summarizes the ledger for clients computing deadlines.
type ChainStatus struct {
	Height   uint64           `json:"height"`
	Seq      uint64           `json:"seq"`
	Admin    domain.Principal `json:"admin,omitempty"`
	Markets  uint64           `json:"markets"`
	Custody  uint64           `json:"custody"`
	Supply   uint64           `json:"supply"`
	Deployer domain.Principal `json:"deployer"`
}

// QueryService serves read-only views. Single lookups read the chain;
// listings read the projection store.
type QueryService struct {
	chain   *ledger.Chain
	markets domain.MarketStore
	stakes  domain.StakeStore
}

// NewQueryService creates a QueryService.
func NewQueryService(chain *ledger.Chain, markets domain.MarketStore, stakes domain.StakeStore) *QueryService {
	return &QueryService{chain: chain, markets: markets, stakes: stakes}
}

// Market returns the view of market id, or domain.ErrNotFound.
func (q *QueryService) Market(_ context.Context, id uint64) (domain.MarketView, error) {
	var (
		m      domain.Market
		ok     bool
		height uint64
	)
	q.chain.Read(func(s *ledger.State) {
		m, ok = s.Market(id)
		height = s.Height()
	})
	if !ok {
		return domain.MarketView{}, fmt.Errorf("query_service: market %d: %w", id, domain.ErrNotFound)
	}
	return m.View(height), nil
}

// ListMarkets returns a page of matching market views and the number of
// markets matching f.
func (q *QueryService) ListMarkets(ctx context.Context, f domain.MarketFilter, opts domain.ListOpts) ([]domain.MarketView, int64, error) {
	markets, err := q.markets.List(ctx, f, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("query_service: list markets: %w", err)
	}
	total, err := q.markets.Count(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("query_service: count markets: %w", err)
	}
	height := q.chain.Height()
	views := make([]domain.MarketView, 0, len(markets))
	for _, m := range markets {
		views = append(views, m.View(height))
	}
	return views, total, nil
}

// Stake returns p's stakes on both sides of market id. Unknown keys read 0.
func (q *QueryService) Stake(id uint64, p domain.Principal) StakeView {
	v := StakeView{MarketID: id, Principal: p}
	q.chain.Read(func(s *ledger.State) {
		v.Yes = s.StakeOf(id, p, domain.SideYes)
		v.No = s.StakeOf(id, p, domain.SideNo)
	})
	return v
}

// StakesByAccount returns every stake p holds, from the projection store.
func (q *QueryService) StakesByAccount(ctx context.Context, p domain.Principal) ([]domain.Stake, error) {
	stakes, err := q.stakes.ListByAccount(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("query_service: stakes of %s: %w", p, err)
	}
	return stakes, nil
}

// Claim returns p's claim status in market id.
func (q *QueryService) Claim(id uint64, p domain.Principal) ClaimView {
	v := ClaimView{MarketID: id, Principal: p}
	q.chain.Read(func(s *ledger.State) {
		v.HasClaimed = s.HasClaimed(id, p)
		v.Quote = s.Quote(id, p)
		v.FeeClaimed = s.FeeClaimed(id)
	})
	return v
}

// Settlement returns the payout breakdown of a resolved market.
func (q *QueryService) Settlement(id uint64) (domain.Settlement, error) {
	var (
		st domain.Settlement
		ok bool
	)
	q.chain.Read(func(s *ledger.State) { st, ok = s.Settlement(id) })
	if !ok {
		return domain.Settlement{}, fmt.Errorf("query_service: settlement %d: %w", id, domain.ErrNotFound)
	}
	return st, nil
}

// Admin returns the current administrator, if any.
func (q *QueryService) Admin() (domain.Principal, bool) {
	return q.chain.Admin()
}

// Balance returns p's spendable balance.
func (q *QueryService) Balance(p domain.Principal) uint64 {
	var bal uint64
	q.chain.Read(func(s *ledger.State) { bal = s.Balance(p) })
	return bal
}

// Status returns the chain summary.
func (q *QueryService) Status() ChainStatus {
	var st ChainStatus
	q.chain.Read(func(s *ledger.State) {
		st.Height = s.Height()
		st.Admin, _ = s.Admin()
		st.Markets = s.MarketCount()
		st.Custody = s.Custody()
		st.Supply = s.Supply()
		st.Deployer = s.Deployer()
	})
	st.Seq = q.chain.Seq()
	return st
}
