package ledger

import (
	"sort"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// HasClaimed reports whether account has withdrawn from market id.
func (s *State) HasClaimed(id uint64, account domain.Principal) bool {
	_, ok := s.claims[claimKey{market: id, account: account}]
	return ok
}

// FeeClaimed reports whether the fee of market id has been withdrawn.
func (s *State) FeeClaimed(id uint64) bool {
	_, ok := s.feeClaims[id]
	return ok
}

// Claims returns every recorded claim ordered by market, fee claims last.
func (s *State) Claims() []domain.Claim {
	out := make([]domain.Claim, 0, len(s.claims)+len(s.feeClaims))
	for _, c := range s.claims {
		out = append(out, c)
	}
	for _, c := range s.feeClaims {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MarketID != b.MarketID {
			return a.MarketID < b.MarketID
		}
		if a.Fee != b.Fee {
			return !a.Fee
		}
		return a.Account < b.Account
	})
	return out
}

func (s *State) markClaimed(tx *txn, c domain.Claim) {
	key := claimKey{market: c.MarketID, account: c.Account}
	s.claims[key] = c
	tx.onRollback(func() { delete(s.claims, key) })
}

func (s *State) markFeeClaimed(tx *txn, c domain.Claim) {
	s.feeClaims[c.MarketID] = c
	tx.onRollback(func() { delete(s.feeClaims, c.MarketID) })
}
