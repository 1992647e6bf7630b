package ledger

import (
	"sort"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// StakeYes escrows amount from caller on the YES side of market id.
func (s *State) StakeYes(caller domain.Principal, id, amount uint64) error {
	return s.atomically(func(tx *txn) error { return s.stake(tx, caller, id, domain.SideYes, amount) })
}

// StakeNo escrows amount from caller on the NO side of market id.
func (s *State) StakeNo(caller domain.Principal, id, amount uint64) error {
	return s.atomically(func(tx *txn) error { return s.stake(tx, caller, id, domain.SideNo, amount) })
}

func stakeFunction(side domain.Side) domain.Function {
	if side == domain.SideYes {
		return domain.FnStakeYes
	}
	return domain.FnStakeNo
}

func (s *State) stake(tx *txn, caller domain.Principal, id uint64, side domain.Side, amount uint64) error {
	op := stakeFunction(side)
	m, err := s.market(op, id)
	if err != nil {
		return err
	}
	if s.height >= m.Deadline || m.Resolved {
		return domain.NewLedgerError(op, domain.KindMarketClosed)
	}
	if amount == 0 {
		return domain.NewLedgerError(op, domain.KindInvalidParams)
	}

	// Effects first, then the value transfer. Totals cannot overflow: every
	// staked unit is backed by minted supply, which is capped at MaxUint64.
	key := stakeKey{market: id, account: caller, side: side}
	prevStake, had := s.stakes[key]
	s.stakes[key] = prevStake + amount
	prevYes, prevNo := m.TotalYes, m.TotalNo
	if side == domain.SideYes {
		m.TotalYes += amount
	} else {
		m.TotalNo += amount
	}
	tx.onRollback(func() {
		if had {
			s.stakes[key] = prevStake
		} else {
			delete(s.stakes, key)
		}
		m.TotalYes, m.TotalNo = prevYes, prevNo
	})

	if err := s.vault.deposit(tx, caller, amount); err != nil {
		return &domain.LedgerError{Kind: domain.KindTransferFailed, Op: op, Err: err}
	}
	return nil
}

// StakeOf returns account's stake on side of market id, or 0.
func (s *State) StakeOf(id uint64, account domain.Principal, side domain.Side) uint64 {
	return s.stakes[stakeKey{market: id, account: account, side: side}]
}

// Stakes returns every non-zero stake held by account ordered by market.
func (s *State) Stakes(account domain.Principal) []domain.Stake {
	var out []domain.Stake
	for k, amount := range s.stakes {
		if k.account == account {
			out = append(out, domain.Stake{MarketID: k.market, Account: k.account, Side: k.side, Amount: amount})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketID != out[j].MarketID {
			return out[i].MarketID < out[j].MarketID
		}
		return out[i].Side < out[j].Side
	})
	return out
}
