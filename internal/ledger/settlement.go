package ledger

import (
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// Resolve records the outcome of market id. Funds do not move; payouts are
// computed lazily by Withdraw.
func (s *State) Resolve(caller domain.Principal, id uint64, outcome bool) error {
	return s.atomically(func(tx *txn) error { return s.resolve(tx, caller, id, outcome) })
}

func (s *State) resolve(tx *txn, caller domain.Principal, id uint64, outcome bool) error {
	m, err := s.market(domain.FnResolve, id)
	if err != nil {
		return err
	}
	// Deadline before resolver: an early call fails with 103 for any caller.
	if s.height < m.Deadline {
		return domain.NewLedgerError(domain.FnResolve, domain.KindBeforeDeadline)
	}
	if err := requireResolver(m, caller); err != nil {
		return err
	}
	if m.Resolved {
		return domain.NewLedgerError(domain.FnResolve, domain.KindAlreadyResolved)
	}
	m.Resolved, m.Outcome = true, outcome
	tx.onRollback(func() { m.Resolved, m.Outcome = false, false })
	return nil
}

// Withdraw pays caller's share of the distributable pool of a resolved
// market and returns the amount paid. The claim is recorded even when the
// payout is zero. A failed transfer aborts the whole call, so the claim stays
// open and the caller may retry.
func (s *State) Withdraw(caller domain.Principal, id uint64) (uint64, error) {
	var paid uint64
	err := s.atomically(func(tx *txn) error {
		var err error
		paid, err = s.withdraw(tx, caller, id)
		return err
	})
	return paid, err
}

func (s *State) withdraw(tx *txn, caller domain.Principal, id uint64) (uint64, error) {
	m, err := s.market(domain.FnWithdraw, id)
	if err != nil {
		return 0, err
	}
	if !m.Resolved {
		return 0, domain.NewLedgerError(domain.FnWithdraw, domain.KindNotResolved)
	}
	if s.HasClaimed(id, caller) {
		return 0, domain.NewLedgerError(domain.FnWithdraw, domain.KindAlreadyClaimed)
	}

	st := settle(*m)
	payout := payoutFor(st, s.StakeOf(id, caller, domain.SideFor(m.Outcome)))

	s.markClaimed(tx, domain.Claim{MarketID: id, Account: caller, Amount: payout, Height: s.height})
	if payout > 0 {
		if err := s.vault.release(tx, caller, payout); err != nil {
			return 0, &domain.LedgerError{Kind: domain.KindTransferFailed, Op: domain.FnWithdraw, Err: err}
		}
	}
	return payout, nil
}

// WithdrawFee pays the protocol fee of a resolved market to its fee
// recipient and returns the amount paid.
func (s *State) WithdrawFee(caller domain.Principal, id uint64) (uint64, error) {
	var paid uint64
	err := s.atomically(func(tx *txn) error {
		var err error
		paid, err = s.withdrawFee(tx, caller, id)
		return err
	})
	return paid, err
}

func (s *State) withdrawFee(tx *txn, caller domain.Principal, id uint64) (uint64, error) {
	m, err := s.market(domain.FnWithdrawFee, id)
	if err != nil {
		return 0, err
	}
	if !m.Resolved {
		return 0, domain.NewLedgerError(domain.FnWithdrawFee, domain.KindNotResolved)
	}
	if caller != m.FeeRecipient {
		return 0, domain.NewLedgerError(domain.FnWithdrawFee, domain.KindNotFeeRecipient)
	}
	if s.FeeClaimed(id) {
		return 0, domain.NewLedgerError(domain.FnWithdrawFee, domain.KindFeeAlreadyClaimed)
	}

	fee := settle(*m).Fee
	s.markFeeClaimed(tx, domain.Claim{MarketID: id, Account: caller, Amount: fee, Fee: true, Height: s.height})
	if fee > 0 {
		if err := s.vault.release(tx, caller, fee); err != nil {
			return 0, &domain.LedgerError{Kind: domain.KindTransferFailed, Op: domain.FnWithdrawFee, Err: err}
		}
	}
	return fee, nil
}

// Settlement returns the payout breakdown of a resolved market.
func (s *State) Settlement(id uint64) (domain.Settlement, bool) {
	m, ok := s.markets[id]
	if !ok || !m.Resolved {
		return domain.Settlement{}, false
	}
	return settle(*m), true
}

// Quote returns what account would receive from Withdraw right now. It is
// zero for unresolved markets and for accounts that already claimed.
func (s *State) Quote(id uint64, account domain.Principal) uint64 {
	m, ok := s.markets[id]
	if !ok || !m.Resolved || s.HasClaimed(id, account) {
		return 0
	}
	return payoutFor(settle(*m), s.StakeOf(id, account, domain.SideFor(m.Outcome)))
}

func settle(m domain.Market) domain.Settlement {
	winning := m.Total(domain.SideFor(m.Outcome))
	losing := m.Total(domain.SideFor(!m.Outcome))
	pool := winning + losing
	fee := mulDiv(pool, m.FeeBps, domain.MaxFeeBps)
	st := domain.Settlement{
		MarketID:      m.ID,
		Outcome:       m.Outcome,
		WinningTotal:  winning,
		LosingTotal:   losing,
		Pool:          pool,
		Fee:           fee,
		Distributable: pool - fee,
	}
	if winning == 0 {
		st.Unclaimable = st.Distributable
	}
	return st
}

func payoutFor(st domain.Settlement, stake uint64) uint64 {
	if st.WinningTotal == 0 || stake == 0 {
		return 0
	}
	return mulDiv(st.Distributable, stake, st.WinningTotal)
}

// mulDiv returns floor(x*y/d) computed in 256 bits. Callers guarantee the
// result fits in 64 bits (y <= d); d == 0 yields 0.
func mulDiv(x, y, d uint64) uint64 {
	if d == 0 {
		return 0
	}
	q, overflow := new(uint256.Int).MulDivOverflow(
		uint256.NewInt(x), uint256.NewInt(y), uint256.NewInt(d))
	if overflow || !q.IsUint64() {
		return 0
	}
	return q.Uint64()
}
