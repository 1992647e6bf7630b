package ledger

import "github.com/alanyoungcy/polystakes/internal/domain"

// apply executes call against s inside tx and returns its success value:
// a market id or disbursed amount for numeric entry points, true otherwise.
func (s *State) apply(tx *txn, call domain.Call) (any, error) {
	a := call.Args
	switch call.Function {
	case domain.FnSetAdmin:
		return true, s.setAdmin(tx, call.Sender, a.Principal)
	case domain.FnCreateMarket:
		return s.createMarket(tx, call.Sender, domain.MarketParams{
			Question:     a.Question,
			Deadline:     a.Deadline,
			Resolver:     a.Resolver,
			FeeBps:       a.FeeBps,
			FeeRecipient: a.FeeRecipient,
		})
	case domain.FnStakeYes:
		return true, s.stake(tx, call.Sender, a.MarketID, domain.SideYes, a.Amount)
	case domain.FnStakeNo:
		return true, s.stake(tx, call.Sender, a.MarketID, domain.SideNo, a.Amount)
	case domain.FnResolve:
		return true, s.resolve(tx, call.Sender, a.MarketID, a.Outcome)
	case domain.FnWithdraw:
		return s.withdraw(tx, call.Sender, a.MarketID)
	case domain.FnWithdrawFee:
		return s.withdrawFee(tx, call.Sender, a.MarketID)
	case domain.FnMint:
		return true, s.mint(tx, call.Sender, a.Principal, a.Amount)
	default:
		return nil, domain.NewLedgerError(call.Function, domain.KindUnknownFunction)
	}
}
