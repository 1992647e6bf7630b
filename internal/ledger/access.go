package ledger

import "github.com/alanyoungcy/polystakes/internal/domain"

// Admin returns the current administrator and whether one has been set.
func (s *State) Admin() (domain.Principal, bool) {
	return s.admin, !s.admin.IsZero()
}

// SetAdmin replaces the administrator. The current admin may hand the role
// over at any time; while no admin exists only the deployer may claim it.
func (s *State) SetAdmin(caller, next domain.Principal) error {
	return s.atomically(func(tx *txn) error { return s.setAdmin(tx, caller, next) })
}

func (s *State) setAdmin(tx *txn, caller, next domain.Principal) error {
	if s.admin.IsZero() {
		if caller != s.deployer {
			return domain.NewLedgerError(domain.FnSetAdmin, domain.KindNotAdmin)
		}
	} else if caller != s.admin {
		return domain.NewLedgerError(domain.FnSetAdmin, domain.KindNotAdmin)
	}
	if next.IsZero() {
		return domain.NewLedgerError(domain.FnSetAdmin, domain.KindInvalidParams)
	}
	prev := s.admin
	s.admin = next
	tx.onRollback(func() { s.admin = prev })
	return nil
}

func (s *State) requireAdmin(op domain.Function, caller domain.Principal) error {
	if s.admin.IsZero() || caller != s.admin {
		return domain.NewLedgerError(op, domain.KindNotAdmin)
	}
	return nil
}

func requireResolver(m *domain.Market, caller domain.Principal) error {
	if caller != m.Resolver {
		return domain.NewLedgerError(domain.FnResolve, domain.KindNotResolver)
	}
	return nil
}
