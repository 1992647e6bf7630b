// Package ledger implements the prediction-market state machine: access
// control, the market registry, stake accounting, settlement and claim
// tracking. Every entry point is all-or-nothing.
package ledger

import (
	"sort"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

type stakeKey struct {
	market  uint64
	account domain.Principal
	side    domain.Side
}

type claimKey struct {
	market  uint64
	account domain.Principal
}

// State is the complete ledger state. It is not safe for concurrent use;
// Chain serializes access to it.
type State struct {
	deployer domain.Principal
	admin    domain.Principal
	height   uint64
	lastID   uint64

	markets   map[uint64]*domain.Market
	stakes    map[stakeKey]uint64
	claims    map[claimKey]domain.Claim
	feeClaims map[uint64]domain.Claim

	vault *Vault
}

// NewState returns an empty ledger owned by deployer at height 0.
func NewState(deployer domain.Principal) *State {
	return &State{
		deployer:  deployer,
		markets:   make(map[uint64]*domain.Market),
		stakes:    make(map[stakeKey]uint64),
		claims:    make(map[claimKey]domain.Claim),
		feeClaims: make(map[uint64]domain.Claim),
		vault:     NewVault(),
	}
}

// Deployer returns the principal that created the ledger.
func (s *State) Deployer() domain.Principal { return s.deployer }

// Height returns the current block height.
func (s *State) Height() uint64 { return s.height }

// Balance returns the spendable balance of p.
func (s *State) Balance(p domain.Principal) uint64 { return s.vault.Balance(p) }

// Custody returns the value escrowed by the ledger.
func (s *State) Custody() uint64 { return s.vault.Custody() }

// Supply returns the total value minted into the ledger.
func (s *State) Supply() uint64 { return s.vault.Supply() }

// atomically runs fn inside a fresh transaction and rolls every mutation
// back if fn fails.
func (s *State) atomically(fn func(tx *txn) error) error {
	tx := &txn{}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *State) advance(blocks uint64) {
	s.height += blocks
}

// Mint credits amount of native value to p. Only the deployer may mint.
func (s *State) Mint(caller, to domain.Principal, amount uint64) error {
	return s.atomically(func(tx *txn) error { return s.mint(tx, caller, to, amount) })
}

func (s *State) mint(tx *txn, caller, to domain.Principal, amount uint64) error {
	if caller != s.deployer {
		return domain.NewLedgerError(domain.FnMint, domain.KindNotAdmin)
	}
	if to.IsZero() {
		return domain.NewLedgerError(domain.FnMint, domain.KindInvalidParams)
	}
	if err := s.vault.mint(tx, to, amount); err != nil {
		return &domain.LedgerError{Kind: domain.KindInvalidParams, Op: domain.FnMint, Err: err}
	}
	return nil
}

// Snapshot exports the full state in a deterministic order.
func (s *State) Snapshot() domain.Snapshot {
	snap := domain.Snapshot{
		Height:   s.height,
		Admin:    s.admin,
		Custody:  s.vault.Custody(),
		Markets:  s.Markets(),
		Stakes:   make([]domain.Stake, 0, len(s.stakes)),
		Claims:   s.Claims(),
		Balances: s.vault.snapshot(),
	}
	for k, amount := range s.stakes {
		snap.Stakes = append(snap.Stakes, domain.Stake{
			MarketID: k.market, Account: k.account, Side: k.side, Amount: amount,
		})
	}
	sort.Slice(snap.Stakes, func(i, j int) bool {
		a, b := snap.Stakes[i], snap.Stakes[j]
		if a.MarketID != b.MarketID {
			return a.MarketID < b.MarketID
		}
		if a.Account != b.Account {
			return a.Account < b.Account
		}
		return a.Side < b.Side
	})
	return snap
}
