package ledger

import (
	"errors"
	"fmt"
	"math"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

var (
	errZeroAmount          = errors.New("amount must be positive")
	errInsufficientBalance = errors.New("insufficient balance")
	errInsufficientCustody = errors.New("insufficient custody")
	errSupplyOverflow      = errors.New("supply overflow")
)

// Vault holds the ledger's native value: spendable account balances plus the
// custody pool that escrows stakes between staking and withdrawal. The sum of
// all balances and custody always equals supply.
type Vault struct {
	balances map[domain.Principal]uint64
	custody  uint64
	supply   uint64
}

// NewVault returns an empty vault.
func NewVault() *Vault {
	return &Vault{balances: make(map[domain.Principal]uint64)}
}

// Balance returns the spendable balance of p.
func (v *Vault) Balance(p domain.Principal) uint64 { return v.balances[p] }

// Custody returns the amount currently escrowed.
func (v *Vault) Custody() uint64 { return v.custody }

// Supply returns the total value ever minted.
func (v *Vault) Supply() uint64 { return v.supply }

func (v *Vault) setBalance(tx *txn, p domain.Principal, amount uint64) {
	prev, had := v.balances[p]
	if amount == 0 {
		delete(v.balances, p)
	} else {
		v.balances[p] = amount
	}
	tx.onRollback(func() {
		if had {
			v.balances[p] = prev
		} else {
			delete(v.balances, p)
		}
	})
}

func (v *Vault) setCustody(tx *txn, amount uint64) {
	prev := v.custody
	v.custody = amount
	tx.onRollback(func() { v.custody = prev })
}

func (v *Vault) mint(tx *txn, to domain.Principal, amount uint64) error {
	if amount == 0 {
		return errZeroAmount
	}
	if v.supply > math.MaxUint64-amount {
		return errSupplyOverflow
	}
	prev := v.supply
	v.supply += amount
	tx.onRollback(func() { v.supply = prev })
	v.setBalance(tx, to, v.balances[to]+amount)
	return nil
}

// deposit moves amount from an account into custody.
func (v *Vault) deposit(tx *txn, from domain.Principal, amount uint64) error {
	if amount == 0 {
		return errZeroAmount
	}
	bal := v.balances[from]
	if bal < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", errInsufficientBalance, from, bal, amount)
	}
	v.setBalance(tx, from, bal-amount)
	v.setCustody(tx, v.custody+amount)
	return nil
}

// release moves amount from custody to an account.
func (v *Vault) release(tx *txn, to domain.Principal, amount uint64) error {
	if amount == 0 {
		return errZeroAmount
	}
	if v.custody < amount {
		return fmt.Errorf("%w: custody %d, needs %d", errInsufficientCustody, v.custody, amount)
	}
	v.setCustody(tx, v.custody-amount)
	v.setBalance(tx, to, v.balances[to]+amount)
	return nil
}

func (v *Vault) snapshot() map[domain.Principal]uint64 {
	out := make(map[domain.Principal]uint64, len(v.balances))
	for p, amount := range v.balances {
		out[p] = amount
	}
	return out
}
