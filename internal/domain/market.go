package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// MaxFeeBps is the upper bound for a market's protocol fee (100%).
const MaxFeeBps uint64 = 10_000

// MarketStatus represents the lifecycle state of a market at a given height.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// Principal is a ledger account identifier.
type Principal string

// IsZero reports whether p is the empty principal.
func (p Principal) IsZero() bool { return p == "" }

func (p Principal) String() string { return string(p) }

// ParsePrincipal trims s and rejects empty or whitespace-containing input.
// Hex account addresses are returned in their EIP-55 checksummed form, the
// form a recovered call signer carries, so every casing of an address names
// the same principal.
func ParsePrincipal(s string) (Principal, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, " \t\r\n") || len(s) > 128 {
		return "", false
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if common.IsHexAddress(s) {
			return Principal(common.HexToAddress(s).Hex()), true
		}
	}
	return Principal(s), true
}

// Side is one of the two sides a participant can stake on.
type Side uint8

const (
	SideYes Side = iota + 1
	SideNo
)

func (s Side) String() string {
	switch s {
	case SideYes:
		return "yes"
	case SideNo:
		return "no"
	default:
		return "unknown"
	}
}

// SideFor maps a resolved outcome to the winning side.
func SideFor(outcome bool) Side {
	if outcome {
		return SideYes
	}
	return SideNo
}

// Market is a binary-outcome prediction market. Question, Deadline, Resolver,
// FeeBps, FeeRecipient and CreatedAt are fixed at creation; the totals grow
// until the deadline and Outcome is meaningful only once Resolved is set.
type Market struct {
	ID           uint64    `json:"id"`
	Question     string    `json:"question"`
	Deadline     uint64    `json:"deadline"`
	Resolver     Principal `json:"resolver"`
	FeeBps       uint64    `json:"fee_bps"`
	FeeRecipient Principal `json:"fee_recipient"`
	TotalYes     uint64    `json:"total_yes"`
	TotalNo      uint64    `json:"total_no"`
	Outcome      bool      `json:"outcome"`
	Resolved     bool      `json:"resolved"`
	CreatedAt    uint64    `json:"created_at"`
}

// Total returns the side total for s.
func (m Market) Total(s Side) uint64 {
	if s == SideYes {
		return m.TotalYes
	}
	return m.TotalNo
}

// Supersedes reports whether m is at least as recent as prev. Side totals
// only grow and resolution is never undone, so a read taken earlier can
// not supersede a later one.
func (m Market) Supersedes(prev Market) bool {
	return m.TotalYes >= prev.TotalYes && m.TotalNo >= prev.TotalNo && (m.Resolved || !prev.Resolved)
}

// Status derives the lifecycle state at the given block height.
func (m Market) Status(height uint64) MarketStatus {
	switch {
	case m.Resolved:
		return MarketStatusResolved
	case height >= m.Deadline:
		return MarketStatusClosed
	default:
		return MarketStatusOpen
	}
}

// FeePercent renders FeeBps as a percentage string, e.g. 125 -> "1.25".
func (m Market) FeePercent() string {
	return decimal.New(int64(m.FeeBps), -2).StringFixed(2)
}

// MarketView is the read-only, JSON-facing representation of a market.
type MarketView struct {
	ID           uint64       `json:"id"`
	Question     string       `json:"question"`
	Deadline     uint64       `json:"deadline"`
	Resolver     Principal    `json:"resolver"`
	FeeBps       uint64       `json:"fee_bps"`
	FeePercent   string       `json:"fee_percent"`
	FeeRecipient Principal    `json:"fee_recipient"`
	TotalYes     uint64       `json:"total_yes"`
	TotalNo      uint64       `json:"total_no"`
	Outcome      *bool        `json:"outcome"`
	Resolved     bool         `json:"resolved"`
	Status       MarketStatus `json:"status"`
	CreatedAt    uint64       `json:"created_at"`
}

// View builds a MarketView at the given height. Outcome is nil until the
// market is resolved.
func (m Market) View(height uint64) MarketView {
	v := MarketView{
		ID:           m.ID,
		Question:     m.Question,
		Deadline:     m.Deadline,
		Resolver:     m.Resolver,
		FeeBps:       m.FeeBps,
		FeePercent:   m.FeePercent(),
		FeeRecipient: m.FeeRecipient,
		TotalYes:     m.TotalYes,
		TotalNo:      m.TotalNo,
		Resolved:     m.Resolved,
		Status:       m.Status(height),
		CreatedAt:    m.CreatedAt,
	}
	if m.Resolved {
		outcome := m.Outcome
		v.Outcome = &outcome
	}
	return v
}

// MarketParams are the caller-supplied arguments of create-market.
type MarketParams struct {
	Question     string
	Deadline     uint64
	Resolver     Principal
	FeeBps       uint64
	FeeRecipient Principal
}

// Stake is a participant's accumulated amount on one side of a market.
type Stake struct {
	MarketID uint64    `json:"market_id"`
	Account  Principal `json:"account"`
	Side     Side      `json:"side"`
	Amount   uint64    `json:"amount"`
}

// Claim records a completed withdrawal. Fee is true for withdraw-fee claims.
type Claim struct {
	MarketID uint64    `json:"market_id"`
	Account  Principal `json:"account"`
	Amount   uint64    `json:"amount"`
	Fee      bool      `json:"fee"`
	Height   uint64    `json:"height"`
}

// Settlement is the payout breakdown of a resolved market.
type Settlement struct {
	MarketID      uint64 `json:"market_id"`
	Outcome       bool   `json:"outcome"`
	WinningTotal  uint64 `json:"winning_total"`
	LosingTotal   uint64 `json:"losing_total"`
	Pool          uint64 `json:"pool"`
	Fee           uint64 `json:"fee"`
	Distributable uint64 `json:"distributable"`
	// Unclaimable is the distributable amount no participant can withdraw
	// because nobody staked on the winning side.
	Unclaimable uint64 `json:"unclaimable"`
}
