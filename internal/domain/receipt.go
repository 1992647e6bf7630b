package domain

import (
	"encoding/json"
	"time"
)

// Function names a ledger entry point. Names match the deployed contract.
type Function string

const (
	FnSetAdmin     Function = "set-admin"
	FnCreateMarket Function = "create-market"
	FnStakeYes     Function = "stake-yes"
	FnStakeNo      Function = "stake-no"
	FnResolve      Function = "resolve"
	FnWithdraw     Function = "withdraw"
	FnWithdrawFee  Function = "withdraw-fee"
	// FnMint credits native value to an account. Only the deployer may call it.
	FnMint Function = "mint"
)

// Mutating reports whether f is a known state-changing entry point.
func (f Function) Mutating() bool {
	switch f {
	case FnSetAdmin, FnCreateMarket, FnStakeYes, FnStakeNo,
		FnResolve, FnWithdraw, FnWithdrawFee, FnMint:
		return true
	default:
		return false
	}
}

// Args carries the typed arguments of any entry point. Each function reads
// only the fields it needs.
type Args struct {
	Question     string    `json:"question,omitempty"`
	Deadline     uint64    `json:"deadline,omitempty"`
	Resolver     Principal `json:"resolver,omitempty"`
	FeeBps       uint64    `json:"fee_bps,omitempty"`
	FeeRecipient Principal `json:"fee_recipient,omitempty"`
	MarketID     uint64    `json:"market_id,omitempty"`
	Amount       uint64    `json:"amount,omitempty"`
	Outcome      bool      `json:"outcome,omitempty"`
	Principal    Principal `json:"principal,omitempty"`
}

// Call is a single transaction submitted by Sender.
type Call struct {
	TxID     string    `json:"tx_id"`
	Sender   Principal `json:"sender"`
	Function Function  `json:"function"`
	Args     Args      `json:"args"`
}

// Receipt is the committed result of a Call. Failed calls produce receipts
// too; they carry the error code and leave no state change.
type Receipt struct {
	Seq      uint64          `json:"seq"`
	TxID     string          `json:"tx_id"`
	Height   uint64          `json:"height"`
	Sender   Principal       `json:"sender"`
	Function Function        `json:"function"`
	Args     Args            `json:"args"`
	OK       bool            `json:"ok"`
	Value    json.RawMessage `json:"value,omitempty"`
	Code     uint32          `json:"code,omitempty"`
	Error    string          `json:"error,omitempty"`
	At       time.Time       `json:"at"`
}

// Uint decodes a numeric success value (new market id, disbursed amount).
func (r Receipt) Uint() (uint64, bool) {
	var v uint64
	if !r.OK || json.Unmarshal(r.Value, &v) != nil {
		return 0, false
	}
	return v, true
}

// Event is published on the signal bus after a receipt commits.
type Event struct {
	Type     string  `json:"type"`
	Height   uint64  `json:"height"`
	MarketID uint64  `json:"market_id,omitempty"`
	Receipt  Receipt `json:"receipt"`
}

// Event types published for successful calls.
const (
	EventAdminChanged   = "admin_changed"
	EventMarketCreated  = "market_created"
	EventStaked         = "staked"
	EventMarketResolved = "market_resolved"
	EventWithdrawn      = "withdrawn"
	EventFeeWithdrawn   = "fee_withdrawn"
	EventMinted         = "minted"
	EventBlock          = "block"
)

// EventTypeFor maps an entry point to the event type emitted on success.
func EventTypeFor(f Function) string {
	switch f {
	case FnSetAdmin:
		return EventAdminChanged
	case FnCreateMarket:
		return EventMarketCreated
	case FnStakeYes, FnStakeNo:
		return EventStaked
	case FnResolve:
		return EventMarketResolved
	case FnWithdraw:
		return EventWithdrawn
	case FnWithdrawFee:
		return EventFeeWithdrawn
	case FnMint:
		return EventMinted
	default:
		return string(f)
	}
}

// Snapshot is a full, deterministic export of ledger state at Height.
type Snapshot struct {
	Height   uint64               `json:"height"`
	Admin    Principal            `json:"admin,omitempty"`
	Custody  uint64               `json:"custody"`
	Markets  []Market             `json:"markets"`
	Stakes   []Stake              `json:"stakes"`
	Claims   []Claim              `json:"claims"`
	Balances map[Principal]uint64 `json:"balances"`
}
