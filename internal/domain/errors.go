package domain

import (
	"errors"
	"fmt"
)

// Infrastructure errors shared by stores, caches and transports.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrStaleRequest     = errors.New("stale request")
	ErrDuplicateRequest = errors.New("duplicate request")
	ErrLockHeld         = errors.New("lock already held")
	ErrReplayDiverged   = errors.New("replay diverged from recorded receipt")
)

// Kind enumerates every way a ledger transaction can be rejected. Kinds are
// mapped to the historical numeric contract codes only at the boundary via
// Code.
type Kind uint8

const (
	KindNotAdmin Kind = iota + 1
	KindInvalidParams
	KindMarketClosed
	KindBeforeDeadline
	KindNotResolver
	KindNotResolved
	KindAlreadyClaimed
	KindAlreadyResolved
	KindMarketNotFound
	KindNotFeeRecipient
	KindFeeAlreadyClaimed
	KindTransferFailed
	KindUnknownFunction
)

var kindCodes = map[Kind]uint32{
	KindNotAdmin:          100,
	KindInvalidParams:     101,
	KindMarketClosed:      102,
	KindBeforeDeadline:    103,
	KindNotResolver:       104,
	KindNotResolved:       105,
	KindAlreadyClaimed:    106,
	KindAlreadyResolved:   107,
	KindMarketNotFound:    108,
	KindNotFeeRecipient:   109,
	KindFeeAlreadyClaimed: 110,
	KindTransferFailed:    111,
	KindUnknownFunction:   112,
}

var kindNames = map[Kind]string{
	KindNotAdmin:          "not-admin",
	KindInvalidParams:     "invalid-params",
	KindMarketClosed:      "market-closed",
	KindBeforeDeadline:    "before-deadline",
	KindNotResolver:       "not-resolver",
	KindNotResolved:       "not-resolved",
	KindAlreadyClaimed:    "already-claimed",
	KindAlreadyResolved:   "already-resolved",
	KindMarketNotFound:    "market-not-found",
	KindNotFeeRecipient:   "not-fee-recipient",
	KindFeeAlreadyClaimed: "fee-already-claimed",
	KindTransferFailed:    "transfer-failed",
	KindUnknownFunction:   "unknown-function",
}

// Code returns the numeric error code reported to external callers.
func (k Kind) Code() uint32 {
	return kindCodes[k]
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// LedgerError is returned by every rejected ledger operation.
type LedgerError struct {
	Kind Kind
	Op   Function
	Err  error
}

// NewLedgerError builds a LedgerError for the given entry point.
func NewLedgerError(op Function, kind Kind) *LedgerError {
	return &LedgerError{Kind: kind, Op: op}
}

func (e *LedgerError) Error() string {
	msg := fmt.Sprintf("ledger: %s: %s (u%d)", e.Op, e.Kind, e.Kind.Code())
	if e.Op == "" {
		msg = fmt.Sprintf("ledger: %s (u%d)", e.Kind, e.Kind.Code())
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LedgerError) Unwrap() error { return e.Err }

// Is matches any LedgerError of the same Kind, so the exported sentinels
// below work with errors.Is regardless of the operation that failed.
func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// Code returns the numeric code of the underlying kind.
func (e *LedgerError) Code() uint32 { return e.Kind.Code() }

// Sentinels for errors.Is checks.
var (
	ErrNotAdmin          = &LedgerError{Kind: KindNotAdmin}
	ErrInvalidParams     = &LedgerError{Kind: KindInvalidParams}
	ErrMarketClosed      = &LedgerError{Kind: KindMarketClosed}
	ErrBeforeDeadline    = &LedgerError{Kind: KindBeforeDeadline}
	ErrNotResolver       = &LedgerError{Kind: KindNotResolver}
	ErrNotResolved       = &LedgerError{Kind: KindNotResolved}
	ErrAlreadyClaimed    = &LedgerError{Kind: KindAlreadyClaimed}
	ErrAlreadyResolved   = &LedgerError{Kind: KindAlreadyResolved}
	ErrMarketNotFound    = &LedgerError{Kind: KindMarketNotFound}
	ErrNotFeeRecipient   = &LedgerError{Kind: KindNotFeeRecipient}
	ErrFeeAlreadyClaimed = &LedgerError{Kind: KindFeeAlreadyClaimed}
	ErrTransferFailed    = &LedgerError{Kind: KindTransferFailed}
	ErrUnknownFunction   = &LedgerError{Kind: KindUnknownFunction}
)

// KindOf extracts the ledger error kind from err, if any.
func KindOf(err error) (Kind, bool) {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return 0, false
}
