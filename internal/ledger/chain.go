package ledger

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// CommitFunc durably records a receipt before its effects become visible.
// Returning an error rolls the transaction back.
type CommitFunc func(domain.Receipt) error

// Chain serializes transactions against a State into a total order, stamps
// each with a sequence number and the current block height, and owns block
// production. It is safe for concurrent use.
type Chain struct {
	mu    sync.RWMutex
	state *State
	seq   uint64
	now   func() time.Time
}

// Option configures a Chain.
type Option func(*Chain)

// WithClock overrides the wall clock used to stamp receipts.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

// NewChain wraps state.
func NewChain(state *State, opts ...Option) *Chain {
	c := &Chain{state: state, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute runs call and returns its receipt.
func (c *Chain) Execute(call domain.Call) domain.Receipt {
	r, _ := c.ExecuteWith(call, nil)
	return r
}

// ExecuteWith runs call and passes the receipt to commit while still holding
// the write lock. If commit fails the transaction is undone, the sequence
// number is released and the commit error is returned.
func (c *Chain) ExecuteWith(call domain.Call, commit CommitFunc) (domain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if call.TxID == "" {
		call.TxID = uuid.NewString()
	}
	tx := &txn{}
	value, err := c.state.apply(tx, call)
	if err != nil {
		tx.rollback()
	}
	r := c.receipt(c.seq+1, call, value, err)

	if commit != nil {
		if cerr := commit(r); cerr != nil {
			tx.rollback()
			return r, fmt.Errorf("ledger: commit %s: %w", call.Function, cerr)
		}
	}
	c.seq = r.Seq
	return r, nil
}

func (c *Chain) receipt(seq uint64, call domain.Call, value any, err error) domain.Receipt {
	r := domain.Receipt{
		Seq:      seq,
		TxID:     call.TxID,
		Height:   c.state.height,
		Sender:   call.Sender,
		Function: call.Function,
		Args:     call.Args,
		At:       c.now().UTC(),
	}
	if err != nil {
		r.Error = err.Error()
		if kind, ok := domain.KindOf(err); ok {
			r.Code = kind.Code()
		}
		return r
	}
	r.OK = true
	r.Value, _ = json.Marshal(value)
	return r
}

// Mine advances the block height by n and returns the new height.
func (c *Chain) Mine(n uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.advance(n)
	return c.state.height
}

// MineWith advances the height by n after persist accepts the new height.
func (c *Chain) MineWith(n uint64, persist func(height uint64) error) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.state.height + n
	if persist != nil {
		if err := persist(next); err != nil {
			return c.state.height, fmt.Errorf("ledger: persist height %d: %w", next, err)
		}
	}
	c.state.height = next
	return next, nil
}

// Replay re-executes a recorded receipt. Receipts must be replayed in Seq
// order; the chain height follows each receipt's height. The outcome must
// match the recorded one or domain.ErrReplayDiverged is returned.
func (c *Chain) Replay(r domain.Receipt) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.Seq <= c.seq {
		return nil
	}
	if r.Seq != c.seq+1 {
		return fmt.Errorf("ledger: replay seq %d after %d: %w", r.Seq, c.seq, domain.ErrReplayDiverged)
	}
	if r.Height < c.state.height {
		return fmt.Errorf("ledger: replay height %d below %d: %w", r.Height, c.state.height, domain.ErrReplayDiverged)
	}
	prevHeight := c.state.height
	c.state.height = r.Height

	tx := &txn{}
	_, err := c.state.apply(tx, domain.Call{TxID: r.TxID, Sender: r.Sender, Function: r.Function, Args: r.Args})
	var code uint32
	if err != nil {
		tx.rollback()
		if kind, ok := domain.KindOf(err); ok {
			code = kind.Code()
		}
	}
	if (err == nil) != r.OK || code != r.Code {
		tx.rollback()
		c.state.height = prevHeight
		return fmt.Errorf("ledger: replay seq %d %s: recorded ok=%t code=%d, got err=%v: %w",
			r.Seq, r.Function, r.OK, r.Code, err, domain.ErrReplayDiverged)
	}
	c.seq = r.Seq
	return nil
}

// RestoreHeight raises the height to h. Heights never move backwards.
func (c *Chain) RestoreHeight(h uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h > c.state.height {
		c.state.height = h
	}
}

// Seq returns the sequence number of the last committed receipt.
func (c *Chain) Seq() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.seq
}

// Read runs fn with shared access to the state. fn must not retain
// references into the state or mutate it.
func (c *Chain) Read(fn func(s *State)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(c.state)
}

// Height returns the current block height.
func (c *Chain) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.height
}

// Admin returns the current administrator, if any.
func (c *Chain) Admin() (domain.Principal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Admin()
}

// Market returns a copy of market id.
func (c *Chain) Market(id uint64) (domain.Market, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Market(id)
}

// Snapshot exports the full state.
func (c *Chain) Snapshot() domain.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Snapshot()
}

// Deployer returns the principal that owns the ledger.
func (c *Chain) Deployer() domain.Principal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.deployer
}
