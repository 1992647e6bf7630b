package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestChain(t *testing.T) *Chain {
	t.Helper()
	c := NewChain(NewState(deployer), WithClock(func() time.Time { return fixedNow }))
	fund(t, c, map[domain.Principal]uint64{alice: startFund, bob: startFund})
	return c
}

// fund credits balances directly, bypassing Seq.
func fund(t *testing.T, c *Chain, balances map[domain.Principal]uint64) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NoError(t, c.state.atomically(func(tx *txn) error {
		for p, amount := range balances {
			if err := c.state.mint(tx, c.state.deployer, p, amount); err != nil {
				return err
			}
		}
		return nil
	}))
}

func scenario() []domain.Call {
	return []domain.Call{
		{Sender: deployer, Function: domain.FnSetAdmin, Args: domain.Args{Principal: admin}},
		{Sender: admin, Function: domain.FnCreateMarket, Args: domain.Args{
			Question: "q", Deadline: 2, Resolver: resolver, FeeBps: 100, FeeRecipient: treasury,
		}},
		{Sender: alice, Function: domain.FnStakeYes, Args: domain.Args{MarketID: 1, Amount: 1000}},
		{Sender: bob, Function: domain.FnStakeNo, Args: domain.Args{MarketID: 1, Amount: 500}},
		{Sender: resolver, Function: domain.FnResolve, Args: domain.Args{MarketID: 1, Outcome: true}},
	}
}

func TestChainExecute(t *testing.T) {
	c := newTestChain(t)

	var receipts []domain.Receipt
	for _, call := range scenario() {
		receipts = append(receipts, c.Execute(call))
	}
	for i, r := range receipts[:4] {
		assert.True(t, r.OK, "call %d: %s", i, r.Error)
		assert.Equal(t, uint64(i+1), r.Seq)
		assert.NotEmpty(t, r.TxID)
		assert.Equal(t, fixedNow, r.At)
	}
	id, ok := receipts[1].Uint()
	require.True(t, ok)
	assert.Equal(t, uint64(1), id)

	early := receipts[4]
	assert.False(t, early.OK)
	assert.Equal(t, uint32(103), early.Code)
	assert.Contains(t, early.Error, "before-deadline")

	assert.Equal(t, uint64(2), c.Mine(2))
	r := c.Execute(domain.Call{Sender: resolver, Function: domain.FnResolve, Args: domain.Args{MarketID: 1, Outcome: true}})
	require.True(t, r.OK, r.Error)
	assert.Equal(t, uint64(2), r.Height)

	r = c.Execute(domain.Call{Sender: alice, Function: domain.FnWithdraw, Args: domain.Args{MarketID: 1}})
	paid, ok := r.Uint()
	require.True(t, ok, r.Error)
	assert.Equal(t, uint64(1485), paid)

	r = c.Execute(domain.Call{Sender: alice, Function: "bogus"})
	assert.False(t, r.OK)
	assert.Equal(t, uint32(112), r.Code)
}

func TestChainCommitFailureRollsBack(t *testing.T) {
	c := newTestChain(t)
	for _, call := range scenario()[:2] {
		require.True(t, c.Execute(call).OK)
	}

	boom := errors.New("disk full")
	_, err := c.ExecuteWith(domain.Call{Sender: alice, Function: domain.FnStakeYes, Args: domain.Args{MarketID: 1, Amount: 10}},
		func(domain.Receipt) error { return boom })
	require.ErrorIs(t, err, boom)

	m, _ := c.Market(1)
	assert.Zero(t, m.TotalYes)
	assert.Equal(t, uint64(2), c.Seq())
	c.Read(func(s *State) { assert.Equal(t, startFund, s.Balance(alice)) })

	var committed domain.Receipt
	_, err = c.ExecuteWith(domain.Call{Sender: alice, Function: domain.FnStakeYes, Args: domain.Args{MarketID: 1, Amount: 10}},
		func(r domain.Receipt) error { committed = r; return nil })
	require.NoError(t, err)
	assert.Equal(t, uint64(3), committed.Seq)
}

func TestChainMineWith(t *testing.T) {
	c := newTestChain(t)
	h, err := c.MineWith(3, func(uint64) error { return errors.New("down") })
	require.Error(t, err)
	assert.Zero(t, h)

	var saved uint64
	h, err = c.MineWith(3, func(height uint64) error { saved = height; return nil })
	require.NoError(t, err)
	assert.Equal(t, uint64(3), h)
	assert.Equal(t, uint64(3), saved)

	c.RestoreHeight(1)
	assert.Equal(t, uint64(3), c.Height(), "height never regresses")
}

func TestChainReplayReproducesState(t *testing.T) {
	src := newTestChain(t)
	var log []domain.Receipt
	record := func(r domain.Receipt) error { log = append(log, r); return nil }

	for _, call := range scenario() {
		_, err := src.ExecuteWith(call, record)
		require.NoError(t, err)
	}
	src.Mine(2)
	for _, call := range []domain.Call{
		{Sender: resolver, Function: domain.FnResolve, Args: domain.Args{MarketID: 1, Outcome: true}},
		{Sender: alice, Function: domain.FnWithdraw, Args: domain.Args{MarketID: 1}},
		{Sender: alice, Function: domain.FnWithdraw, Args: domain.Args{MarketID: 1}},
	} {
		_, err := src.ExecuteWith(call, record)
		require.NoError(t, err)
	}

	dst := newTestChain(t)
	for _, r := range log {
		require.NoError(t, dst.Replay(r))
	}
	dst.RestoreHeight(src.Height())
	assert.Equal(t, src.Snapshot(), dst.Snapshot())
	assert.Equal(t, src.Seq(), dst.Seq())

	// Already applied receipts are skipped.
	require.NoError(t, dst.Replay(log[0]))
}

func TestChainReplayDivergence(t *testing.T) {
	c := newTestChain(t)
	forged := domain.Receipt{
		Seq: 1, Sender: stranger, Function: domain.FnSetAdmin,
		Args: domain.Args{Principal: stranger}, OK: true,
	}
	err := c.Replay(forged)
	require.ErrorIs(t, err, domain.ErrReplayDiverged)
	_, ok := c.Admin()
	assert.False(t, ok)

	gap := domain.Receipt{Seq: 5, Sender: deployer, Function: domain.FnSetAdmin, Args: domain.Args{Principal: admin}, OK: true}
	require.ErrorIs(t, c.Replay(gap), domain.ErrReplayDiverged)
}

func TestChainConcurrentStakes(t *testing.T) {
	c := newTestChain(t)
	for _, call := range scenario()[:2] {
		require.True(t, c.Execute(call).OK)
	}
	c.Execute(domain.Call{Sender: admin, Function: domain.FnCreateMarket, Args: domain.Args{
		Question: "long", Deadline: 100, Resolver: resolver, FeeRecipient: treasury,
	}})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Execute(domain.Call{Sender: alice, Function: domain.FnStakeYes, Args: domain.Args{MarketID: 2, Amount: 3}})
		}()
		go func() {
			defer wg.Done()
			c.Execute(domain.Call{Sender: bob, Function: domain.FnStakeNo, Args: domain.Args{MarketID: 2, Amount: 7}})
		}()
	}
	wg.Wait()

	m, _ := c.Market(2)
	assert.Equal(t, uint64(150), m.TotalYes)
	assert.Equal(t, uint64(350), m.TotalNo)
	assert.Equal(t, uint64(103), c.Seq())
}
