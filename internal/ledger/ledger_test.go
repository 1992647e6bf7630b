package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

const (
	deployer  domain.Principal = "deployer"
	admin     domain.Principal = "admin"
	resolver  domain.Principal = "resolver"
	treasury  domain.Principal = "treasury"
	alice     domain.Principal = "alice"
	bob       domain.Principal = "bob"
	carol     domain.Principal = "carol"
	stranger  domain.Principal = "stranger"
	startFund uint64           = 1_000_000
)

func newTestState(t *testing.T) *State {
	t.Helper()
	s := NewState(deployer)
	require.NoError(t, s.SetAdmin(deployer, admin))
	for _, p := range []domain.Principal{alice, bob, carol} {
		require.NoError(t, s.Mint(deployer, p, startFund))
	}
	return s
}

func createMarket(t *testing.T, s *State, deadlineIn, feeBps uint64) uint64 {
	t.Helper()
	id, err := s.CreateMarket(admin, domain.MarketParams{
		Question:     "Will it rain tomorrow?",
		Deadline:     s.Height() + deadlineIn,
		Resolver:     resolver,
		FeeBps:       feeBps,
		FeeRecipient: treasury,
	})
	require.NoError(t, err)
	return id
}

func requireKind(t *testing.T, err error, want domain.Kind) {
	t.Helper()
	require.Error(t, err)
	kind, ok := domain.KindOf(err)
	require.True(t, ok, "not a ledger error: %v", err)
	require.Equal(t, want, kind, "got %v", err)
}

func TestSetAdmin(t *testing.T) {
	s := NewState(deployer)

	_, ok := s.Admin()
	assert.False(t, ok)

	requireKind(t, s.SetAdmin(stranger, stranger), domain.KindNotAdmin)
	require.NoError(t, s.SetAdmin(deployer, admin))

	got, ok := s.Admin()
	require.True(t, ok)
	assert.Equal(t, admin, got)

	// Once an admin exists the deployer has no special rights.
	requireKind(t, s.SetAdmin(deployer, deployer), domain.KindNotAdmin)
	requireKind(t, s.SetAdmin(admin, ""), domain.KindInvalidParams)

	require.NoError(t, s.SetAdmin(admin, alice))
	got, _ = s.Admin()
	assert.Equal(t, alice, got)
	requireKind(t, s.SetAdmin(admin, admin), domain.KindNotAdmin)
}

func TestCreateMarket(t *testing.T) {
	s := newTestState(t)

	first := createMarket(t, s, 10, 100)
	second := createMarket(t, s, 10, 0)
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), second)

	m, ok := s.Market(first)
	require.True(t, ok)
	assert.Equal(t, uint64(0), m.TotalYes)
	assert.Equal(t, uint64(0), m.TotalNo)
	assert.False(t, m.Resolved)
	assert.Equal(t, "1.00", m.FeePercent())

	_, ok = s.Market(99)
	assert.False(t, ok)
}

func TestCreateMarketRejections(t *testing.T) {
	s := newTestState(t)
	s.advance(5)
	valid := domain.MarketParams{
		Question: "q", Deadline: 10, Resolver: resolver, FeeBps: 50, FeeRecipient: treasury,
	}

	_, err := s.CreateMarket(alice, valid)
	requireKind(t, err, domain.KindNotAdmin)

	tests := []struct {
		name   string
		mutate func(p *domain.MarketParams)
	}{
		{"fee above 100%", func(p *domain.MarketParams) { p.FeeBps = domain.MaxFeeBps + 1 }},
		{"deadline at current height", func(p *domain.MarketParams) { p.Deadline = 5 }},
		{"deadline in the past", func(p *domain.MarketParams) { p.Deadline = 1 }},
		{"empty question", func(p *domain.MarketParams) { p.Question = "  " }},
		{"missing resolver", func(p *domain.MarketParams) { p.Resolver = "" }},
		{"missing fee recipient", func(p *domain.MarketParams) { p.FeeRecipient = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			_, err := s.CreateMarket(admin, p)
			requireKind(t, err, domain.KindInvalidParams)
		})
	}

	p := valid
	p.FeeBps = domain.MaxFeeBps
	id, err := s.CreateMarket(admin, p)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id, "rejected creations must not consume ids")
}

func TestStakeAccumulates(t *testing.T) {
	s := newTestState(t)
	id := createMarket(t, s, 10, 0)

	require.NoError(t, s.StakeYes(alice, id, 100))
	require.NoError(t, s.StakeYes(alice, id, 50))
	require.NoError(t, s.StakeNo(alice, id, 30))
	require.NoError(t, s.StakeNo(bob, id, 20))

	assert.Equal(t, uint64(150), s.StakeOf(id, alice, domain.SideYes))
	assert.Equal(t, uint64(30), s.StakeOf(id, alice, domain.SideNo))
	assert.Equal(t, uint64(0), s.StakeOf(id, carol, domain.SideYes))

	m, _ := s.Market(id)
	assert.Equal(t, uint64(150), m.TotalYes)
	assert.Equal(t, uint64(50), m.TotalNo)
	assert.Equal(t, startFund-180, s.Balance(alice))
	assert.Equal(t, uint64(200), s.Custody())
	assert.Len(t, s.Stakes(alice), 2)
}

func TestStakeRejections(t *testing.T) {
	s := newTestState(t)
	id := createMarket(t, s, 10, 0)

	requireKind(t, s.StakeYes(alice, 42, 10), domain.KindMarketNotFound)
	requireKind(t, s.StakeYes(alice, id, 0), domain.KindInvalidParams)
	requireKind(t, s.StakeNo(stranger, id, 10), domain.KindTransferFailed)

	m, _ := s.Market(id)
	assert.Zero(t, m.TotalNo, "failed transfer must not leave totals behind")
	assert.Zero(t, s.StakeOf(id, stranger, domain.SideNo))
	assert.Zero(t, s.Custody())
}

func TestStakeAfterDeadlineIsClosed(t *testing.T) {
	s := newTestState(t)
	id := createMarket(t, s, 2, 0)

	s.advance(2)
	err := s.StakeYes(alice, id, 1000)
	requireKind(t, err, domain.KindMarketClosed)
	assert.Equal(t, uint32(102), err.(*domain.LedgerError).Code())
	requireKind(t, s.StakeNo(alice, id, 1000), domain.KindMarketClosed)
	assert.Equal(t, startFund, s.Balance(alice))
}

func TestResolveTiming(t *testing.T) {
	s := newTestState(t)
	id := createMarket(t, s, 3, 0)

	for _, caller := range []domain.Principal{resolver, admin, stranger} {
		err := s.Resolve(caller, id, true)
		requireKind(t, err, domain.KindBeforeDeadline)
		assert.Equal(t, uint32(103), domain.KindBeforeDeadline.Code())
	}

	s.advance(3)
	err := s.Resolve(stranger, id, true)
	requireKind(t, err, domain.KindNotResolver)
	assert.Equal(t, uint32(104), err.(*domain.LedgerError).Code())
	requireKind(t, s.Resolve(admin, id, true), domain.KindNotResolver)

	require.NoError(t, s.Resolve(resolver, id, false))
	requireKind(t, s.Resolve(resolver, id, true), domain.KindAlreadyResolved)

	m, _ := s.Market(id)
	assert.True(t, m.Resolved)
	assert.False(t, m.Outcome, "second resolve must not flip the outcome")
	assert.Equal(t, domain.MarketStatusResolved, m.Status(s.Height()))

	requireKind(t, s.Resolve(resolver, 77, true), domain.KindMarketNotFound)
}

func TestEndToEndPayout(t *testing.T) {
	s := newTestState(t)
	id := createMarket(t, s, 5, 100)

	require.NoError(t, s.StakeYes(alice, id, 1000))
	require.NoError(t, s.StakeNo(bob, id, 500))

	_, err := s.Withdraw(alice, id)
	requireKind(t, err, domain.KindNotResolved)
	assert.Equal(t, uint32(105), domain.KindNotResolved.Code())

	s.advance(5)
	require.NoError(t, s.Resolve(resolver, id, true))

	st, ok := s.Settlement(id)
	require.True(t, ok)
	assert.Equal(t, uint64(1500), st.Pool)
	assert.Equal(t, uint64(15), st.Fee)
	assert.Equal(t, uint64(1485), s.Quote(id, alice))

	paid, err := s.Withdraw(alice, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1485), paid)
	assert.Equal(t, startFund-1000+1485, s.Balance(alice))
	assert.True(t, s.HasClaimed(id, alice))

	_, err = s.Withdraw(alice, id)
	requireKind(t, err, domain.KindAlreadyClaimed)
	assert.Equal(t, uint32(106), domain.KindAlreadyClaimed.Code())

	// Losers claim zero, and the zero claim is still terminal.
	paid, err = s.Withdraw(bob, id)
	require.NoError(t, err)
	assert.Zero(t, paid)
	_, err = s.Withdraw(bob, id)
	requireKind(t, err, domain.KindAlreadyClaimed)

	_, err = s.WithdrawFee(alice, id)
	requireKind(t, err, domain.KindNotFeeRecipient)
	fee, err := s.WithdrawFee(treasury, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), fee)
	assert.True(t, s.FeeClaimed(id))
	_, err = s.WithdrawFee(treasury, id)
	requireKind(t, err, domain.KindFeeAlreadyClaimed)

	assert.Zero(t, s.Custody())
}

func TestWithdrawFeeBeforeResolution(t *testing.T) {
	s := newTestState(t)
	id := createMarket(t, s, 5, 100)
	_, err := s.WithdrawFee(treasury, id)
	requireKind(t, err, domain.KindNotResolved)
	_, err = s.WithdrawFee(treasury, 9)
	requireKind(t, err, domain.KindMarketNotFound)
}

func TestEmptyWinningSideForfeitsPool(t *testing.T) {
	s := newTestState(t)
	id := createMarket(t, s, 1, 250)
	require.NoError(t, s.StakeNo(bob, id, 400))
	s.advance(1)
	require.NoError(t, s.Resolve(resolver, id, true))

	st, _ := s.Settlement(id)
	assert.Zero(t, st.WinningTotal)
	assert.Equal(t, uint64(10), st.Fee)
	assert.Equal(t, uint64(390), st.Unclaimable)

	paid, err := s.Withdraw(bob, id)
	require.NoError(t, err)
	assert.Zero(t, paid, "losing stakes are not refunded")
	fee, err := s.WithdrawFee(treasury, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), fee)
	assert.Equal(t, uint64(390), s.Custody())
}

func TestWithdrawTransferFailureKeepsClaimOpen(t *testing.T) {
	s := newTestState(t)
	id := createMarket(t, s, 1, 0)
	require.NoError(t, s.StakeYes(alice, id, 300))
	s.advance(1)
	require.NoError(t, s.Resolve(resolver, id, true))

	// Drain custody so the release cannot complete.
	s.vault.custody = 0
	_, err := s.Withdraw(alice, id)
	requireKind(t, err, domain.KindTransferFailed)
	assert.False(t, s.HasClaimed(id, alice))
	assert.Equal(t, startFund-300, s.Balance(alice))

	s.vault.custody = 300
	paid, err := s.Withdraw(alice, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), paid)
}

func TestConservation(t *testing.T) {
	s := newTestState(t)
	id := createMarket(t, s, 4, 333)

	stakes := map[domain.Principal][2]uint64{
		alice: {701, 13},
		bob:   {97, 0},
		carol: {3, 1111},
	}
	for p, amt := range stakes {
		if amt[0] > 0 {
			require.NoError(t, s.StakeYes(p, id, amt[0]))
		}
		if amt[1] > 0 {
			require.NoError(t, s.StakeNo(p, id, amt[1]))
		}
	}
	s.advance(4)
	require.NoError(t, s.Resolve(resolver, id, true))

	var paid uint64
	for p := range stakes {
		n, err := s.Withdraw(p, id)
		require.NoError(t, err)
		paid += n
	}
	fee, err := s.WithdrawFee(treasury, id)
	require.NoError(t, err)

	m, _ := s.Market(id)
	assert.LessOrEqual(t, paid+fee, m.TotalYes+m.TotalNo)
	assert.Equal(t, m.TotalYes+m.TotalNo-paid-fee, s.Custody(), "rounding dust stays in custody")

	var sum uint64
	for _, bal := range s.Snapshot().Balances {
		sum += bal
	}
	assert.Equal(t, s.Supply(), sum+s.Custody())
}

func TestMulDiv(t *testing.T) {
	const maxU = ^uint64(0)
	assert.Equal(t, uint64(15), mulDiv(1500, 100, 10_000))
	assert.Equal(t, maxU/2, mulDiv(maxU, 5_000, 10_000))
	assert.Equal(t, maxU-1, mulDiv(maxU-1, maxU, maxU))
	assert.Zero(t, mulDiv(10, 10, 0))
}

func TestMintGuards(t *testing.T) {
	s := NewState(deployer)
	requireKind(t, s.Mint(alice, alice, 1), domain.KindNotAdmin)
	requireKind(t, s.Mint(deployer, "", 1), domain.KindInvalidParams)
	requireKind(t, s.Mint(deployer, alice, 0), domain.KindInvalidParams)
	require.NoError(t, s.Mint(deployer, alice, ^uint64(0)))
	requireKind(t, s.Mint(deployer, bob, 1), domain.KindInvalidParams)
	assert.Zero(t, s.Balance(bob))
}

func TestSnapshotBalancesAreACopy(t *testing.T) {
	s := newTestState(t)
	snap := s.Snapshot()
	assert.Equal(t, map[domain.Principal]uint64{alice: startFund, bob: startFund, carol: startFund}, snap.Balances)

	snap.Balances[alice] = 1
	delete(snap.Balances, bob)
	assert.Equal(t, startFund, s.Balance(alice))
	assert.Equal(t, startFund, s.Balance(bob))
	assert.Len(t, s.Snapshot().Balances, 3)
}
