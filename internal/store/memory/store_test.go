package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

func TestReceiptStore(t *testing.T) {
	ctx := context.Background()
	s := NewReceiptStore()
	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, s.Append(ctx, domain.Receipt{Seq: seq}))
	}
	require.ErrorIs(t, s.Append(ctx, domain.Receipt{Seq: 5}), domain.ErrAlreadyExists)

	got, err := s.ListSince(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(3), got[0].Seq)
	assert.Equal(t, uint64(4), got[1].Seq)

	got, err = s.ListSince(ctx, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.SaveHeight(ctx, 9))
	require.NoError(t, s.SaveHeight(ctx, 4))
	h, err := s.LoadHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), h)
}

func TestMarketStorePaging(t *testing.T) {
	ctx := context.Background()
	s := NewMarketStore()
	for id := uint64(3); id >= 1; id-- {
		require.NoError(t, s.Upsert(ctx, domain.Market{ID: id}))
	}
	got, err := s.List(ctx, domain.MarketFilter{}, domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].ID)

	_, err = s.GetByID(ctx, 7)
	require.ErrorIs(t, err, domain.ErrNotFound)
	n, _ := s.Count(ctx, domain.MarketFilter{})
	assert.Equal(t, int64(3), n)
}

func TestMarketStoreFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMarketStore()
	require.NoError(t, s.Upsert(ctx, domain.Market{ID: 1, Resolver: "0xAbC"}))
	require.NoError(t, s.Upsert(ctx, domain.Market{ID: 2, Resolver: "0xabc", Resolved: true}))
	require.NoError(t, s.Upsert(ctx, domain.Market{ID: 3, Resolver: "0xdef"}))

	open := false
	got, err := s.List(ctx, domain.MarketFilter{Resolved: &open}, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []uint64{1, 3}, []uint64{got[0].ID, got[1].ID})

	n, err := s.Count(ctx, domain.MarketFilter{Resolver: "0xABC"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.Count(ctx, domain.MarketFilter{Resolver: "0xabc", Resolved: &open})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMarketStoreKeepsNewerRow(t *testing.T) {
	ctx := context.Background()
	s := NewMarketStore()
	require.NoError(t, s.Upsert(ctx, domain.Market{ID: 1, TotalYes: 800, TotalNo: 50}))
	require.NoError(t, s.Upsert(ctx, domain.Market{ID: 1, TotalYes: 100, TotalNo: 50}))

	got, err := s.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(800), got.TotalYes)

	require.NoError(t, s.Upsert(ctx, domain.Market{ID: 1, TotalYes: 800, TotalNo: 50, Resolved: true, Outcome: true}))
	require.NoError(t, s.Upsert(ctx, domain.Market{ID: 1, TotalYes: 800, TotalNo: 50}))
	got, err = s.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	assert.True(t, got.Outcome)
}

func TestStakeStoreClaims(t *testing.T) {
	ctx := context.Background()
	s := NewStakeStore()
	require.NoError(t, s.UpsertStake(ctx, domain.Stake{MarketID: 1, Account: "a", Side: domain.SideNo, Amount: 5}))
	require.NoError(t, s.UpsertStake(ctx, domain.Stake{MarketID: 1, Account: "a", Side: domain.SideYes, Amount: 2}))
	require.NoError(t, s.UpsertStake(ctx, domain.Stake{MarketID: 1, Account: "a", Side: domain.SideYes, Amount: 9}))

	stakes, err := s.ListByAccount(ctx, "a")
	require.NoError(t, err)
	require.Len(t, stakes, 2)
	assert.Equal(t, uint64(9), stakes[0].Amount)

	require.NoError(t, s.RecordClaim(ctx, domain.Claim{MarketID: 1, Account: "a", Amount: 3}))
	require.NoError(t, s.RecordClaim(ctx, domain.Claim{MarketID: 1, Account: "a", Amount: 1, Fee: true}))
	require.ErrorIs(t, s.RecordClaim(ctx, domain.Claim{MarketID: 1, Account: "a"}), domain.ErrAlreadyExists)

	claims, err := s.ListClaims(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, claims, 2)
}

func TestAuditStoreFiltersByEvent(t *testing.T) {
	ctx := context.Background()
	s := NewAuditStore()
	require.NoError(t, s.Log(ctx, "minted", map[string]any{"amount": 1}))
	require.NoError(t, s.Log(ctx, "staked", nil))
	require.NoError(t, s.Log(ctx, "minted", map[string]any{"amount": 2}))

	all, err := s.List(ctx, "", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].ID)

	minted, err := s.List(ctx, "minted", domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, minted, 1)
	assert.Equal(t, 2, minted[0].Detail["amount"])
}
