package service

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

func TestMintReservesNameCaseInsensitively(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mint(t, aliceAddr, "Alice")

	_, err := f.cards.Mint(ctx, bobAddr, "alice", domain.CardProperties{}, big.NewInt(testMintPrice))
	require.ErrorIs(t, err, domain.ErrNameTaken)

	assert.True(t, f.cards.IsNameReserved("ALICE"))
	assert.Equal(t, uint64(1), f.cards.TotalSupply())
}

func TestMintGates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.cards.SetSaleActive(ctx, ownerAddr, false))
	_, err := f.cards.Mint(ctx, aliceAddr, "Paul Allen", domain.CardProperties{}, big.NewInt(testMintPrice))
	require.ErrorIs(t, err, domain.ErrSaleNotActive)

	require.NoError(t, f.cards.SetSaleActive(ctx, ownerAddr, true))
	_, err = f.cards.Mint(ctx, aliceAddr, "Paul Allen", domain.CardProperties{}, big.NewInt(testMintPrice-1))
	require.ErrorIs(t, err, domain.ErrInsufficientPayment)

	_, err = f.cards.Mint(ctx, aliceAddr, "Paul Allen", domain.CardProperties{}, big.NewInt(testMintPrice))
	require.NoError(t, err)
}

func TestMintSupplyExhausted(t *testing.T) {
	f := newFixtureWithSupply(t, 1)
	ctx := context.Background()

	f.mint(t, aliceAddr, "Patrick Bateman")

	_, err := f.cards.Mint(ctx, bobAddr, "Timothy Bryce", domain.CardProperties{}, big.NewInt(testMintPrice))
	require.ErrorIs(t, err, domain.ErrSupplyExhausted)
}

func TestMintValidatesNameAndPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{
		"",
		" leading",
		"trailing ",
		"double  space",
		strings.Repeat("x", 33),
		"non-ascii é",
	} {
		_, err := f.cards.Mint(ctx, aliceAddr, name, domain.CardProperties{}, big.NewInt(testMintPrice))
		require.ErrorIs(t, err, domain.ErrInvalidName, "name %q", name)
	}

	_, err := f.cards.Mint(ctx, aliceAddr, "Valid Name",
		domain.CardProperties{Position: strings.Repeat("x", 33)}, big.NewInt(testMintPrice))
	require.ErrorIs(t, err, domain.ErrInvalidPosition)

	assert.Equal(t, uint64(0), f.cards.TotalSupply())
	assert.False(t, f.cards.IsNameReserved("Valid Name"))
}

func TestMintChargesExactPriceAndPaysOracle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before := f.bank.BalanceOf(aliceAddr)
	_, err := f.cards.Mint(ctx, aliceAddr, "Patrick Bateman", domain.CardProperties{}, big.NewInt(testMintPrice+500))
	require.NoError(t, err)

	after := f.bank.BalanceOf(aliceAddr)
	assert.Equal(t, int64(testMintPrice), new(big.Int).Sub(before, after).Int64(),
		"only the mint price is debited, the excess offer stays with the caller")
	assert.Equal(t, int64(testMintPrice-testOracleFee), f.bank.BalanceOf(treasuryAddr).Int64())
	assert.Equal(t, int64(testOracleFee), f.bank.BalanceOf(oracleAddr).Int64())
}

func TestMintEmitsRequestAndMarksPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.mint(t, aliceAddr, "Patrick Bateman")
	assert.True(t, f.oracle.IsPending(id))

	events := f.bus.eventsOfType(domain.ChannelCards, domain.EventCardUpdateRequested)
	require.Len(t, events, 1)
	assert.Equal(t, float64(id), events[0]["card_id"])
	assert.Equal(t, "Patrick Bateman", events[0]["name"])

	err := f.cards.UpdateData(ctx, aliceAddr, id, domain.CardProperties{Position: "CEO"}, big.NewInt(testUpdateFee))
	require.ErrorIs(t, err, domain.ErrRequestPending)
}

func TestMintAbortsWhenOracleFeeRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.bank.Block(oracleAddr)
	before := f.bank.BalanceOf(aliceAddr)

	_, err := f.cards.Mint(ctx, aliceAddr, "Patrick Bateman", domain.CardProperties{}, big.NewInt(testMintPrice))
	require.ErrorIs(t, err, domain.ErrTransferRejected)

	assert.Equal(t, uint64(0), f.cards.TotalSupply())
	assert.False(t, f.cards.IsNameReserved("Patrick Bateman"))
	assert.False(t, f.oracle.IsPending(1))
	assert.False(t, f.tokens.Exists(1))
	assert.Equal(t, before, f.bank.BalanceOf(aliceAddr), "payment fully refunded")
	assert.Equal(t, int64(0), f.bank.BalanceOf(treasuryAddr).Int64())
}

func TestUpdateDataRenames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	before := f.bank.BalanceOf(aliceAddr)

	err := f.cards.UpdateData(ctx, aliceAddr, id,
		domain.CardProperties{Name: "Paul Allen", Position: "Mergers and Acquisitions"},
		big.NewInt(testUpdateFee+25))
	require.NoError(t, err)

	card, err := f.cards.GetCard(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Paul Allen", card.Name)
	assert.Equal(t, "Mergers and Acquisitions", card.Position)

	assert.False(t, f.cards.IsNameReserved("Patrick Bateman"), "old name released")
	assert.True(t, f.cards.IsNameReserved("paul allen"))
	assert.True(t, f.oracle.IsPending(id), "update funds a fresh request")

	after := f.bank.BalanceOf(aliceAddr)
	assert.Equal(t, int64(testUpdateFee), new(big.Int).Sub(before, after).Int64())
}

func TestUpdateDataPositionOnlyStillRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	require.NoError(t, f.cards.UpdateData(ctx, aliceAddr, id,
		domain.CardProperties{Position: "CEO"}, big.NewInt(testUpdateFee)))

	card, err := f.cards.GetCard(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Patrick Bateman", card.Name, "empty name means no change")
	assert.Equal(t, "CEO", card.Position)
	assert.True(t, f.oracle.IsPending(id))

	events := f.bus.eventsOfType(domain.ChannelCards, domain.EventCardUpdateRequested)
	assert.Len(t, events, 2, "mint request plus update request")
}

func TestUpdateDataAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.mintResolved(t, aliceAddr, "Patrick Bateman")

	err := f.cards.UpdateData(ctx, bobAddr, id, domain.CardProperties{Position: "CEO"}, big.NewInt(testUpdateFee))
	require.ErrorIs(t, err, domain.ErrNotOwnerOrApproved)

	require.NoError(t, f.tokens.Approve(aliceAddr, bobAddr, id))
	require.NoError(t, f.cards.UpdateData(ctx, bobAddr, id, domain.CardProperties{Position: "CEO"}, big.NewInt(testUpdateFee)))
}

func TestUpdateDataPendingLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.mintResolved(t, aliceAddr, "Patrick Bateman")

	require.NoError(t, f.cards.UpdateData(ctx, aliceAddr, id,
		domain.CardProperties{Position: "CEO"}, big.NewInt(testUpdateFee)))

	err := f.cards.UpdateData(ctx, aliceAddr, id,
		domain.CardProperties{Position: "CFO"}, big.NewInt(testUpdateFee))
	require.ErrorIs(t, err, domain.ErrRequestPending)

	f.resolve(t, id, "ipfs://v2")

	require.NoError(t, f.cards.UpdateData(ctx, aliceAddr, id,
		domain.CardProperties{Position: "CFO"}, big.NewInt(testUpdateFee)))
}

func TestUpdateDataCollaboratorFeeWaived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	treasuryBefore := f.bank.BalanceOf(treasuryAddr)

	require.NoError(t, f.cards.UpdateData(ctx, marketAddr, id,
		domain.CardProperties{Position: "CEO"}, nil))

	treasuryAfter := f.bank.BalanceOf(treasuryAddr)
	assert.Equal(t, int64(-testOracleFee), new(big.Int).Sub(treasuryAfter, treasuryBefore).Int64(),
		"no fee collected, only the oracle fee paid out")
}

func TestUpdateDataNameTakenLeavesStateIntact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mintResolved(t, aliceAddr, "Paul Allen")
	id := f.mintResolved(t, bobAddr, "Patrick Bateman")
	before := f.bank.BalanceOf(bobAddr)

	err := f.cards.UpdateData(ctx, bobAddr, id,
		domain.CardProperties{Name: "paul allen"}, big.NewInt(testUpdateFee))
	require.ErrorIs(t, err, domain.ErrNameTaken)

	card, getErr := f.cards.GetCard(ctx, id)
	require.NoError(t, getErr)
	assert.Equal(t, "Patrick Bateman", card.Name)
	assert.Equal(t, before, f.bank.BalanceOf(bobAddr))
	assert.False(t, f.oracle.IsPending(id))
}

func TestUpdateDataFeeRejectionRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	f.bank.Block(oracleAddr)
	before := f.bank.BalanceOf(aliceAddr)

	err := f.cards.UpdateData(ctx, aliceAddr, id,
		domain.CardProperties{Name: "Paul Allen"}, big.NewInt(testUpdateFee))
	require.ErrorIs(t, err, domain.ErrTransferRejected)

	card, getErr := f.cards.GetCard(ctx, id)
	require.NoError(t, getErr)
	assert.Equal(t, "Patrick Bateman", card.Name, "rename rolled back")
	assert.True(t, f.cards.IsNameReserved("Patrick Bateman"))
	assert.False(t, f.cards.IsNameReserved("Paul Allen"))
	assert.False(t, f.oracle.IsPending(id))
	assert.Equal(t, before, f.bank.BalanceOf(aliceAddr), "fee refunded")
}

func TestSwapDataSwapsNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id1 := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	id2 := f.mintResolved(t, aliceAddr, "Paul Allen")
	before := f.bank.BalanceOf(aliceAddr)

	require.NoError(t, f.cards.SwapData(ctx, aliceAddr, id1, id2, big.NewInt(testUpdateFee)))

	c1, _ := f.cards.GetCard(ctx, id1)
	c2, _ := f.cards.GetCard(ctx, id2)
	assert.Equal(t, "Paul Allen", c1.Name)
	assert.Equal(t, "Patrick Bateman", c2.Name)
	assert.True(t, f.cards.IsNameReserved("Patrick Bateman"))
	assert.True(t, f.cards.IsNameReserved("Paul Allen"))

	assert.True(t, f.oracle.IsPending(id1))
	assert.True(t, f.oracle.IsPending(id2))

	swaps := f.bus.eventsOfType(domain.ChannelCards, domain.EventCardSwapRequested)
	require.Len(t, swaps, 1, "one combined event for the pair")

	after := f.bank.BalanceOf(aliceAddr)
	assert.Equal(t, int64(testUpdateFee), new(big.Int).Sub(before, after).Int64(),
		"single fee for the pair")

	require.NoError(t, f.oracle.ResolveSwap(ctx, oracleAddr, id1, "ipfs://s1", id2, "ipfs://s2"))
	assert.False(t, f.oracle.IsPending(id1))
	assert.False(t, f.oracle.IsPending(id2))
}

func TestSwapDataMirrorsRenamedPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mirror := newMemCardStore()
	f.cards.WithMirror(mirror)

	id1 := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	id2 := f.mintResolved(t, aliceAddr, "Paul Allen")

	require.NoError(t, f.cards.SwapData(ctx, aliceAddr, id1, id2, big.NewInt(testUpdateFee)))

	m1, err := mirror.GetByID(ctx, id1)
	require.NoError(t, err)
	m2, err := mirror.GetByID(ctx, id2)
	require.NoError(t, err)
	assert.Equal(t, "Paul Allen", m1.Name, "both mirror rows renamed")
	assert.Equal(t, "Patrick Bateman", m2.Name)

	byName, err := mirror.GetByName(ctx, domain.NormalizeName("Paul Allen"))
	require.NoError(t, err)
	assert.Equal(t, id1, byName.ID, "name lookup follows the swap")

	require.NoError(t, f.oracle.ResolveSwap(ctx, oracleAddr, id1, "ipfs://s1", id2, "ipfs://s2"))
	m1, _ = mirror.GetByID(ctx, id1)
	m2, _ = mirror.GetByID(ctx, id2)
	assert.Equal(t, "ipfs://s1", m1.URI)
	assert.Equal(t, "ipfs://s2", m2.URI)
	assert.Equal(t, "Paul Allen", m1.Name, "resolution keeps the swapped names")
}

func TestSwapDataPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id1 := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	id2 := f.mintResolved(t, bobAddr, "Paul Allen")

	err := f.cards.SwapData(ctx, aliceAddr, id1, id2, big.NewInt(testUpdateFee))
	require.ErrorIs(t, err, domain.ErrNotOwnerOrApproved, "must control both cards")

	require.NoError(t, f.tokens.Approve(bobAddr, aliceAddr, id2))

	require.NoError(t, f.cards.UpdateData(ctx, bobAddr, id2,
		domain.CardProperties{Position: "CEO"}, big.NewInt(testUpdateFee)))
	err = f.cards.SwapData(ctx, aliceAddr, id1, id2, big.NewInt(testUpdateFee))
	require.ErrorIs(t, err, domain.ErrRequestPending, "neither card may be pending")

	c1, _ := f.cards.GetCard(ctx, id1)
	assert.Equal(t, "Patrick Bateman", c1.Name, "no partial swap")

	err = f.cards.SwapData(ctx, aliceAddr, id1, id1, big.NewInt(testUpdateFee))
	require.Error(t, err, "swapping a card with itself")
}

func TestResolveURIDefaultUntilResolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.mint(t, aliceAddr, "Patrick Bateman")

	uri, err := f.cards.ResolveURI(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://default", uri)

	f.resolve(t, id, "ipfs://card1")

	uri, err = f.cards.ResolveURI(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://card1", uri)

	_, err = f.cards.ResolveURI(ctx, 999)
	require.ErrorIs(t, err, domain.ErrCardNotFound)
}

func TestResolveUpdateGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.mint(t, aliceAddr, "Patrick Bateman")

	err := f.oracle.ResolveUpdate(ctx, bobAddr, id, "ipfs://x")
	require.ErrorIs(t, err, domain.ErrNotOracle)

	f.resolve(t, id, "ipfs://x")

	err = f.oracle.ResolveUpdate(ctx, oracleAddr, id, "ipfs://y")
	require.ErrorIs(t, err, domain.ErrRequestNotPending)

	resolved := f.bus.eventsOfType(domain.ChannelOracle, domain.EventCardURIResolved)
	assert.Len(t, resolved, 1)
}

func TestAdminOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.cards.SetSaleActive(ctx, aliceAddr, false), domain.ErrUnauthorized)
	require.ErrorIs(t, f.cards.SetOracleAddress(ctx, aliceAddr, bobAddr), domain.ErrUnauthorized)
	require.ErrorIs(t, f.cards.SetCollaborator(ctx, aliceAddr, bobAddr), domain.ErrUnauthorized)
	require.ErrorIs(t, f.cards.SetUpdateFee(ctx, aliceAddr, big.NewInt(50)), domain.ErrUnauthorized)
	_, err := f.cards.SweepFunds(ctx, aliceAddr, aliceAddr)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	err = f.cards.SetUpdateFee(ctx, ownerAddr, big.NewInt(testOracleFee-1))
	require.ErrorIs(t, err, domain.ErrFeeBelowOracleFee)
	require.NoError(t, f.cards.SetUpdateFee(ctx, ownerAddr, big.NewInt(testOracleFee)))

	f.mint(t, aliceAddr, "Patrick Bateman")
	want := f.bank.BalanceOf(treasuryAddr)
	swept, err := f.cards.SweepFunds(ctx, ownerAddr, carolAddr)
	require.NoError(t, err)
	assert.Equal(t, want, swept)
	assert.Equal(t, int64(0), f.bank.BalanceOf(treasuryAddr).Int64())
	assert.Equal(t, want.Int64(), new(big.Int).Sub(f.bank.BalanceOf(carolAddr), big.NewInt(10_000)).Int64())

	require.NoError(t, f.cards.SetOracleAddress(ctx, ownerAddr, carolAddr))
	assert.Equal(t, carolAddr, f.oracle.Address())
}
