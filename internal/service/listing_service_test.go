package service

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

const testListPrice = 200

// list puts cardID up for sale at the standard test price.
func (f *fixture) list(t *testing.T, seller common.Address, cardID uint64) uint64 {
	t.Helper()
	id, err := f.listings.CreateListing(context.Background(), seller, cardID, big.NewInt(testListPrice))
	require.NoError(t, err)
	return id
}

func TestCreateListingEscrowsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cardID := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	listingID := f.list(t, aliceAddr, cardID)

	owner, err := f.tokens.OwnerOf(cardID)
	require.NoError(t, err)
	assert.Equal(t, marketAddr, owner, "token held in escrow")

	live, err := f.listings.GetLiveListing(ctx, cardID)
	require.NoError(t, err)
	assert.Equal(t, listingID, live.ID)
	assert.Equal(t, domain.ListingStatusActive, live.Status)
	assert.Equal(t, aliceAddr, live.Seller)

	created := f.bus.eventsOfType(domain.ChannelListings, domain.EventListingCreated)
	require.Len(t, created, 1)
}

func TestCreateListingPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cardID := f.mintResolved(t, aliceAddr, "Patrick Bateman")

	_, err := f.listings.CreateListing(ctx, aliceAddr, cardID, big.NewInt(testMinPrice-1))
	require.ErrorIs(t, err, domain.ErrPriceTooLow)

	_, err = f.listings.CreateListing(ctx, bobAddr, cardID, big.NewInt(testListPrice))
	require.ErrorIs(t, err, domain.ErrNotOwnerOrApproved)

	_, err = f.listings.CreateListing(ctx, aliceAddr, 999, big.NewInt(testListPrice))
	require.ErrorIs(t, err, domain.ErrCardNotFound)

	require.NoError(t, f.listings.PauseMarketplace(ctx, ownerAddr))
	_, err = f.listings.CreateListing(ctx, aliceAddr, cardID, big.NewInt(testListPrice))
	require.ErrorIs(t, err, domain.ErrMarketplacePaused)
}

func TestCancelListingReturnsCustody(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cardID := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	f.list(t, aliceAddr, cardID)

	err := f.listings.CancelListing(ctx, bobAddr, cardID)
	require.ErrorIs(t, err, domain.ErrNotSeller)

	require.NoError(t, f.listings.CancelListing(ctx, aliceAddr, cardID))

	owner, err := f.tokens.OwnerOf(cardID)
	require.NoError(t, err)
	assert.Equal(t, aliceAddr, owner, "custody back with the seller")

	err = f.listings.BuyListing(ctx, bobAddr, cardID, big.NewInt(testListPrice))
	require.ErrorIs(t, err, domain.ErrListingCancelled)

	err = f.listings.CancelListing(ctx, aliceAddr, cardID)
	require.ErrorIs(t, err, domain.ErrListingCancelled)
}

func TestBuyListingExactPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cardID := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	f.list(t, aliceAddr, cardID)

	sellerBefore := f.bank.BalanceOf(aliceAddr)
	require.NoError(t, f.listings.BuyListing(ctx, bobAddr, cardID, big.NewInt(testListPrice)))

	owner, err := f.tokens.OwnerOf(cardID)
	require.NoError(t, err)
	assert.Equal(t, bobAddr, owner)

	sellerAfter := f.bank.BalanceOf(aliceAddr)
	assert.Equal(t, int64(testListPrice), new(big.Int).Sub(sellerAfter, sellerBefore).Int64(),
		"seller receives exactly the listing price")

	live, err := f.listings.GetLiveListing(ctx, cardID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusFilled, live.Status)
	assert.Equal(t, bobAddr, live.Buyer)

	filled := f.bus.eventsOfType(domain.ChannelListings, domain.EventListingFilled)
	require.Len(t, filled, 1)
}

func TestBuyListingOverpaymentStaysWithBuyer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cardID := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	f.list(t, aliceAddr, cardID)

	buyerBefore := f.bank.BalanceOf(bobAddr)
	require.NoError(t, f.listings.BuyListing(ctx, bobAddr, cardID, big.NewInt(testListPrice+300)))

	buyerAfter := f.bank.BalanceOf(bobAddr)
	assert.Equal(t, int64(testListPrice), new(big.Int).Sub(buyerBefore, buyerAfter).Int64(),
		"only the price is debited")
}

func TestBuyListingBelowPriceNoStateChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cardID := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	f.list(t, aliceAddr, cardID)

	buyerBefore := f.bank.BalanceOf(bobAddr)
	sellerBefore := f.bank.BalanceOf(aliceAddr)

	err := f.listings.BuyListing(ctx, bobAddr, cardID, big.NewInt(testListPrice-1))
	require.ErrorIs(t, err, domain.ErrInsufficientPayment)

	live, getErr := f.listings.GetLiveListing(ctx, cardID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.ListingStatusActive, live.Status)

	owner, ownerErr := f.tokens.OwnerOf(cardID)
	require.NoError(t, ownerErr)
	assert.Equal(t, marketAddr, owner, "custody unchanged")
	assert.Equal(t, buyerBefore, f.bank.BalanceOf(bobAddr))
	assert.Equal(t, sellerBefore, f.bank.BalanceOf(aliceAddr))
}

func TestBuyListingSellerRejectionAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cardID := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	f.list(t, aliceAddr, cardID)
	f.bank.Block(aliceAddr)

	buyerBefore := f.bank.BalanceOf(bobAddr)
	err := f.listings.BuyListing(ctx, bobAddr, cardID, big.NewInt(testListPrice))
	require.ErrorIs(t, err, domain.ErrTransferRejected)

	live, getErr := f.listings.GetLiveListing(ctx, cardID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.ListingStatusActive, live.Status, "fill rolled back")
	assert.Equal(t, buyerBefore, f.bank.BalanceOf(bobAddr))

	owner, ownerErr := f.tokens.OwnerOf(cardID)
	require.NoError(t, ownerErr)
	assert.Equal(t, marketAddr, owner)
}

func TestPausedMarketplaceStillAllowsCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cardID := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	f.list(t, aliceAddr, cardID)

	require.NoError(t, f.listings.PauseMarketplace(ctx, ownerAddr))

	err := f.listings.BuyListing(ctx, bobAddr, cardID, big.NewInt(testListPrice))
	require.ErrorIs(t, err, domain.ErrMarketplacePaused)

	require.NoError(t, f.listings.CancelListing(ctx, aliceAddr, cardID))
}

func TestTerminalListingsAreImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cardID := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	f.list(t, aliceAddr, cardID)
	require.NoError(t, f.listings.BuyListing(ctx, bobAddr, cardID, big.NewInt(testListPrice)))

	err := f.listings.BuyListing(ctx, carolAddr, cardID, big.NewInt(testListPrice))
	require.ErrorIs(t, err, domain.ErrListingFilled)

	err = f.listings.CancelListing(ctx, aliceAddr, cardID)
	require.ErrorIs(t, err, domain.ErrListingFilled)
}

func TestRelistingAfterFill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cardID := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	first := f.list(t, aliceAddr, cardID)
	require.NoError(t, f.listings.BuyListing(ctx, bobAddr, cardID, big.NewInt(testListPrice)))

	second := f.list(t, bobAddr, cardID)
	assert.Greater(t, second, first, "listing ids increase monotonically")

	live, err := f.listings.GetLiveListing(ctx, cardID)
	require.NoError(t, err)
	assert.Equal(t, second, live.ID, "newest listing is live")
	assert.Equal(t, bobAddr, live.Seller)
}

func TestBuyAndUpdateListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cardID := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	f.list(t, aliceAddr, cardID)

	buyerBefore := f.bank.BalanceOf(bobAddr)
	sellerBefore := f.bank.BalanceOf(aliceAddr)
	payment := big.NewInt(testListPrice + testUpdateFee)

	require.NoError(t, f.listings.BuyAndUpdateListing(ctx, bobAddr, cardID,
		domain.CardProperties{Name: "Paul Allen", Position: "Mergers and Acquisitions"}, payment))

	owner, err := f.tokens.OwnerOf(cardID)
	require.NoError(t, err)
	assert.Equal(t, bobAddr, owner)

	card, err := f.cards.GetCard(ctx, cardID)
	require.NoError(t, err)
	assert.Equal(t, "Paul Allen", card.Name)
	assert.Equal(t, bobAddr, card.Owner)
	assert.True(t, f.oracle.IsPending(cardID), "update request in flight")

	buyerAfter := f.bank.BalanceOf(bobAddr)
	assert.Equal(t, payment.Int64(), new(big.Int).Sub(buyerBefore, buyerAfter).Int64(),
		"buyer pays price plus update fee, nothing more")
	assert.Equal(t, int64(testListPrice), new(big.Int).Sub(f.bank.BalanceOf(aliceAddr), sellerBefore).Int64())
}

func TestBuyAndUpdateInsufficientCombinedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cardID := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	f.list(t, aliceAddr, cardID)

	requestsBefore := len(f.bus.eventsOfType(domain.ChannelCards, domain.EventCardUpdateRequested))
	buyerBefore := f.bank.BalanceOf(bobAddr)

	err := f.listings.BuyAndUpdateListing(ctx, bobAddr, cardID,
		domain.CardProperties{Name: "Paul Allen"}, big.NewInt(testListPrice))
	require.ErrorIs(t, err, domain.ErrInsufficientPayment,
		"covering the price alone is not enough")

	owner, ownerErr := f.tokens.OwnerOf(cardID)
	require.NoError(t, ownerErr)
	assert.Equal(t, marketAddr, owner, "custody unchanged")
	assert.Equal(t, buyerBefore, f.bank.BalanceOf(bobAddr))

	live, getErr := f.listings.GetLiveListing(ctx, cardID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.ListingStatusActive, live.Status)

	requestsAfter := len(f.bus.eventsOfType(domain.ChannelCards, domain.EventCardUpdateRequested))
	assert.Equal(t, requestsBefore, requestsAfter, "no update request emitted")
}

func TestBuyAndUpdateRejectsPendingCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cardID := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	f.list(t, aliceAddr, cardID)
	require.NoError(t, f.requests.MarkPending(cardID))

	err := f.listings.BuyAndUpdateListing(ctx, bobAddr, cardID,
		domain.CardProperties{Name: "Paul Allen"}, big.NewInt(testListPrice+testUpdateFee))
	require.ErrorIs(t, err, domain.ErrRequestPending)

	live, getErr := f.listings.GetLiveListing(ctx, cardID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.ListingStatusActive, live.Status)
}

func TestGetAllActiveListingsInCreationOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id1 := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	id2 := f.mintResolved(t, bobAddr, "Paul Allen")
	id3 := f.mintResolved(t, carolAddr, "Timothy Bryce")

	l1 := f.list(t, aliceAddr, id1)
	f.list(t, bobAddr, id2)
	l3 := f.list(t, carolAddr, id3)

	require.NoError(t, f.listings.CancelListing(ctx, bobAddr, id2))

	active := f.listings.GetAllActiveListings(ctx)
	require.Len(t, active, 2)
	assert.Equal(t, l1, active[0].ID)
	assert.Equal(t, l3, active[1].ID)
}

func TestGetListingsByAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id1 := f.mintResolved(t, aliceAddr, "Patrick Bateman")
	id2 := f.mintResolved(t, aliceAddr, "Paul Allen")

	f.list(t, aliceAddr, id1)
	f.list(t, aliceAddr, id2)
	require.NoError(t, f.listings.BuyListing(ctx, bobAddr, id2, big.NewInt(testListPrice)))

	asSeller := f.listings.GetListingsByAddress(ctx, aliceAddr, true)
	require.Len(t, asSeller, 2)
	assert.Equal(t, id1, asSeller[0].CardID)
	assert.Equal(t, id2, asSeller[1].CardID)

	asBuyer := f.listings.GetListingsByAddress(ctx, bobAddr, false)
	require.Len(t, asBuyer, 1)
	assert.Equal(t, id2, asBuyer[0].CardID)
	assert.Equal(t, domain.ListingStatusFilled, asBuyer[0].Status)

	assert.Empty(t, f.listings.GetListingsByAddress(ctx, carolAddr, true))
}

func TestMarketplaceGateAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.listings.PauseMarketplace(ctx, aliceAddr), domain.ErrUnauthorized)
	require.ErrorIs(t, f.listings.StartMarketplace(ctx, aliceAddr), domain.ErrUnauthorized)
	require.NoError(t, f.listings.PauseMarketplace(ctx, ownerAddr))
	assert.False(t, f.listings.MarketplaceActive())
}
