package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Redis pub/sub channels for domain events. The WebSocket hub bridges these
// to connected clients; the oracle worker subscribes to ChannelCards.
const (
	ChannelCards    = "cards"
	ChannelOracle   = "oracle"
	ChannelListings = "listings"

	// StreamEvents is the durable Redis stream every event is appended to.
	StreamEvents = "events"
)

// Event type discriminators, carried in the "type" field of each payload.
const (
	EventCardUpdateRequested = "card_update_requested"
	EventCardSwapRequested   = "card_swap_requested"
	EventCardURIResolved     = "card_uri_resolved"
	EventListingCreated      = "listing_created"
	EventListingCancelled    = "listing_cancelled"
	EventListingFilled       = "listing_filled"
)

// CardUpdateRequested is emitted when a mint or update funds an oracle
// request. It carries everything the oracle needs to compute a URI.
type CardUpdateRequested struct {
	Type         string         `json:"type"`
	CardID       uint64         `json:"card_id"`
	IdentitySeed *big.Int       `json:"identity_seed"`
	Name         string         `json:"name"`
	Position     string         `json:"position"`
	Owner        common.Address `json:"owner"`
}

// CardSwapRequested is emitted once per swap, covering both cards.
type CardSwapRequested struct {
	Type    string   `json:"type"`
	CardID1 uint64   `json:"card_id_1"`
	CardID2 uint64   `json:"card_id_2"`
	Seed1   *big.Int `json:"seed_1"`
	Seed2   *big.Int `json:"seed_2"`
}

// CardURIResolved is emitted when the oracle callback stores a URI.
type CardURIResolved struct {
	Type   string `json:"type"`
	CardID uint64 `json:"card_id"`
	URI    string `json:"uri"`
}

// ListingCreated is emitted when a card enters escrow under a new listing.
type ListingCreated struct {
	Type      string         `json:"type"`
	ListingID uint64         `json:"listing_id"`
	CardID    uint64         `json:"card_id"`
	Seller    common.Address `json:"seller"`
	Price     *big.Int       `json:"price"`
}

// ListingCancelled is emitted when a seller reclaims a listed card.
type ListingCancelled struct {
	Type      string `json:"type"`
	ListingID uint64 `json:"listing_id"`
	CardID    uint64 `json:"card_id"`
}

// ListingFilled is emitted when a listing is bought.
type ListingFilled struct {
	Type      string         `json:"type"`
	ListingID uint64         `json:"listing_id"`
	CardID    uint64         `json:"card_id"`
	Seller    common.Address `json:"seller"`
	Buyer     common.Address `json:"buyer"`
	Price     *big.Int       `json:"price"`
}
