package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListingStatus tracks the listing lifecycle. Filled and Cancelled are
// terminal: once reached, no state-mutating operation on the listing succeeds.
type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusFilled    ListingStatus = "filled"
	ListingStatusCancelled ListingStatus = "cancelled"
)

// Listing is a fixed-price sale offer for a card. Listing IDs increase
// monotonically; the highest-id listing for a card is its live listing, older
// ones are retained as history.
type Listing struct {
	ID          uint64
	CardID      uint64
	Seller      common.Address
	Buyer       common.Address // zero until filled
	Price       *big.Int
	Status      ListingStatus
	CreatedAt   time.Time
	FilledAt    *time.Time
	CancelledAt *time.Time
}

// Terminal reports whether the listing has reached a terminal state.
func (l Listing) Terminal() bool {
	return l.Status == ListingStatusFilled || l.Status == ListingStatusCancelled
}
