package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrLockHeld     = errors.New("lock already held")

	// Precondition violations.
	ErrSaleNotActive       = errors.New("card sale is not active")
	ErrMarketplacePaused   = errors.New("marketplace is paused")
	ErrSupplyExhausted     = errors.New("maximum card supply reached")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrInvalidName         = errors.New("invalid card name")
	ErrInvalidPosition     = errors.New("invalid card position")
	ErrNameTaken           = errors.New("card name already reserved")
	ErrCardNotFound        = errors.New("card does not exist")
	ErrNotOwnerOrApproved  = errors.New("caller is not owner or approved")
	ErrNotSeller           = errors.New("caller is not the listing seller")
	ErrNotOracle           = errors.New("caller is not the registered oracle")
	ErrPriceTooLow         = errors.New("listing price below minimum")
	ErrFeeBelowOracleFee   = errors.New("update fee must cover the oracle fee")

	// Concurrency conflicts.
	ErrRequestPending    = errors.New("request already being processed")
	ErrRequestNotPending = errors.New("request not in pending list")
	ErrListingNotFound   = errors.New("no listing exists for card")
	ErrListingFilled     = errors.New("listing already filled")
	ErrListingCancelled  = errors.New("listing already cancelled")

	// External transfer failures, surfaced by the bank ledger. Always fatal
	// to the calling operation, never retried.
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrTransferRejected  = errors.New("recipient rejected transfer")
)
