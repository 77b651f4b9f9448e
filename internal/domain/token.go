package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenRegistry is the ownership/transfer primitive backing cards. The card
// and listing services treat it as an external collaborator: it decides who
// owns and who may move a token, nothing else.
type TokenRegistry interface {
	Mint(owner common.Address, id uint64) error
	Transfer(from, to common.Address, id uint64) error
	Approve(owner, spender common.Address, id uint64) error
	OwnerOf(id uint64) (common.Address, error)
	IsApprovedOrOwner(addr common.Address, id uint64) (bool, error)
	Exists(id uint64) bool
}

// Bank is the value-transfer primitive. Transfer moves funds between
// addresses and fails with ErrInsufficientFunds or ErrTransferRejected;
// callers must treat any failure as fatal to the whole operation.
type Bank interface {
	Deposit(addr common.Address, amount *big.Int)
	Transfer(from, to common.Address, amount *big.Int) error
	BalanceOf(addr common.Address) *big.Int
}
