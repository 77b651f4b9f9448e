// Package bank implements domain.Bank as an in-process balance ledger.
//
// Transfers to externally controlled addresses can fail, either for lack of
// funds or because the recipient rejects them; callers must abort their whole
// operation when that happens. The Block/Unblock knobs exist so the rejection
// failure mode can be provoked deterministically.
package bank

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

// Ledger is a mutex-guarded address → balance map.
type Ledger struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
	blocked  map[common.Address]bool
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]*big.Int),
		blocked:  make(map[common.Address]bool),
	}
}

// Deposit credits amount to addr out of thin air. It exists for funding test
// and genesis accounts; real inflows arrive via Transfer.
func (b *Ledger) Deposit(addr common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.credit(addr, amount)
}

// Transfer moves amount from one address to another. It fails with
// ErrInsufficientFunds when the sender's balance is too low and with
// ErrTransferRejected when the recipient is blocked. On failure no balance
// changes.
func (b *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.blocked[to] {
		return domain.ErrTransferRejected
	}

	bal, ok := b.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		return domain.ErrInsufficientFunds
	}

	bal.Sub(bal, amount)
	b.credit(to, amount)
	return nil
}

// BalanceOf returns a copy of addr's current balance.
func (b *Ledger) BalanceOf(addr common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()

	bal, ok := b.balances[addr]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(bal)
}

// Block makes future transfers to addr fail with ErrTransferRejected.
func (b *Ledger) Block(addr common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.blocked[addr] = true
}

// Unblock re-enables transfers to addr.
func (b *Ledger) Unblock(addr common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.blocked, addr)
}

// credit assumes the lock is held.
func (b *Ledger) credit(addr common.Address, amount *big.Int) {
	bal, ok := b.balances[addr]
	if !ok {
		bal = new(big.Int)
		b.balances[addr] = bal
	}
	bal.Add(bal, amount)
}

// Compile-time interface check.
var _ domain.Bank = (*Ledger)(nil)
