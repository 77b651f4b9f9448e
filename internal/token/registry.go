// Package token implements domain.TokenRegistry as an in-process ownership
// ledger: one owner per token id, single-spender approvals, transfers checked
// against owner-or-approved.
package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

// Registry is a mutex-guarded token ownership map.
type Registry struct {
	mu        sync.Mutex
	owners    map[uint64]common.Address
	approvals map[uint64]common.Address
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		owners:    make(map[uint64]common.Address),
		approvals: make(map[uint64]common.Address),
	}
}

// Mint assigns a fresh token id to owner. Minting an existing id is a caller
// bug.
func (r *Registry) Mint(owner common.Address, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.owners[id]; ok {
		return fmt.Errorf("token: mint %d: id already exists", id)
	}
	r.owners[id] = owner
	return nil
}

// Transfer moves token id from one address to another. The from address must
// be the current owner; approvals are cleared on transfer.
func (r *Registry) Transfer(from, to common.Address, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[id]
	if !ok {
		return domain.ErrCardNotFound
	}
	if owner != from {
		return domain.ErrNotOwnerOrApproved
	}
	r.owners[id] = to
	delete(r.approvals, id)
	return nil
}

// Approve grants spender transfer rights over token id. Only the current
// owner may approve.
func (r *Registry) Approve(owner, spender common.Address, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.owners[id]
	if !ok {
		return domain.ErrCardNotFound
	}
	if current != owner {
		return domain.ErrNotOwnerOrApproved
	}
	r.approvals[id] = spender
	return nil
}

// OwnerOf returns the current owner of token id.
func (r *Registry) OwnerOf(id uint64) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[id]
	if !ok {
		return common.Address{}, domain.ErrCardNotFound
	}
	return owner, nil
}

// IsApprovedOrOwner reports whether addr may move token id.
func (r *Registry) IsApprovedOrOwner(addr common.Address, id uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.owners[id]
	if !ok {
		return false, domain.ErrCardNotFound
	}
	return owner == addr || r.approvals[id] == addr, nil
}

// Exists reports whether token id has been minted.
func (r *Registry) Exists(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.owners[id]
	return ok
}

// Compile-time interface check.
var _ domain.TokenRegistry = (*Registry)(nil)
