// Package registry holds the in-process ledgers that gate card state
// transitions: the case-insensitive name reservation map and the per-card
// pending-request ledger. Both are internally synchronized leaves; they never
// call out, so they can be taken while a service lock is held.
package registry

import (
	"sync"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

// NameRegistry maps normalized card names to their reservation status. A name
// is reserved iff exactly one existing card currently holds it.
type NameRegistry struct {
	mu    sync.RWMutex
	names map[string]bool
}

// NewNameRegistry creates an empty NameRegistry.
func NewNameRegistry() *NameRegistry {
	return &NameRegistry{names: make(map[string]bool)}
}

// Reserve marks name as taken. Callers must check IsReserved first; reserving
// an already-reserved name is a caller bug and returns ErrNameTaken rather
// than silently overwriting.
func (r *NameRegistry) Reserve(name string) error {
	key := domain.NormalizeName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.names[key] {
		return domain.ErrNameTaken
	}
	r.names[key] = true
	return nil
}

// Release frees a previously reserved name. Releasing an unreserved name is
// a no-op.
func (r *NameRegistry) Release(name string) {
	key := domain.NormalizeName(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.names, key)
}

// IsReserved reports whether name is currently held, case-insensitively.
func (r *NameRegistry) IsReserved(name string) bool {
	key := domain.NormalizeName(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.names[key]
}
