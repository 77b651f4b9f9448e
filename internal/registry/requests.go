package registry

import (
	"sync"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

// RequestLedger tracks which cards have an outstanding metadata request. It
// is the sole concurrency-control primitive preventing two in-flight oracle
// requests from racing on the same card: MarkPending is an atomic
// check-and-set, so of two racing requests exactly one wins.
type RequestLedger struct {
	mu      sync.RWMutex
	pending map[uint64]bool
}

// NewRequestLedger creates an empty RequestLedger.
func NewRequestLedger() *RequestLedger {
	return &RequestLedger{pending: make(map[uint64]bool)}
}

// MarkPending flags cardID as having an outstanding request. It returns
// ErrRequestPending when a request is already in flight.
func (l *RequestLedger) MarkPending(cardID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pending[cardID] {
		return domain.ErrRequestPending
	}
	l.pending[cardID] = true
	return nil
}

// Clear removes the pending flag for cardID. It returns ErrRequestNotPending
// when no request is in flight, so a stray oracle callback is rejected.
func (l *RequestLedger) Clear(cardID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.pending[cardID] {
		return domain.ErrRequestNotPending
	}
	delete(l.pending, cardID)
	return nil
}

// IsPending reports whether cardID has an outstanding request.
func (l *RequestLedger) IsPending(cardID uint64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.pending[cardID]
}
