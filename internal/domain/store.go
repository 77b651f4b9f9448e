package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// CardStore mirrors card records for history and API queries. The in-memory
// ledger is authoritative; mirror writes happen after a state transition has
// committed and are non-fatal to the triggering operation.
type CardStore interface {
	Upsert(ctx context.Context, card Card) error
	GetByID(ctx context.Context, id uint64) (Card, error)
	GetByName(ctx context.Context, normalizedName string) (Card, error)
	ListByOwner(ctx context.Context, owner common.Address, opts ListOpts) ([]Card, error)
	Count(ctx context.Context) (int64, error)
}

// ListingStore mirrors the full listing history.
type ListingStore interface {
	Create(ctx context.Context, listing Listing) error
	UpdateStatus(ctx context.Context, id uint64, status ListingStatus, buyer *common.Address) error
	GetByID(ctx context.Context, id uint64) (Listing, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Listing, error)
	ListByCard(ctx context.Context, cardID uint64, opts ListOpts) ([]Listing, error)
	ListTerminalBefore(ctx context.Context, before time.Time) ([]Listing, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}
