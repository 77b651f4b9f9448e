package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL. It keeps the
// full listing history, terminal records included, for the query API and the
// archiver.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a new ListingStore backed by the given connection
// pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

// Create inserts the mirror row for a freshly created listing.
func (s *ListingStore) Create(ctx context.Context, listing domain.Listing) error {
	const query = `
		INSERT INTO listings (id, card_id, seller_address, buyer_address, price, status, created_at, filled_at, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	buyer := ""
	if listing.Buyer != (common.Address{}) {
		buyer = listing.Buyer.Hex()
	}

	_, err := s.pool.Exec(ctx, query,
		int64(listing.ID),
		int64(listing.CardID),
		listing.Seller.Hex(),
		buyer,
		listing.Price.String(),
		string(listing.Status),
		listing.CreatedAt,
		listing.FilledAt,
		listing.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create listing %d: %w", listing.ID, err)
	}
	return nil
}

// UpdateStatus moves a listing to a terminal status; for fills the buyer is
// recorded and the timestamp set.
func (s *ListingStore) UpdateStatus(ctx context.Context, id uint64, status domain.ListingStatus, buyer *common.Address) error {
	var err error
	switch status {
	case domain.ListingStatusFilled:
		buyerHex := ""
		if buyer != nil {
			buyerHex = buyer.Hex()
		}
		_, err = s.pool.Exec(ctx,
			`UPDATE listings SET status = $2, buyer_address = $3, filled_at = NOW() WHERE id = $1`,
			int64(id), string(status), buyerHex)
	case domain.ListingStatusCancelled:
		_, err = s.pool.Exec(ctx,
			`UPDATE listings SET status = $2, cancelled_at = NOW() WHERE id = $1`,
			int64(id), string(status))
	default:
		_, err = s.pool.Exec(ctx,
			`UPDATE listings SET status = $2 WHERE id = $1`,
			int64(id), string(status))
	}
	if err != nil {
		return fmt.Errorf("postgres: update listing %d status: %w", id, err)
	}
	return nil
}

// GetByID returns the mirror row for a listing id.
func (s *ListingStore) GetByID(ctx context.Context, id uint64) (domain.Listing, error) {
	const query = selectListing + ` WHERE id = $1`
	return s.scanOne(s.pool.QueryRow(ctx, query, int64(id)))
}

// ListActive returns unfilled, uncancelled listings in creation order.
func (s *ListingStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	query := selectListing + ` WHERE status = 'active' ORDER BY id ASC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return s.list(ctx, query, args...)
}

// ListByCard returns the full listing history of a card, newest first.
func (s *ListingStore) ListByCard(ctx context.Context, cardID uint64, opts domain.ListOpts) ([]domain.Listing, error) {
	query := selectListing + ` WHERE card_id = $1 ORDER BY id DESC`
	args := []any{int64(cardID)}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}
	return s.list(ctx, query, args...)
}

// ListTerminalBefore returns filled and cancelled listings whose terminal
// timestamp precedes the cutoff. The archiver feeds on this.
func (s *ListingStore) ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.Listing, error) {
	const query = selectListing + `
		WHERE (status = 'filled' AND filled_at < $1)
		   OR (status = 'cancelled' AND cancelled_at < $1)
		ORDER BY id ASC`
	return s.list(ctx, query, before)
}

// Delete removes archived listing rows. Called by the archiver after a
// successful upload.
func (s *ListingStore) Delete(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]int64, len(ids))
	for i, id := range ids {
		raw[i] = int64(id)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM listings WHERE id = ANY($1)`, raw); err != nil {
		return fmt.Errorf("postgres: delete listings: %w", err)
	}
	return nil
}

const selectListing = `
	SELECT id, card_id, seller_address, buyer_address, price, status, created_at, filled_at, cancelled_at
	FROM listings`

func (s *ListingStore) list(ctx context.Context, query string, args ...any) ([]domain.Listing, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings: %w", err)
	}
	defer rows.Close()

	var listings []domain.Listing
	for rows.Next() {
		listing, err := s.scanOne(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, listing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list listings rows: %w", err)
	}
	return listings, nil
}

func (s *ListingStore) scanOne(row pgx.Row) (domain.Listing, error) {
	var (
		listing domain.Listing
		id      int64
		cardID  int64
		seller  string
		buyer   string
		price   string
		status  string
	)
	err := row.Scan(&id, &cardID, &seller, &buyer, &price, &status,
		&listing.CreatedAt, &listing.FilledAt, &listing.CancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Listing{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Listing{}, fmt.Errorf("postgres: scan listing: %w", err)
	}

	listing.ID = uint64(id)
	listing.CardID = uint64(cardID)
	listing.Seller = common.HexToAddress(seller)
	if buyer != "" {
		listing.Buyer = common.HexToAddress(buyer)
	}
	listing.Status = domain.ListingStatus(status)
	listing.Price, _ = new(big.Int).SetString(price, 10)
	if listing.Price == nil {
		listing.Price = new(big.Int)
	}
	return listing, nil
}

// Compile-time interface check.
var _ domain.ListingStore = (*ListingStore)(nil)
