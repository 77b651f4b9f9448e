package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

// CardStore implements domain.CardStore using PostgreSQL. It mirrors the
// in-process card ledger; rows are upserted after each committed transition.
type CardStore struct {
	pool *pgxpool.Pool
}

// NewCardStore creates a new CardStore backed by the given connection pool.
func NewCardStore(pool *pgxpool.Pool) *CardStore {
	return &CardStore{pool: pool}
}

// Upsert inserts or replaces the mirror row for card. Conflicts key on id
// only; a swap's two upserts may transiently share a normalized name.
func (s *CardStore) Upsert(ctx context.Context, card domain.Card) error {
	const query = `
		INSERT INTO cards (id, name, normalized_name, position, identity_seed, uri, owner_address, minted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			normalized_name = EXCLUDED.normalized_name,
			position = EXCLUDED.position,
			uri = EXCLUDED.uri,
			owner_address = EXCLUDED.owner_address,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		int64(card.ID),
		card.Name,
		domain.NormalizeName(card.Name),
		card.Position,
		card.IdentitySeed.String(),
		card.URI,
		card.Owner.Hex(),
		card.MintedAt,
		card.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert card %d: %w", card.ID, err)
	}
	return nil
}

// GetByID returns the mirror row for a card id.
func (s *CardStore) GetByID(ctx context.Context, id uint64) (domain.Card, error) {
	const query = `
		SELECT id, name, position, identity_seed, uri, owner_address, minted_at, updated_at
		FROM cards WHERE id = $1`
	return s.scanOne(s.pool.QueryRow(ctx, query, int64(id)))
}

// GetByName returns the card currently holding normalizedName.
func (s *CardStore) GetByName(ctx context.Context, normalizedName string) (domain.Card, error) {
	const query = `
		SELECT id, name, position, identity_seed, uri, owner_address, minted_at, updated_at
		FROM cards WHERE normalized_name = $1`
	return s.scanOne(s.pool.QueryRow(ctx, query, normalizedName))
}

// ListByOwner returns the cards owned by owner, newest first.
func (s *CardStore) ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Card, error) {
	query := `
		SELECT id, name, position, identity_seed, uri, owner_address, minted_at, updated_at
		FROM cards WHERE owner_address = $1 ORDER BY id DESC`
	args := []any{owner.Hex()}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list cards by owner: %w", err)
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		card, err := s.scanOne(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list cards by owner rows: %w", err)
	}
	return cards, nil
}

// Count returns the number of mirrored cards.
func (s *CardStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cards`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count cards: %w", err)
	}
	return count, nil
}

func (s *CardStore) scanOne(row pgx.Row) (domain.Card, error) {
	var (
		card  domain.Card
		id    int64
		seed  string
		owner string
	)
	err := row.Scan(&id, &card.Name, &card.Position, &seed, &card.URI, &owner, &card.MintedAt, &card.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Card{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Card{}, fmt.Errorf("postgres: scan card: %w", err)
	}

	card.ID = uint64(id)
	card.Owner = common.HexToAddress(owner)
	card.IdentitySeed, _ = new(big.Int).SetString(seed, 10)
	if card.IdentitySeed == nil {
		card.IdentitySeed = new(big.Int)
	}
	return card, nil
}

// Compile-time interface check.
var _ domain.CardStore = (*CardStore)(nil)
