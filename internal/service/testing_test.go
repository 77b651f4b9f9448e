package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/zkzoomer/dorsiaclub/internal/bank"
	"github.com/zkzoomer/dorsiaclub/internal/domain"
	"github.com/zkzoomer/dorsiaclub/internal/registry"
	"github.com/zkzoomer/dorsiaclub/internal/token"
)

// memBus is an in-memory SignalBus capturing everything published.
type memBus struct {
	mu     sync.Mutex
	byChan map[string][][]byte
	stream [][]byte
	subs   map[string][]chan []byte
}

func newMemBus() *memBus {
	return &memBus{
		byChan: make(map[string][][]byte),
		subs:   make(map[string][]chan []byte),
	}
}

func (b *memBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byChan[channel] = append(b.byChan[channel], payload)
	for _, sub := range b.subs[channel] {
		select {
		case sub <- payload:
		default:
		}
	}
	return nil
}

func (b *memBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 64)
	b.subs[channel] = append(b.subs[channel], ch)
	return ch, nil
}

func (b *memBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = append(b.stream, payload)
	return nil
}

func (b *memBus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// eventsOfType decodes the payloads on channel and returns those whose "type"
// field matches.
func (b *memBus) eventsOfType(channel, eventType string) []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, payload := range b.byChan[channel] {
		var m map[string]any
		if err := json.Unmarshal(payload, &m); err != nil {
			continue
		}
		if m["type"] == eventType {
			out = append(out, m)
		}
	}
	return out
}

// memCardStore is an in-memory CardStore mirror. Rows are keyed by id only;
// two rows may transiently share a normalized name while a swap's sequential
// upserts land.
type memCardStore struct {
	mu   sync.Mutex
	rows map[uint64]domain.Card
}

func newMemCardStore() *memCardStore {
	return &memCardStore{rows: make(map[uint64]domain.Card)}
}

func (s *memCardStore) Upsert(ctx context.Context, card domain.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[card.ID] = card
	return nil
}

func (s *memCardStore) GetByID(ctx context.Context, id uint64) (domain.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	card, ok := s.rows[id]
	if !ok {
		return domain.Card{}, domain.ErrCardNotFound
	}
	return card, nil
}

func (s *memCardStore) GetByName(ctx context.Context, normalizedName string) (domain.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, card := range s.rows {
		if domain.NormalizeName(card.Name) == normalizedName {
			return card, nil
		}
	}
	return domain.Card{}, domain.ErrCardNotFound
}

func (s *memCardStore) ListByOwner(ctx context.Context, owner common.Address, opts domain.ListOpts) ([]domain.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Card
	for _, card := range s.rows {
		if card.Owner == owner {
			out = append(out, card)
		}
	}
	return out, nil
}

func (s *memCardStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

// memAudit is an in-memory AuditStore.
type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *memAudit) Log(ctx context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{
		ID:        int64(len(a.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (a *memAudit) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AuditEntry(nil), a.entries...), nil
}

func (a *memAudit) ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error) {
	return a.List(ctx, domain.ListOpts{})
}

var (
	ownerAddr    = common.BytesToAddress([]byte{0x01})
	treasuryAddr = common.BytesToAddress([]byte{0x02})
	oracleAddr   = common.BytesToAddress([]byte{0x03})
	marketAddr   = common.BytesToAddress([]byte{0x04})
	aliceAddr    = common.BytesToAddress([]byte{0xa1})
	bobAddr      = common.BytesToAddress([]byte{0xb1})
	carolAddr    = common.BytesToAddress([]byte{0xc1})
)

const (
	testMintPrice = 100
	testUpdateFee = 10
	testOracleFee = 5
	testMinPrice  = 50
)

// fixture wires a full in-memory stack: bank, token registry, name and
// request ledgers, oracle gateway, card ledger, and marketplace, with the
// sale and marketplace gates open and the marketplace registered as the card
// ledger's collaborator.
type fixture struct {
	bank     *bank.Ledger
	tokens   *token.Registry
	names    *registry.NameRegistry
	requests *registry.RequestLedger
	bus      *memBus
	audit    *memAudit
	oracle   *OracleService
	cards    *CardService
	listings *ListingService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithSupply(t, 1000)
}

func newFixtureWithSupply(t *testing.T, maxSupply uint64) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		bank:     bank.New(),
		tokens:   token.NewRegistry(),
		names:    registry.NewNameRegistry(),
		requests: registry.NewRequestLedger(),
		bus:      newMemBus(),
		audit:    &memAudit{},
	}

	f.oracle = NewOracleService(
		f.requests, f.bank, f.bus, f.audit,
		oracleAddr, big.NewInt(testOracleFee), treasuryAddr, logger,
	)
	f.cards = NewCardService(CardConfig{
		MaxSupply:  maxSupply,
		MintPrice:  big.NewInt(testMintPrice),
		UpdateFee:  big.NewInt(testUpdateFee),
		DefaultURI: "ipfs://default",
		Owner:      ownerAddr,
		Account:    treasuryAddr,
	}, f.names, f.requests, f.tokens, f.bank, f.oracle, f.audit, logger)
	f.oracle.WithResolver(f.cards)

	f.listings = NewListingService(ListingConfig{
		MinPrice: big.NewInt(testMinPrice),
		Owner:    ownerAddr,
		Account:  marketAddr,
	}, f.cards, f.tokens, f.bank, f.bus, f.audit, logger)

	require.NoError(t, f.cards.SetSaleActive(ctx, ownerAddr, true))
	require.NoError(t, f.cards.SetCollaborator(ctx, ownerAddr, marketAddr))
	require.NoError(t, f.listings.StartMarketplace(ctx, ownerAddr))

	for _, addr := range []common.Address{aliceAddr, bobAddr, carolAddr} {
		f.bank.Deposit(addr, big.NewInt(10_000))
	}
	return f
}

// mint issues a card and returns its id; the request stays pending until the
// test resolves it.
func (f *fixture) mint(t *testing.T, owner common.Address, name string) uint64 {
	t.Helper()
	id, err := f.cards.Mint(context.Background(), owner, name, domain.CardProperties{Position: "Vice President"}, big.NewInt(testMintPrice))
	require.NoError(t, err)
	return id
}

// resolve plays the oracle and completes the pending request for cardID.
func (f *fixture) resolve(t *testing.T, cardID uint64, uri string) {
	t.Helper()
	require.NoError(t, f.oracle.ResolveUpdate(context.Background(), oracleAddr, cardID, uri))
}

// mintResolved mints a card and immediately resolves its first request.
func (f *fixture) mintResolved(t *testing.T, owner common.Address, name string) uint64 {
	t.Helper()
	id := f.mint(t, owner, name)
	f.resolve(t, id, "ipfs://"+name)
	return id
}
