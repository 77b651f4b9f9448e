package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zkzoomer/dorsiaclub/internal/crypto"
	"github.com/zkzoomer/dorsiaclub/internal/domain"
	"github.com/zkzoomer/dorsiaclub/internal/registry"
)

// CardConfig carries the issuance parameters of the card ledger.
type CardConfig struct {
	MaxSupply  uint64
	MintPrice  *big.Int
	UpdateFee  *big.Int
	DefaultURI string

	// Owner is the administrative key for the gate/fee/sweep operations.
	Owner common.Address

	// Account is the ledger's own treasury: mint and update payments arrive
	// here and oracle fees are paid out of it.
	Account common.Address
}

// CardService owns the authoritative card records and the name reservation
// protocol around them. All state-mutating entry points run under one mutex,
// so every precondition check is atomic with its state transition; outbound
// fund transfers happen only after state has been mutated, and any transfer
// failure rolls the mutation back under the same lock before returning.
type CardService struct {
	mu     sync.RWMutex
	cards  map[uint64]*domain.Card
	nextID uint64

	saleActive   bool
	collaborator common.Address
	updateFee    *big.Int

	maxSupply  uint64
	mintPrice  *big.Int
	defaultURI string
	owner      common.Address
	account    common.Address

	names    *registry.NameRegistry
	requests *registry.RequestLedger
	tokens   domain.TokenRegistry
	bank     domain.Bank
	oracle   *OracleService
	mirror   domain.CardStore
	cache    domain.URICache
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewCardService creates a CardService with all required dependencies. The
// sale gate starts closed; the owner opens it with SetSaleActive.
func NewCardService(
	cfg CardConfig,
	names *registry.NameRegistry,
	requests *registry.RequestLedger,
	tokens domain.TokenRegistry,
	bank domain.Bank,
	oracle *OracleService,
	audit domain.AuditStore,
	logger *slog.Logger,
) *CardService {
	return &CardService{
		cards:      make(map[uint64]*domain.Card),
		updateFee:  new(big.Int).Set(cfg.UpdateFee),
		maxSupply:  cfg.MaxSupply,
		mintPrice:  new(big.Int).Set(cfg.MintPrice),
		defaultURI: cfg.DefaultURI,
		owner:      cfg.Owner,
		account:    cfg.Account,
		names:      names,
		requests:   requests,
		tokens:     tokens,
		bank:       bank,
		oracle:     oracle,
		audit:      audit,
		logger:     logger,
	}
}

// WithMirror attaches a persistent store the ledger is mirrored into. Mirror
// writes happen after a transition has committed and never fail the
// triggering operation.
func (s *CardService) WithMirror(store domain.CardStore) *CardService {
	s.mirror = store
	return s
}

// WithCache attaches a cache for resolved URIs.
func (s *CardService) WithCache(cache domain.URICache) *CardService {
	s.cache = cache
	return s
}

// Mint issues a new card named name to caller. payment is the amount the
// caller offers; exactly the mint price is debited, so any excess stays with
// the caller. The new card's identity seed is derived from the mint time,
// the caller, the name, and the fresh id, and an oracle request is funded so
// the card's URI can be produced.
func (s *CardService) Mint(ctx context.Context, caller common.Address, name string, props domain.CardProperties, payment *big.Int) (uint64, error) {
	s.mu.Lock()

	if !s.saleActive {
		s.mu.Unlock()
		return 0, fmt.Errorf("card_service: mint: %w", domain.ErrSaleNotActive)
	}
	if uint64(len(s.cards)) >= s.maxSupply {
		s.mu.Unlock()
		return 0, fmt.Errorf("card_service: mint: %w", domain.ErrSupplyExhausted)
	}
	if payment == nil || payment.Cmp(s.mintPrice) < 0 {
		s.mu.Unlock()
		return 0, fmt.Errorf("card_service: mint: %w", domain.ErrInsufficientPayment)
	}
	if !domain.ValidName(name) {
		s.mu.Unlock()
		return 0, fmt.Errorf("card_service: mint %q: %w", name, domain.ErrInvalidName)
	}
	if s.names.IsReserved(name) {
		s.mu.Unlock()
		return 0, fmt.Errorf("card_service: mint %q: %w", name, domain.ErrNameTaken)
	}
	if !domain.ValidPosition(props.Position) {
		s.mu.Unlock()
		return 0, fmt.Errorf("card_service: mint %q: %w", name, domain.ErrInvalidPosition)
	}

	if err := s.bank.Transfer(caller, s.account, s.mintPrice); err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("card_service: mint %q: collect price: %w", name, err)
	}

	now := time.Now().UTC()
	id := s.nextID + 1
	seed := crypto.IdentitySeed(now, caller, name, id)

	if err := s.names.Reserve(name); err != nil {
		s.refund(ctx, caller, s.mintPrice)
		s.mu.Unlock()
		return 0, fmt.Errorf("card_service: mint %q: %w", name, err)
	}

	card := &domain.Card{
		ID:           id,
		Name:         name,
		Position:     props.Position,
		IdentitySeed: seed,
		Owner:        caller,
		MintedAt:     now,
		UpdatedAt:    now,
	}
	s.cards[id] = card
	s.nextID = id

	if err := s.oracle.RequestUpdate(ctx, id, seed, name, props.Position, caller); err != nil {
		delete(s.cards, id)
		s.nextID = id - 1
		s.names.Release(name)
		s.refund(ctx, caller, s.mintPrice)
		s.mu.Unlock()
		return 0, fmt.Errorf("card_service: mint %q: %w", name, err)
	}

	if err := s.tokens.Mint(caller, id); err != nil {
		// Unreachable with monotonic ids; unwind fully anyway. The oracle
		// fee has already left the treasury, which the error log records.
		if clearErr := s.requests.Clear(id); clearErr != nil {
			s.logger.ErrorContext(ctx, "card_service: clear pending failed",
				slog.Uint64("card_id", id), slog.String("error", clearErr.Error()))
		}
		delete(s.cards, id)
		s.nextID = id - 1
		s.names.Release(name)
		s.refund(ctx, caller, s.mintPrice)
		s.mu.Unlock()
		s.logger.ErrorContext(ctx, "card_service: token mint failed after oracle fee paid",
			slog.Uint64("card_id", id), slog.String("error", err.Error()))
		return 0, fmt.Errorf("card_service: mint %q: %w", name, err)
	}

	minted := *card
	s.mu.Unlock()

	s.mirrorUpsert(ctx, minted)
	s.auditLog(ctx, "card_minted", map[string]any{
		"card_id": id,
		"name":    name,
		"owner":   caller.Hex(),
		"price":   s.mintPrice.String(),
	})
	s.logger.InfoContext(ctx, "card_service: card minted",
		slog.Uint64("card_id", id),
		slog.String("name", name),
		slog.String("owner", caller.Hex()),
	)
	return id, nil
}

// UpdateData changes a card's name and/or position and funds a fresh oracle
// request, even when only the position changed. An empty Name or Position in
// props means no change for that field. The caller must be owner-or-approved
// of the card, or the registered marketplace collaborator, in which case no
// fee is charged. Exactly the update fee is debited from a paying caller.
func (s *CardService) UpdateData(ctx context.Context, caller common.Address, cardID uint64, props domain.CardProperties, payment *big.Int) error {
	s.mu.Lock()

	card, ok := s.cards[cardID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("card_service: update %d: %w", cardID, domain.ErrCardNotFound)
	}

	waived := s.collaborator != (common.Address{}) && caller == s.collaborator
	if !waived {
		approved, err := s.tokens.IsApprovedOrOwner(caller, cardID)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("card_service: update %d: %w", cardID, err)
		}
		if !approved {
			s.mu.Unlock()
			return fmt.Errorf("card_service: update %d: %w", cardID, domain.ErrNotOwnerOrApproved)
		}
		if payment == nil || payment.Cmp(s.updateFee) < 0 {
			s.mu.Unlock()
			return fmt.Errorf("card_service: update %d: %w", cardID, domain.ErrInsufficientPayment)
		}
	}

	renaming := props.Name != "" && domain.NormalizeName(props.Name) != domain.NormalizeName(card.Name)
	if props.Name != "" {
		if !domain.ValidName(props.Name) {
			s.mu.Unlock()
			return fmt.Errorf("card_service: update %d: %w", cardID, domain.ErrInvalidName)
		}
		if renaming && s.names.IsReserved(props.Name) {
			s.mu.Unlock()
			return fmt.Errorf("card_service: update %d: %w", cardID, domain.ErrNameTaken)
		}
	}
	if props.Position != "" && !domain.ValidPosition(props.Position) {
		s.mu.Unlock()
		return fmt.Errorf("card_service: update %d: %w", cardID, domain.ErrInvalidPosition)
	}
	if s.requests.IsPending(cardID) {
		s.mu.Unlock()
		return fmt.Errorf("card_service: update %d: %w", cardID, domain.ErrRequestPending)
	}

	feeTaken := false
	if !waived {
		if err := s.bank.Transfer(caller, s.account, s.updateFee); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("card_service: update %d: collect fee: %w", cardID, err)
		}
		feeTaken = true
	}

	prevName, prevPosition, prevUpdatedAt := card.Name, card.Position, card.UpdatedAt

	if renaming {
		s.names.Release(card.Name)
		if err := s.names.Reserve(props.Name); err != nil {
			// Reservation was pre-checked; restore and surface.
			_ = s.names.Reserve(prevName)
			if feeTaken {
				s.refund(ctx, caller, s.updateFee)
			}
			s.mu.Unlock()
			return fmt.Errorf("card_service: update %d: %w", cardID, err)
		}
	}
	if props.Name != "" {
		card.Name = props.Name
	}
	if props.Position != "" {
		card.Position = props.Position
	}
	card.UpdatedAt = time.Now().UTC()
	if owner, err := s.tokens.OwnerOf(cardID); err == nil {
		card.Owner = owner
	}

	if err := s.oracle.RequestUpdate(ctx, cardID, card.IdentitySeed, card.Name, card.Position, card.Owner); err != nil {
		if renaming {
			s.names.Release(card.Name)
			_ = s.names.Reserve(prevName)
		}
		card.Name, card.Position, card.UpdatedAt = prevName, prevPosition, prevUpdatedAt
		if feeTaken {
			s.refund(ctx, caller, s.updateFee)
		}
		s.mu.Unlock()
		return fmt.Errorf("card_service: update %d: %w", cardID, err)
	}

	updated := *card
	s.mu.Unlock()

	s.mirrorUpsert(ctx, updated)
	s.auditLog(ctx, "card_updated", map[string]any{
		"card_id":    cardID,
		"name":       updated.Name,
		"renamed":    renaming,
		"fee_waived": waived,
	})
	s.logger.InfoContext(ctx, "card_service: card updated",
		slog.Uint64("card_id", cardID),
		slog.String("name", updated.Name),
		slog.Bool("fee_waived", waived),
	)
	return nil
}

// SwapData exchanges the names of two cards and funds a single oracle request
// covering the pair. The caller must be owner-or-approved of both cards and
// neither may have a pending request. Identity seeds stay with their cards.
func (s *CardService) SwapData(ctx context.Context, caller common.Address, cardID1, cardID2 uint64, payment *big.Int) error {
	if cardID1 == cardID2 {
		return fmt.Errorf("card_service: swap: card %d with itself", cardID1)
	}

	s.mu.Lock()

	c1, ok := s.cards[cardID1]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("card_service: swap %d/%d: %w", cardID1, cardID2, domain.ErrCardNotFound)
	}
	c2, ok := s.cards[cardID2]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("card_service: swap %d/%d: %w", cardID1, cardID2, domain.ErrCardNotFound)
	}

	for _, id := range []uint64{cardID1, cardID2} {
		approved, err := s.tokens.IsApprovedOrOwner(caller, id)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("card_service: swap %d/%d: %w", cardID1, cardID2, err)
		}
		if !approved {
			s.mu.Unlock()
			return fmt.Errorf("card_service: swap %d/%d: %w", cardID1, cardID2, domain.ErrNotOwnerOrApproved)
		}
	}
	if payment == nil || payment.Cmp(s.updateFee) < 0 {
		s.mu.Unlock()
		return fmt.Errorf("card_service: swap %d/%d: %w", cardID1, cardID2, domain.ErrInsufficientPayment)
	}
	if s.requests.IsPending(cardID1) || s.requests.IsPending(cardID2) {
		s.mu.Unlock()
		return fmt.Errorf("card_service: swap %d/%d: %w", cardID1, cardID2, domain.ErrRequestPending)
	}

	if err := s.bank.Transfer(caller, s.account, s.updateFee); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("card_service: swap %d/%d: collect fee: %w", cardID1, cardID2, err)
	}

	prevUpdated1, prevUpdated2 := c1.UpdatedAt, c2.UpdatedAt
	now := time.Now().UTC()
	c1.Name, c2.Name = c2.Name, c1.Name
	c1.UpdatedAt, c2.UpdatedAt = now, now

	if err := s.oracle.RequestSwap(ctx, cardID1, c1.IdentitySeed, cardID2, c2.IdentitySeed); err != nil {
		c1.Name, c2.Name = c2.Name, c1.Name
		c1.UpdatedAt, c2.UpdatedAt = prevUpdated1, prevUpdated2
		s.refund(ctx, caller, s.updateFee)
		s.mu.Unlock()
		return fmt.Errorf("card_service: swap %d/%d: %w", cardID1, cardID2, err)
	}

	swapped1, swapped2 := *c1, *c2
	s.mu.Unlock()

	s.mirrorUpsert(ctx, swapped1)
	s.mirrorUpsert(ctx, swapped2)
	s.auditLog(ctx, "cards_swapped", map[string]any{
		"card_id_1": cardID1,
		"card_id_2": cardID2,
	})
	s.logger.InfoContext(ctx, "card_service: cards swapped",
		slog.Uint64("card_id_1", cardID1),
		slog.Uint64("card_id_2", cardID2),
	)
	return nil
}

// GetCard returns the card record for cardID.
func (s *CardService) GetCard(ctx context.Context, cardID uint64) (domain.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	card, ok := s.cards[cardID]
	if !ok {
		return domain.Card{}, fmt.Errorf("card_service: get %d: %w", cardID, domain.ErrCardNotFound)
	}
	out := *card
	if owner, err := s.tokens.OwnerOf(cardID); err == nil {
		out.Owner = owner
	}
	return out, nil
}

// ResolveURI returns the card's stored URI, or the configured default while
// the first oracle round-trip is still outstanding.
func (s *CardService) ResolveURI(ctx context.Context, cardID uint64) (string, error) {
	if s.cache != nil {
		if uri, err := s.cache.GetURI(ctx, cardID); err == nil && uri != "" {
			return uri, nil
		}
	}

	s.mu.RLock()
	card, ok := s.cards[cardID]
	if !ok {
		s.mu.RUnlock()
		return "", fmt.Errorf("card_service: resolve uri %d: %w", cardID, domain.ErrCardNotFound)
	}
	uri := card.URI
	s.mu.RUnlock()

	if uri == "" {
		return s.defaultURI, nil
	}
	if s.cache != nil {
		if err := s.cache.SetURI(ctx, cardID, uri); err != nil {
			s.logger.WarnContext(ctx, "card_service: cache uri failed",
				slog.Uint64("card_id", cardID), slog.String("error", err.Error()))
		}
	}
	return uri, nil
}

// IsNameReserved reports whether name is held by an existing card,
// case-insensitively.
func (s *CardService) IsNameReserved(name string) bool {
	return s.names.IsReserved(name)
}

// ApplyResolvedURI clears the card's pending request and stores the
// oracle-produced URI in one step under the ledger lock. Called by the
// oracle gateway after it has authenticated the callback.
func (s *CardService) ApplyResolvedURI(ctx context.Context, cardID uint64, uri string) (domain.Card, error) {
	s.mu.Lock()

	card, ok := s.cards[cardID]
	if !ok {
		s.mu.Unlock()
		return domain.Card{}, fmt.Errorf("card_service: apply uri %d: %w", cardID, domain.ErrCardNotFound)
	}
	if err := s.requests.Clear(cardID); err != nil {
		s.mu.Unlock()
		return domain.Card{}, fmt.Errorf("card_service: apply uri %d: %w", cardID, err)
	}

	card.URI = uri
	card.UpdatedAt = time.Now().UTC()
	if owner, err := s.tokens.OwnerOf(cardID); err == nil {
		card.Owner = owner
	}
	resolved := *card
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.SetURI(ctx, cardID, uri); err != nil {
			s.logger.WarnContext(ctx, "card_service: cache uri failed",
				slog.Uint64("card_id", cardID), slog.String("error", err.Error()))
		}
	}
	s.mirrorUpsert(ctx, resolved)
	return resolved, nil
}

// ValidateUpdate checks whether an update with the given properties could
// currently proceed on cardID, without mutating anything. The marketplace
// runs it before committing a combined buy-and-update so the common failure
// modes reject up front.
func (s *CardService) ValidateUpdate(ctx context.Context, cardID uint64, props domain.CardProperties) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	card, ok := s.cards[cardID]
	if !ok {
		return fmt.Errorf("card_service: validate update %d: %w", cardID, domain.ErrCardNotFound)
	}
	if props.Name != "" {
		if !domain.ValidName(props.Name) {
			return fmt.Errorf("card_service: validate update %d: %w", cardID, domain.ErrInvalidName)
		}
		if domain.NormalizeName(props.Name) != domain.NormalizeName(card.Name) && s.names.IsReserved(props.Name) {
			return fmt.Errorf("card_service: validate update %d: %w", cardID, domain.ErrNameTaken)
		}
	}
	if props.Position != "" && !domain.ValidPosition(props.Position) {
		return fmt.Errorf("card_service: validate update %d: %w", cardID, domain.ErrInvalidPosition)
	}
	if s.requests.IsPending(cardID) {
		return fmt.Errorf("card_service: validate update %d: %w", cardID, domain.ErrRequestPending)
	}
	return nil
}

// TotalSupply returns the number of cards issued so far.
func (s *CardService) TotalSupply() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.cards))
}

// SaleActive reports whether minting is currently open.
func (s *CardService) SaleActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saleActive
}

// MintPrice returns the price of minting a card.
func (s *CardService) MintPrice() *big.Int {
	return new(big.Int).Set(s.mintPrice)
}

// UpdateFee returns the current fee for a metadata update or swap.
func (s *CardService) UpdateFee() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return new(big.Int).Set(s.updateFee)
}

// Account returns the ledger's treasury address.
func (s *CardService) Account() common.Address {
	return s.account
}

// Collaborator returns the registered marketplace collaborator address.
func (s *CardService) Collaborator() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collaborator
}

// SetSaleActive opens or closes the mint gate. Owner only.
func (s *CardService) SetSaleActive(ctx context.Context, caller common.Address, active bool) error {
	if caller != s.owner {
		return fmt.Errorf("card_service: set sale active: %w", domain.ErrUnauthorized)
	}
	s.mu.Lock()
	s.saleActive = active
	s.mu.Unlock()

	s.auditLog(ctx, "sale_gate_set", map[string]any{"active": active})
	s.logger.InfoContext(ctx, "card_service: sale gate set", slog.Bool("active", active))
	return nil
}

// SetOracleAddress replaces the trusted oracle identity. Owner only.
func (s *CardService) SetOracleAddress(ctx context.Context, caller, addr common.Address) error {
	if caller != s.owner {
		return fmt.Errorf("card_service: set oracle address: %w", domain.ErrUnauthorized)
	}
	s.oracle.SetAddress(addr)

	s.auditLog(ctx, "oracle_address_set", map[string]any{"address": addr.Hex()})
	s.logger.InfoContext(ctx, "card_service: oracle address set", slog.String("address", addr.Hex()))
	return nil
}

// SetCollaborator registers the marketplace address whose update calls are
// fee-waived. Owner only.
func (s *CardService) SetCollaborator(ctx context.Context, caller, addr common.Address) error {
	if caller != s.owner {
		return fmt.Errorf("card_service: set collaborator: %w", domain.ErrUnauthorized)
	}
	s.mu.Lock()
	s.collaborator = addr
	s.mu.Unlock()

	s.auditLog(ctx, "collaborator_set", map[string]any{"address": addr.Hex()})
	return nil
}

// SetUpdateFee adjusts the update fee. It must stay at or above the oracle
// fee so every request remains fundable. Owner only.
func (s *CardService) SetUpdateFee(ctx context.Context, caller common.Address, fee *big.Int) error {
	if caller != s.owner {
		return fmt.Errorf("card_service: set update fee: %w", domain.ErrUnauthorized)
	}
	if fee == nil || fee.Cmp(s.oracle.Fee()) < 0 {
		return fmt.Errorf("card_service: set update fee: %w", domain.ErrFeeBelowOracleFee)
	}
	s.mu.Lock()
	s.updateFee = new(big.Int).Set(fee)
	s.mu.Unlock()

	s.auditLog(ctx, "update_fee_set", map[string]any{"fee": fee.String()})
	return nil
}

// SweepFunds moves the treasury's entire balance to the given address. Owner
// only; a rejected transfer surfaces unchanged.
func (s *CardService) SweepFunds(ctx context.Context, caller, to common.Address) (*big.Int, error) {
	if caller != s.owner {
		return nil, fmt.Errorf("card_service: sweep funds: %w", domain.ErrUnauthorized)
	}

	amount := s.bank.BalanceOf(s.account)
	if amount.Sign() == 0 {
		return amount, nil
	}
	if err := s.bank.Transfer(s.account, to, amount); err != nil {
		return nil, fmt.Errorf("card_service: sweep funds: %w", err)
	}

	s.auditLog(ctx, "funds_swept", map[string]any{
		"to":     to.Hex(),
		"amount": amount.String(),
	})
	s.logger.InfoContext(ctx, "card_service: funds swept",
		slog.String("to", to.Hex()),
		slog.String("amount", amount.String()),
	)
	return amount, nil
}

// refund is best-effort compensation while unwinding a failed operation; a
// failure here is logged, not surfaced, so the original error stays visible.
func (s *CardService) refund(ctx context.Context, to common.Address, amount *big.Int) {
	if err := s.bank.Transfer(s.account, to, amount); err != nil {
		s.logger.ErrorContext(ctx, "card_service: refund failed",
			slog.String("to", to.Hex()),
			slog.String("amount", amount.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (s *CardService) mirrorUpsert(ctx context.Context, card domain.Card) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Upsert(ctx, card); err != nil {
		s.logger.WarnContext(ctx, "card_service: mirror upsert failed",
			slog.Uint64("card_id", card.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *CardService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "card_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
