package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

// ListingConfig carries the marketplace parameters.
type ListingConfig struct {
	MinPrice *big.Int

	// Owner is the administrative key for the start/pause gate.
	Owner common.Address

	// Account is the marketplace's escrow address. Listed tokens are held
	// here until fill or cancellation; it must also be registered as the
	// card ledger's collaborator so combined buy-and-update calls are
	// fee-waived at the card layer.
	Account common.Address
}

// ListingService owns the marketplace listing book. Each listing moves
// through Created to exactly one of Filled or Cancelled; terminal listings
// never change again. Per card only the highest-id listing is live, older
// ones are kept as history. The same single-lock discipline as the card
// ledger applies: checks are atomic with the transition, state is mutated
// before funds move, and a failed outbound transfer unwinds the mutation
// under the still-held lock.
type ListingService struct {
	mu         sync.Mutex
	listings   map[uint64]*domain.Listing
	liveByCard map[uint64]uint64
	nextID     uint64
	active     bool

	minPrice *big.Int
	owner    common.Address
	account  common.Address

	cards  *CardService
	tokens domain.TokenRegistry
	bank   domain.Bank
	mirror domain.ListingStore
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewListingService creates a ListingService. The marketplace starts paused;
// the owner opens it with StartMarketplace.
func NewListingService(
	cfg ListingConfig,
	cards *CardService,
	tokens domain.TokenRegistry,
	bank domain.Bank,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ListingService {
	return &ListingService{
		listings:   make(map[uint64]*domain.Listing),
		liveByCard: make(map[uint64]uint64),
		minPrice:   new(big.Int).Set(cfg.MinPrice),
		owner:      cfg.Owner,
		account:    cfg.Account,
		cards:      cards,
		tokens:     tokens,
		bank:       bank,
		bus:        bus,
		audit:      audit,
		logger:     logger,
	}
}

// WithMirror attaches a persistent store the listing book is mirrored into.
// Mirror writes are post-commit and non-fatal.
func (s *ListingService) WithMirror(store domain.ListingStore) *ListingService {
	s.mirror = store
	return s
}

// CreateListing puts cardID up for sale at price and takes the token into
// escrow. The caller must hold transfer rights over the card; the custody
// transfer itself rejects anyone else.
func (s *ListingService) CreateListing(ctx context.Context, caller common.Address, cardID uint64, price *big.Int) (uint64, error) {
	s.mu.Lock()

	if !s.active {
		s.mu.Unlock()
		return 0, fmt.Errorf("listing_service: create %d: %w", cardID, domain.ErrMarketplacePaused)
	}
	if price == nil || price.Cmp(s.minPrice) < 0 {
		s.mu.Unlock()
		return 0, fmt.Errorf("listing_service: create %d: %w", cardID, domain.ErrPriceTooLow)
	}

	owner, err := s.tokens.OwnerOf(cardID)
	if err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("listing_service: create %d: %w", cardID, err)
	}
	approved, err := s.tokens.IsApprovedOrOwner(caller, cardID)
	if err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("listing_service: create %d: %w", cardID, err)
	}
	if !approved {
		s.mu.Unlock()
		return 0, fmt.Errorf("listing_service: create %d: %w", cardID, domain.ErrNotOwnerOrApproved)
	}

	if err := s.tokens.Transfer(owner, s.account, cardID); err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("listing_service: create %d: escrow: %w", cardID, err)
	}

	id := s.nextID + 1
	listing := &domain.Listing{
		ID:        id,
		CardID:    cardID,
		Seller:    caller,
		Price:     new(big.Int).Set(price),
		Status:    domain.ListingStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	s.listings[id] = listing
	s.liveByCard[cardID] = id
	s.nextID = id

	created := *listing
	s.mu.Unlock()

	s.mirrorCreate(ctx, created)
	s.publish(ctx, domain.ListingCreated{
		Type:      domain.EventListingCreated,
		ListingID: id,
		CardID:    cardID,
		Seller:    caller,
		Price:     created.Price,
	})
	s.auditLog(ctx, "listing_created", map[string]any{
		"listing_id": id,
		"card_id":    cardID,
		"seller":     caller.Hex(),
		"price":      created.Price.String(),
	})
	s.logger.InfoContext(ctx, "listing_service: listing created",
		slog.Uint64("listing_id", id),
		slog.Uint64("card_id", cardID),
		slog.String("price", created.Price.String()),
	)
	return id, nil
}

// CancelListing cancels the live listing for cardID and returns the token to
// the seller. Cancellation is never gated on the marketplace being active:
// sellers may always reclaim their card.
func (s *ListingService) CancelListing(ctx context.Context, caller common.Address, cardID uint64) error {
	s.mu.Lock()

	listing, err := s.liveLocked(cardID)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listing_service: cancel %d: %w", cardID, err)
	}
	if caller != listing.Seller {
		s.mu.Unlock()
		return fmt.Errorf("listing_service: cancel %d: %w", cardID, domain.ErrNotSeller)
	}

	now := time.Now().UTC()
	listing.Status = domain.ListingStatusCancelled
	listing.CancelledAt = &now

	if err := s.tokens.Transfer(s.account, listing.Seller, cardID); err != nil {
		listing.Status = domain.ListingStatusActive
		listing.CancelledAt = nil
		s.mu.Unlock()
		return fmt.Errorf("listing_service: cancel %d: return custody: %w", cardID, err)
	}

	cancelled := *listing
	s.mu.Unlock()

	s.mirrorStatus(ctx, cancelled.ID, domain.ListingStatusCancelled, nil)
	s.publish(ctx, domain.ListingCancelled{
		Type:      domain.EventListingCancelled,
		ListingID: cancelled.ID,
		CardID:    cardID,
	})
	s.auditLog(ctx, "listing_cancelled", map[string]any{
		"listing_id": cancelled.ID,
		"card_id":    cardID,
	})
	s.logger.InfoContext(ctx, "listing_service: listing cancelled",
		slog.Uint64("listing_id", cancelled.ID),
		slog.Uint64("card_id", cardID),
	)
	return nil
}

// BuyListing fills the live listing for cardID. payment is the amount the
// buyer offers; exactly the listing price is debited and forwarded to the
// seller, so any excess stays with the buyer.
func (s *ListingService) BuyListing(ctx context.Context, caller common.Address, cardID uint64, payment *big.Int) error {
	s.mu.Lock()

	listing, err := s.fillLocked(ctx, caller, cardID, payment)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listing_service: buy %d: %w", cardID, err)
	}

	filled := *listing
	s.mu.Unlock()

	s.finishFill(ctx, filled, false)
	return nil
}

// BuyAndUpdateListing fills the live listing for cardID and immediately
// updates the card's data in one atomic unit: payment must cover the listing
// price plus the card ledger's update fee, and a failure in either phase
// unwinds everything. The update phase runs through the marketplace's
// collaborator registration, so the card ledger waives its own fee check and
// the fee collected here funds the oracle request.
func (s *ListingService) BuyAndUpdateListing(ctx context.Context, caller common.Address, cardID uint64, props domain.CardProperties, payment *big.Int) error {
	s.mu.Lock()

	listing, err := s.liveLocked(cardID)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listing_service: buy and update %d: %w", cardID, err)
	}
	if !s.active {
		s.mu.Unlock()
		return fmt.Errorf("listing_service: buy and update %d: %w", cardID, domain.ErrMarketplacePaused)
	}

	fee := s.cards.UpdateFee()
	required := new(big.Int).Add(listing.Price, fee)
	if payment == nil || payment.Cmp(required) < 0 {
		s.mu.Unlock()
		return fmt.Errorf("listing_service: buy and update %d: %w", cardID, domain.ErrInsufficientPayment)
	}
	if err := s.cards.ValidateUpdate(ctx, cardID, props); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listing_service: buy and update %d: %w", cardID, err)
	}

	listing, err = s.fillLocked(ctx, caller, cardID, payment)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listing_service: buy and update %d: %w", cardID, err)
	}

	if err := s.bank.Transfer(caller, s.cards.Account(), fee); err != nil {
		s.unwindFillLocked(ctx, listing, caller)
		s.mu.Unlock()
		return fmt.Errorf("listing_service: buy and update %d: collect fee: %w", cardID, err)
	}

	if err := s.cards.UpdateData(ctx, s.account, cardID, props, nil); err != nil {
		if refundErr := s.bank.Transfer(s.cards.Account(), caller, fee); refundErr != nil {
			s.logger.ErrorContext(ctx, "listing_service: fee refund failed",
				slog.Uint64("card_id", cardID), slog.String("error", refundErr.Error()))
		}
		s.unwindFillLocked(ctx, listing, caller)
		s.mu.Unlock()
		return fmt.Errorf("listing_service: buy and update %d: %w", cardID, err)
	}

	filled := *listing
	s.mu.Unlock()

	s.finishFill(ctx, filled, true)
	return nil
}

// GetLiveListing returns the most recent listing for cardID, whatever its
// state.
func (s *ListingService) GetLiveListing(ctx context.Context, cardID uint64) (domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.liveByCard[cardID]
	if !ok {
		return domain.Listing{}, fmt.Errorf("listing_service: live listing %d: %w", cardID, domain.ErrListingNotFound)
	}
	return *s.listings[id], nil
}

// GetAllActiveListings returns every unfilled, uncancelled listing in
// creation order.
func (s *ListingService) GetAllActiveListings(ctx context.Context) []domain.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Listing
	for id := uint64(1); id <= s.nextID; id++ {
		if l, ok := s.listings[id]; ok && l.Status == domain.ListingStatusActive {
			out = append(out, *l)
		}
	}
	return out
}

// GetListingsByAddress returns, per card, the most recent listing where addr
// is the seller (asSeller true) or the buyer (asSeller false), in card-id
// order.
func (s *ListingService) GetListingsByAddress(ctx context.Context, addr common.Address, asSeller bool) []domain.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := make(map[uint64]*domain.Listing)
	for id := uint64(1); id <= s.nextID; id++ {
		l, ok := s.listings[id]
		if !ok {
			continue
		}
		if (asSeller && l.Seller == addr) || (!asSeller && l.Buyer == addr) {
			latest[l.CardID] = l
		}
	}

	cardIDs := make([]uint64, 0, len(latest))
	for cardID := range latest {
		cardIDs = append(cardIDs, cardID)
	}
	sort.Slice(cardIDs, func(i, j int) bool { return cardIDs[i] < cardIDs[j] })

	out := make([]domain.Listing, 0, len(cardIDs))
	for _, cardID := range cardIDs {
		out = append(out, *latest[cardID])
	}
	return out
}

// MarketplaceActive reports whether listing creation and buying are open.
func (s *ListingService) MarketplaceActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Account returns the marketplace's escrow address.
func (s *ListingService) Account() common.Address {
	return s.account
}

// StartMarketplace opens the listing and buying gate. Owner only.
func (s *ListingService) StartMarketplace(ctx context.Context, caller common.Address) error {
	return s.setActive(ctx, caller, true)
}

// PauseMarketplace closes the listing and buying gate. Cancellation stays
// available. Owner only.
func (s *ListingService) PauseMarketplace(ctx context.Context, caller common.Address) error {
	return s.setActive(ctx, caller, false)
}

func (s *ListingService) setActive(ctx context.Context, caller common.Address, active bool) error {
	if caller != s.owner {
		return fmt.Errorf("listing_service: set active: %w", domain.ErrUnauthorized)
	}
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()

	s.auditLog(ctx, "marketplace_gate_set", map[string]any{"active": active})
	s.logger.InfoContext(ctx, "listing_service: marketplace gate set", slog.Bool("active", active))
	return nil
}

// liveLocked returns the live listing for cardID if it is still fillable.
// Assumes s.mu is held.
func (s *ListingService) liveLocked(cardID uint64) (*domain.Listing, error) {
	id, ok := s.liveByCard[cardID]
	if !ok {
		return nil, domain.ErrListingNotFound
	}
	listing := s.listings[id]
	switch listing.Status {
	case domain.ListingStatusFilled:
		return nil, domain.ErrListingFilled
	case domain.ListingStatusCancelled:
		return nil, domain.ErrListingCancelled
	}
	return listing, nil
}

// fillLocked performs the whole buy transition: terminal checks, price check,
// mark filled, pay the seller, hand the token to the buyer. Each transfer
// failure reverts everything done so far. Assumes s.mu is held.
func (s *ListingService) fillLocked(ctx context.Context, caller common.Address, cardID uint64, payment *big.Int) (*domain.Listing, error) {
	if !s.active {
		return nil, domain.ErrMarketplacePaused
	}
	listing, err := s.liveLocked(cardID)
	if err != nil {
		return nil, err
	}
	if payment == nil || payment.Cmp(listing.Price) < 0 {
		return nil, domain.ErrInsufficientPayment
	}

	now := time.Now().UTC()
	listing.Status = domain.ListingStatusFilled
	listing.Buyer = caller
	listing.FilledAt = &now

	if err := s.bank.Transfer(caller, listing.Seller, listing.Price); err != nil {
		listing.Status = domain.ListingStatusActive
		listing.Buyer = common.Address{}
		listing.FilledAt = nil
		return nil, fmt.Errorf("pay seller: %w", err)
	}

	if err := s.tokens.Transfer(s.account, caller, cardID); err != nil {
		if refundErr := s.bank.Transfer(listing.Seller, caller, listing.Price); refundErr != nil {
			s.logger.ErrorContext(ctx, "listing_service: buyer refund failed",
				slog.Uint64("listing_id", listing.ID), slog.String("error", refundErr.Error()))
		}
		listing.Status = domain.ListingStatusActive
		listing.Buyer = common.Address{}
		listing.FilledAt = nil
		return nil, fmt.Errorf("deliver token: %w", err)
	}
	return listing, nil
}

// unwindFillLocked reverses a completed fillLocked when a later phase of a
// composite operation fails: token back to escrow, price back to the buyer,
// listing back to active. Assumes s.mu is held.
func (s *ListingService) unwindFillLocked(ctx context.Context, listing *domain.Listing, buyer common.Address) {
	if err := s.tokens.Transfer(buyer, s.account, listing.CardID); err != nil {
		s.logger.ErrorContext(ctx, "listing_service: unwind custody failed",
			slog.Uint64("listing_id", listing.ID), slog.String("error", err.Error()))
	}
	if err := s.bank.Transfer(listing.Seller, buyer, listing.Price); err != nil {
		s.logger.ErrorContext(ctx, "listing_service: unwind payment failed",
			slog.Uint64("listing_id", listing.ID), slog.String("error", err.Error()))
	}
	listing.Status = domain.ListingStatusActive
	listing.Buyer = common.Address{}
	listing.FilledAt = nil
}

func (s *ListingService) finishFill(ctx context.Context, filled domain.Listing, withUpdate bool) {
	buyer := filled.Buyer
	s.mirrorStatus(ctx, filled.ID, domain.ListingStatusFilled, &buyer)
	s.publish(ctx, domain.ListingFilled{
		Type:      domain.EventListingFilled,
		ListingID: filled.ID,
		CardID:    filled.CardID,
		Seller:    filled.Seller,
		Buyer:     filled.Buyer,
		Price:     filled.Price,
	})
	s.auditLog(ctx, "listing_filled", map[string]any{
		"listing_id":  filled.ID,
		"card_id":     filled.CardID,
		"seller":      filled.Seller.Hex(),
		"buyer":       filled.Buyer.Hex(),
		"price":       filled.Price.String(),
		"with_update": withUpdate,
	})
	s.logger.InfoContext(ctx, "listing_service: listing filled",
		slog.Uint64("listing_id", filled.ID),
		slog.Uint64("card_id", filled.CardID),
		slog.String("buyer", filled.Buyer.Hex()),
		slog.Bool("with_update", withUpdate),
	)
}

func (s *ListingService) mirrorCreate(ctx context.Context, listing domain.Listing) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Create(ctx, listing); err != nil {
		s.logger.WarnContext(ctx, "listing_service: mirror create failed",
			slog.Uint64("listing_id", listing.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ListingService) mirrorStatus(ctx context.Context, id uint64, status domain.ListingStatus, buyer *common.Address) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.UpdateStatus(ctx, id, status, buyer); err != nil {
		s.logger.WarnContext(ctx, "listing_service: mirror status failed",
			slog.Uint64("listing_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ListingService) publish(ctx context.Context, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WarnContext(ctx, "listing_service: marshal event failed",
			slog.String("error", err.Error()))
		return
	}
	if pubErr := s.bus.Publish(ctx, domain.ChannelListings, payload); pubErr != nil {
		s.logger.WarnContext(ctx, "listing_service: publish event failed",
			slog.String("error", pubErr.Error()))
	}
	if streamErr := s.bus.StreamAppend(ctx, domain.StreamEvents, payload); streamErr != nil {
		s.logger.WarnContext(ctx, "listing_service: stream append failed",
			slog.String("error", streamErr.Error()))
	}
}

func (s *ListingService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "listing_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
