package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
	"github.com/zkzoomer/dorsiaclub/internal/registry"
)

// CardResolver applies an oracle-produced URI to a card's record. Implemented
// by CardService; declared here so the oracle gateway and the card ledger can
// be constructed independently.
type CardResolver interface {
	ApplyResolvedURI(ctx context.Context, cardID uint64, uri string) (domain.Card, error)
}

// OracleService fronts communication with the external metadata oracle. On
// the outbound side it marks cards pending, pays the oracle its fee, and
// emits request events; on the inbound side it authenticates callbacks and
// hands resolved URIs to the card ledger.
//
// It holds no ledger lock of its own: the RequestLedger is the atomic gate
// for request emission, and resolution runs under the card ledger's lock via
// the CardResolver. Its own mutex only guards the settable oracle address.
type OracleService struct {
	mu       sync.RWMutex
	addr     common.Address
	fee      *big.Int
	treasury common.Address

	requests *registry.RequestLedger
	bank     domain.Bank
	resolver CardResolver
	bus      domain.SignalBus
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewOracleService creates an OracleService. The treasury address is the
// account oracle fees are paid out of; it must be funded by the card ledger's
// inbound payments.
func NewOracleService(
	requests *registry.RequestLedger,
	bank domain.Bank,
	bus domain.SignalBus,
	audit domain.AuditStore,
	oracleAddr common.Address,
	oracleFee *big.Int,
	treasury common.Address,
	logger *slog.Logger,
) *OracleService {
	return &OracleService{
		addr:     oracleAddr,
		fee:      new(big.Int).Set(oracleFee),
		treasury: treasury,
		requests: requests,
		bank:     bank,
		bus:      bus,
		audit:    audit,
		logger:   logger,
	}
}

// WithResolver attaches the card ledger the inbound callbacks write to.
func (s *OracleService) WithResolver(r CardResolver) *OracleService {
	s.resolver = r
	return s
}

// Address returns the currently registered oracle address.
func (s *OracleService) Address() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// SetAddress replaces the registered oracle address. Authorization is the
// card ledger's concern; this is the raw setter.
func (s *OracleService) SetAddress(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addr = addr
}

// Fee returns the fixed fee paid to the oracle per request.
func (s *OracleService) Fee() *big.Int {
	return new(big.Int).Set(s.fee)
}

// RequestUpdate marks cardID pending, pays the oracle fee out of the
// treasury, and emits a CardUpdateRequested event. If the fee transfer fails
// the pending mark is rolled back and the error is returned so the triggering
// operation can abort atomically. Callers hold the card ledger's lock.
func (s *OracleService) RequestUpdate(
	ctx context.Context,
	cardID uint64,
	seed *big.Int,
	name, position string,
	owner common.Address,
) error {
	if err := s.requests.MarkPending(cardID); err != nil {
		return fmt.Errorf("oracle_service: request update %d: %w", cardID, err)
	}

	if err := s.bank.Transfer(s.treasury, s.Address(), s.fee); err != nil {
		s.clearPending(ctx, cardID)
		return fmt.Errorf("oracle_service: fund update %d: %w", cardID, err)
	}

	s.publish(ctx, domain.ChannelCards, domain.CardUpdateRequested{
		Type:         domain.EventCardUpdateRequested,
		CardID:       cardID,
		IdentitySeed: seed,
		Name:         name,
		Position:     position,
		Owner:        owner,
	})

	s.logger.InfoContext(ctx, "oracle_service: update requested",
		slog.Uint64("card_id", cardID),
		slog.String("name", name),
	)
	return nil
}

// RequestSwap marks both cards pending, pays the oracle fee once for the
// pair, and emits a single CardSwapRequested event. Callers pre-check that
// neither card is pending under the card ledger's lock; a conflict here still
// rolls back cleanly.
func (s *OracleService) RequestSwap(
	ctx context.Context,
	cardID1 uint64, seed1 *big.Int,
	cardID2 uint64, seed2 *big.Int,
) error {
	if err := s.requests.MarkPending(cardID1); err != nil {
		return fmt.Errorf("oracle_service: request swap %d/%d: %w", cardID1, cardID2, err)
	}
	if err := s.requests.MarkPending(cardID2); err != nil {
		s.clearPending(ctx, cardID1)
		return fmt.Errorf("oracle_service: request swap %d/%d: %w", cardID1, cardID2, err)
	}

	if err := s.bank.Transfer(s.treasury, s.Address(), s.fee); err != nil {
		s.clearPending(ctx, cardID1)
		s.clearPending(ctx, cardID2)
		return fmt.Errorf("oracle_service: fund swap %d/%d: %w", cardID1, cardID2, err)
	}

	s.publish(ctx, domain.ChannelCards, domain.CardSwapRequested{
		Type:    domain.EventCardSwapRequested,
		CardID1: cardID1,
		CardID2: cardID2,
		Seed1:   seed1,
		Seed2:   seed2,
	})

	s.logger.InfoContext(ctx, "oracle_service: swap requested",
		slog.Uint64("card_id_1", cardID1),
		slog.Uint64("card_id_2", cardID2),
	)
	return nil
}

// ResolveUpdate is the oracle's callback. The caller must be the registered
// oracle address and the card must have a pending request; the pending flag
// is cleared and the URI stored atomically under the card ledger's lock.
func (s *OracleService) ResolveUpdate(ctx context.Context, caller common.Address, cardID uint64, uri string) error {
	if caller != s.Address() {
		return fmt.Errorf("oracle_service: resolve update %d: %w", cardID, domain.ErrNotOracle)
	}

	card, err := s.resolver.ApplyResolvedURI(ctx, cardID, uri)
	if err != nil {
		return fmt.Errorf("oracle_service: resolve update %d: %w", cardID, err)
	}

	s.publish(ctx, domain.ChannelOracle, domain.CardURIResolved{
		Type:   domain.EventCardURIResolved,
		CardID: cardID,
		URI:    uri,
	})

	if s.audit != nil {
		if auditErr := s.audit.Log(ctx, "uri_resolved", map[string]any{
			"card_id": cardID,
			"name":    card.Name,
			"uri":     uri,
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "oracle_service: audit log failed",
				slog.Uint64("card_id", cardID),
				slog.String("error", auditErr.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "oracle_service: update resolved",
		slog.Uint64("card_id", cardID),
		slog.String("uri", uri),
	)
	return nil
}

// ResolveSwap applies ResolveUpdate semantics to both cards as two
// independent resolutions: each succeeds or fails on its own pending check.
// The first failure is returned; a failure on the second card does not undo
// the first, matching the two-independent-resolutions contract.
func (s *OracleService) ResolveSwap(ctx context.Context, caller common.Address, cardID1 uint64, uri1 string, cardID2 uint64, uri2 string) error {
	if caller != s.Address() {
		return fmt.Errorf("oracle_service: resolve swap %d/%d: %w", cardID1, cardID2, domain.ErrNotOracle)
	}

	if err := s.ResolveUpdate(ctx, caller, cardID1, uri1); err != nil {
		return err
	}
	return s.ResolveUpdate(ctx, caller, cardID2, uri2)
}

// IsPending reports whether cardID has an outstanding metadata request.
func (s *OracleService) IsPending(cardID uint64) bool {
	return s.requests.IsPending(cardID)
}

func (s *OracleService) clearPending(ctx context.Context, cardID uint64) {
	if err := s.requests.Clear(cardID); err != nil {
		s.logger.ErrorContext(ctx, "oracle_service: clear pending failed",
			slog.Uint64("card_id", cardID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *OracleService) publish(ctx context.Context, channel string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WarnContext(ctx, "oracle_service: marshal event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	if pubErr := s.bus.Publish(ctx, channel, payload); pubErr != nil {
		s.logger.WarnContext(ctx, "oracle_service: publish event failed",
			slog.String("channel", channel),
			slog.String("error", pubErr.Error()),
		)
	}
	if streamErr := s.bus.StreamAppend(ctx, domain.StreamEvents, payload); streamErr != nil {
		s.logger.WarnContext(ctx, "oracle_service: stream append failed",
			slog.String("channel", channel),
			slog.String("error", streamErr.Error()),
		)
	}
}
