package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

// ListingService defines the methods the listing handler requires from the
// service layer. Listings are addressed by card id: a card has at most one
// live listing at a time.
type ListingService interface {
	CreateListing(ctx context.Context, caller common.Address, cardID uint64, price *big.Int) (uint64, error)
	CancelListing(ctx context.Context, caller common.Address, cardID uint64) error
	BuyListing(ctx context.Context, caller common.Address, cardID uint64, payment *big.Int) error
	BuyAndUpdateListing(ctx context.Context, caller common.Address, cardID uint64, props domain.CardProperties, payment *big.Int) error
	GetLiveListing(ctx context.Context, cardID uint64) (domain.Listing, error)
	GetAllActiveListings(ctx context.Context) []domain.Listing
	GetListingsByAddress(ctx context.Context, addr common.Address, asSeller bool) []domain.Listing
	MarketplaceActive() bool
}

// ListingHandler serves marketplace HTTP endpoints.
type ListingHandler struct {
	listings ListingService
	logger   *slog.Logger
}

// NewListingHandler creates a ListingHandler with the given service and logger.
func NewListingHandler(listings ListingService, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		listings: listings,
		logger:   logger,
	}
}

// createListingRequest is the JSON body for listing a card.
type createListingRequest struct {
	Caller string `json:"caller"`
	CardID uint64 `json:"card_id"`
	Price  string `json:"price"`
}

// CreateListing escrows a card and opens it for sale.
// POST /api/listings
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	price, ok := parseAmount(req.Price)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid price")
		return
	}

	id, err := h.listings.CreateListing(r.Context(), caller, req.CardID, price)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: create listing rejected",
			slog.Uint64("card_id", req.CardID),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"listing_id": id,
		"card_id":    req.CardID,
	})
}

// callerRequest is the JSON body for operations identified only by caller.
type callerRequest struct {
	Caller  string `json:"caller"`
	Payment string `json:"payment"`
}

// CancelListing returns an escrowed card to its seller. Cancellation works
// even while the marketplace is paused.
// DELETE /api/listings/{cardID}
func (h *ListingHandler) CancelListing(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "cardID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid card id")
		return
	}

	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	if err := h.listings.CancelListing(r.Context(), caller, cardID); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"card_id": cardID,
		"status":  "cancelled",
	})
}

// BuyListing fills the live listing for a card at its asking price.
// POST /api/listings/{cardID}/buy
func (h *ListingHandler) BuyListing(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "cardID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid card id")
		return
	}

	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	payment, ok := parseAmount(req.Payment)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid payment amount")
		return
	}

	if err := h.listings.BuyListing(r.Context(), caller, cardID, payment); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"card_id": cardID,
		"status":  "filled",
	})
}

// buyAndUpdateRequest is the JSON body for the combined buy-and-update call.
type buyAndUpdateRequest struct {
	Caller   string `json:"caller"`
	Payment  string `json:"payment"`
	Name     string `json:"name"`
	Position string `json:"position"`
}

// BuyAndUpdate fills a listing and immediately rewrites the card's data in
// one atomic operation. Payment must cover the price plus the update fee.
// POST /api/listings/{cardID}/buy-and-update
func (h *ListingHandler) BuyAndUpdate(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "cardID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid card id")
		return
	}

	var req buyAndUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	payment, ok := parseAmount(req.Payment)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid payment amount")
		return
	}

	props := domain.CardProperties{Name: req.Name, Position: req.Position}
	if err := h.listings.BuyAndUpdateListing(r.Context(), caller, cardID, props, payment); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"card_id": cardID,
		"status":  "filled_and_update_requested",
	})
}

// GetLiveListing returns the newest listing for a card, whatever its state.
// GET /api/listings/card/{cardID}
func (h *ListingHandler) GetLiveListing(w http.ResponseWriter, r *http.Request) {
	cardID, err := pathID(r, "cardID")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid card id")
		return
	}

	listing, err := h.listings.GetLiveListing(r.Context(), cardID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toListingResponse(listing))
}

// ListActive returns all open listings in creation order.
// GET /api/listings
func (h *ListingHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	listings := h.listings.GetAllActiveListings(r.Context())

	out := make([]listingResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, toListingResponse(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": out})
}

// ListByAddress returns the latest listing per card where the address is the
// seller (role=seller, default) or the buyer (role=buyer).
// GET /api/listings/address/{addr}?role=seller
func (h *ListingHandler) ListByAddress(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(r.PathValue("addr"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	asSeller := r.URL.Query().Get("role") != "buyer"
	listings := h.listings.GetListingsByAddress(r.Context(), addr, asSeller)

	out := make([]listingResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, toListingResponse(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": out})
}
