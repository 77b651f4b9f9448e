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

// CardService defines the methods the card handler requires from the service
// layer.
type CardService interface {
	Mint(ctx context.Context, caller common.Address, name string, props domain.CardProperties, payment *big.Int) (uint64, error)
	UpdateData(ctx context.Context, caller common.Address, cardID uint64, props domain.CardProperties, payment *big.Int) error
	SwapData(ctx context.Context, caller common.Address, cardID1, cardID2 uint64, payment *big.Int) error
	GetCard(ctx context.Context, cardID uint64) (domain.Card, error)
	ResolveURI(ctx context.Context, cardID uint64) (string, error)
	IsNameReserved(name string) bool
	TotalSupply() uint64
}

// CardHandler serves card-related HTTP endpoints.
type CardHandler struct {
	cards  CardService
	store  domain.CardStore // optional read mirror for owner queries
	logger *slog.Logger
}

// NewCardHandler creates a CardHandler with the given service and logger.
func NewCardHandler(cards CardService, logger *slog.Logger) *CardHandler {
	return &CardHandler{
		cards:  cards,
		logger: logger,
	}
}

// WithStore attaches the Postgres mirror used for owner-scoped card queries.
func (h *CardHandler) WithStore(store domain.CardStore) *CardHandler {
	h.store = store
	return h
}

// mintRequest is the JSON body for minting a card.
type mintRequest struct {
	Caller   string `json:"caller"`
	Name     string `json:"name"`
	Position string `json:"position"`
	Payment  string `json:"payment"`
}

// Mint mints a new card for the caller.
// POST /api/cards
func (h *CardHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
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
	id, err := h.cards.Mint(r.Context(), caller, req.Name, props, payment)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: mint rejected",
			slog.String("caller", caller.Hex()),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"card_id": id,
	})
}

// updateRequest is the JSON body for updating a card's data.
type updateRequest struct {
	Caller   string `json:"caller"`
	Name     string `json:"name"`
	Position string `json:"position"`
	Payment  string `json:"payment"`
}

// UpdateData changes a card's name and position, funding an oracle request.
// PUT /api/cards/{id}
func (h *CardHandler) UpdateData(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid card id")
		return
	}

	var req updateRequest
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
	if err := h.cards.UpdateData(r.Context(), caller, id, props, payment); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"card_id": id,
		"status":  "update_requested",
	})
}

// swapRequest is the JSON body for swapping data between two cards.
type swapRequest struct {
	Caller  string `json:"caller"`
	CardID1 uint64 `json:"card_id_1"`
	CardID2 uint64 `json:"card_id_2"`
	Payment string `json:"payment"`
}

// SwapData exchanges the name and position of two cards owned by the caller.
// POST /api/cards/swap
func (h *CardHandler) SwapData(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
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

	if err := h.cards.SwapData(r.Context(), caller, req.CardID1, req.CardID2, payment); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"card_id_1": req.CardID1,
		"card_id_2": req.CardID2,
		"status":    "swap_requested",
	})
}

// GetCard returns a single card by id.
// GET /api/cards/{id}
func (h *CardHandler) GetCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid card id")
		return
	}

	card, err := h.cards.GetCard(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toCardResponse(card))
}

// GetCardURI returns the resolved metadata URI for a card, falling back to
// the default document while an oracle request is in flight.
// GET /api/cards/{id}/uri
func (h *CardHandler) GetCardURI(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid card id")
		return
	}

	uri, err := h.cards.ResolveURI(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"card_id": id,
		"uri":     uri,
	})
}

// CheckName reports whether a card name is already reserved.
// GET /api/names/{name}
func (h *CardHandler) CheckName(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "missing name")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"name":     name,
		"reserved": h.cards.IsNameReserved(name),
	})
}

// ListByOwner returns the cards owned by an address, served from the
// Postgres mirror.
// GET /api/cards?owner=0x...&limit=50&offset=0
func (h *CardHandler) ListByOwner(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "card queries unavailable without a store")
		return
	}

	owner, ok := parseAddress(r.URL.Query().Get("owner"))
	if !ok {
		writeError(w, http.StatusBadRequest, "owner query parameter required")
		return
	}

	cards, err := h.store.ListByOwner(r.Context(), owner, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list cards failed",
			slog.String("owner", owner.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list cards")
		return
	}

	out := make([]cardResponse, 0, len(cards))
	for _, c := range cards {
		out = append(out, toCardResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": out})
}
