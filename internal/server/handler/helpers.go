package handler

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps a service-layer error onto an HTTP status that
// distinguishes bad input, authorization failures, payment problems and
// contention from genuine server faults, and writes the JSON error body.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrCardNotFound),
		errors.Is(err, domain.ErrListingNotFound),
		errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrNotOwnerOrApproved),
		errors.Is(err, domain.ErrNotSeller),
		errors.Is(err, domain.ErrNotOracle):
		writeError(w, http.StatusForbidden, err.Error())

	case errors.Is(err, domain.ErrInsufficientPayment),
		errors.Is(err, domain.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, err.Error())

	case errors.Is(err, domain.ErrNameTaken),
		errors.Is(err, domain.ErrRequestPending),
		errors.Is(err, domain.ErrRequestNotPending),
		errors.Is(err, domain.ErrListingFilled),
		errors.Is(err, domain.ErrListingCancelled),
		errors.Is(err, domain.ErrSupplyExhausted):
		writeError(w, http.StatusConflict, err.Error())

	case errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidPosition),
		errors.Is(err, domain.ErrPriceTooLow),
		errors.Is(err, domain.ErrFeeBelowOracleFee),
		errors.Is(err, domain.ErrSaleNotActive),
		errors.Is(err, domain.ErrMarketplacePaused),
		errors.Is(err, domain.ErrTransferRejected):
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathID extracts a numeric path parameter using Go 1.22+ built-in routing.
func pathID(r *http.Request, name string) (uint64, error) {
	return strconv.ParseUint(r.PathValue(name), 10, 64)
}

// parseAddress validates and decodes a hex address field.
func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// parseAmount decodes a decimal string into a big.Int. Empty means zero,
// matching a call that attaches no funds.
func parseAmount(s string) (*big.Int, bool) {
	if s == "" {
		return new(big.Int), true
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

// cardResponse is the JSON shape cards are served as.
type cardResponse struct {
	ID           uint64 `json:"id"`
	Name         string `json:"name"`
	Position     string `json:"position"`
	IdentitySeed string `json:"identity_seed"`
	URI          string `json:"uri,omitempty"`
	Owner        string `json:"owner"`
	MintedAt     string `json:"minted_at"`
	UpdatedAt    string `json:"updated_at"`
}

func toCardResponse(c domain.Card) cardResponse {
	seed := "0"
	if c.IdentitySeed != nil {
		seed = c.IdentitySeed.String()
	}
	return cardResponse{
		ID:           c.ID,
		Name:         c.Name,
		Position:     c.Position,
		IdentitySeed: seed,
		URI:          c.URI,
		Owner:        c.Owner.Hex(),
		MintedAt:     c.MintedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// listingResponse is the JSON shape listings are served as.
type listingResponse struct {
	ID        uint64 `json:"id"`
	CardID    uint64 `json:"card_id"`
	Seller    string `json:"seller"`
	Buyer     string `json:"buyer,omitempty"`
	Price     string `json:"price"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func toListingResponse(l domain.Listing) listingResponse {
	resp := listingResponse{
		ID:        l.ID,
		CardID:    l.CardID,
		Seller:    l.Seller.Hex(),
		Price:     l.Price.String(),
		Status:    string(l.Status),
		CreatedAt: l.CreatedAt.UTC().Format(time.RFC3339),
	}
	if l.Buyer != (common.Address{}) {
		resp.Buyer = l.Buyer.Hex()
	}
	return resp
}
