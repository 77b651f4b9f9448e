package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// AdminCardService defines the owner-gated card operations.
type AdminCardService interface {
	SetSaleActive(ctx context.Context, caller common.Address, active bool) error
	SetOracleAddress(ctx context.Context, caller, addr common.Address) error
	SetCollaborator(ctx context.Context, caller, addr common.Address) error
	SetUpdateFee(ctx context.Context, caller common.Address, fee *big.Int) error
	SweepFunds(ctx context.Context, caller, to common.Address) (*big.Int, error)
}

// AdminListingService defines the owner-gated marketplace operations.
type AdminListingService interface {
	StartMarketplace(ctx context.Context, caller common.Address) error
	PauseMarketplace(ctx context.Context, caller common.Address) error
}

// AdminHandler serves the operator endpoints. These routes sit behind the
// API-key middleware; the configured owner address is used as the caller so
// the service layer's ownership checks still apply.
type AdminHandler struct {
	cards    AdminCardService
	listings AdminListingService
	owner    common.Address
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler acting as the given owner address.
func NewAdminHandler(cards AdminCardService, listings AdminListingService, owner common.Address, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		cards:    cards,
		listings: listings,
		owner:    owner,
		logger:   logger,
	}
}

// setActiveRequest toggles the card sale or the marketplace.
type setActiveRequest struct {
	Active bool `json:"active"`
}

// SetSaleActive opens or closes the card sale.
// PUT /api/admin/sale
func (h *AdminHandler) SetSaleActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.cards.SetSaleActive(r.Context(), h.owner, req.Active); err != nil {
		writeServiceError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "admin: sale toggled", slog.Bool("active", req.Active))
	writeJSON(w, http.StatusOK, map[string]any{"sale_active": req.Active})
}

// SetMarketplaceActive starts or pauses the marketplace.
// PUT /api/admin/marketplace
func (h *AdminHandler) SetMarketplaceActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var err error
	if req.Active {
		err = h.listings.StartMarketplace(r.Context(), h.owner)
	} else {
		err = h.listings.PauseMarketplace(r.Context(), h.owner)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "admin: marketplace toggled", slog.Bool("active", req.Active))
	writeJSON(w, http.StatusOK, map[string]any{"marketplace_active": req.Active})
}

// setAddressRequest carries a single address field.
type setAddressRequest struct {
	Address string `json:"address"`
}

// SetOracleAddress rotates the registered oracle address.
// PUT /api/admin/oracle-address
func (h *AdminHandler) SetOracleAddress(w http.ResponseWriter, r *http.Request) {
	var req setAddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	addr, ok := parseAddress(req.Address)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	if err := h.cards.SetOracleAddress(r.Context(), h.owner, addr); err != nil {
		writeServiceError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "admin: oracle address set", slog.String("address", addr.Hex()))
	writeJSON(w, http.StatusOK, map[string]any{"oracle_address": addr.Hex()})
}

// SetCollaborator registers the address whose update calls skip payment and
// approval checks. The marketplace escrow account holds this role.
// PUT /api/admin/collaborator
func (h *AdminHandler) SetCollaborator(w http.ResponseWriter, r *http.Request) {
	var req setAddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	addr, ok := parseAddress(req.Address)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	if err := h.cards.SetCollaborator(r.Context(), h.owner, addr); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"collaborator": addr.Hex()})
}

// setFeeRequest carries the new update fee.
type setFeeRequest struct {
	Fee string `json:"fee"`
}

// SetUpdateFee changes the fee charged on update and swap calls. It must
// stay at or above the oracle fee.
// PUT /api/admin/update-fee
func (h *AdminHandler) SetUpdateFee(w http.ResponseWriter, r *http.Request) {
	var req setFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	fee, ok := parseAmount(req.Fee)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid fee")
		return
	}

	if err := h.cards.SetUpdateFee(r.Context(), h.owner, fee); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"update_fee": fee.String()})
}

// sweepRequest carries the destination for accumulated proceeds.
type sweepRequest struct {
	To string `json:"to"`
}

// SweepFunds transfers the accumulated mint and fee proceeds to an address.
// POST /api/admin/sweep
func (h *AdminHandler) SweepFunds(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	to, ok := parseAddress(req.To)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid destination address")
		return
	}

	amount, err := h.cards.SweepFunds(r.Context(), h.owner, to)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "admin: funds swept",
		slog.String("to", to.Hex()),
		slog.String("amount", amount.String()),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"to":     to.Hex(),
		"amount": amount.String(),
	})
}
