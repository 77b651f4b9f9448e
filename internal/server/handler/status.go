package handler

import (
	"log/slog"
	"math/big"
	"net/http"
	"time"
)

// StatusSource exposes the registry state reported on the status endpoint.
type StatusSource interface {
	TotalSupply() uint64
	SaleActive() bool
	MintPrice() *big.Int
	UpdateFee() *big.Int
}

// MarketStatusSource exposes the marketplace state for the status endpoint.
type MarketStatusSource interface {
	MarketplaceActive() bool
}

// StatusHandler serves the health and status endpoints.
type StatusHandler struct {
	mode      string
	cards     StatusSource
	market    MarketStatusSource
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler for the given run mode.
func NewStatusHandler(mode string, cards StatusSource, market MarketStatusSource, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		cards:     cards,
		market:    market,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// HealthCheck responds with a simple JSON status indicating the server is
// alive. Registered without authentication.
// GET /api/health
func (h *StatusHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetStatus reports the run mode, registry gates and current pricing.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":               h.mode,
		"uptime_seconds":     int64(time.Since(h.startedAt).Seconds()),
		"total_supply":       h.cards.TotalSupply(),
		"sale_active":        h.cards.SaleActive(),
		"marketplace_active": h.market.MarketplaceActive(),
		"mint_price":         h.cards.MintPrice().String(),
		"update_fee":         h.cards.UpdateFee().String(),
	})
}
