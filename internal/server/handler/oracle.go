package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zkzoomer/dorsiaclub/internal/crypto"
)

// maxCallbackBody bounds oracle callback request bodies.
const maxCallbackBody = 64 * 1024

// OracleService defines the resolution methods the oracle handler requires.
type OracleService interface {
	ResolveUpdate(ctx context.Context, caller common.Address, cardID uint64, uri string) error
	ResolveSwap(ctx context.Context, caller common.Address, cardID1 uint64, uri1 string, cardID2 uint64, uri2 string) error
}

// OracleHandler serves the signed oracle callback endpoints. Every request
// must carry a valid HMAC signature over timestamp, method, path and body;
// the claimed address is then checked against the registered oracle by the
// service layer.
type OracleHandler struct {
	oracle OracleService
	auth   *crypto.OracleAuth
	logger *slog.Logger
}

// NewOracleHandler creates an OracleHandler with the given service, shared
// secret and logger.
func NewOracleHandler(oracle OracleService, auth *crypto.OracleAuth, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{
		oracle: oracle,
		auth:   auth,
		logger: logger,
	}
}

// authenticate verifies the callback signature and returns the claimed
// oracle address plus the raw body for decoding. A nil body return means the
// response has already been written.
func (h *OracleHandler) authenticate(w http.ResponseWriter, r *http.Request) (common.Address, []byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return common.Address{}, nil, false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	addrHex := r.Header.Get(crypto.HeaderOracleAddress)
	timestamp := r.Header.Get(crypto.HeaderOracleTimestamp)
	signature := r.Header.Get(crypto.HeaderOracleSignature)
	if addrHex == "" || timestamp == "" || signature == "" {
		writeError(w, http.StatusUnauthorized, "missing oracle callback headers")
		return common.Address{}, nil, false
	}

	if err := h.auth.Verify(r.Method, r.URL.Path, string(body), timestamp, signature, time.Now()); err != nil {
		h.logger.WarnContext(r.Context(), "handler: oracle callback rejected",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusUnauthorized, "invalid oracle signature")
		return common.Address{}, nil, false
	}

	addr, ok := parseAddress(addrHex)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid oracle address")
		return common.Address{}, nil, false
	}

	return addr, body, true
}

// resolveRequest is the JSON body for a single-card resolution callback.
type resolveRequest struct {
	CardID uint64 `json:"card_id"`
	URI    string `json:"uri"`
}

// ResolveUpdate stores the URI computed by the oracle for a pending card.
// POST /api/oracle/resolve
func (h *OracleHandler) ResolveUpdate(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req resolveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.URI == "" {
		writeError(w, http.StatusBadRequest, "uri is required")
		return
	}

	if err := h.oracle.ResolveUpdate(r.Context(), caller, req.CardID, req.URI); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"card_id": req.CardID,
		"status":  "resolved",
	})
}

// resolveSwapRequest is the JSON body for a swap resolution callback.
type resolveSwapRequest struct {
	CardID1 uint64 `json:"card_id_1"`
	URI1    string `json:"uri_1"`
	CardID2 uint64 `json:"card_id_2"`
	URI2    string `json:"uri_2"`
}

// ResolveSwap stores the URIs computed by the oracle for a pending swap.
// POST /api/oracle/resolve-swap
func (h *OracleHandler) ResolveSwap(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req resolveSwapRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.URI1 == "" || req.URI2 == "" {
		writeError(w, http.StatusBadRequest, "uri_1 and uri_2 are required")
		return
	}

	if err := h.oracle.ResolveSwap(r.Context(), caller, req.CardID1, req.URI1, req.CardID2, req.URI2); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"card_id_1": req.CardID1,
		"card_id_2": req.CardID2,
		"status":    "resolved",
	})
}
