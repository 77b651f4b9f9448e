package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkzoomer/dorsiaclub/internal/crypto"
	"github.com/zkzoomer/dorsiaclub/internal/domain"
)

type stubOracleService struct {
	caller common.Address
	cardID uint64
	uri    string
	err    error
}

func (s *stubOracleService) ResolveUpdate(ctx context.Context, caller common.Address, cardID uint64, uri string) error {
	s.caller = caller
	s.cardID = cardID
	s.uri = uri
	return s.err
}

func (s *stubOracleService) ResolveSwap(ctx context.Context, caller common.Address, cardID1 uint64, uri1 string, cardID2 uint64, uri2 string) error {
	s.caller = caller
	return s.err
}

func newOracleHandler(svc *stubOracleService) (*OracleHandler, *crypto.OracleAuth) {
	auth := &crypto.OracleAuth{
		Address: "0x0000000000000000000000000000000000000003",
		Secret:  "dorsia-callback-secret",
	}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return NewOracleHandler(svc, auth, logger), auth
}

func signedRequest(t *testing.T, auth *crypto.OracleAuth, path, body string) *http.Request {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	for k, v := range auth.HeadersAt(http.MethodPost, path, body, time.Now().Unix()) {
		req.Header.Set(k, v)
	}
	return req
}

func TestResolveUpdateAcceptsSignedCallback(t *testing.T) {
	svc := &stubOracleService{}
	h, auth := newOracleHandler(svc)

	body := `{"card_id":7,"uri":"https://cards.dorsia.club/cards/7.json"}`
	req := signedRequest(t, auth, "/api/oracle/resolve", body)
	rec := httptest.NewRecorder()

	h.ResolveUpdate(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, common.HexToAddress(auth.Address), svc.caller)
	assert.Equal(t, uint64(7), svc.cardID)
	assert.Equal(t, "https://cards.dorsia.club/cards/7.json", svc.uri)
}

func TestResolveUpdateRejectsBadSignature(t *testing.T) {
	svc := &stubOracleService{}
	h, auth := newOracleHandler(svc)

	body := `{"card_id":7,"uri":"https://cards.dorsia.club/cards/7.json"}`
	req := signedRequest(t, auth, "/api/oracle/resolve", body)
	req.Header.Set(crypto.HeaderOracleSignature, "bm90LWEtcmVhbC1zaWduYXR1cmU=")
	rec := httptest.NewRecorder()

	h.ResolveUpdate(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, svc.cardID)
}

func TestResolveUpdateRejectsMissingHeaders(t *testing.T) {
	svc := &stubOracleService{}
	h, _ := newOracleHandler(svc)

	body := `{"card_id":7,"uri":"https://x"}`
	req := httptest.NewRequest(http.MethodPost, "/api/oracle/resolve", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	h.ResolveUpdate(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResolveUpdateRejectsTamperedBody(t *testing.T) {
	svc := &stubOracleService{}
	h, auth := newOracleHandler(svc)

	signed := `{"card_id":7,"uri":"https://cards.dorsia.club/cards/7.json"}`
	tampered := `{"card_id":8,"uri":"https://cards.dorsia.club/cards/8.json"}`

	req := httptest.NewRequest(http.MethodPost, "/api/oracle/resolve", bytes.NewBufferString(tampered))
	for k, v := range auth.HeadersAt(http.MethodPost, "/api/oracle/resolve", signed, time.Now().Unix()) {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()

	h.ResolveUpdate(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResolveUpdateMapsServiceErrors(t *testing.T) {
	svc := &stubOracleService{err: domain.ErrRequestNotPending}
	h, auth := newOracleHandler(svc)

	body := `{"card_id":7,"uri":"https://cards.dorsia.club/cards/7.json"}`
	req := signedRequest(t, auth, "/api/oracle/resolve", body)
	rec := httptest.NewRecorder()

	h.ResolveUpdate(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResolveSwapRequiresBothURIs(t *testing.T) {
	svc := &stubOracleService{}
	h, auth := newOracleHandler(svc)

	body := `{"card_id_1":1,"uri_1":"https://x","card_id_2":2}`
	req := signedRequest(t, auth, "/api/oracle/resolve-swap", body)
	rec := httptest.NewRecorder()

	h.ResolveSwap(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
