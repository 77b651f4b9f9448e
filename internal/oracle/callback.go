package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zkzoomer/dorsiaclub/internal/crypto"
)

// CallbackClient submits resolutions to a remote registry over its signed
// HTTP callback endpoints. It lets the worker run as a separate process from
// the API server; in-process deployments wire the oracle service directly.
type CallbackClient struct {
	baseURL string
	auth    *crypto.OracleAuth
	client  *http.Client
}

// NewCallbackClient creates a CallbackClient for the registry at baseURL.
func NewCallbackClient(baseURL string, auth *crypto.OracleAuth) *CallbackClient {
	return &CallbackClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

var _ Resolver = (*CallbackClient)(nil)

// ResolveUpdate posts a single-card resolution.
func (c *CallbackClient) ResolveUpdate(ctx context.Context, caller common.Address, cardID uint64, uri string) error {
	return c.post(ctx, "/api/oracle/resolve", map[string]any{
		"card_id": cardID,
		"uri":     uri,
	})
}

// ResolveSwap posts a swap resolution covering both cards.
func (c *CallbackClient) ResolveSwap(ctx context.Context, caller common.Address, cardID1 uint64, uri1 string, cardID2 uint64, uri2 string) error {
	return c.post(ctx, "/api/oracle/resolve-swap", map[string]any{
		"card_id_1": cardID1,
		"uri_1":     uri1,
		"card_id_2": cardID2,
		"uri_2":     uri2,
	})
}

func (c *CallbackClient) post(ctx context.Context, path string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("oracle: marshal callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("oracle: create callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.auth.Headers(http.MethodPost, path, string(body)) {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("oracle: callback request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("oracle: callback %s returned %d: %s", path, resp.StatusCode, string(snippet))
	}
	return nil
}
