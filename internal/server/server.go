package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/zkzoomer/dorsiaclub/internal/domain"
	"github.com/zkzoomer/dorsiaclub/internal/server/handler"
	"github.com/zkzoomer/dorsiaclub/internal/server/middleware"
	"github.com/zkzoomer/dorsiaclub/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// Rate limiting per client IP. Disabled when RateLimit is zero or no
	// limiter is provided.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Status   *handler.StatusHandler
	Cards    *handler.CardHandler
	Listings *handler.ListingHandler
	Oracle   *handler.OracleHandler
	Admin    *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server for the card registry.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. The oracle callback routes authenticate with their own
// HMAC scheme and bypass the API-key check.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health and status (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Status.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Card endpoints.
	mux.HandleFunc("POST /api/cards", handlers.Cards.Mint)
	mux.HandleFunc("GET /api/cards", handlers.Cards.ListByOwner)
	mux.HandleFunc("GET /api/cards/{id}", handlers.Cards.GetCard)
	mux.HandleFunc("GET /api/cards/{id}/uri", handlers.Cards.GetCardURI)
	mux.HandleFunc("PUT /api/cards/{id}", handlers.Cards.UpdateData)
	mux.HandleFunc("POST /api/cards/swap", handlers.Cards.SwapData)
	mux.HandleFunc("GET /api/names/{name}", handlers.Cards.CheckName)

	// Marketplace endpoints, addressed by card id.
	mux.HandleFunc("GET /api/listings", handlers.Listings.ListActive)
	mux.HandleFunc("POST /api/listings", handlers.Listings.CreateListing)
	mux.HandleFunc("GET /api/listings/card/{cardID}", handlers.Listings.GetLiveListing)
	mux.HandleFunc("GET /api/listings/address/{addr}", handlers.Listings.ListByAddress)
	mux.HandleFunc("DELETE /api/listings/{cardID}", handlers.Listings.CancelListing)
	mux.HandleFunc("POST /api/listings/{cardID}/buy", handlers.Listings.BuyListing)
	mux.HandleFunc("POST /api/listings/{cardID}/buy-and-update", handlers.Listings.BuyAndUpdate)

	// Oracle callbacks, HMAC-signed.
	mux.HandleFunc("POST /api/oracle/resolve", handlers.Oracle.ResolveUpdate)
	mux.HandleFunc("POST /api/oracle/resolve-swap", handlers.Oracle.ResolveSwap)

	// Operator endpoints.
	mux.HandleFunc("PUT /api/admin/sale", handlers.Admin.SetSaleActive)
	mux.HandleFunc("PUT /api/admin/marketplace", handlers.Admin.SetMarketplaceActive)
	mux.HandleFunc("PUT /api/admin/oracle-address", handlers.Admin.SetOracleAddress)
	mux.HandleFunc("PUT /api/admin/collaborator", handlers.Admin.SetCollaborator)
	mux.HandleFunc("PUT /api/admin/update-fee", handlers.Admin.SetUpdateFee)
	mux.HandleFunc("POST /api/admin/sweep", handlers.Admin.SweepFunds)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain. Auth skips the HMAC-authenticated oracle
	// routes and the unauthenticated health check.
	var h http.Handler = mux
	h = authExcept(cfg.APIKey, []string{"/api/health", "/api/status", "/api/oracle/"}, h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// authExcept applies API-key authentication to every route except those
// whose path matches one of the given prefixes.
func authExcept(apiKey string, skipPrefixes []string, next http.Handler) http.Handler {
	authed := middleware.Auth(apiKey)(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range skipPrefixes {
			if r.URL.Path == prefix || (prefix[len(prefix)-1] == '/' && len(r.URL.Path) >= len(prefix) && r.URL.Path[:len(prefix)] == prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}
		authed.ServeHTTP(w, r)
	})
}
