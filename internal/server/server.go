// Package server exposes the ledger over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/polystakes/internal/domain"
	"github.com/alanyoungcy/polystakes/internal/server/handler"
	"github.com/alanyoungcy/polystakes/internal/server/middleware"
	"github.com/alanyoungcy/polystakes/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards the operator routes; empty disables them.
	APIKey      string
	RateLimit   int
	TxRateLimit int
	RateWindow  time.Duration
	Signatures  middleware.SignatureConfig
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Chain    *handler.ChainHandler
	Tx       *handler.TxHandler
	Audit    *handler.AuditHandler
	Receipts *handler.ReceiptHandler
	// Archive is nil when no archive is configured.
	Archive *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API of a ledger node.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on a ServeMux and
// wraps it in the logging, CORS and rate-limit middleware.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, wsHub, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed and wrapped http.Handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Market reads.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/stakes/{principal}", handlers.Markets.GetStake)
	mux.HandleFunc("GET /api/markets/{id}/claims/{principal}", handlers.Markets.GetClaim)
	mux.HandleFunc("GET /api/markets/{id}/settlement", handlers.Markets.GetSettlement)

	// Chain and account reads.
	mux.HandleFunc("GET /api/chain", handlers.Chain.Status)
	mux.HandleFunc("GET /api/admin", handlers.Chain.GetAdmin)
	mux.HandleFunc("GET /api/balances/{principal}", handlers.Chain.GetBalance)
	mux.HandleFunc("GET /api/accounts/{principal}/stakes", handlers.Chain.ListAccountStakes)

	// Transactions, authenticated per call.
	sig := middleware.Signature(cfg.Signatures)
	mux.Handle("POST /api/tx/{function}", sig(http.HandlerFunc(handlers.Tx.Submit)))

	// Operator routes.
	operator := middleware.Auth(cfg.APIKey)
	mux.Handle("POST /api/chain/mine", operator(http.HandlerFunc(handlers.Chain.Mine)))
	mux.Handle("POST /api/faucet", operator(http.HandlerFunc(handlers.Chain.Faucet)))
	if handlers.Receipts != nil {
		mux.HandleFunc("GET /api/receipts", handlers.Receipts.List)
	}
	if handlers.Audit != nil {
		mux.Handle("GET /api/audit", operator(http.HandlerFunc(handlers.Audit.List)))
	}
	if handlers.Archive != nil {
		mux.Handle("GET /api/archive", operator(http.HandlerFunc(handlers.Archive.Index)))
		mux.Handle("GET /api/archive/settlements/{id}", operator(http.HandlerFunc(handlers.Archive.Settlement)))
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, middleware.RateLimitConfig{
		Limit:   cfg.RateLimit,
		TxLimit: cfg.TxRateLimit,
		Window:  cfg.RateWindow,
	}, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
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
