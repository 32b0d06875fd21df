// Package server exposes the HTTP and websocket API of the service.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/inago/internal/server/handler"
	"github.com/alanyoungcy/inago/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	APIKey       string // if empty, authentication is disabled
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Handlers aggregates the handlers the server registers. Markets, Simulator,
// Feed and WS are nil when their mode is not running.
type Handlers struct {
	Health    *handler.HealthHandler
	Markets   *handler.MarketHandler
	Simulator *handler.SimulatorHandler
	Feed      *handler.FeedHandler
	WS        http.HandlerFunc
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain
// (CORS, logging, auth).
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, logger),
		ReadTimeout:  orDefault(cfg.ReadTimeout, 15*time.Second),
		WriteTimeout: orDefault(cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:  orDefault(cfg.IdleTimeout, 60*time.Second),
	}

	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	if handlers.Markets != nil {
		mux.HandleFunc("GET /api/contracts", handlers.Markets.ListContracts)
		mux.HandleFunc("GET /api/quotes", handlers.Markets.ListQuotes)
		mux.HandleFunc("GET /api/quotes/{id}", handlers.Markets.GetQuote)
	}

	if handlers.Simulator != nil {
		mux.HandleFunc("GET /api/simulator", handlers.Simulator.GetStatus)
		mux.HandleFunc("POST /api/simulator/reset", handlers.Simulator.PostReset)
		mux.HandleFunc("GET /api/simulator/consumers/{id}", handlers.Simulator.GetConsumerLatest)
	}

	if handlers.Feed != nil {
		mux.HandleFunc("GET /api/feed/status", handlers.Feed.GetStatus)
		mux.HandleFunc("GET /api/feed/series", handlers.Feed.GetSeries)
		mux.HandleFunc("PUT /api/feed/selection", handlers.Feed.PutSelection)
		mux.HandleFunc("PUT /api/feed/subscriptions/{id}", handlers.Feed.PutSubscription)
		mux.HandleFunc("DELETE /api/feed/subscriptions/{id}", handlers.Feed.DeleteSubscription)
		mux.HandleFunc("GET /api/feed/quotes", handlers.Feed.ListQuotes)
		mux.HandleFunc("GET /api/feed/quotes/{id}", handlers.Feed.GetQuote)
		mux.HandleFunc("GET /api/feed/audit", handlers.Feed.ListAudit)
	}

	if handlers.WS != nil {
		mux.HandleFunc("GET /ws", handlers.WS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
