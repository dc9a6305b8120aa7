// Package server is the thin HTTP control layer over the trading bot.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/upbitbot/internal/server/handler"
	"github.com/alanyoungcy/upbitbot/internal/server/middleware"
	"github.com/alanyoungcy/upbitbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Hub and Metrics are optional.
type Handlers struct {
	Health   *handler.HealthHandler
	Auto     *handler.AutoHandler
	Accounts *handler.AccountHandler
	Hub      *ws.Hub
	Metrics  http.Handler
}

const (
	pathHealth  = "/api/health"
	pathMetrics = "/metrics"
)

// Server is the HTTP control API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, logging, auth).
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check and metrics (no auth required).
	mux.HandleFunc("GET "+pathHealth, handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		mux.Handle("GET "+pathMetrics, handlers.Metrics)
	}

	// Auto-trading lifecycle.
	mux.HandleFunc("POST /api/upbit/auto/start", handlers.Auto.Start)
	mux.HandleFunc("POST /api/upbit/auto/stop", handlers.Auto.Stop)
	mux.HandleFunc("GET /api/upbit/auto/status", handlers.Auto.Status)

	// Live data.
	mux.HandleFunc("GET /api/upbit/prices", handlers.Auto.Prices)
	mux.HandleFunc("GET /api/upbit/notifications", handlers.Auto.Notifications)
	if handlers.Hub != nil {
		mux.HandleFunc("GET /api/upbit/ws", handlers.Hub.HandleWS)
	}

	// Account and manual orders.
	mux.HandleFunc("GET /api/upbit/accounts", handlers.Accounts.ListAccounts)
	mux.HandleFunc("POST /api/upbit/orders", handlers.Accounts.PlaceOrders)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, pathHealth, pathMetrics)(h)
	h = middleware.Logging(logger, pathHealth, pathMetrics)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Run serves until ctx is cancelled, then shuts down gracefully within 10s.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
