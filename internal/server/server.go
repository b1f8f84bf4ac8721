// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jeranaias/apidesk/internal/logging"
	"github.com/jeranaias/apidesk/internal/session"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// Version is reported by /health and the version command.
	Version = "1.0.0"

	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = "127.0.0.1:8787"

	// MaxBodyBytes caps request bodies.
	MaxBodyBytes = 1 << 20
)

// ============================================================================
// SERVER
// ============================================================================

// Config configures the view API server.
type Config struct {
	Addr              string
	AuthToken         string
	CORSOrigins       []string
	RequestsPerSecond float64
	Burst             int
}

// Server exposes session controllers over HTTP, SSE and WebSocket.
type Server struct {
	cfg      Config
	sessions *session.Manager
	logger   zerolog.Logger
	mux      *http.ServeMux
	limiter  *RateLimiter
	cors     *CORSConfig
	auth     *AuthConfig
	upgrader websocket.Upgrader
	started  time.Time

	mu     sync.Mutex
	server *http.Server
}

// New creates a Server over the given session manager.
func New(cfg Config, sessions *session.Manager, logger zerolog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		logger:   logging.Component(logger, "server"),
		mux:      http.NewServeMux(),
		limiter:  NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		cors:     DefaultCORSConfig(),
		auth:     DefaultAuthConfig(),
		started:  time.Now(),
	}
	if cfg.CORSOrigins != nil {
		s.cors.AllowedOrigins = cfg.CORSOrigins
	}
	if cfg.AuthToken != "" {
		s.auth.Enabled = true
		s.auth.BearerToken = cfg.AuthToken
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.setupRoutes()
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.cfg.Addr
}

// SetRateLimit changes inbound throttling without a restart.
func (s *Server) SetRateLimit(rps float64, burst int) {
	s.limiter.SetLimit(rps, burst)
	s.logger.Info().Float64("rps", rps).Int("burst", burst).Msg("RATE_LIMIT_UPDATED")
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleEndSession)

	s.mux.HandleFunc("GET /v1/sessions/{id}/credentials", s.handleListCredentials)
	s.mux.HandleFunc("PUT /v1/sessions/{id}/credentials/{provider}", s.handleSetCredential)
	s.mux.HandleFunc("DELETE /v1/sessions/{id}/credentials/{provider}", s.handleClearCredential)
	s.mux.HandleFunc("DELETE /v1/sessions/{id}/credentials", s.handleClearCredentials)

	s.mux.HandleFunc("POST /v1/sessions/{id}/chat", s.handleChat)
	s.mux.HandleFunc("DELETE /v1/sessions/{id}/chat", s.handleClearChat)
	s.mux.HandleFunc("POST /v1/sessions/{id}/images", s.handleImage)
	s.mux.HandleFunc("GET /v1/sessions/{id}/images/download", s.handleImageDownload)
	s.mux.HandleFunc("POST /v1/sessions/{id}/videos", s.handleVideos)
	s.mux.HandleFunc("GET /v1/sessions/{id}/videos/download", s.handleVideoDownload)
	s.mux.HandleFunc("POST /v1/sessions/{id}/news", s.handleNews)
	s.mux.HandleFunc("POST /v1/sessions/{id}/quotes/stocks", s.handleStocks)
	s.mux.HandleFunc("POST /v1/sessions/{id}/quotes/crypto", s.handleCrypto)

	s.mux.HandleFunc("GET /v1/sessions/{id}/ws", s.handleWebSocket)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		CORSMiddleware(s.cors),
		LoggingMiddleware(s.logger),
		RateLimitMiddleware(s.limiter, s.logger),
		AuthMiddleware(s.auth, s.logger),
	)(s.mux)
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Sessions      int    `json:"sessions"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Version:       Version,
		Sessions:      s.sessions.Count(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Str("version", Version).Bool("auth", s.auth.Enabled).Msg("SERVER_START")
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and closes
// every session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	s.logger.Info().Int("sessions", s.sessions.Count()).Msg("SERVER_SHUTDOWN")
	defer s.limiter.Close()
	defer s.sessions.Shutdown()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
