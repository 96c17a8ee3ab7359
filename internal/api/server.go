// Package api provides the HTTP surface: the streaming chat endpoint,
// history hydration, title generation, and health probes, behind a
// recovery/request-id/logging/CORS/rate-limit middleware stack.
package api

import (
	"errors"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/harshtiwari/haral/internal/chat"
	"github.com/harshtiwari/haral/internal/log"
)

// ServerConfig wires a Server.
type ServerConfig struct {
	Service *chat.Service
	Logger  log.Logger

	CORSOrigins []string
	RateRPS     rate.Limit
	RateBurst   int
	TrustProxy  bool
}

// Server is the HTTP front of the assistant.
type Server struct {
	handler http.Handler
}

// NewServer creates a server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Service == nil {
		return nil, errors.New("chat service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.RateRPS <= 0 {
		cfg.RateRPS = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 30
	}

	mux := http.NewServeMux()

	chatHandler := NewChat(cfg.Service, cfg.Logger)
	mux.HandleFunc("POST /api/chat/stream", chatHandler.Stream)
	mux.HandleFunc("POST /api/chat/hydrate-history", chatHandler.Hydrate)
	mux.HandleFunc("POST /api/chat/generate-title", chatHandler.Title)
	mux.HandleFunc("GET /health", Health)

	// Compose once: recovery catches panics from every layer below,
	// rate limiting runs last so rejected requests are still logged.
	var handler http.Handler = mux
	handler = RateLimitMiddleware(cfg.RateRPS, cfg.RateBurst, cfg.TrustProxy)(handler)
	handler = CORSMiddleware(cfg.CORSOrigins)(handler)
	handler = LoggingMiddleware(cfg.Logger)(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(cfg.Logger)(handler)

	return &Server{handler: handler}, nil
}

// ServeHTTP dispatches through the middleware stack.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
