// Package api exposes the retrieval subsystem over a small JSON HTTP
// surface: retrieval queries, agent configuration reads and warming,
// cache invalidation and the metrics snapshot.
package api

import (
	"errors"
	"net/http"

	"github.com/clevio/clevio/internal/log"
	"github.com/clevio/clevio/internal/retrieval"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger log.Logger        // Optional: nil discards logs
	System *retrieval.System // Required
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.System == nil {
		return nil, errors.New("retrieval system is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	rh := &retrieveHandler{system: cfg.System, logger: logger}
	ch := &configHandler{system: cfg.System, logger: logger}
	mh := &metricsHandler{system: cfg.System}

	mux := http.NewServeMux()

	// Retrieval
	mux.HandleFunc("POST /api/v1/retrieve", rh.retrieve)
	mux.HandleFunc("POST /api/v1/collections/invalidate", rh.invalidate)

	// Agent configuration
	mux.HandleFunc("GET /api/v1/agents/{id}/config", ch.get)
	mux.HandleFunc("POST /api/v1/agents/{id}/config/warm", ch.warm)
	mux.HandleFunc("DELETE /api/v1/agents/{id}/config", ch.invalidate)
	mux.HandleFunc("POST /api/v1/agents/config/warm-all", ch.warmAll)

	// Metrics snapshot
	mux.HandleFunc("GET /api/v1/metrics", mh.get)
	mux.HandleFunc("POST /api/v1/metrics/reset", mh.reset)

	// Health probe outside the API prefix
	mux.HandleFunc("GET /health", health)

	return &Server{mux: mux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
