// Package api exposes the orchestrator's HTTP surface: run management,
// the per-run SSE event stream, and warm pool control.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/hochfrequenz/sandbox-orchestrator/internal/eventlog"
	"github.com/hochfrequenz/sandbox-orchestrator/internal/pool"
	"github.com/hochfrequenz/sandbox-orchestrator/internal/runner"
)

// Server is the HTTP API server
type Server struct {
	runs        *runner.Manager
	events      *eventlog.Log
	pool        *pool.Manager
	poolEnabled bool
	addr        string
	mux         *http.ServeMux
	logger      *log.Logger
}

// NewServer creates a new API server
func NewServer(runs *runner.Manager, events *eventlog.Log, poolMgr *pool.Manager, poolEnabled bool, addr string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		runs:        runs,
		events:      events,
		pool:        poolMgr,
		poolEnabled: poolEnabled,
		addr:        addr,
		mux:         http.NewServeMux(),
		logger:      logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/runs", s.runsHandler())
	s.mux.HandleFunc("/api/runs/", s.runHandler())
	s.mux.HandleFunc("/api/pool", s.poolHandler())
	s.mux.HandleFunc("/api/health", s.healthHandler())
}

// Handler returns the root handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("api server listening", "addr", s.addr)
	return http.ListenAndServe(s.addr, s.mux)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": message})
}
