package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cyderes/tweet-ingest/internal/config"
	"github.com/cyderes/tweet-ingest/internal/storage"
)

// Server exposes health, checkpoint and metrics endpoints while a run is in progress
type Server struct {
	config  config.ServerConfig
	ledger  storage.Ledger
	metrics http.Handler
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, ledger storage.Ledger, metrics http.Handler, logger *zap.Logger) *Server {
	s := &Server{
		config:  cfg,
		ledger:  ledger,
		metrics: metrics,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/checkpoints", s.handleCheckpoints)
	mux.HandleFunc("/checkpoints/", s.handleCheckpoint)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s
}

func (s *Server) handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.Int("port", s.config.Port))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleCheckpoints lists every processed file
func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := s.ledger.List(r.Context())
	if err != nil {
		s.logger.Error("Failed to list checkpoints", zap.Error(err))
		http.Error(w, fmt.Sprintf("Failed to retrieve checkpoints: %v", err), http.StatusInternalServerError)
		return
	}

	var tweets, errs int64
	for _, rec := range records {
		tweets += rec.Stats.TotalTweets
		errs += rec.Stats.Errors
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"checkpoints": records,
		"count":       len(records),
		"tweets":      tweets,
		"errors":      errs,
	})
}

// handleCheckpoint reports whether a single file has been processed
func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/checkpoints/")
	if filename == "" || strings.Contains(filename, "/") {
		http.Error(w, "Invalid file name", http.StatusBadRequest)
		return
	}

	done, err := s.ledger.IsProcessed(r.Context(), filename)
	if err != nil {
		s.logger.Error("Failed to look up checkpoint", zap.String("file", filename), zap.Error(err))
		http.Error(w, fmt.Sprintf("Failed to retrieve checkpoint: %v", err), http.StatusInternalServerError)
		return
	}
	if !done {
		http.Error(w, "Checkpoint not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"filename":  filename,
		"processed": true,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
