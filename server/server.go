// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"iscout-notifier/cache"
	"iscout-notifier/pkg/tracker"
	"iscout-notifier/sched"
)

// Refresher triggers and reports on the crawl rotation.
type Refresher interface {
	ForceRefresh(ctx context.Context) error
	Status() sched.Status
}

// Store interface for profile management.
type Store interface {
	LoadProfile(ctx context.Context, userID string) (*tracker.Profile, error)
	SaveProfile(ctx context.Context, profile *tracker.Profile) error
}

// IsNotFound checks if an error is a not found error.
type IsNotFound func(error) bool

// Server handles HTTP requests.
type Server struct {
	cache      *cache.Cache
	refresher  Refresher
	store      Store
	logger     *slog.Logger
	isNotFound IsNotFound
}

// Config holds server configuration.
type Config struct {
	Cache      *cache.Cache
	Refresher  Refresher
	Store      Store
	Logger     *slog.Logger
	IsNotFound IsNotFound
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		cache:      cfg.Cache,
		refresher:  cfg.Refresher,
		store:      cfg.Store,
		isNotFound: cfg.IsNotFound,
		logger:     cfg.Logger,
	}
}

// Handler returns the route table as a handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/points", s.handlePoints)
	mux.HandleFunc("/refresh", s.handleRefresh)
	mux.HandleFunc("/position", s.handlePosition)
	mux.HandleFunc("/alerts", s.handleAlerts)
	return mux
}

// ListenAndServe starts the server on the given port.
func (s *Server) ListenAndServe(port string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,  // Time to read request headers and body
		WriteTimeout:      30 * time.Second,  // Time to write response
		IdleTimeout:       120 * time.Second, // Time to keep connection alive between requests
		ReadHeaderTimeout: 5 * time.Second,   // Time to read request headers only
	}

	s.logger.Info("Starting HTTP server", "port", port)
	return server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
		return
	}
}

// statusResponse mirrors the rotation status shown to operators.
type statusResponse struct {
	LastUpdate time.Time    `json:"last_update"`
	NextUpdate time.Time    `json:"next_update"`
	Rotation   sched.Status `json:"rotation"`
	Updating   bool         `json:"updating"`
	HasData    bool         `json:"has_data"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	meta := s.cache.Metadata()
	s.writeJSON(w, http.StatusOK, statusResponse{
		Rotation:   s.refresher.Status(),
		LastUpdate: meta.LastUpdate,
		NextUpdate: meta.NextUpdate,
		Updating:   meta.Updating,
		HasData:    s.cache.HasData(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Refresh endpoint triggered")

	if err := s.refresher.ForceRefresh(r.Context()); err != nil {
		if errors.Is(err, sched.ErrBusy) {
			s.writeJSON(w, http.StatusConflict, map[string]string{
				"status":  "busy",
				"message": "A refresh is already in progress",
			})
			return
		}
		s.logger.Error("Force refresh failed", "error", err)
		http.Error(w, "Refresh failed", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
