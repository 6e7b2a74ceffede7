package server

import (
	"encoding/json"
	"net/http"
	"time"

	"iscout-notifier/pkg/tracker"
)

const maxBodySize = 64 * 1024

// positionRequest saves a user's map position.
type positionRequest struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req positionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if !validCoordinate(req.X) || !validCoordinate(req.Y) {
		http.Error(w, errInvalidCoordinate.Error(), http.StatusBadRequest)
		return
	}

	profile, err := s.loadOrCreateProfile(r, req.UserID, req.Username)
	if err != nil {
		s.logger.Error("Failed to load profile", "user_id", req.UserID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	profile.Position = &tracker.Position{X: req.X, Y: req.Y}
	profile.UpdatedAt = time.Now()
	if req.Username != "" {
		profile.Username = req.Username
	}

	if err := s.store.SaveProfile(r.Context(), profile); err != nil {
		s.logger.Error("Failed to save profile", "user_id", req.UserID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.logger.Info("Position saved", "user_id", req.UserID, "x", req.X, "y", req.Y)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// alertRequest creates or updates an alert rule. Filter fields are optional
// and replace the stored rule wholesale.
type alertRequest struct {
	UserID      string           `json:"user_id"`
	Username    string           `json:"username"`
	Category    tracker.Category `json:"category"`
	MinLevel    *int             `json:"min_level,omitempty"`
	MaxDistance *float64         `json:"max_distance,omitempty"`
	MinPower    *int64           `json:"min_power,omitempty"`
	MaxPower    *int64           `json:"max_power,omitempty"`
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleAlertUpsert(w, r)
	case http.MethodDelete:
		s.handleAlertDelete(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAlertUpsert(w http.ResponseWriter, r *http.Request) {
	var req alertRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if !req.Category.Valid() {
		http.Error(w, "Invalid or missing category", http.StatusBadRequest)
		return
	}
	if req.MinLevel != nil && (*req.MinLevel < 1 || *req.MinLevel > 10) {
		http.Error(w, "min_level must be between 1 and 10", http.StatusBadRequest)
		return
	}
	if req.MaxDistance != nil && *req.MaxDistance <= 0 {
		http.Error(w, "max_distance must be positive", http.StatusBadRequest)
		return
	}

	profile, err := s.loadOrCreateProfile(r, req.UserID, req.Username)
	if err != nil {
		s.logger.Error("Failed to load profile", "user_id", req.UserID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	rule := &tracker.AlertRule{
		Category:    req.Category,
		MinLevel:    req.MinLevel,
		MaxDistance: req.MaxDistance,
		MinPower:    req.MinPower,
		MaxPower:    req.MaxPower,
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if existing := profile.Rule(req.Category); existing != nil {
		rule.CreatedAt = existing.CreatedAt
	}

	if profile.Alerts == nil {
		profile.Alerts = make(map[tracker.Category]*tracker.AlertRule)
	}
	profile.Alerts[req.Category] = rule
	profile.UpdatedAt = now
	if req.Username != "" {
		profile.Username = req.Username
	}

	if err := s.store.SaveProfile(r.Context(), profile); err != nil {
		s.logger.Error("Failed to save profile", "user_id", req.UserID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.logger.Info("Alert rule saved", "user_id", req.UserID, "category", req.Category)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleAlertDelete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	userID := q.Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	cat := tracker.Category(q.Get("category"))
	if !cat.Valid() {
		http.Error(w, "Invalid or missing category", http.StatusBadRequest)
		return
	}

	profile, err := s.store.LoadProfile(r.Context(), userID)
	if err != nil {
		if s.isNotFound(err) {
			http.Error(w, "No alert rule found", http.StatusNotFound)
			return
		}
		s.logger.Error("Failed to load profile", "user_id", userID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if profile.Rule(cat) == nil {
		http.Error(w, "No alert rule found", http.StatusNotFound)
		return
	}

	delete(profile.Alerts, cat)
	profile.UpdatedAt = time.Now()

	if err := s.store.SaveProfile(r.Context(), profile); err != nil {
		s.logger.Error("Failed to save profile", "user_id", userID, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.logger.Info("Alert rule deleted", "user_id", userID, "category", cat)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// loadOrCreateProfile returns the stored profile, or a fresh one when the
// user has no state yet.
func (s *Server) loadOrCreateProfile(r *http.Request, userID, username string) (*tracker.Profile, error) {
	profile, err := s.store.LoadProfile(r.Context(), userID)
	if err == nil {
		return profile, nil
	}
	if !s.isNotFound(err) {
		return nil, err
	}
	now := time.Now()
	return &tracker.Profile{
		UserID:    userID,
		Username:  username,
		Alerts:    make(map[tracker.Category]*tracker.AlertRule),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}
