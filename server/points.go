package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"iscout-notifier/pkg/tracker"
	"iscout-notifier/rank"
)

const maxCoordinate = 9999

var (
	errMissingCoordinate = errors.New("both x and y are required")
	errInvalidCoordinate = errors.New("coordinates must be between 0 and 9999")
)

// pointsResponse wraps one category's snapshot. Points holds either plain
// points or distance-ranked ones, depending on whether a position was given.
type pointsResponse struct {
	LastUpdate time.Time        `json:"last_update"`
	Category   tracker.Category `json:"category"`
	Points     any              `json:"points"`
	Count      int              `json:"count"`
	Updating   bool             `json:"updating"`
}

func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()

	cat := tracker.Category(q.Get("category"))
	if !cat.Valid() {
		http.Error(w, "Invalid or missing category", http.StatusBadRequest)
		return
	}

	pos, err := parsePosition(q.Get("x"), q.Get("y"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	minLevel := 0
	if raw := q.Get("level"); raw != "" {
		minLevel, err = strconv.Atoi(raw)
		if err != nil || minLevel < 1 || minLevel > 10 {
			http.Error(w, "Invalid level", http.StatusBadRequest)
			return
		}
	}

	points := s.cache.Get(cat)
	if minLevel > 0 {
		points = rank.FilterLevel(points, minLevel)
	}

	// Barbarians rank by power even without a position. For the other
	// categories ranking needs a reference point, so without one the
	// snapshot is returned as-is.
	var body any
	switch {
	case cat.HasPower():
		body = rank.ByPowerThenDistance(points, pos)
	case pos != nil && cat == tracker.Pyramid:
		body = rank.ByLevelThenDistance(points, pos.X, pos.Y)
	case pos != nil:
		body = rank.ByDistance(points, pos.X, pos.Y)
	default:
		body = points
	}

	meta := s.cache.Metadata()
	s.writeJSON(w, http.StatusOK, pointsResponse{
		Category:   cat,
		Count:      len(points),
		LastUpdate: meta.LastUpdate,
		Updating:   meta.Updating,
		Points:     body,
	})
}

// parsePosition parses the optional x/y query pair. Both must be present or
// both absent.
func parsePosition(rawX, rawY string) (*tracker.Position, error) {
	if rawX == "" && rawY == "" {
		return nil, nil
	}
	if rawX == "" || rawY == "" {
		return nil, errMissingCoordinate
	}

	x, err := strconv.Atoi(rawX)
	if err != nil {
		return nil, errInvalidCoordinate
	}
	y, err := strconv.Atoi(rawY)
	if err != nil {
		return nil, errInvalidCoordinate
	}
	if !validCoordinate(x) || !validCoordinate(y) {
		return nil, errInvalidCoordinate
	}

	return &tracker.Position{X: x, Y: y}, nil
}

func validCoordinate(v int) bool {
	return v >= 0 && v <= maxCoordinate
}
