// Package rank provides pure ranking and filtering utilities over point
// collections. All sorts are stable so equal keys keep their input order.
package rank

import (
	"math"
	"sort"

	"iscout-notifier/pkg/tracker"
)

// Ranked is a point annotated with its distance from a reference position.
type Ranked struct {
	tracker.Point
	Distance float64 `json:"distance"`
}

// Distance computes the Euclidean distance between two map positions.
func Distance(x1, y1, x2, y2 int) float64 {
	dx := float64(x2 - x1)
	dy := float64(y2 - y1)
	return math.Sqrt(dx*dx + dy*dy)
}

// ByDistance annotates each point with its distance from (x, y) and sorts
// ascending by distance.
func ByDistance(points []tracker.Point, x, y int) []Ranked {
	ranked := annotate(points, x, y)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Distance < ranked[j].Distance
	})
	return ranked
}

// ByLevelThenDistance sorts level descending, then distance from (x, y)
// ascending. Used for pyramids, where higher levels are strictly preferred
// and distance only breaks ties within a level.
func ByLevelThenDistance(points []tracker.Point, x, y int) []Ranked {
	ranked := annotate(points, x, y)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Level != ranked[j].Level {
			return ranked[i].Level > ranked[j].Level
		}
		return ranked[i].Distance < ranked[j].Distance
	})
	return ranked
}

// ByPowerThenDistance sorts power descending (points without power sort
// last), then distance ascending. When pos is nil the distance key is
// omitted and the sort is power-only.
func ByPowerThenDistance(points []tracker.Point, pos *tracker.Position) []Ranked {
	var ranked []Ranked
	if pos != nil {
		ranked = annotate(points, pos.X, pos.Y)
	} else {
		ranked = annotate(points, 0, 0)
		for i := range ranked {
			ranked[i].Distance = 0
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		pi, pj := ranked[i].PowerValue(), ranked[j].PowerValue()
		if pi != pj {
			return pi > pj
		}
		if pos == nil {
			return false
		}
		return ranked[i].Distance < ranked[j].Distance
	})
	return ranked
}

// FilterLevel returns the points whose level is at least minLevel.
func FilterLevel(points []tracker.Point, minLevel int) []tracker.Point {
	var out []tracker.Point
	for _, p := range points {
		if p.Level >= minLevel {
			out = append(out, p)
		}
	}
	return out
}

func annotate(points []tracker.Point, x, y int) []Ranked {
	ranked := make([]Ranked, 0, len(points))
	for _, p := range points {
		ranked = append(ranked, Ranked{
			Point:    p,
			Distance: Distance(x, y, p.X, p.Y),
		})
	}
	return ranked
}
