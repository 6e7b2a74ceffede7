// Package tracker contains the core domain types for the iScout coordinate
// notification service.
package tracker

import "time"

// Category identifies one of the three tracked point kinds.
type Category string

const (
	Pyramid   Category = "pyramid"
	Barbarian Category = "barbarian"
	Ares      Category = "ares"
)

// Rotation returns the fixed crawl order: pyramid → barbarian → ares.
func Rotation() [3]Category {
	return [3]Category{Pyramid, Barbarian, Ares}
}

// Valid reports whether c is one of the three known categories.
func (c Category) Valid() bool {
	switch c {
	case Pyramid, Barbarian, Ares:
		return true
	}
	return false
}

// HasPower reports whether points of this category carry a power metric.
// Only barbarian camps do.
func (c Category) HasPower() bool {
	return c == Barbarian
}

// Point is one harvested map item. Identity for deduplication is the (X, Y)
// pair within one category's snapshot, not a global key.
type Point struct {
	X         int       `json:"x"`
	Y         int       `json:"y"`
	Level     int       `json:"level"`
	Power     *int64    `json:"power,omitempty"`    // present only for barbarian
	Alliance  string    `json:"alliance,omitempty"` // occupying alliance, if any
	Timestamp time.Time `json:"timestamp"`
}

// PowerValue returns the power metric, or 0 when absent.
func (p *Point) PowerValue() int64 {
	if p.Power == nil {
		return 0
	}
	return *p.Power
}

// Position is a user's saved map position.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// AlertRule is a user's standing alert filter for one category. Nil fields
// mean "not configured": a nil MinLevel disables the level filter, a nil
// MaxDistance disables the distance filter, and the power range applies only
// when both bounds are set.
type AlertRule struct {
	Category    Category  `json:"category"`
	MinLevel    *int      `json:"min_level,omitempty"`
	MaxDistance *float64  `json:"max_distance,omitempty"`
	MinPower    *int64    `json:"min_power,omitempty"`
	MaxPower    *int64    `json:"max_power,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Profile is one user's stored state: identity, optional saved position, and
// alert rules keyed by category.
type Profile struct {
	Alerts    map[Category]*AlertRule `json:"alerts"`
	UserID    string                  `json:"user_id"`  // chat platform user ID
	Username  string                  `json:"username"` // display name at last update
	Position  *Position               `json:"position,omitempty"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// Rule returns the profile's alert rule for a category, or nil.
func (p *Profile) Rule(c Category) *AlertRule {
	if p.Alerts == nil {
		return nil
	}
	return p.Alerts[c]
}

// Subscription joins an enabled alert rule with its owner, as consumed by
// the notification engine.
type Subscription struct {
	UserID   string
	Username string
	Position *Position // nil when the user never saved one
	Rule     *AlertRule
}

// SentAlert is a receipt of a previously delivered alert point, used to
// suppress near-duplicate future alerts. Records expire after 24 hours.
type SentAlert struct {
	UserID   string    `json:"user_id"`
	Category Category  `json:"category"`
	Level    int       `json:"level"`
	X        int       `json:"x"`
	Y        int       `json:"y"`
	Power    *int64    `json:"power,omitempty"` // power at send time
	SentAt   time.Time `json:"sent_at"`
}
