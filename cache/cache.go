// Package cache holds the latest harvested point list per category plus
// freshness metadata. Snapshots are wholesale-replaced, never merged, so
// concurrent readers never observe a partially written list.
package cache

import (
	"sync"
	"time"

	"iscout-notifier/pkg/tracker"
)

// Metadata is a point-in-time copy of the cache's freshness state.
type Metadata struct {
	LastUpdate time.Time
	NextUpdate time.Time
	Updating   bool
}

// Cache is the authoritative in-memory store for current known points.
type Cache struct {
	mu         sync.Mutex
	points     map[tracker.Category][]tracker.Point
	lastUpdate time.Time
	nextUpdate time.Time
	updating   bool
	interval   time.Duration
}

// New creates an empty cache whose freshness window is interval.
func New(interval time.Duration) *Cache {
	return &Cache{
		points:   make(map[tracker.Category][]tracker.Point),
		interval: interval,
	}
}

// Get returns the current snapshot for a category. The returned slice is
// shared with the cache and must be treated as read-only; writes replace the
// slice wholesale rather than mutating it.
func (c *Cache) Get(cat tracker.Category) []tracker.Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.points[cat]
}

// Set replaces one category's snapshot and stamps the last update time.
func (c *Cache) Set(cat tracker.Category, points []tracker.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points[cat] = points
	c.lastUpdate = time.Now()
}

// SetAll replaces every category's snapshot, stamps the last update time,
// projects the next update, and clears the busy flag.
func (c *Cache) SetAll(data map[tracker.Category][]tracker.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cat := range tracker.Rotation() {
		c.points[cat] = data[cat]
	}
	now := time.Now()
	c.lastUpdate = now
	c.nextUpdate = now.Add(c.interval)
	c.updating = false
}

// BeginUpdate attempts to claim the busy flag. It returns false when a
// harvest is already in flight; the check and set are a single atomic step
// so ticks and manual refreshes can never overlap.
func (c *Cache) BeginUpdate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updating {
		return false
	}
	c.updating = true
	return true
}

// EndUpdate clears the busy flag.
func (c *Cache) EndUpdate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updating = false
}

// IsUpdating reports whether a harvest is in flight.
func (c *Cache) IsUpdating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updating
}

// SetNextUpdate stores the projected time of the next scheduled refresh.
func (c *Cache) SetNextUpdate(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextUpdate = t
}

// Metadata returns a copy of the freshness metadata.
func (c *Cache) Metadata() Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Metadata{
		LastUpdate: c.lastUpdate,
		NextUpdate: c.nextUpdate,
		Updating:   c.updating,
	}
}

// IsValid reports whether the last successful write is within the freshness
// window.
func (c *Cache) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastUpdate) < c.interval
}

// HasData reports whether any category holds at least one point.
func (c *Cache) HasData() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pts := range c.points {
		if len(pts) > 0 {
			return true
		}
	}
	return false
}

// Clear resets all snapshots and zeroes the last update time to the epoch,
// forcing IsValid to report false.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points = make(map[tracker.Category][]tracker.Point)
	c.lastUpdate = time.Time{}
}
