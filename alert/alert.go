// Package alert implements new-point detection, per-subscriber filtering,
// anti-spam suppression, and delivery of coordinate alerts.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"iscout-notifier/pkg/tracker"
	"iscout-notifier/rank"
)

const (
	// A candidate within this many units of a previously sent point, on
	// both axes independently, is considered a duplicate of that send.
	duplicateAxisThreshold = 10

	// Safety limit: max points rendered in a single alert message.
	maxPointsPerAlert = 10

	// Sent-alert records older than this are purged before each pass.
	sentRetention = 24 * time.Hour
)

// Store is the persistence the engine depends on.
type Store interface {
	ActiveSubscriptions(ctx context.Context, cat tracker.Category) ([]*tracker.Subscription, error)
	RecentSent(ctx context.Context, userID string, cat tracker.Category, level int) ([]tracker.SentAlert, error)
	RecordSent(ctx context.Context, userID string, cat tracker.Category, records []tracker.SentAlert) error
	PurgeSentBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Messenger delivers a composed alert to one subscriber.
type Messenger interface {
	SendAlert(ctx context.Context, userID string, msg *Message) error
}

// Candidate is a point headed for a subscriber, with a distance annotation
// when the subscriber's distance filter was applied.
type Candidate struct {
	tracker.Point
	Distance *float64
}

// Message is one composed alert payload. Points holds at most
// maxPointsPerAlert entries; Overflow counts the matches that didn't fit.
type Message struct {
	Category tracker.Category
	Points   []Candidate
	Overflow int
}

// Engine detects newly discovered points and fans alerts out to subscribers.
type Engine struct {
	store     Store
	messenger Messenger
	logger    *slog.Logger
}

// New creates a new alert engine.
func New(store Store, messenger Messenger, logger *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		messenger: messenger,
		logger:    logger,
	}
}

// SendAlerts compares a fresh snapshot against the immediately preceding one
// for a category, and delivers alerts for genuinely new points to every
// matching subscriber. It returns the count of subscribers notified.
//
// Delivery failures are isolated per subscriber; store failures abort the
// remaining work for this pass.
func (e *Engine) SendAlerts(ctx context.Context, cat tracker.Category, newPoints, previousPoints []tracker.Point) (int, error) {
	fresh := newlyDiscovered(newPoints, previousPoints)
	if len(fresh) == 0 {
		return 0, nil
	}
	e.logger.Info("New points discovered", "category", cat, "count", len(fresh))

	subs, err := e.store.ActiveSubscriptions(ctx, cat)
	if err != nil {
		return 0, fmt.Errorf("load subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}

	purged, err := e.store.PurgeSentBefore(ctx, time.Now().Add(-sentRetention))
	if err != nil {
		return 0, fmt.Errorf("purge sent records: %w", err)
	}
	if purged > 0 {
		e.logger.Info("Expired sent-alert records purged", "count", purged)
	}

	sent := 0
	for _, sub := range subs {
		candidates := filterForSubscriber(cat, fresh, sub)
		if len(candidates) == 0 {
			continue
		}

		candidates, err = e.withoutRecentDuplicates(ctx, sub.UserID, cat, candidates)
		if err != nil {
			return sent, fmt.Errorf("check sent records for %s: %w", sub.UserID, err)
		}
		if len(candidates) == 0 {
			continue
		}

		if cat.HasPower() {
			sort.SliceStable(candidates, func(i, j int) bool {
				return candidates[i].PowerValue() > candidates[j].PowerValue()
			})
		}

		rendered := candidates
		overflow := 0
		if len(rendered) > maxPointsPerAlert {
			overflow = len(rendered) - maxPointsPerAlert
			rendered = rendered[:maxPointsPerAlert]
		}

		msg := &Message{
			Category: cat,
			Points:   rendered,
			Overflow: overflow,
		}
		if err := e.messenger.SendAlert(ctx, sub.UserID, msg); err != nil {
			e.logger.Warn("Alert delivery failed",
				"user_id", sub.UserID,
				"category", cat,
				"error", err)
			continue
		}

		// Only rendered points get receipts: a later pass can still alert
		// on the overflow points independently.
		records := make([]tracker.SentAlert, 0, len(rendered))
		now := time.Now()
		for _, c := range rendered {
			records = append(records, tracker.SentAlert{
				UserID:   sub.UserID,
				Category: cat,
				Level:    c.Level,
				X:        c.X,
				Y:        c.Y,
				Power:    c.Power,
				SentAt:   now,
			})
		}
		if err := e.store.RecordSent(ctx, sub.UserID, cat, records); err != nil {
			return sent, fmt.Errorf("record sent alerts for %s: %w", sub.UserID, err)
		}

		sent++
		e.logger.Info("Alert delivered",
			"user_id", sub.UserID,
			"category", cat,
			"points", len(rendered),
			"overflow", overflow)
	}

	return sent, nil
}

// newlyDiscovered returns the points whose (x, y) pair is absent from the
// previous snapshot. A point whose power or alliance changed but whose
// coordinates did not is not new.
func newlyDiscovered(newPoints, previousPoints []tracker.Point) []tracker.Point {
	previous := make(map[[2]int]struct{}, len(previousPoints))
	for _, p := range previousPoints {
		previous[[2]int{p.X, p.Y}] = struct{}{}
	}

	var fresh []tracker.Point
	for _, p := range newPoints {
		if _, seen := previous[[2]int{p.X, p.Y}]; !seen {
			fresh = append(fresh, p)
		}
	}
	return fresh
}

// filterForSubscriber applies the subscriber's level, power, and distance
// filters. The power range applies only to the power-bearing category and
// only when both bounds are configured; the distance filter applies only
// when both a max distance and a saved position exist.
func filterForSubscriber(cat tracker.Category, points []tracker.Point, sub *tracker.Subscription) []Candidate {
	rule := sub.Rule
	var out []Candidate
	for _, p := range points {
		if rule.MinLevel != nil && p.Level < *rule.MinLevel {
			continue
		}

		if cat.HasPower() && rule.MinPower != nil && rule.MaxPower != nil {
			if p.Power == nil {
				continue
			}
			if *p.Power < *rule.MinPower || *p.Power > *rule.MaxPower {
				continue
			}
		}

		candidate := Candidate{Point: p}
		if rule.MaxDistance != nil && sub.Position != nil {
			d := rank.Distance(sub.Position.X, sub.Position.Y, p.X, p.Y)
			if d > *rule.MaxDistance {
				continue
			}
			rounded := math.Round(d)
			candidate.Distance = &rounded
		}

		out = append(out, candidate)
	}
	return out
}

// withoutRecentDuplicates drops candidates that sit within the anti-spam
// proximity of any recent send for the same user, category, and level.
func (e *Engine) withoutRecentDuplicates(ctx context.Context, userID string, cat tracker.Category, candidates []Candidate) ([]Candidate, error) {
	var kept []Candidate
	for _, c := range candidates {
		recent, err := e.store.RecentSent(ctx, userID, cat, c.Level)
		if err != nil {
			return nil, err
		}

		duplicate := false
		for _, rec := range recent {
			if abs(rec.X-c.X) <= duplicateAxisThreshold && abs(rec.Y-c.Y) <= duplicateAxisThreshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
