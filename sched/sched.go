// Package sched owns the rotating harvest schedule: one category per tick
// in a fixed order, with a busy flag preventing overlapping harvests.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"iscout-notifier/cache"
	"iscout-notifier/pkg/tracker"
)

// ErrBusy is returned when a manual refresh is requested while a harvest is
// already in flight.
var ErrBusy = errors.New("refresh already in progress")

// Harvester fetches point listings.
type Harvester interface {
	ScrapeOne(ctx context.Context, cat tracker.Category) ([]tracker.Point, error)
	ScrapeAll(ctx context.Context) (map[tracker.Category][]tracker.Point, error)
}

// Alerter fans out notifications after a category refresh.
type Alerter interface {
	SendAlerts(ctx context.Context, cat tracker.Category, newPoints, previousPoints []tracker.Point) (int, error)
}

// Status describes the rotation for display.
type Status struct {
	Current          string `json:"current"`  // category just completed
	Next             string `json:"next"`     // category scheduled next
	Sequence         string `json:"sequence"` // full rotation order
	SecondsUntilNext int    `json:"seconds_until_next"`
}

// Scheduler refreshes one category per tick, rotating through the fixed
// sequence. The rotation index advances only on a successful harvest, so a
// failing category is retried on the next tick.
type Scheduler struct {
	cache     *cache.Cache
	harvester Harvester
	alerter   Alerter
	logger    *slog.Logger
	interval  time.Duration
	sequence  [3]tracker.Category

	mu    sync.Mutex
	index int

	stop    chan struct{}
	done    chan struct{}
	started bool
}

// New creates a scheduler. It does not start ticking until Start is called.
func New(c *cache.Cache, harvester Harvester, alerter Alerter, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cache:     c,
		harvester: harvester,
		alerter:   alerter,
		logger:    logger,
		interval:  interval,
		sequence:  tracker.Rotation(),
	}
}

// Start performs an immediate full refresh to warm the cache, then ticks
// every interval. Calling Start twice is a logged no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.logger.Warn("Scheduler is already running")
		return
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("Starting scheduler",
		"interval", s.interval.String(),
		"sequence", s.sequenceDisplay())

	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	// Warm the cache before the first scheduled tick. The startup path
	// harvests all three categories and leaves the rotation index alone.
	if err := s.refreshAll(ctx); err != nil && !errors.Is(err, ErrBusy) {
		s.logger.Error("Initial full refresh failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stop:
			return
		}
	}
}

// Stop cancels the timer. A refresh already in flight runs to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stop)
	<-s.done
	s.logger.Info("Scheduler stopped")
}

// tick refreshes the category at the rotation index. A tick that finds a
// harvest in flight is skipped outright: no queueing, no backlog.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.cache.BeginUpdate() {
		s.logger.Info("Update already in progress, skipping tick")
		return
	}

	s.mu.Lock()
	step := s.index
	cat := s.sequence[step]
	s.mu.Unlock()

	s.logger.Info("Starting scheduled crawl",
		"step", fmt.Sprintf("%d/%d", step+1, len(s.sequence)),
		"category", cat)

	previous := s.cache.Get(cat)

	points, err := s.harvester.ScrapeOne(ctx, cat)
	if err != nil {
		// Index stays put so this category is retried next tick.
		s.logger.Error("Crawl failed", "category", cat, "error", err)
		s.cache.EndUpdate()
		return
	}

	s.cache.Set(cat, points)
	s.cache.SetNextUpdate(time.Now().Add(s.interval))

	s.logger.Info("Crawl completed",
		"category", cat,
		"points_found", len(points),
		"next_category", s.sequence[(step+1)%len(s.sequence)])

	if len(points) > 0 {
		sent, alertErr := s.alerter.SendAlerts(ctx, cat, points, previous)
		if alertErr != nil {
			s.logger.Warn("Alert pass aborted", "category", cat, "error", alertErr)
		}
		if sent > 0 {
			s.logger.Info("Alerts sent", "category", cat, "subscribers", sent)
		}
	}

	s.cache.EndUpdate()

	s.mu.Lock()
	s.index = (s.index + 1) % len(s.sequence)
	s.mu.Unlock()
}

// ForceRefresh harvests all three categories immediately, gated by the same
// busy flag as the tick path. When a refresh is already in flight it
// returns ErrBusy without touching the cache.
func (s *Scheduler) ForceRefresh(ctx context.Context) error {
	s.logger.Info("Force refresh requested")
	return s.refreshAll(ctx)
}

func (s *Scheduler) refreshAll(ctx context.Context) error {
	if !s.cache.BeginUpdate() {
		s.logger.Info("Update already in progress, skipping full refresh")
		return ErrBusy
	}

	s.logger.Info("Starting full crawl")

	data, err := s.harvester.ScrapeAll(ctx)
	if err != nil {
		// Stale data is preferred over no data: the cache is left alone.
		s.cache.EndUpdate()
		return fmt.Errorf("full crawl: %w", err)
	}

	s.cache.SetAll(data)

	s.logger.Info("Full crawl completed",
		"pyramid", len(data[tracker.Pyramid]),
		"barbarian", len(data[tracker.Barbarian]),
		"ares", len(data[tracker.Ares]))
	return nil
}

// Status reports the rotation for display. Seconds until the next tick is
// clamped at zero.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	idx := s.index
	s.mu.Unlock()

	prev := (idx - 1 + len(s.sequence)) % len(s.sequence)

	seconds := int(time.Until(s.cache.Metadata().NextUpdate).Seconds())
	if seconds < 0 {
		seconds = 0
	}

	return Status{
		Current:          strings.ToUpper(string(s.sequence[prev])),
		Next:             strings.ToUpper(string(s.sequence[idx])),
		Sequence:         s.sequenceDisplay(),
		SecondsUntilNext: seconds,
	}
}

func (s *Scheduler) sequenceDisplay() string {
	parts := make([]string, 0, len(s.sequence))
	for _, cat := range s.sequence {
		parts = append(parts, strings.ToUpper(string(cat)))
	}
	return strings.Join(parts, " → ")
}
