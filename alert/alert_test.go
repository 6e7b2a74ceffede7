package alert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"iscout-notifier/pkg/tracker"
)

type fakeStore struct {
	subs      []*tracker.Subscription
	subsErr   error
	sent      map[string][]tracker.SentAlert // keyed by userID
	recentErr error
	recordErr error
	purgeErr  error
	purged    bool
}

func newFakeStore(subs ...*tracker.Subscription) *fakeStore {
	return &fakeStore{subs: subs, sent: make(map[string][]tracker.SentAlert)}
}

func (f *fakeStore) ActiveSubscriptions(_ context.Context, _ tracker.Category) ([]*tracker.Subscription, error) {
	return f.subs, f.subsErr
}

func (f *fakeStore) RecentSent(_ context.Context, userID string, cat tracker.Category, level int) ([]tracker.SentAlert, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	var out []tracker.SentAlert
	for _, rec := range f.sent[userID] {
		if rec.Category == cat && rec.Level == level {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeStore) RecordSent(_ context.Context, userID string, _ tracker.Category, records []tracker.SentAlert) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.sent[userID] = append(f.sent[userID], records...)
	return nil
}

func (f *fakeStore) PurgeSentBefore(_ context.Context, _ time.Time) (int, error) {
	f.purged = true
	return 0, f.purgeErr
}

type delivery struct {
	userID string
	msg    *Message
}

type fakeMessenger struct {
	deliveries []delivery
	failFor    map[string]bool
}

func (f *fakeMessenger) SendAlert(_ context.Context, userID string, msg *Message) error {
	if f.failFor[userID] {
		return errors.New("recipient unreachable")
	}
	f.deliveries = append(f.deliveries, delivery{userID: userID, msg: msg})
	return nil
}

func testEngine(store Store, messenger Messenger) *Engine {
	return New(store, messenger, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func sub(userID string, rule *tracker.AlertRule, pos *tracker.Position) *tracker.Subscription {
	if rule == nil {
		rule = &tracker.AlertRule{Category: tracker.Pyramid, Enabled: true}
	}
	return &tracker.Subscription{UserID: userID, Username: "player-" + userID, Position: pos, Rule: rule}
}

func pt(x, y, level int) tracker.Point {
	return tracker.Point{X: x, Y: y, Level: level, Timestamp: time.Now()}
}

func powerPt(x, y, level int, power int64) tracker.Point {
	p := pt(x, y, level)
	p.Power = &power
	return p
}

func intp(v int) *int { return &v }

func int64p(v int64) *int64 { return &v }

func floatp(v float64) *float64 { return &v }

func TestSendAlertsDetectsNewPoints(t *testing.T) {
	store := newFakeStore(sub("100", nil, nil))
	messenger := &fakeMessenger{}
	engine := testEngine(store, messenger)

	previous := []tracker.Point{pt(100, 100, 5)}
	fresh := []tracker.Point{pt(100, 100, 5), pt(500, 500, 7)}

	sent, err := engine.SendAlerts(context.Background(), tracker.Pyramid, fresh, previous)
	if err != nil {
		t.Fatalf("SendAlerts failed: %v", err)
	}
	if sent != 1 {
		t.Errorf("expected 1 subscriber notified, got %d", sent)
	}
	if len(messenger.deliveries) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(messenger.deliveries))
	}
	points := messenger.deliveries[0].msg.Points
	if len(points) != 1 || points[0].X != 500 {
		t.Errorf("delivery should contain only the new point, got %v", points)
	}
	if !store.purged {
		t.Error("expired sent records should be purged before delivery")
	}
	if len(store.sent["100"]) != 1 {
		t.Errorf("expected 1 sent record, got %d", len(store.sent["100"]))
	}
}

func TestSendAlertsNoNewPoints(t *testing.T) {
	store := newFakeStore(sub("100", nil, nil))
	messenger := &fakeMessenger{}
	engine := testEngine(store, messenger)

	// Same coordinates with changed power are not new.
	previous := []tracker.Point{powerPt(100, 100, 6, 500_000_000)}
	fresh := []tracker.Point{powerPt(100, 100, 6, 900_000_000)}

	sent, err := engine.SendAlerts(context.Background(), tracker.Barbarian, fresh, previous)
	if err != nil {
		t.Fatalf("SendAlerts failed: %v", err)
	}
	if sent != 0 || len(messenger.deliveries) != 0 {
		t.Errorf("unchanged coordinates should produce no alerts, sent=%d deliveries=%d", sent, len(messenger.deliveries))
	}
	if store.purged {
		t.Error("pass with no new points should not touch the store")
	}
}

func TestSendAlertsLevelFilter(t *testing.T) {
	rule := &tracker.AlertRule{Category: tracker.Pyramid, MinLevel: intp(5), Enabled: true}
	store := newFakeStore(sub("100", rule, nil))
	messenger := &fakeMessenger{}
	engine := testEngine(store, messenger)

	fresh := []tracker.Point{pt(10, 10, 3), pt(20, 20, 5)}

	sent, err := engine.SendAlerts(context.Background(), tracker.Pyramid, fresh, nil)
	if err != nil {
		t.Fatalf("SendAlerts failed: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 subscriber notified, got %d", sent)
	}
	points := messenger.deliveries[0].msg.Points
	if len(points) != 1 || points[0].Level != 5 {
		t.Errorf("level filter should drop lv3, got %v", points)
	}
}

func TestSendAlertsPowerRangeFilter(t *testing.T) {
	rule := &tracker.AlertRule{
		Category: tracker.Barbarian,
		MinPower: int64p(100_000_000),
		MaxPower: int64p(1_000_000_000),
		Enabled:  true,
	}
	store := newFakeStore(sub("100", rule, nil))
	messenger := &fakeMessenger{}
	engine := testEngine(store, messenger)

	fresh := []tracker.Point{
		powerPt(10, 10, 5, 50_000_000),    // below range
		powerPt(20, 20, 6, 500_000_000),   // in range
		powerPt(30, 30, 7, 2_000_000_000), // above range
		pt(40, 40, 6),                     // no power reading, excluded
	}

	sent, err := engine.SendAlerts(context.Background(), tracker.Barbarian, fresh, nil)
	if err != nil {
		t.Fatalf("SendAlerts failed: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 subscriber notified, got %d", sent)
	}
	points := messenger.deliveries[0].msg.Points
	if len(points) != 1 || points[0].X != 20 {
		t.Errorf("power range should keep only the in-range camp, got %v", points)
	}
}

func TestSendAlertsDistanceFilter(t *testing.T) {
	rule := &tracker.AlertRule{Category: tracker.Pyramid, MaxDistance: floatp(100), Enabled: true}
	pos := &tracker.Position{X: 100, Y: 100}
	store := newFakeStore(sub("100", rule, pos))
	messenger := &fakeMessenger{}
	engine := testEngine(store, messenger)

	fresh := []tracker.Point{
		pt(150, 100, 5), // distance 50
		pt(900, 900, 5), // far away
	}

	sent, err := engine.SendAlerts(context.Background(), tracker.Pyramid, fresh, nil)
	if err != nil {
		t.Fatalf("SendAlerts failed: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 subscriber notified, got %d", sent)
	}
	points := messenger.deliveries[0].msg.Points
	if len(points) != 1 || points[0].X != 150 {
		t.Errorf("distance filter should drop the far point, got %v", points)
	}
	if points[0].Distance == nil || *points[0].Distance != 50 {
		t.Errorf("candidate should carry the rounded distance, got %v", points[0].Distance)
	}
}

func TestSendAlertsDistanceFilterNeedsPosition(t *testing.T) {
	// A max distance without a saved position cannot be evaluated, so the
	// filter is skipped rather than dropping everything.
	rule := &tracker.AlertRule{Category: tracker.Pyramid, MaxDistance: floatp(100), Enabled: true}
	store := newFakeStore(sub("100", rule, nil))
	messenger := &fakeMessenger{}
	engine := testEngine(store, messenger)

	fresh := []tracker.Point{pt(900, 900, 5)}

	sent, err := engine.SendAlerts(context.Background(), tracker.Pyramid, fresh, nil)
	if err != nil {
		t.Fatalf("SendAlerts failed: %v", err)
	}
	if sent != 1 {
		t.Errorf("expected the point to pass without a position, sent=%d", sent)
	}
}

func TestSendAlertsAntiSpam(t *testing.T) {
	store := newFakeStore(sub("100", nil, nil))
	store.sent["100"] = []tracker.SentAlert{
		{UserID: "100", Category: tracker.Pyramid, Level: 5, X: 100, Y: 100, SentAt: time.Now()},
	}
	messenger := &fakeMessenger{}
	engine := testEngine(store, messenger)

	fresh := []tracker.Point{
		pt(108, 105, 5), // within 10 on both axes, suppressed
		pt(111, 100, 5), // 11 away on x, passes
		pt(105, 105, 6), // same proximity but different level, passes
	}

	sent, err := engine.SendAlerts(context.Background(), tracker.Pyramid, fresh, nil)
	if err != nil {
		t.Fatalf("SendAlerts failed: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 subscriber notified, got %d", sent)
	}
	points := messenger.deliveries[0].msg.Points
	if len(points) != 2 {
		t.Fatalf("expected 2 surviving points, got %d", len(points))
	}
	for _, p := range points {
		if p.X == 108 {
			t.Error("near-duplicate point should be suppressed")
		}
	}
}

func TestSendAlertsPointCap(t *testing.T) {
	store := newFakeStore(sub("100", nil, nil))
	messenger := &fakeMessenger{}
	engine := testEngine(store, messenger)

	var fresh []tracker.Point
	for i := range 14 {
		fresh = append(fresh, pt(i*100, i*100, 5))
	}

	sent, err := engine.SendAlerts(context.Background(), tracker.Pyramid, fresh, nil)
	if err != nil {
		t.Fatalf("SendAlerts failed: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected 1 subscriber notified, got %d", sent)
	}

	msg := messenger.deliveries[0].msg
	if len(msg.Points) != 10 {
		t.Errorf("expected 10 rendered points, got %d", len(msg.Points))
	}
	if msg.Overflow != 4 {
		t.Errorf("expected overflow 4, got %d", msg.Overflow)
	}
	// Receipts cover only the rendered points so the rest can alert later.
	if len(store.sent["100"]) != 10 {
		t.Errorf("expected 10 sent records, got %d", len(store.sent["100"]))
	}
}

func TestSendAlertsBarbarianOrderedByPower(t *testing.T) {
	rule := &tracker.AlertRule{Category: tracker.Barbarian, Enabled: true}
	store := newFakeStore(sub("100", rule, nil))
	messenger := &fakeMessenger{}
	engine := testEngine(store, messenger)

	fresh := []tracker.Point{
		powerPt(10, 10, 5, 100_000_000),
		powerPt(20, 20, 7, 900_000_000),
		powerPt(30, 30, 6, 500_000_000),
	}

	if _, err := engine.SendAlerts(context.Background(), tracker.Barbarian, fresh, nil); err != nil {
		t.Fatalf("SendAlerts failed: %v", err)
	}

	points := messenger.deliveries[0].msg.Points
	want := []int64{900_000_000, 500_000_000, 100_000_000}
	for i, w := range want {
		if points[i].PowerValue() != w {
			t.Errorf("position %d: power %d, want %d", i, points[i].PowerValue(), w)
		}
	}
}

func TestSendAlertsDeliveryFailureIsolated(t *testing.T) {
	store := newFakeStore(sub("100", nil, nil), sub("200", nil, nil))
	messenger := &fakeMessenger{failFor: map[string]bool{"100": true}}
	engine := testEngine(store, messenger)

	fresh := []tracker.Point{pt(500, 500, 5)}

	sent, err := engine.SendAlerts(context.Background(), tracker.Pyramid, fresh, nil)
	if err != nil {
		t.Fatalf("SendAlerts failed: %v", err)
	}
	if sent != 1 {
		t.Errorf("expected 1 successful delivery, got %d", sent)
	}
	if len(store.sent["100"]) != 0 {
		t.Error("failed delivery should not record receipts")
	}
	if len(store.sent["200"]) != 1 {
		t.Error("second subscriber should still receive the alert")
	}
}

func TestSendAlertsStoreFailureAborts(t *testing.T) {
	store := newFakeStore(sub("100", nil, nil))
	store.subsErr = errors.New("bucket unreachable")
	engine := testEngine(store, &fakeMessenger{})

	_, err := engine.SendAlerts(context.Background(), tracker.Pyramid, []tracker.Point{pt(1, 1, 5)}, nil)
	if err == nil {
		t.Fatal("expected error when subscriptions cannot be loaded")
	}
}

func TestSendAlertsRecordFailureAborts(t *testing.T) {
	store := newFakeStore(sub("100", nil, nil), sub("200", nil, nil))
	store.recordErr = errors.New("write failed")
	messenger := &fakeMessenger{}
	engine := testEngine(store, messenger)

	sent, err := engine.SendAlerts(context.Background(), tracker.Pyramid, []tracker.Point{pt(1, 1, 5)}, nil)
	if err == nil {
		t.Fatal("expected error when receipts cannot be recorded")
	}
	if sent != 0 {
		t.Errorf("aborted pass reported %d sends", sent)
	}
}
