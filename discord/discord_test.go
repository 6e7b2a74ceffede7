package discord

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"iscout-notifier/alert"
	"iscout-notifier/pkg/tracker"
)

type capturingProvider struct {
	userID string
	embed  *Embed
	calls  int
}

func (c *capturingProvider) SendDM(_ context.Context, userID string, embed *Embed) error {
	c.userID = userID
	c.embed = embed
	c.calls++
	return nil
}

func candidate(x, y, level int) alert.Candidate {
	return alert.Candidate{Point: tracker.Point{X: x, Y: y, Level: level}}
}

func TestSendAlertBuildsEmbed(t *testing.T) {
	provider := &capturingProvider{}
	sender := New(provider, slog.New(slog.NewTextHandler(io.Discard, nil)))

	power := int64(500_000_000)
	distance := 42.0
	c := candidate(1200, 3400, 6)
	c.Power = &power
	c.Distance = &distance

	msg := &alert.Message{
		Category: tracker.Barbarian,
		Points:   []alert.Candidate{c},
	}

	if err := sender.SendAlert(context.Background(), "123", msg); err != nil {
		t.Fatalf("SendAlert failed: %v", err)
	}
	if provider.calls != 1 || provider.userID != "123" {
		t.Fatalf("provider called %d times for %q", provider.calls, provider.userID)
	}

	embed := provider.embed
	if embed.Title != "🗡️ New Barbarian Alert!" {
		t.Errorf("title = %q", embed.Title)
	}
	if embed.Color != 0xff4444 {
		t.Errorf("color = %#x", embed.Color)
	}
	if len(embed.Fields) != 1 {
		t.Fatalf("expected 1 field, got %d", len(embed.Fields))
	}

	field := embed.Fields[0]
	if field.Name != "#1 - Level 6" {
		t.Errorf("field name = %q", field.Name)
	}
	if !strings.Contains(field.Value, "`1200`") || !strings.Contains(field.Value, "`3400`") {
		t.Errorf("field value missing coordinates: %q", field.Value)
	}
	if !strings.Contains(field.Value, "500.0M") {
		t.Errorf("field value missing power: %q", field.Value)
	}
	if !strings.Contains(field.Value, "Distance: 42") {
		t.Errorf("field value missing distance: %q", field.Value)
	}
	if embed.Footer == nil || embed.Footer.Text != "Use !barbarian to see all coordinates" {
		t.Errorf("footer = %+v", embed.Footer)
	}
}

func TestSendAlertOverflowFooter(t *testing.T) {
	provider := &capturingProvider{}
	sender := New(provider, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var points []alert.Candidate
	for i := range 10 {
		points = append(points, candidate(i*10, i*10, 5))
	}
	msg := &alert.Message{
		Category: tracker.Pyramid,
		Points:   points,
		Overflow: 7,
	}

	if err := sender.SendAlert(context.Background(), "123", msg); err != nil {
		t.Fatalf("SendAlert failed: %v", err)
	}

	embed := provider.embed
	if !strings.Contains(embed.Description, "17 new pyramid(s)") {
		t.Errorf("description should count overflow matches: %q", embed.Description)
	}
	if embed.Footer == nil || embed.Footer.Text != "...and 7 more. Use !pyramid to see all." {
		t.Errorf("footer = %+v", embed.Footer)
	}
}

func TestSendAlertEmptyMessage(t *testing.T) {
	provider := &capturingProvider{}
	sender := New(provider, slog.New(slog.NewTextHandler(io.Discard, nil)))

	msg := &alert.Message{Category: tracker.Ares}
	if err := sender.SendAlert(context.Background(), "123", msg); err != nil {
		t.Fatalf("SendAlert failed: %v", err)
	}
	if provider.calls != 0 {
		t.Error("empty message should not reach the provider")
	}
}

func TestFormatPower(t *testing.T) {
	tests := []struct {
		power int64
		want  string
	}{
		{2_400_000_000, "2.4B"},
		{1_000_000_000, "1.0B"},
		{500_000_000, "500.0M"},
		{43_600_000, "43.6M"},
		{1_000_000, "1.0M"},
		{999_999, "999,999"},
		{12_345, "12,345"},
		{950, "950"},
		{0, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatPower(tt.power); got != tt.want {
				t.Errorf("FormatPower(%d) = %q, want %q", tt.power, got, tt.want)
			}
		})
	}
}

func TestCategoryDisplay(t *testing.T) {
	tests := []struct {
		cat   tracker.Category
		emoji string
		name  string
		color int
	}{
		{tracker.Pyramid, "🔺", "Pyramid", 0xffd700},
		{tracker.Barbarian, "🗡️", "Barbarian", 0xff4444},
		{tracker.Ares, "⚡", "Ares", 0xffa500},
	}

	for _, tt := range tests {
		t.Run(string(tt.cat), func(t *testing.T) {
			if got := CategoryEmoji(tt.cat); got != tt.emoji {
				t.Errorf("emoji = %q, want %q", got, tt.emoji)
			}
			if got := CategoryName(tt.cat); got != tt.name {
				t.Errorf("name = %q, want %q", got, tt.name)
			}
			if got := CategoryColor(tt.cat); got != tt.color {
				t.Errorf("color = %#x, want %#x", got, tt.color)
			}
		})
	}
}
