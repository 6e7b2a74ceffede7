// Package discord delivers coordinate alerts as Discord DM embeds through a
// pluggable provider.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"iscout-notifier/alert"
	"iscout-notifier/pkg/tracker"
)

// Provider defines the interface for DM delivery implementations.
type Provider interface {
	// SendDM delivers one embed to a user's direct-message channel.
	SendDM(ctx context.Context, userID string, embed *Embed) error
}

// Embed mirrors the Discord embed wire format.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

// EmbedField is one name/value pair in an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter is the embed's footer line.
type EmbedFooter struct {
	Text string `json:"text"`
}

// Sender renders alert messages into embeds and hands them to a provider.
type Sender struct {
	provider Provider
	logger   *slog.Logger
}

// New creates a new alert sender with the given provider.
func New(provider Provider, logger *slog.Logger) *Sender {
	return &Sender{
		provider: provider,
		logger:   logger,
	}
}

// SendAlert delivers one composed alert to a subscriber.
func (s *Sender) SendAlert(ctx context.Context, userID string, msg *alert.Message) error {
	if len(msg.Points) == 0 {
		return nil
	}

	embed := buildAlertEmbed(msg)

	s.logger.Info("Sending alert DM",
		"user_id", userID,
		"category", msg.Category,
		"points", len(msg.Points),
		"overflow", msg.Overflow)

	return s.provider.SendDM(ctx, userID, embed)
}

func buildAlertEmbed(msg *alert.Message) *Embed {
	name := CategoryName(msg.Category)

	embed := &Embed{
		Title:       fmt.Sprintf("%s New %s Alert!", CategoryEmoji(msg.Category), name),
		Description: fmt.Sprintf("%d new %s(s) found!", len(msg.Points)+msg.Overflow, strings.ToLower(name)),
		Color:       CategoryColor(msg.Category),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}

	for i, point := range msg.Points {
		value := fmt.Sprintf("**X:** `%d` | **Y:** `%d`", point.X, point.Y)
		if point.Power != nil {
			value += "\n⚔️ Power: " + FormatPower(*point.Power)
		}
		if point.Distance != nil {
			value += fmt.Sprintf("\n📏 Distance: %.0f", *point.Distance)
		}
		embed.Fields = append(embed.Fields, EmbedField{
			Name:   fmt.Sprintf("#%d - Level %d", i+1, point.Level),
			Value:  value,
			Inline: true,
		})
	}

	if msg.Overflow > 0 {
		embed.Footer = &EmbedFooter{
			Text: fmt.Sprintf("...and %d more. Use !%s to see all.", msg.Overflow, msg.Category),
		}
	} else {
		embed.Footer = &EmbedFooter{
			Text: fmt.Sprintf("Use !%s to see all coordinates", msg.Category),
		}
	}

	return embed
}

// CategoryEmoji returns the category's display emoji.
func CategoryEmoji(cat tracker.Category) string {
	switch cat {
	case tracker.Pyramid:
		return "🔺"
	case tracker.Barbarian:
		return "🗡️"
	case tracker.Ares:
		return "⚡"
	}
	return ""
}

// CategoryName returns the category's display name.
func CategoryName(cat tracker.Category) string {
	switch cat {
	case tracker.Pyramid:
		return "Pyramid"
	case tracker.Barbarian:
		return "Barbarian"
	case tracker.Ares:
		return "Ares"
	}
	return ""
}

// CategoryColor returns the category's embed color.
func CategoryColor(cat tracker.Category) int {
	switch cat {
	case tracker.Pyramid:
		return 0xffd700
	case tracker.Barbarian:
		return 0xff4444
	case tracker.Ares:
		return 0xffa500
	}
	return 0
}

// FormatPower renders a strength figure in B/M units, or with thousands
// separators below one million.
func FormatPower(power int64) string {
	switch {
	case power >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(power)/1_000_000_000)
	case power >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(power)/1_000_000)
	default:
		return groupThousands(power)
	}
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
