package discord

import (
	"context"
	"log/slog"
)

// MockProvider is a mock DM provider for local development.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a new mock DM provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// SendDM logs the embed instead of sending it.
func (m *MockProvider) SendDM(_ context.Context, userID string, embed *Embed) error {
	m.logger.Info("MOCK DM",
		"user_id", userID,
		"title", embed.Title,
		"field_count", len(embed.Fields))
	return nil
}
