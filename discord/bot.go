package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const apiBase = "https://discord.com/api/v10"

// BotProvider sends DMs through the Discord REST API using a bot token.
type BotProvider struct {
	token      string
	client     *http.Client
	logger     *slog.Logger
	mu         sync.Mutex
	dmChannels map[string]string // userID -> DM channel ID
}

// NewBotProvider creates a new Discord bot DM provider.
func NewBotProvider(token string, logger *slog.Logger) *BotProvider {
	return &BotProvider{
		token:      token,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		dmChannels: make(map[string]string),
	}
}

type createDMRequest struct {
	RecipientID string `json:"recipient_id"`
}

type createDMResponse struct {
	ID string `json:"id"`
}

type createMessageRequest struct {
	Embeds []*Embed `json:"embeds"`
}

// SendDM opens (or reuses) the user's DM channel and posts the embed.
func (b *BotProvider) SendDM(ctx context.Context, userID string, embed *Embed) error {
	channelID, err := b.dmChannel(ctx, userID)
	if err != nil {
		return fmt.Errorf("open DM channel: %w", err)
	}

	body, err := json.Marshal(createMessageRequest{Embeds: []*Embed{embed}})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/channels/%s/messages", apiBase, channelID)
	if err := b.post(ctx, endpoint, body, "create_message", userID); err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}

func (b *BotProvider) dmChannel(ctx context.Context, userID string) (string, error) {
	b.mu.Lock()
	channelID, ok := b.dmChannels[userID]
	b.mu.Unlock()
	if ok {
		return channelID, nil
	}

	body, err := json.Marshal(createDMRequest{RecipientID: userID})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var resp createDMResponse
	err = b.postJSON(ctx, apiBase+"/users/@me/channels", body, "create_dm", userID, &resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("no channel ID in response for user %s", userID)
	}

	b.mu.Lock()
	b.dmChannels[userID] = resp.ID
	b.mu.Unlock()
	return resp.ID, nil
}

func (b *BotProvider) post(ctx context.Context, endpoint string, body []byte, purpose, userID string) error {
	return b.postJSON(ctx, endpoint, body, purpose, userID, nil)
}

func (b *BotProvider) postJSON(ctx context.Context, endpoint string, body []byte, purpose, userID string, out any) error {
	return retry.Do(
		func() error {
			b.logger.Info("Discord API request starting",
				"method", "POST",
				"purpose", purpose,
				"user_id", userID)

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bot "+b.token)

			startTime := time.Now()
			resp, err := b.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				b.logger.Warn("Discord API request failed, will retry",
					"purpose", purpose,
					"user_id", userID,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					b.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			// 403 means the user blocked the bot or disabled DMs; more
			// attempts can't fix that.
			if resp.StatusCode == http.StatusForbidden {
				return retry.Unrecoverable(fmt.Errorf("HTTP %d: recipient unreachable", resp.StatusCode))
			}

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				b.logger.Warn("Discord API returned non-2xx status, will retry",
					"status_code", resp.StatusCode,
					"purpose", purpose,
					"user_id", userID)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			if out != nil {
				data, readErr := io.ReadAll(resp.Body)
				if readErr != nil {
					return fmt.Errorf("read response: %w", readErr)
				}
				if err := json.Unmarshal(data, out); err != nil {
					return retry.Unrecoverable(fmt.Errorf("parse response: %w", err))
				}
			}

			b.logger.Info("Discord API request completed",
				"purpose", purpose,
				"user_id", userID,
				"duration_ms", duration.Milliseconds(),
				"status", "success")
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Info("Retrying Discord API request after error", "attempt", n, "error", err)
		}),
	)
}
