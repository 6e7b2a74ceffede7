// Package storage handles persistence of user profiles and sent-alert
// records, backed by Google Cloud Storage or a local directory for
// development.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/storage"

	"iscout-notifier/pkg/tracker"
)

const (
	profilePrefix = "profile-"
	sentPrefix    = "sent-"
)

var errNotFound = errors.New("storage: object doesn't exist")

// Store persists profiles and sent-alert logs as JSON objects, one per
// entity. When localPath is set the same layout lives on the local
// filesystem instead of a bucket.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a new storage handler.
func New(client *storage.Client, bucket, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// profileKey generates a stable object name for a user ID. User IDs are
// chat-platform snowflakes; anything but digits is rejected to prevent path
// traversal.
func profileKey(userID string) string {
	if !validUserID(userID) {
		return ""
	}
	return profilePrefix + userID + ".json"
}

// sentKey generates the object name for one user's sent-alert log in one
// category.
func sentKey(userID string, cat tracker.Category) string {
	if !validUserID(userID) || !cat.Valid() {
		return ""
	}
	return fmt.Sprintf("%s%s-%s.json", sentPrefix, userID, cat)
}

func validUserID(userID string) bool {
	if len(userID) == 0 || len(userID) > 20 {
		return false
	}
	for _, c := range userID {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// SaveProfile saves a user profile.
func (s *Store) SaveProfile(ctx context.Context, profile *tracker.Profile) error {
	key := profileKey(profile.UserID)
	if key == "" {
		return errors.New("invalid user ID")
	}

	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	if err := s.writeObject(ctx, key, data); err != nil {
		return err
	}
	s.logger.Info("Profile saved", "key", key, "user_id", profile.UserID, "alert_count", len(profile.Alerts))
	return nil
}

// LoadProfile loads a user profile by ID.
func (s *Store) LoadProfile(ctx context.Context, userID string) (*tracker.Profile, error) {
	key := profileKey(userID)
	if key == "" {
		return nil, errNotFound
	}

	data, err := s.readObject(ctx, key)
	if err != nil {
		return nil, err
	}

	var profile tracker.Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	return &profile, nil
}

// DeleteProfile removes a user profile. Deletion is idempotent.
func (s *Store) DeleteProfile(ctx context.Context, userID string) error {
	key := profileKey(userID)
	if key == "" {
		return errors.New("invalid user ID")
	}
	if err := s.deleteObject(ctx, key); err != nil {
		return err
	}
	s.logger.Info("Profile deleted", "key", key, "user_id", userID)
	return nil
}

// ListProfiles loads every stored profile.
func (s *Store) ListProfiles(ctx context.Context) ([]*tracker.Profile, error) {
	keys, err := s.listKeys(ctx, profilePrefix)
	if err != nil {
		return nil, err
	}

	var profiles []*tracker.Profile
	for _, key := range keys {
		data, err := s.readObject(ctx, key)
		if err != nil {
			s.logger.Warn("Failed to load profile", "key", key, "error", err)
			continue
		}
		var profile tracker.Profile
		if err := json.Unmarshal(data, &profile); err != nil {
			s.logger.Warn("Failed to parse profile", "key", key, "error", err)
			continue
		}
		profiles = append(profiles, &profile)
	}
	return profiles, nil
}

// ActiveSubscriptions returns the enabled alert rules for one category,
// joined with each owner's saved position.
func (s *Store) ActiveSubscriptions(ctx context.Context, cat tracker.Category) ([]*tracker.Subscription, error) {
	profiles, err := s.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	var subs []*tracker.Subscription
	for _, profile := range profiles {
		rule := profile.Rule(cat)
		if rule == nil || !rule.Enabled {
			continue
		}
		subs = append(subs, &tracker.Subscription{
			UserID:   profile.UserID,
			Username: profile.Username,
			Position: profile.Position,
			Rule:     rule,
		})
	}
	return subs, nil
}

// RecordSent appends delivery receipts to one user's sent-alert log for a
// category.
func (s *Store) RecordSent(ctx context.Context, userID string, cat tracker.Category, records []tracker.SentAlert) error {
	if len(records) == 0 {
		return nil
	}
	key := sentKey(userID, cat)
	if key == "" {
		return errors.New("invalid sent-alert key")
	}

	existing, err := s.loadSentLog(ctx, key)
	if err != nil && !IsNotFound(err) {
		return err
	}

	combined := append(existing, records...)
	data, err := json.Marshal(combined)
	if err != nil {
		return fmt.Errorf("marshal sent log: %w", err)
	}
	if err := s.writeObject(ctx, key, data); err != nil {
		return err
	}

	s.logger.Info("Sent-alert records saved",
		"key", key,
		"user_id", userID,
		"category", cat,
		"added", len(records),
		"total", len(combined))
	return nil
}

// RecentSent returns the recorded sends for one user, category, and level.
func (s *Store) RecentSent(ctx context.Context, userID string, cat tracker.Category, level int) ([]tracker.SentAlert, error) {
	key := sentKey(userID, cat)
	if key == "" {
		return nil, errors.New("invalid sent-alert key")
	}

	records, err := s.loadSentLog(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var matched []tracker.SentAlert
	for _, rec := range records {
		if rec.Level == level {
			matched = append(matched, rec)
		}
	}
	return matched, nil
}

// PurgeSentBefore drops every sent-alert record older than cutoff and
// returns the count removed. Logs that end up empty are deleted outright.
func (s *Store) PurgeSentBefore(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := s.listKeys(ctx, sentPrefix)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, key := range keys {
		records, err := s.loadSentLog(ctx, key)
		if err != nil {
			s.logger.Warn("Failed to load sent log during purge", "key", key, "error", err)
			continue
		}

		kept := make([]tracker.SentAlert, 0, len(records))
		for _, rec := range records {
			if rec.SentAt.Before(cutoff) {
				purged++
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) == len(records) {
			continue
		}

		if len(kept) == 0 {
			if err := s.deleteObject(ctx, key); err != nil {
				return purged, fmt.Errorf("delete empty sent log: %w", err)
			}
			continue
		}

		data, err := json.Marshal(kept)
		if err != nil {
			return purged, fmt.Errorf("marshal sent log: %w", err)
		}
		if err := s.writeObject(ctx, key, data); err != nil {
			return purged, err
		}
	}

	if purged > 0 {
		s.logger.Info("Purged expired sent-alert records", "count", purged, "cutoff", cutoff.Format(time.RFC3339))
	}
	return purged, nil
}

func (s *Store) loadSentLog(ctx context.Context, key string) ([]tracker.SentAlert, error) {
	data, err := s.readObject(ctx, key)
	if err != nil {
		return nil, err
	}
	var records []tracker.SentAlert
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("unmarshal sent log: %w", err)
	}
	return records, nil
}

// IsNotFound checks if an error indicates a missing object.
func IsNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}
