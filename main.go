// Package main implements a service that crawls iScout map listings for
// pyramids, barbarian camps, and Ares points, caches the snapshots, and sends
// Discord DM alerts to subscribed players when new points appear.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/joho/godotenv"

	"iscout-notifier/alert"
	"iscout-notifier/cache"
	"iscout-notifier/discord"
	"iscout-notifier/harvest"
	"iscout-notifier/sched"
	"iscout-notifier/server"
	"iscout-notifier/storage"
)

const defaultUpdateInterval = 5 * time.Minute

func main() {
	ctx := context.Background()

	// A missing .env file is fine; env vars may come from the platform.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	baseURL := os.Getenv("ISCOUT_URL")
	if baseURL == "" {
		baseURL = "https://iscout.club"
	}
	email := os.Getenv("ISCOUT_EMAIL")
	password := os.Getenv("ISCOUT_PASSWORD")
	if email == "" || password == "" {
		logger.Error("ISCOUT_EMAIL and ISCOUT_PASSWORD environment variables required")
		os.Exit(1)
	}

	interval := defaultUpdateInterval
	if raw := os.Getenv("UPDATE_INTERVAL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			logger.Error("Invalid UPDATE_INTERVAL", "value", raw)
			os.Exit(1)
		}
		interval = parsed
	}

	// Default to local development mode if no bucket specified
	localStorage := os.Getenv("LOCAL_STORAGE")
	bucket := os.Getenv("STORAGE_BUCKET")
	if bucket == "" && localStorage == "" {
		localStorage = "./data"
		logger.Info("No STORAGE_BUCKET set, defaulting to local development mode", "storage_path", localStorage)
	}

	var gcsClient *gcs.Client
	if localStorage != "" {
		logger.Info("Running in local development mode", "storage_path", localStorage)
		if err := os.MkdirAll(localStorage, 0o755); err != nil {
			logger.Error("Failed to create local storage directory", "error", err)
			os.Exit(1)
		}
	} else {
		var err error
		gcsClient, err = gcs.NewClient(ctx)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := gcsClient.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
	}

	store := storage.New(gcsClient, bucket, localStorage, logger)

	// Mock Discord delivery unless a bot token is provided.
	var provider discord.Provider
	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		provider = discord.NewBotProvider(token, logger)
	} else {
		logger.Info("Mock Discord mode enabled (no DISCORD_TOKEN)")
		provider = discord.NewMockProvider(logger)
	}
	sender := discord.New(provider, logger)

	harvester, err := harvest.New(baseURL, email, password, logger)
	if err != nil {
		logger.Error("Failed to initialize harvester", "error", err)
		os.Exit(1)
	}

	snapshots := cache.New(interval)
	engine := alert.New(store, sender, logger)
	scheduler := sched.New(snapshots, harvester, engine, interval, logger)

	srv := server.New(&server.Config{
		Cache:      snapshots,
		Refresher:  scheduler,
		Store:      store,
		Logger:     logger,
		IsNotFound: storage.IsNotFound,
	})

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	scheduler.Start(runCtx)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(port)
	}()

	select {
	case err := <-errCh:
		logger.Error("Server failed", "error", err)
		scheduler.Stop()
		os.Exit(1)
	case <-runCtx.Done():
		logger.Info("Shutdown signal received")
		scheduler.Stop()
	}
}

func logLevel() slog.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
