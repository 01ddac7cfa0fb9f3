// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string

	// StatusPageURL is the base URL of the watched status page,
	// e.g. "https://discordstatus.com".
	StatusPageURL string

	// CommentRepo is the watched "owner/name" repository.
	CommentRepo string
	// CommentTokens is the rotating credential pool for the comment feed.
	CommentTokens []string

	// WebhookAddr is the listen address for the inbound push server.
	WebhookAddr string
	// WebhookAccessKey authenticates inbound push and poll requests.
	// Empty disables the authenticated endpoints.
	WebhookAccessKey string

	// RoleMentionPath points to the YAML role-mention mapping.
	// Empty disables mentions.
	RoleMentionPath string

	// StatusSilenceThreshold is how long the status feed may stay silent
	// before the gate falls back to polling.
	StatusSilenceThreshold time.Duration
	// PollInterval is the cadence of continuous polling.
	PollInterval time.Duration
	// TemporaryPollInterval is the cadence of temporary fallback polling.
	TemporaryPollInterval time.Duration
	// TemporaryPollMax bounds the duration of a temporary polling window.
	TemporaryPollMax time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	repo := os.Getenv("COMMENT_REPO")
	if repo != "" && len(strings.Split(repo, "/")) != 2 {
		return nil, fmt.Errorf("COMMENT_REPO must be owner/name, got %q", repo)
	}

	cfg := &Config{
		TelegramBotToken:       token,
		DatabasePath:           envOrDefault("DATABASE_PATH", "./data/relay.db"),
		LogLevel:               envOrDefault("LOG_LEVEL", "info"),
		StatusPageURL:          strings.TrimRight(envOrDefault("STATUS_PAGE_URL", "https://discordstatus.com"), "/"),
		CommentRepo:            repo,
		WebhookAddr:            envOrDefault("WEBHOOK_ADDR", ":8080"),
		WebhookAccessKey:       os.Getenv("WEBHOOK_ACCESS_KEY"),
		RoleMentionPath:        os.Getenv("ROLE_MENTION_PATH"),
		StatusSilenceThreshold: time.Hour,
		PollInterval:           5 * time.Minute,
		TemporaryPollInterval:  30 * time.Second,
		TemporaryPollMax:       15 * time.Minute,
	}

	if raw := os.Getenv("COMMENT_TOKENS"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.CommentTokens = append(cfg.CommentTokens, t)
			}
		}
	}

	var err error
	if cfg.StatusSilenceThreshold, err = envDuration("STATUS_SILENCE_THRESHOLD", cfg.StatusSilenceThreshold); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = envDuration("POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.TemporaryPollInterval, err = envDuration("TEMPORARY_POLL_INTERVAL", cfg.TemporaryPollInterval); err != nil {
		return nil, err
	}
	if cfg.TemporaryPollMax, err = envDuration("TEMPORARY_POLL_MAX", cfg.TemporaryPollMax); err != nil {
		return nil, err
	}

	return cfg, nil
}

// RepoOwner returns the owner half of CommentRepo.
func (c *Config) RepoOwner() string {
	owner, _, _ := strings.Cut(c.CommentRepo, "/")
	return owner
}

// RepoName returns the name half of CommentRepo.
func (c *Config) RepoName() string {
	_, name, _ := strings.Cut(c.CommentRepo, "/")
	return name
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	// Bare numbers are seconds, matching earlier deployments.
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q in %s: %w", raw, key, err)
	}
	return d, nil
}
