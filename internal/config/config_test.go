package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := &Config{
		TelegramBotToken:       "test-token",
		DatabasePath:           "./data/relay.db",
		LogLevel:               "info",
		StatusPageURL:          "https://discordstatus.com",
		WebhookAddr:            ":8080",
		StatusSilenceThreshold: time.Hour,
		PollInterval:           5 * time.Minute,
		TemporaryPollInterval:  30 * time.Second,
		TemporaryPollMax:       15 * time.Minute,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFull(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	t.Setenv("DATABASE_PATH", "/var/lib/relay.db")
	t.Setenv("STATUS_PAGE_URL", "https://status.example.com/")
	t.Setenv("COMMENT_REPO", "acme/widget")
	t.Setenv("COMMENT_TOKENS", "t1, t2, ,t3")
	t.Setenv("WEBHOOK_ACCESS_KEY", "hook-key")
	t.Setenv("STATUS_SILENCE_THRESHOLD", "90m")
	t.Setenv("POLL_INTERVAL", "120")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.StatusPageURL != "https://status.example.com" {
		t.Errorf("StatusPageURL = %q, want trailing slash trimmed", cfg.StatusPageURL)
	}
	if diff := cmp.Diff([]string{"t1", "t2", "t3"}, cfg.CommentTokens); diff != "" {
		t.Errorf("tokens mismatch (-want +got):\n%s", diff)
	}
	if cfg.StatusSilenceThreshold != 90*time.Minute {
		t.Errorf("StatusSilenceThreshold = %v", cfg.StatusSilenceThreshold)
	}
	// Bare numbers are seconds.
	if cfg.PollInterval != 2*time.Minute {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.RepoOwner() != "acme" || cfg.RepoName() != "widget" {
		t.Errorf("repo halves = %q / %q", cfg.RepoOwner(), cfg.RepoName())
	}
}

func TestLoadRejectsMissingToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing bot token")
	}
}

func TestLoadRejectsMalformedRepo(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	t.Setenv("COMMENT_REPO", "not-a-repo")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed repo")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	t.Setenv("POLL_INTERVAL", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}
