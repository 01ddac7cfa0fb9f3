package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"statusrelay/internal/commentfeed"
	"statusrelay/internal/config"
	"statusrelay/internal/dispatch"
	"statusrelay/internal/gate"
	"statusrelay/internal/reconcile"
	"statusrelay/internal/rolemention"
	"statusrelay/internal/statusfeed"
	"statusrelay/internal/storage"
	"statusrelay/internal/telegram"
	"statusrelay/internal/webhook"
)

const commentBaseURL = "https://api.github.com"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	var mentions *rolemention.Table
	if cfg.RoleMentionPath != "" {
		mentions, err = rolemention.Load(cfg.RoleMentionPath)
		if err != nil {
			log.Error("load role mentions", "path", cfg.RoleMentionPath, "error", err)
			os.Exit(1)
		}
	}

	chat, err := telegram.New(cfg.TelegramBotToken)
	if err != nil {
		log.Error("create chat client", "error", err)
		os.Exit(1)
	}
	dispatcher := dispatch.New(chat, mentions, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	statusClient := statusfeed.New(http.DefaultClient, cfg.StatusPageURL)
	statusRec := reconcile.NewStatusReconciler(statusClient, store, dispatcher, log)

	statusGate := gate.New(
		&gate.SilencePolicy{Threshold: cfg.StatusSilenceThreshold},
		statusRec.Run,
		gate.Options{
			PollInterval:      cfg.PollInterval,
			TemporaryInterval: cfg.TemporaryPollInterval,
			TemporaryMax:      cfg.TemporaryPollMax,
			RecheckInterval:   cfg.PollInterval,
		},
		log.With("feed", "status"),
	)
	statusGate.Start(ctx)
	defer statusGate.Stop()

	pool := commentfeed.NewTokenPool(cfg.CommentTokens)
	commentClient := commentfeed.New(http.DefaultClient, commentBaseURL, cfg.RepoOwner(), cfg.RepoName(), pool)
	commentRec := reconcile.NewCommentReconciler(commentClient, store, dispatcher, log)

	commentGate := gate.New(
		&gate.ProbePolicy{Probe: commentClient.InstallationID},
		commentRec.Run,
		gate.Options{
			PollInterval:      cfg.PollInterval,
			TemporaryInterval: cfg.TemporaryPollInterval,
			TemporaryMax:      cfg.TemporaryPollMax,
			RecheckInterval:   cfg.PollInterval,
		},
		log.With("feed", "comments"),
	)
	if cfg.CommentRepo != "" {
		commentGate.Start(ctx)
		defer commentGate.Stop()
	} else {
		log.Info("comment feed disabled, COMMENT_REPO not set")
	}

	handler := webhook.NewHandler(statusRec, commentRec, statusGate, commentGate, store, log)
	server := &http.Server{
		Addr:              cfg.WebhookAddr,
		Handler:           webhook.NewServer(handler, cfg.WebhookAccessKey),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("webhook server listening", "addr", cfg.WebhookAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("webhook server", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown webhook server", "error", err)
	}

	log.Info("relay stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
