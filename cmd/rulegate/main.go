// Package main is the entry point for the rulegate suggestion service.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"rulegate/internal/config"
	"rulegate/internal/startup"
)

func main() {
	// Bootstrap logger so config load failures are still structured.
	logger := newLogger("info", "json")
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger = newLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"postgres", cfg.Postgres.DSN != "",
		"records_mode", cfg.Records.Mode,
		"events_enabled", cfg.Events.Enabled(),
		"archive_enabled", cfg.Archive.Enabled(),
		"suggestion_ttl", cfg.Suggestion.TTL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Preflight diagnostics. Errors mean the service cannot run;
	// warnings are logged and tolerated.
	diag := startup.NewDiagnostics(cfg, logger)
	diag.RunAll(ctx)
	if diag.HasErrors() {
		slog.Error("startup diagnostics reported errors; refusing to start")
		os.Exit(1)
	}

	rt, err := startup.Build(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to build service", "error", err)
		os.Exit(1)
	}

	go rt.Service.RunSweeper(ctx)

	slog.Info("rulegate service started",
		"sweep_interval", cfg.Suggestion.SweepInterval,
		"sample_size", cfg.Suggestion.SampleSize,
	)

	// Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())

	// Stop the sweeper, then close connections.
	cancel()
	rt.Close()

	if rt.Publisher != nil {
		published, errors := rt.Publisher.Metrics()
		slog.Info("event publisher metrics",
			"events_published", published,
			"publish_errors", errors,
		)
	}
	if rt.Archiver != nil {
		m := rt.Archiver.Metrics()
		slog.Info("archiver metrics",
			"objects_stored", m.ObjectsStored,
			"bytes_stored", m.BytesStored,
			"errors", m.Errors,
		)
	}

	slog.Info("shutdown complete")
}

func newLogger(level, format string) *slog.Logger {
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

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
