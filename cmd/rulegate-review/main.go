// Package main is the entry point for the rulegate reviewer TUI.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"rulegate/internal/config"
	"rulegate/internal/startup"
	"rulegate/internal/tui"
	"rulegate/internal/tui/api"
)

var version = "0.1.0-dev"

func main() {
	reviewerFlag := flag.String("reviewer", "", "reviewer identity recorded on decisions (default $RULEGATE_REVIEWER)")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("rulegate-review %s\n", version)
		os.Exit(0)
	}

	reviewer := *reviewerFlag
	if reviewer == "" {
		reviewer = os.Getenv("RULEGATE_REVIEWER")
	}
	if reviewer == "" {
		fmt.Fprintln(os.Stderr, "Error: reviewer identity required (-reviewer or $RULEGATE_REVIEWER)")
		os.Exit(1)
	}

	// The TUI owns stdout, so service logs go to a file or nowhere.
	logger, closeLog, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := startup.Build(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to build service: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	go rt.Service.RunSweeper(ctx)

	client := api.NewClient(rt.Service, rt.Trail, reviewer)

	if err := tui.Run(client); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger writes JSON logs to $RULEGATE_REVIEW_LOG when set and
// discards them otherwise.
func newLogger() (*slog.Logger, func(), error) {
	path := os.Getenv("RULEGATE_REVIEW_LOG")
	if path == "" {
		return slog.New(slog.NewJSONHandler(io.Discard, nil)), func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() { f.Close() }, nil
}
