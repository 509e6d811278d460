// Package main is the command-line client for the TYUST campus API.
//
// It signs students in, keeps the session in a local store and prints the
// timetable, scores and the current academic week. Every list is shown from
// the local cache first and refreshed from the server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"github.com/tyust/tyust-client/config"
	"github.com/tyust/tyust-client/internal/infrastructure/storage"
	"github.com/tyust/tyust-client/pkg/logger"
	"github.com/tyust/tyust-client/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, errHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "tyust: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	timeutil.SetLocation(cfg.App.Location)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Output: os.Stderr,
		Level:  logger.ParseLevel(cfg.Observability.LogLevel),
		Format: cfg.Observability.LogFormat,

		// call sites only help while developing against a local backend
		AddCaller: cfg.IsDevelopment(),
	}).With(logger.String("env", string(cfg.App.Environment)))
	defer func() { _ = log.Sync() }()

	log.Debug("starting tyust client",
		logger.String("version", cfg.App.Version),
		logger.String("api", cfg.API.BaseURL),
		logger.String("store", cfg.Store.Driver))

	// ─────────────────────────────────────────────────────────────────────────
	// 3. LOCAL STORE
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Store.Driver == storage.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.SQLitePath), 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	store, err := storage.Open(ctx, storage.Options{
		Driver:      cfg.Store.Driver,
		SQLitePath:  cfg.Store.SQLitePath,
		RedisURL:    cfg.Store.RedisURL,
		KeyPrefix:   cfg.Store.KeyPrefix,
		PostgresDSN: cfg.Store.PostgresDSN,
		DialTimeout: cfg.Store.DialTimeout,
		Log:         log,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("failed to close store", logger.Err(err))
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. COMMAND
	// ─────────────────────────────────────────────────────────────────────────
	con := newConsole(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
	a := newApp(cfg, store, os.Stdout, con, log)
	a.readPassword = promptPassword
	return a.run(ctx, args)
}
