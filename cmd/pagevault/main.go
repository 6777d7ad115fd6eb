// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/pagevault/internal/api"
	"github.com/tomtom215/pagevault/internal/backup"
	"github.com/tomtom215/pagevault/internal/backuplog"
	"github.com/tomtom215/pagevault/internal/logging"
	"github.com/tomtom215/pagevault/internal/supervisor"
	"github.com/tomtom215/pagevault/internal/supervisor/services"
)

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		os.Exit(serveCmd(args))
	case "restore":
		os.Exit(restoreCmd(args))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprintln(os.Stderr, "Usage: pagevault [serve|restore] [flags]")
		os.Exit(2)
	}
}

func serveCmd(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Configuration file path")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}
	logging.Info().
		Str("storage_dir", cfg.Storage.Directory).
		Int("owners", len(cfg.Backups)).
		Msg("Starting Pagevault with supervisor tree")

	rt, err := newRuntime(cfg)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to initialize")
		return 1
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logging.Error().Err(err).Msg("Error during shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// zerolog is bridged to slog for sutureslog.
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), cfg.TreeConfig())
	if err != nil {
		logging.Error().Err(err).Msg("Failed to create supervisor tree")
		return 1
	}

	listener := backup.ListenerFunc(logEntry)
	for id, strategy := range rt.strategies {
		sc := backup.NewScheduler(strategy, listener)
		tree.AddBackupService(services.NewBackupSchedulerService(sc))
		logging.Info().Str("owner", id).Str("service", sc.Name()).Msg("Backup scheduler added to supervisor tree")
	}

	if cfg.Metrics.Enabled {
		server := &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           api.NewRouter(rt.store, rt.ownerDatabases()).WithMarkers(rt.markers()).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		tree.AddAPIService(services.NewHTTPServerService(server, cfg.Supervisor.ShutdownTimeout))
		logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
	}

	logging.Info().Msg("Pagevault stopped gracefully")
	return 0
}

// logEntry is the process-wide listener: every journaled lifecycle event is
// also a log line.
func logEntry(e *backuplog.Entry) {
	ev := logging.Debug()
	switch e.Type {
	case backuplog.TypeError, backuplog.TypeUploadError, backuplog.TypeRestoreError:
		ev = logging.Warn()
	case backuplog.TypeFinished, backuplog.TypeRestoreFinished:
		ev = logging.Info()
	}
	ev.Str("owner", e.OwnerID).
		Uint64("unit_id", e.UnitID).
		Uint64("tx_id", e.TxID).
		Str("mode", string(e.Mode)).
		Str("type", string(e.Type)).
		Msg("Backup log entry")
}
