// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/tomtom215/pagevault/internal/backup"
	"github.com/tomtom215/pagevault/internal/backuplog"
)

func restoreCmd(args []string) int {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "Configuration file path")
	owner := fs.String("owner", "", "Backup owner id")
	unit := fs.Uint64("unit", 0, "Backup unit id (default: last finished unit)")
	target := fs.String("target", "", "Name of the database to create")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *owner == "" || *target == "" {
		fmt.Fprintln(os.Stderr, "Error: -owner and -target are required")
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return 1
	}
	rt, err := newRuntime(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
		return 1
	}
	defer rt.Close()

	strategy, ok := rt.strategies[*owner]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown backup owner %q\n", *owner)
		return 1
	}

	var (
		mu      sync.Mutex
		outcome *backuplog.Entry
	)
	listener := backup.ListenerFunc(func(e *backuplog.Entry) {
		logEntry(e)
		if e.Type == backuplog.TypeRestoreFinished || e.Type == backuplog.TypeRestoreError {
			mu.Lock()
			outcome = e
			mu.Unlock()
		}
	})

	req := backup.RestoreRequest{UnitID: *unit, TargetDatabase: *target}
	if err := strategy.DoRestore(context.Background(), listener, req); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	strategy.WaitRestores()

	mu.Lock()
	defer mu.Unlock()
	switch {
	case outcome == nil:
		fmt.Fprintln(os.Stderr, "Error: restore finished without a result")
		return 1
	case outcome.RestoreError != nil:
		fmt.Fprintf(os.Stderr, "Restore failed: %s\n", outcome.RestoreError.Message)
		return 1
	}
	fmt.Printf("Restored unit %d of %s into %s (%s)\n",
		outcome.RestoreFinished.RestoreUnitID, *owner, *target, outcome.RestoreFinished.ElapsedTime)
	return 0
}
