// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package backup

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/pagevault/internal/backuplog"
	"github.com/tomtom215/pagevault/internal/storage"
)

// Engine performs the storage side of backups and restores.
type Engine interface {
	// Backup writes one archive for database into dir. Full mode writes a
	// self-contained archive into a fresh directory; incremental mode
	// extends the chain found in dir.
	Backup(ctx context.Context, database, dir string, mode backuplog.Mode) (*storage.BackupResult, error)

	// Restore creates target and replays the chain found in dir into it.
	Restore(ctx context.Context, target, dir string) (*storage.RestoreResult, error)

	DatabaseExists(name string) bool
}

// RegistryEngine is the Engine backed by a storage registry.
type RegistryEngine struct {
	registry *storage.Registry
}

func NewRegistryEngine(r *storage.Registry) *RegistryEngine {
	return &RegistryEngine{registry: r}
}

func (e *RegistryEngine) Backup(ctx context.Context, database, dir string, mode backuplog.Mode) (*storage.BackupResult, error) {
	s, err := e.registry.Open(database)
	if err != nil {
		return nil, err
	}
	if mode == backuplog.ModeFull {
		return s.FullBackup(ctx, dir)
	}
	return s.IncrementalBackup(ctx, dir)
}

func (e *RegistryEngine) Restore(ctx context.Context, target, dir string) (*storage.RestoreResult, error) {
	s, err := e.registry.Create(target)
	if errors.Is(err, storage.ErrDatabaseExists) {
		return nil, fmt.Errorf("%w: %w", ErrRestoreTargetExists, err)
	}
	if err != nil {
		return nil, err
	}
	return s.Restore(ctx, dir)
}

func (e *RegistryEngine) DatabaseExists(name string) bool {
	return e.registry.Exists(name)
}

var _ Engine = (*RegistryEngine)(nil)
