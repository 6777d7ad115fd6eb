// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package main

import (
	"errors"
	"fmt"

	"github.com/tomtom215/pagevault/internal/api"
	"github.com/tomtom215/pagevault/internal/backup"
	"github.com/tomtom215/pagevault/internal/backuplog"
	"github.com/tomtom215/pagevault/internal/config"
	"github.com/tomtom215/pagevault/internal/cronpolicy"
	"github.com/tomtom215/pagevault/internal/logging"
	"github.com/tomtom215/pagevault/internal/storage"
	"github.com/tomtom215/pagevault/internal/upload"
)

// runtime holds the long-lived collaborators shared by every owner.
type runtime struct {
	cfg        *config.Config
	registry   *storage.Registry
	store      *backuplog.BadgerStore
	strategies map[string]*backup.Strategy
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.LoggingOptions())
	return cfg, nil
}

// newRuntime opens the database registry and the backup log store and
// builds one strategy per configured owner.
func newRuntime(cfg *config.Config) (*runtime, error) {
	registry := storage.NewRegistry(cfg.Storage.Directory, cfg.StorageOptions())
	if name := cfg.Storage.Name; name != "" && !registry.Exists(name) {
		if _, err := registry.Create(name); err != nil {
			return nil, fmt.Errorf("create database %s: %w", name, err)
		}
		logging.Info().Str("database", name).Msg("Created database")
	}

	store, err := backuplog.Open(cfg.LogStoreOptions())
	if err != nil {
		registry.Close()
		return nil, err
	}

	rt := &runtime{
		cfg:        cfg,
		registry:   registry,
		store:      store,
		strategies: make(map[string]*backup.Strategy, len(cfg.Backups)),
	}
	engine := backup.NewRegistryEngine(registry)
	policy := cronpolicy.NewParser()

	for _, bc := range cfg.Backups {
		deps := backup.Deps{Store: store, Policy: policy, Engine: engine}
		if uc := bc.UploadOptions(); uc != nil {
			u, err := upload.New(bc.ID, *uc)
			if err != nil {
				rt.Close()
				return nil, fmt.Errorf("owner %s: %w", bc.ID, err)
			}
			deps.Uploader = u
		}
		strategy, err := backup.NewStrategy(bc.Owner(), deps)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.strategies[bc.ID] = strategy
	}
	return rt, nil
}

// ownerDatabases maps owner ids to the database they back up.
func (rt *runtime) ownerDatabases() map[string]string {
	out := make(map[string]string, len(rt.cfg.Backups))
	for _, bc := range rt.cfg.Backups {
		out[bc.ID] = bc.DatabaseName
	}
	return out
}

// markers exposes every strategy to the mark endpoint.
func (rt *runtime) markers() map[string]api.Marker {
	out := make(map[string]api.Marker, len(rt.strategies))
	for id, s := range rt.strategies {
		out[id] = s
	}
	return out
}

func (rt *runtime) Close() error {
	var errs []error
	for _, s := range rt.strategies {
		s.WaitRestores()
	}
	if err := rt.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close backup log: %w", err))
	}
	if err := rt.registry.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close databases: %w", err))
	}
	return errors.Join(errs...)
}
