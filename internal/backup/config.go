// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package backup

import (
	"errors"
	"fmt"
)

var (
	// ErrRestoreTargetExists is returned when a restore targets a database
	// that already exists.
	ErrRestoreTargetExists = errors.New("restore target database already exists")

	// ErrRestoreArtifactMissing is returned when the backup to restore is
	// neither on local disk nor fetchable through an uploader.
	ErrRestoreArtifactMissing = errors.New("restore artifact missing")

	ErrInvalidConfig = errors.New("invalid backup configuration")
)

// StrategyKind selects a BackupMode.
type StrategyKind string

const (
	StrategyFull        StrategyKind = "full"
	StrategyIncremental StrategyKind = "incremental"
	StrategyMixed       StrategyKind = "mixed"
)

// OwnerConfig is the configuration of one backup owner.
type OwnerConfig struct {
	// ID is the stable identity of the owner in the backup log.
	ID           string
	DatabaseName string
	Enabled      bool

	// RetentionDays expires log entries older than this many days after
	// each scheduled run. Zero or less keeps everything.
	RetentionDays int

	// Directory is the root under which chain directories are created.
	Directory string

	Strategy        StrategyKind
	FullWhen        string
	IncrementalWhen string
}

// Validate checks the fields every strategy needs. Cron expressions are
// checked when the strategy is built.
func (c OwnerConfig) Validate() error {
	switch {
	case c.ID == "":
		return fmt.Errorf("%w: owner id is required", ErrInvalidConfig)
	case c.DatabaseName == "":
		return fmt.Errorf("%w: owner %s: database name is required", ErrInvalidConfig, c.ID)
	case c.Directory == "":
		return fmt.Errorf("%w: owner %s: directory is required", ErrInvalidConfig, c.ID)
	}
	switch c.Strategy {
	case StrategyFull:
		if c.FullWhen == "" {
			return fmt.Errorf("%w: owner %s: full.when is required", ErrInvalidConfig, c.ID)
		}
	case StrategyIncremental:
		if c.IncrementalWhen == "" {
			return fmt.Errorf("%w: owner %s: incremental.when is required", ErrInvalidConfig, c.ID)
		}
	case StrategyMixed:
		if c.FullWhen == "" || c.IncrementalWhen == "" {
			return fmt.Errorf("%w: owner %s: mixed strategy needs full.when and incremental.when", ErrInvalidConfig, c.ID)
		}
	default:
		return fmt.Errorf("%w: owner %s: unknown strategy %q", ErrInvalidConfig, c.ID, c.Strategy)
	}
	return nil
}
