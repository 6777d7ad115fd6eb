// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package config

import (
	"time"

	"github.com/tomtom215/pagevault/internal/backup"
	"github.com/tomtom215/pagevault/internal/backuplog"
	"github.com/tomtom215/pagevault/internal/logging"
	"github.com/tomtom215/pagevault/internal/storage"
	"github.com/tomtom215/pagevault/internal/supervisor"
	"github.com/tomtom215/pagevault/internal/upload"
)

// Config is the complete pagevault configuration.
type Config struct {
	Storage    StorageConfig    `koanf:"storage"`
	LogStore   LogStoreConfig   `koanf:"log_store"`
	Backups    []BackupConfig   `koanf:"backups" validate:"dive"`
	Logging    LoggingConfig    `koanf:"logging"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// StorageConfig configures the database registry.
type StorageConfig struct {
	// Directory holds one subdirectory per database.
	Directory string `koanf:"directory" validate:"required"`

	// Name is a database created at startup when it does not exist yet.
	// Empty creates nothing.
	Name string `koanf:"name" validate:"omitempty,dbname"`

	PageSize                int  `koanf:"page_size" validate:"min=64,max=1048576"`
	SyncWrites              bool `koanf:"sync_writes"`
	AllowWritesDuringBackup bool `koanf:"allow_writes_during_backup"`
}

// LogStoreConfig configures the backup log store.
type LogStoreConfig struct {
	Path     string `koanf:"path" validate:"required_unless=InMemory true"`
	InMemory bool   `koanf:"in_memory"`
}

// ScheduleConfig holds the cron expression of one backup mode.
type ScheduleConfig struct {
	When string `koanf:"when" validate:"omitempty,cron"`
}

// UploadConfig configures the optional off-host copy of archives.
type UploadConfig struct {
	Target             string        `koanf:"target" validate:"required"`
	DownloadDir        string        `koanf:"download_dir"`
	Timeout            time.Duration `koanf:"timeout" validate:"gte=0"`
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
}

// BackupConfig is one backup owner.
type BackupConfig struct {
	ID            string         `koanf:"id" validate:"required,dbname"`
	DatabaseName  string         `koanf:"database_name" validate:"required,dbname"`
	Enabled       bool           `koanf:"enabled"`
	RetentionDays int            `koanf:"retention_days" validate:"gte=0"`
	Directory     string         `koanf:"directory" validate:"required"`
	Strategy      string         `koanf:"strategy" validate:"oneof=full incremental mixed"`
	Full          ScheduleConfig `koanf:"full"`
	Incremental   ScheduleConfig `koanf:"incremental"`
	Upload        *UploadConfig  `koanf:"upload" validate:"omitempty"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// MetricsConfig configures the HTTP endpoint serving /metrics, /healthz and
// the read-only backup log API.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Address string `koanf:"address" validate:"required_if=Enabled true,omitempty,hostname_port"`
}

// SupervisorConfig configures the suture supervisor tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold" validate:"gt=0"`
	FailureDecay     float64       `koanf:"failure_decay" validate:"gt=0"`
	FailureBackoff   time.Duration `koanf:"failure_backoff" validate:"gte=0"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout" validate:"gte=0"`
}

// StorageOptions returns the options of the database registry.
func (c *Config) StorageOptions() storage.Options {
	return storage.Options{
		PageSize:                c.Storage.PageSize,
		SyncWrites:              c.Storage.SyncWrites,
		AllowWritesDuringBackup: c.Storage.AllowWritesDuringBackup,
	}
}

// LogStoreOptions returns the options of the backup log store.
func (c *Config) LogStoreOptions() backuplog.Options {
	return backuplog.Options{
		Path:       c.LogStore.Path,
		InMemory:   c.LogStore.InMemory,
		SyncWrites: true,
	}
}

// LoggingOptions returns the logger configuration.
func (c *Config) LoggingOptions() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		Caller:    c.Logging.Caller,
		Timestamp: true,
	}
}

// TreeConfig returns the supervisor tree configuration.
func (c *Config) TreeConfig() supervisor.TreeConfig {
	return supervisor.TreeConfig{
		FailureThreshold: c.Supervisor.FailureThreshold,
		FailureDecay:     c.Supervisor.FailureDecay,
		FailureBackoff:   c.Supervisor.FailureBackoff,
		ShutdownTimeout:  c.Supervisor.ShutdownTimeout,
	}
}

// Owner converts a backup entry into the owner configuration of a strategy.
func (b BackupConfig) Owner() backup.OwnerConfig {
	return backup.OwnerConfig{
		ID:              b.ID,
		DatabaseName:    b.DatabaseName,
		Enabled:         b.Enabled,
		RetentionDays:   b.RetentionDays,
		Directory:       b.Directory,
		Strategy:        backup.StrategyKind(b.Strategy),
		FullWhen:        b.Full.When,
		IncrementalWhen: b.Incremental.When,
	}
}

// UploadOptions returns the uploader configuration, or nil when the owner
// keeps its archives local.
func (b BackupConfig) UploadOptions() *upload.Config {
	if b.Upload == nil {
		return nil
	}
	return &upload.Config{
		Target:             b.Upload.Target,
		DownloadDir:        b.Upload.DownloadDir,
		Timeout:            b.Upload.Timeout,
		BreakerMaxFailures: b.Upload.BreakerMaxFailures,
	}
}
