// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the storage engine.
var (
	// ErrBackupInProgress is returned when an incremental backup is requested
	// while another one is still running on the same storage.
	ErrBackupInProgress = errors.New("incremental backup already in progress")

	// ErrIO marks archive, page and WAL I/O failures. Match with errors.Is.
	ErrIO = errors.New("storage i/o failure")

	// ErrRestoreInconsistency is returned when an archive chain cannot be
	// applied consistently (file id mismatch, broken LSN chain, page size mismatch).
	ErrRestoreInconsistency = errors.New("restore inconsistency")

	ErrStorageClosed       = errors.New("storage is closed")
	ErrFileNotFound        = errors.New("data file not found")
	ErrFileExists          = errors.New("data file already exists")
	ErrInvalidFileName     = errors.New("invalid data file name")
	ErrFileNotOpen         = errors.New("data file is not open")
	ErrPageOutOfRange      = errors.New("page index out of range")
	ErrPageTooLarge        = errors.New("page payload exceeds page size")
	ErrInvalidArchive      = errors.New("invalid backup archive")
	ErrNoArchives          = errors.New("no backup archives found")
	ErrBackupDirNotEmpty   = errors.New("full backup directory is not empty")
	ErrInvalidRecord       = errors.New("invalid wal record")
	ErrDatabaseExists      = errors.New("database already exists")
	ErrDatabaseNotFound    = errors.New("database not found")
	ErrInvalidDatabaseName = errors.New("invalid database name")

	errNoActiveSegment = errors.New("no active wal segment")
)

// IOError wraps an underlying filesystem error with the operation and path
// that produced it. It matches ErrIO as well as the wrapped error.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes both ErrIO and the underlying cause to errors.Is / errors.As.
func (e *IOError) Unwrap() []error {
	return []error{ErrIO, e.Err}
}

func ioErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

func inconsistency(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRestoreInconsistency, fmt.Sprintf(format, args...))
}
