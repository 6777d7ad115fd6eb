// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

// Package upload ships finished backup archives to a remote target and
// fetches them back for restore.
//
// The bundled FileUploader treats a directory (typically a network mount) as
// the remote. BreakerUploader wraps any Uploader with a circuit breaker so a
// dead target fails fast instead of stalling every scheduled backup.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUploadFailure marks every upload or download failure.
var ErrUploadFailure = errors.New("upload failed")

// Result is the receipt of one upload.
type Result struct {
	ElapsedTime time.Duration
	FileSize    uint64
	FileName    string
	// Reference identifies the uploaded unit for ExecuteDownload.
	Reference string
	Metadata  map[string]string
	Type      string
}

// Uploader is the transport collaborator of a backup strategy.
type Uploader interface {
	// ExecuteUpload copies the archive fileName found in localPath to the
	// remote location of unitLabel.
	ExecuteUpload(ctx context.Context, localPath, fileName, unitLabel string) (*Result, error)

	// ExecuteDownload fetches every archive of the referenced unit into a new
	// local directory and returns its path.
	ExecuteDownload(ctx context.Context, reference string) (string, error)
}

// Config selects and tunes the uploader built by New.
type Config struct {
	// Target is the remote root directory.
	Target string

	// DownloadDir receives downloaded units. Empty means the OS temp dir.
	DownloadDir string

	// Timeout bounds a single upload or download. Zero disables it.
	Timeout time.Duration

	// BreakerMaxFailures is the number of consecutive failures that opens
	// the circuit. Zero disables the breaker.
	BreakerMaxFailures uint32
}

// New builds the uploader described by cfg.
func New(name string, cfg Config) (Uploader, error) {
	if cfg.Target == "" {
		return nil, fmt.Errorf("%w: upload target is required", ErrUploadFailure)
	}
	var u Uploader = &FileUploader{Target: cfg.Target, DownloadDir: cfg.DownloadDir}
	if cfg.Timeout > 0 {
		u = &timeoutUploader{next: u, timeout: cfg.Timeout}
	}
	if cfg.BreakerMaxFailures > 0 {
		u = NewBreakerUploader(name, u, cfg.BreakerMaxFailures)
	}
	return u, nil
}

type timeoutUploader struct {
	next    Uploader
	timeout time.Duration
}

func (t *timeoutUploader) ExecuteUpload(ctx context.Context, localPath, fileName, unitLabel string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.ExecuteUpload(ctx, localPath, fileName, unitLabel)
}

func (t *timeoutUploader) ExecuteDownload(ctx context.Context, reference string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.ExecuteDownload(ctx, reference)
}

// failure wraps err as an ErrUploadFailure, keeping err matchable.
func failure(op string, err error) error {
	if err == nil || errors.Is(err, ErrUploadFailure) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrUploadFailure, op, err)
}
