// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package services

import (
	"context"
	"fmt"
)

// BackupScheduler is the Start/Stop lifecycle of *backup.Scheduler.
type BackupScheduler interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// BackupSchedulerService adapts a backup scheduler to suture's Serve
// pattern: Start, wait for cancellation, Stop. Stop waits for a backup that
// is already running, so the supervisor's shutdown timeout should leave room
// for one.
type BackupSchedulerService struct {
	scheduler BackupScheduler
	name      string
}

func NewBackupSchedulerService(scheduler BackupScheduler) *BackupSchedulerService {
	return &BackupSchedulerService{
		scheduler: scheduler,
		name:      scheduler.Name(),
	}
}

// Serve implements suture.Service. A failed Start is returned so that the
// supervisor retries it with backoff.
func (s *BackupSchedulerService) Serve(ctx context.Context) error {
	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}

	<-ctx.Done()

	if err := s.scheduler.Stop(); err != nil {
		return fmt.Errorf("%s stop failed: %w", s.name, err)
	}
	return ctx.Err()
}

func (s *BackupSchedulerService) String() string {
	return s.name
}
