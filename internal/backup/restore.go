// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/tomtom215/pagevault/internal/backuplog"
	"github.com/tomtom215/pagevault/internal/logging"
	"github.com/tomtom215/pagevault/internal/metrics"
	"github.com/tomtom215/pagevault/internal/storage"
)

// RestoreRequest asks for the chain of UnitID to be restored into a new
// database named TargetDatabase. A zero UnitID selects the owner's last
// finished unit.
type RestoreRequest struct {
	UnitID         uint64
	TargetDatabase string
}

// DoRestore validates the request and starts the restore in the background.
// It fails with ErrRestoreTargetExists or ErrRestoreArtifactMissing before
// anything is journaled. Completion is reported through the listener and the
// RestoreFinished or RestoreError entry; WaitRestores blocks until all
// started restores are done.
func (s *Strategy) DoRestore(ctx context.Context, l Listener, req RestoreRequest) error {
	ctx = logging.ContextWithLogger(ctx, logging.WithComponent("restore"))
	if req.TargetDatabase == "" {
		return errors.New("restore target database is required")
	}
	if s.engine.DatabaseExists(req.TargetDatabase) {
		return fmt.Errorf("%w: %s", ErrRestoreTargetExists, req.TargetDatabase)
	}

	var finished *backuplog.Entry
	var err error
	if req.UnitID == 0 {
		finished, err = s.store.FindLast(ctx, backuplog.TypeFinished, s.cfg.ID)
	} else {
		finished, err = s.store.FindLastForUnit(ctx, backuplog.TypeFinished, s.cfg.ID, req.UnitID)
	}
	if err != nil {
		return fmt.Errorf("look up finished backup: %w", err)
	}
	if finished == nil || finished.Finished == nil {
		return fmt.Errorf("%w: owner %s has no finished backup for unit %d", ErrRestoreArtifactMissing, s.cfg.ID, req.UnitID)
	}

	reference := ""
	local := filepath.Join(finished.Finished.Path, finished.Finished.FileName)
	if _, statErr := os.Stat(local); statErr != nil {
		if upload := finished.Finished.Upload; s.uploader != nil && upload != nil {
			reference = upload.Metadata[referenceKey]
		}
		if reference == "" {
			return fmt.Errorf("%w: %s", ErrRestoreArtifactMissing, local)
		}
	}

	txID, err := s.store.NextOpID()
	if err != nil {
		return err
	}
	started := s.newEntry(backuplog.TypeRestoreStarted, finished.UnitID, txID, finished.Mode)
	started.RestoreStarted = &backuplog.RestoreStartedInfo{Mode: finished.Mode}
	started = s.record(ctx, started, l)

	s.restores.Add(1)
	go s.runRestore(context.WithoutCancel(ctx), l, req.TargetDatabase, finished, started, reference)
	return nil
}

// WaitRestores blocks until every restore started by DoRestore completed.
func (s *Strategy) WaitRestores() {
	s.restores.Wait()
}

func (s *Strategy) runRestore(ctx context.Context, l Listener, target string, finished, started *backuplog.Entry, reference string) {
	defer s.restores.Done()
	start := time.Now()
	dir := finished.Finished.Path

	res, stack, err := func() (res *storage.RestoreResult, stack string, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("restore panicked: %v", r)
				stack = string(debug.Stack())
			}
		}()
		if reference != "" {
			downloaded, err := s.uploader.ExecuteDownload(ctx, reference)
			if err != nil {
				return nil, "", err
			}
			defer os.RemoveAll(downloaded)
			dir = downloaded
		}
		res, err = s.engine.Restore(ctx, target, dir)
		return res, "", err
	}()
	metrics.RecordRestore(s.cfg.ID, err)

	if err != nil {
		logging.Ctx(ctx).Error().
			Err(err).
			Str("owner", s.cfg.ID).
			Str("target", target).
			Uint64("unit_id", finished.UnitID).
			Msg("Restore failed")
		e := s.newEntry(backuplog.TypeRestoreError, started.UnitID, started.TxID, started.Mode)
		e.RestoreError = &backuplog.ErrorInfo{Message: err.Error(), StackTrace: stack}
		s.record(ctx, e, l)
		return
	}

	metadata := map[string]string{
		"archives":      strconv.Itoa(res.Archives),
		"pages_applied": strconv.Itoa(res.PagesApplied),
		"wal_records":   strconv.Itoa(res.WALRecords),
	}
	if res.MaxLSN != nil {
		metadata["max_lsn"] = res.MaxLSN.String()
	}
	if reference != "" {
		metadata[referenceKey] = reference
	}
	e := s.newEntry(backuplog.TypeRestoreFinished, started.UnitID, started.TxID, started.Mode)
	e.RestoreFinished = &backuplog.RestoreFinishedInfo{
		ElapsedTime:   time.Since(start),
		TargetDB:      target,
		RestoreUnitID: finished.UnitID,
		Path:          finished.Finished.Path,
		Metadata:      metadata,
	}
	s.record(ctx, e, l)
}
