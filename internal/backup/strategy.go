// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

/*
strategy.go - Backup Strategy

This file contains the Strategy, the per-owner state machine that schedules
backups, runs them and journals each transition in the backup log.

Journal Writes:
Every entry goes through record(), which logs it, emits a structured log
line and notifies the listener. A failing backup log never blocks a backup:
record() logs a warning and hands back the unpersisted entry.

Thread Safety:
Scheduling decisions are serialized by a mutex because BackupMode
implementations keep transient state. Backup capture itself is not
serialized here; the storage engine rejects a second concurrent backup of the
same database with ErrBackupInProgress.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/tomtom215/pagevault/internal/backuplog"
	"github.com/tomtom215/pagevault/internal/cronpolicy"
	"github.com/tomtom215/pagevault/internal/logging"
	"github.com/tomtom215/pagevault/internal/metrics"
	"github.com/tomtom215/pagevault/internal/storage"
	"github.com/tomtom215/pagevault/internal/upload"
)

// Deps are the collaborators of a Strategy.
type Deps struct {
	Store  backuplog.Store
	Policy cronpolicy.Policy
	Engine Engine

	// Uploader is optional; without it backups stay local.
	Uploader upload.Uploader

	// Now defaults to time.Now.
	Now func() time.Time
}

// Strategy drives the backups of one owner.
type Strategy struct {
	cfg      OwnerConfig
	mode     BackupMode
	store    backuplog.Store
	policy   cronpolicy.Policy
	engine   Engine
	uploader upload.Uploader
	now      func() time.Time

	mu       sync.Mutex
	restores sync.WaitGroup
}

// NewStrategy validates cfg and builds the strategy it describes.
func NewStrategy(cfg OwnerConfig, deps Deps) (*Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Policy == nil || deps.Engine == nil {
		return nil, fmt.Errorf("%w: owner %s: store, policy and engine are required", ErrInvalidConfig, cfg.ID)
	}
	mode, err := newMode(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	for _, expr := range []string{cfg.FullWhen, cfg.IncrementalWhen} {
		if expr == "" {
			continue
		}
		if _, err := deps.Policy.NextValidTimeAfter(expr, time.Now()); err != nil {
			return nil, fmt.Errorf("owner %s: %w", cfg.ID, err)
		}
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Strategy{
		cfg:      cfg,
		mode:     mode,
		store:    deps.Store,
		policy:   deps.Policy,
		engine:   deps.Engine,
		uploader: deps.Uploader,
		now:      now,
	}, nil
}

// Owner returns the owner configuration.
func (s *Strategy) Owner() OwnerConfig {
	return s.cfg
}

// Kind returns the strategy kind.
func (s *Strategy) Kind() StrategyKind {
	return s.mode.Kind()
}

func (s *Strategy) newEntry(t backuplog.EntryType, unitID, txID uint64, mode backuplog.Mode) *backuplog.Entry {
	return &backuplog.Entry{
		Type:         t,
		UnitID:       unitID,
		TxID:         txID,
		OwnerID:      s.cfg.ID,
		DatabaseName: s.cfg.DatabaseName,
		Mode:         mode,
		Timestamp:    s.now().UTC(),
	}
}

// record journals e and notifies l. The returned entry is the stored one, or
// e itself when the backup log is unavailable.
func (s *Strategy) record(ctx context.Context, e *backuplog.Entry, l Listener) *backuplog.Entry {
	out, err := s.store.Log(ctx, e)
	if err != nil {
		logging.Ctx(ctx).Warn().
			Err(err).
			Str("owner", s.cfg.ID).
			Str("type", string(e.Type)).
			Msg("Backup log write failed, continuing")
		out = e
	}
	logging.Ctx(ctx).Info().
		Str("owner", out.OwnerID).
		Uint64("unit_id", out.UnitID).
		Uint64("tx_id", out.TxID).
		Str("mode", string(out.Mode)).
		Str("type", string(out.Type)).
		Msg("Backup lifecycle transition")
	notify(l, out)
	return out
}

// lastFinished returns the owner's last Finished entry, or nil.
func (s *Strategy) lastFinished(ctx context.Context) *backuplog.Entry {
	last, err := s.store.FindLast(ctx, backuplog.TypeFinished, s.cfg.ID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("owner", s.cfg.ID).Msg("Backup log lookup failed")
		return nil
	}
	return last
}

// pendingSchedule returns the owner's last Scheduled entry if no Finished or
// Error entry answers it yet.
func (s *Strategy) pendingSchedule(ctx context.Context) *backuplog.Entry {
	last, err := s.store.FindLast(ctx, backuplog.TypeScheduled, s.cfg.ID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("owner", s.cfg.ID).Msg("Backup log lookup failed")
		return nil
	}
	if last == nil {
		return nil
	}
	entries, err := s.store.EntriesForUnit(ctx, s.cfg.ID, last.UnitID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("owner", s.cfg.ID).Msg("Backup log lookup failed")
		return nil
	}
	st := backuplog.DeriveChainState(entries)
	if !st.PendingSchedule {
		return nil
	}
	return st.LastScheduled
}

// ScheduleNextExecution returns the owner's next planned run, logging a new
// Scheduled entry unless an unanswered one exists.
func (s *Strategy) ScheduleNextExecution(ctx context.Context) (*backuplog.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pending := s.pendingSchedule(ctx); pending != nil && pending.Scheduled != nil {
		s.mode.Resume(pending)
		metrics.RecordNextExecution(s.cfg.ID, pending.Scheduled.NextExecution)
		return pending, nil
	}

	d, err := s.mode.Next(ctx, s, s.now())
	if err != nil {
		return nil, err
	}
	unitID := d.UnitID
	if unitID == 0 {
		if unitID, err = s.store.NextOpID(); err != nil {
			return nil, err
		}
	}
	txID, err := s.store.NextOpID()
	if err != nil {
		return nil, err
	}

	e := s.newEntry(backuplog.TypeScheduled, unitID, txID, d.Mode)
	e.Scheduled = &backuplog.ScheduledInfo{NextExecution: d.At}
	out := s.record(ctx, e, nil)
	metrics.RecordNextExecution(s.cfg.ID, d.At)
	return out, nil
}

// StartBackup logs the Started entry of a run. The run takes over the
// pending Scheduled entry if there is one, otherwise it starts a new unit.
func (s *Strategy) StartBackup(ctx context.Context, l Listener) (*backuplog.Entry, error) {
	s.mu.Lock()
	var unitID, txID uint64
	var mode backuplog.Mode
	if pending := s.pendingSchedule(ctx); pending != nil {
		s.mode.Resume(pending)
		unitID, txID, mode = pending.UnitID, pending.TxID, pending.Mode
	} else {
		s.mode.Reset()
		mode = s.mode.Mode()
		var err error
		if unitID, err = s.store.NextOpID(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		if txID, err = s.store.NextOpID(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	s.mu.Unlock()

	return s.record(ctx, s.newEntry(backuplog.TypeStarted, unitID, txID, mode), l), nil
}

// DoBackup runs one backup. It returns the Finished entry, or the Error entry
// describing why the backup failed; failures are never returned as errors.
// When no unit could be started there is nothing to attach an Error entry
// to, so the failure is only logged and DoBackup returns nil.
func (s *Strategy) DoBackup(ctx context.Context, l Listener) *backuplog.Entry {
	ctx = logging.ContextWithNewCorrelationID(ctx)
	ctx = logging.ContextWithLogger(ctx, logging.WithComponent("backup"))
	start := time.Now()

	started, err := s.StartBackup(ctx, l)
	if err != nil {
		metrics.RecordBackup(s.cfg.ID, string(s.mode.Mode()), time.Since(start), err)
		logging.Ctx(ctx).Error().
			Err(err).
			Str("owner", s.cfg.ID).
			Msg("Backup could not be started")
		return nil
	}

	dir, res, stack, err := s.capture(ctx, started)
	metrics.RecordBackup(s.cfg.ID, string(started.Mode), time.Since(start), err)
	if err != nil {
		logging.Ctx(ctx).Error().
			Err(err).
			Str("owner", s.cfg.ID).
			Uint64("unit_id", started.UnitID).
			Msg("Backup failed")
		e := s.newEntry(backuplog.TypeError, started.UnitID, started.TxID, started.Mode)
		e.Error = &backuplog.ErrorInfo{Message: err.Error(), StackTrace: stack}
		return s.record(ctx, e, l)
	}

	e := s.newEntry(backuplog.TypeFinished, started.UnitID, started.TxID, started.Mode)
	e.Finished = &backuplog.FinishedInfo{
		FileName:    res.FileName,
		Path:        dir,
		FileSize:    uint64(res.FileSize),
		ElapsedTime: res.Elapsed,
	}
	finished := s.record(ctx, e, l)
	logging.Ctx(ctx).Info().
		Str("owner", s.cfg.ID).
		Str("file", res.FileName).
		Uint64("chain_index", res.ChainIndex).
		Bool("is_full", res.IsFull).
		Int("pages", res.PagesCaptured).
		Dur("elapsed", res.Elapsed).
		Msg("Backup completed")

	return s.DoUpload(ctx, l, finished)
}

// capture runs the storage backup, converting panics into errors.
func (s *Strategy) capture(ctx context.Context, started *backuplog.Entry) (dir string, res *storage.BackupResult, stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backup panicked: %v", r)
			stack = string(debug.Stack())
		}
	}()

	dir = s.mode.CalculatePath(ctx, s, started)
	res, err = s.engine.Backup(ctx, s.cfg.DatabaseName, dir, started.Mode)
	if err == nil && res == nil {
		err = errors.New("storage engine returned no result")
	}
	return dir, res, stack, err
}

// DoUpload ships the archive of a Finished entry and attaches the receipt to
// it. Upload failures are journaled and leave the backup valid. The returned
// entry is finished with the receipt attached when the upload succeeded.
func (s *Strategy) DoUpload(ctx context.Context, l Listener, finished *backuplog.Entry) *backuplog.Entry {
	if s.uploader == nil || finished == nil || finished.Finished == nil {
		return finished
	}
	info := finished.Finished

	e := s.newEntry(backuplog.TypeUploadStarted, finished.UnitID, finished.TxID, finished.Mode)
	e.UploadStarted = &backuplog.UploadStartedInfo{FileName: info.FileName, Path: info.Path}
	s.record(ctx, e, l)

	start := time.Now()
	res, err := s.uploader.ExecuteUpload(ctx, info.Path, info.FileName, filepath.Base(info.Path))
	metrics.RecordUpload(s.cfg.ID, time.Since(start), err)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("owner", s.cfg.ID).Str("file", info.FileName).Msg("Upload failed")
		ue := s.newEntry(backuplog.TypeUploadError, finished.UnitID, finished.TxID, finished.Mode)
		ue.UploadError = &backuplog.ErrorInfo{Message: err.Error()}
		s.record(ctx, ue, l)
		return finished
	}

	metadata := make(map[string]string, len(res.Metadata)+1)
	for k, v := range res.Metadata {
		metadata[k] = v
	}
	metadata[referenceKey] = res.Reference
	receipt := &backuplog.UploadFinishedInfo{
		ElapsedTime: res.ElapsedTime,
		FileSize:    res.FileSize,
		FileName:    res.FileName,
		Metadata:    metadata,
		UploadType:  res.Type,
	}
	uf := s.newEntry(backuplog.TypeUploadFinished, finished.UnitID, finished.TxID, finished.Mode)
	uf.UploadFinished = receipt
	s.record(ctx, uf, l)

	updated := finished.Clone()
	updated.Finished.Upload = uf.UploadFinished
	if err := s.store.UpdateLog(ctx, updated); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("owner", s.cfg.ID).Msg("Attaching upload receipt failed")
	}
	return updated
}

// referenceKey is the receipt metadata key holding the uploader reference.
const referenceKey = "reference"

// RetainLogs deletes the owner's log entries older than days. Zero or
// negative days keep everything.
func (s *Strategy) RetainLogs(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, nil
	}
	cutoff := s.now().AddDate(0, 0, -days)
	n, err := s.store.DeleteByOwnerAge(ctx, s.cfg.ID, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.Ctx(ctx).Info().Str("owner", s.cfg.ID).Int("deleted", n).Int("retention_days", days).Msg("Backup log retention applied")
	}
	return n, nil
}

// MarkLastBackup sets prev_change on the owner's last Finished entry so the
// next decision starts a new chain.
func (s *Strategy) MarkLastBackup(ctx context.Context) error {
	last, err := s.store.FindLast(ctx, backuplog.TypeFinished, s.cfg.ID)
	if err != nil || last == nil || last.Finished == nil {
		return err
	}
	last.Finished.PrevChange = true
	return s.store.UpdateLog(ctx, last)
}
