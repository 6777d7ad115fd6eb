// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

// Package backup decides when each configured backup owner runs a full or an
// incremental backup, drives the backup through the storage engine and
// journals every step in the backup log.
//
// # Overview
//
// One Strategy exists per configured owner. Its BackupMode decides the
// cadence:
//
//	full         - a single cron expression, every run starts a new chain
//	incremental  - a single cron expression, runs extend the current chain
//	mixed        - a full and an incremental cron expression; incrementals
//	               extend the chain until the next full is due
//
// # Lifecycle
//
// Every run goes through the journal:
//
//	ScheduleNextExecution  →  Scheduled
//	DoBackup               →  Started → Finished | Error
//	DoUpload               →  UploadStarted → UploadFinished | UploadError
//	DoRestore              →  RestoreStarted → RestoreFinished | RestoreError
//
// Scheduling is idempotent: while a Scheduled entry has not been answered by
// a Finished or Error entry, ScheduleNextExecution returns it unchanged, so a
// restarted process resumes the same plan.
//
// Backup failures never escape DoBackup. They become Error entries and a
// listener notification. A failed upload leaves the backup itself valid.
//
// # Usage
//
//	strategy, err := backup.NewStrategy(ownerCfg, backup.Deps{
//		Store:    store,
//		Policy:   cronpolicy.NewParser(),
//		Engine:   backup.NewRegistryEngine(registry),
//		Uploader: uploader, // optional
//	})
//	if err != nil {
//		return err
//	}
//
//	scheduler := backup.NewScheduler(strategy, nil)
//	if err := scheduler.Start(ctx); err != nil {
//		return err
//	}
//	defer scheduler.Stop()
package backup
