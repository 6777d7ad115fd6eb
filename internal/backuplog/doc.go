// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

// Package backuplog provides the append-only audit journal of backup and
// restore lifecycle events, persisted in BadgerDB.
//
// Every backup owner (one configured backup) writes entries into its own key
// partition, so schedulers for different owners never observe each other's
// history:
//
//	log/<owner> 0x00 <entry id, big-endian u64>  →  JSON-encoded Entry
//
// Entry ids come from a badger sequence and therefore sort in insertion order,
// which makes "last entry of type T" a reverse prefix scan.
//
// # Lifecycle
//
// A backup unit (chain) journals:
//
//	Scheduled → Started → Finished → UploadStarted → UploadFinished | UploadError
//	                    ↘ Error
//
// and restores journal RestoreStarted → RestoreFinished | RestoreError.
// Finished and Error entries share the (unit_id, tx_id) pair of the Started
// entry they answer.
//
// # Usage
//
//	store, err := backuplog.Open(backuplog.Options{Path: "/data/backuplog"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	last, err := store.FindLast(ctx, backuplog.TypeFinished, "nightly")
//
// DeriveChainState folds the entries of one unit into a ChainState so callers
// can reason about a chain without issuing one query per question.
package backuplog
