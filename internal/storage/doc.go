// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

// Package storage implements a small paginated storage engine together with
// its LSN-based incremental backup and restore.
//
// A database directory looks like:
//
//	<dir>/database.ocf        configuration (JSON)
//	<dir>/data/files.json     data file name -> id registry
//	<dir>/data/<name>         data file of fixed-size pages
//	<dir>/wal/<segment>.wal   WAL segments of length-prefixed records
//
// Every page starts with the LSN of the WAL record that last wrote it. An
// incremental backup copies the pages whose LSN is newer than the previous
// archive's newest LSN, plus the WAL written while it ran:
//
//	┌────────────┐   pages newer than since   ┌──────────────────────────┐
//	│  Storage   │──────────────────────────▶│ <db>_<time>_<index>.ibu  │
//	│ data + WAL │   WAL from boundary on     │ header + zip sections    │
//	└────────────┘                            └──────────────────────────┘
//
// Archive layout:
//
//	[u64 chain index][u64 lsn segment][u64 lsn position][u8 is full]
//	zip body:
//	  data/<file>      [u64 file id] then repeated [u64 page index][page]
//	  database.ocf     configuration
//	  <segment>.wal    raw WAL segment bytes
//	  manifest.json    since/max LSN, page size, chain index
//
// Usage:
//
//	s, err := storage.Open(dir, "orders", storage.Options{})
//	id, _ := s.AddFile("orders.pcl")
//	s.WritePage(id, 0, payload)
//
//	res, err := s.IncrementalBackup(ctx, backupDir)
//
//	target, _ := registry.Create("orders_restored")
//	_, err = target.Restore(ctx, backupDir)
package storage
