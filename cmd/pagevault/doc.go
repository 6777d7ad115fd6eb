// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

// Command pagevault runs scheduled backups of paginated storage databases and
// restores them.
//
// # Usage
//
//	pagevault [serve] [-config path]
//	pagevault restore -owner id [-unit n] -target name [-config path]
//
// serve (the default) starts one backup scheduler per configured owner under
// a supervisor tree, plus the HTTP server for /healthz, /metrics and the
// backup log API when metrics are enabled. SIGINT and SIGTERM trigger a
// graceful shutdown that lets running backups finish.
//
// restore replays the backup chain of one unit into a new database and waits
// for it to complete. Without -unit the owner's last finished unit is used.
//
// # Configuration
//
// The configuration file is taken from -config, then PAGEVAULT_CONFIG, then
// the default search paths (see internal/config). PAGEVAULT_* environment
// variables override file values.
package main
