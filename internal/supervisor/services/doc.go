// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

/*
Package services provides suture.Service wrappers for Pagevault components.

Each wrapper translates a component lifecycle into suture's context-aware
Serve pattern and names itself through fmt.Stringer for the supervisor logs.

# Available Services

HTTP Server (HTTPServerService):
  - Wraps *http.Server with graceful shutdown
  - Serves health checks, Prometheus metrics and the backup log API

Backup Scheduler (BackupSchedulerService):
  - Wraps backup.Scheduler with its Start/Stop lifecycle
  - One service per backup owner, named after the scheduler

# Return Semantics

Serve returns ctx.Err() after a requested shutdown and a wrapped error when
the component fails. Suture restarts a service only in the second case.
*/
package services
