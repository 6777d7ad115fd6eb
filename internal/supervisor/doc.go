// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

/*
Package supervisor provides process supervision for Pagevault using suture v4.

The tree gives every long-running service automatic restart with backoff and
an ordered shutdown when the root context is canceled.

# Overview

	RootSupervisor ("pagevault")
	├── BackupSupervisor ("backup-layer")
	│   └── BackupSchedulerService (one per configured owner)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService (if metrics.enabled)

A scheduler that keeps failing (for example because the backup log store is
unavailable) is backed off inside the backup layer. The HTTP server keeps
serving health checks and the backup log while that happens.

# Usage Example

	tree, err := supervisor.NewSupervisorTree(logger, cfg.TreeConfig())
	if err != nil {
	    return err
	}
	for _, sc := range schedulers {
	    tree.AddBackupService(services.NewBackupSchedulerService(sc))
	}
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    return err
	}

# Configuration

TreeConfig controls restart behavior. Zero values fall back to the suture
defaults:
  - FailureThreshold: 5 failures
  - FailureDecay: 30 seconds
  - FailureBackoff: 15 seconds
  - ShutdownTimeout: 10 seconds

# Service Interface

All services implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Returning nil stops the service for good. Returning an error restarts it.
On context cancellation a service should return promptly.

# See Also

  - internal/supervisor/services: Service wrappers
  - github.com/thejerf/suture/v4: Underlying library
*/
package supervisor
