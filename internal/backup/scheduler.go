// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

/*
scheduler.go - Backup Scheduling

This file implements the per-owner scheduling loop that runs backups when
their cron activation is due.

Loop:
  - ScheduleNextExecution plans (or resumes) the next run
  - the loop sleeps until the planned time, a stop signal or ctx cancellation
  - DoBackup runs the backup and RetainLogs expires old journal entries

A planning failure (for example an unavailable backup log) is retried after
RetryDelay. Backup failures are already journaled by DoBackup and do not stop
the loop.

Integration:
The scheduler is started via Start() and stopped via Stop(); the supervisor
wraps it as a suture service.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/pagevault/internal/logging"
)

// DefaultRetryDelay is the pause after a failed scheduling decision.
const DefaultRetryDelay = 30 * time.Second

// Scheduler runs the backups of one Strategy on its schedule.
type Scheduler struct {
	strategy *Strategy
	listener Listener

	// RetryDelay is the pause after a failed scheduling decision.
	RetryDelay time.Duration

	after func(time.Duration) <-chan time.Time

	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewScheduler creates a scheduler for strategy. l may be nil.
func NewScheduler(strategy *Strategy, l Listener) *Scheduler {
	return &Scheduler{
		strategy:   strategy,
		listener:   l,
		RetryDelay: DefaultRetryDelay,
		after:      time.After,
	}
}

// Name identifies the scheduler in logs.
func (sc *Scheduler) Name() string {
	return "backup-scheduler-" + sc.strategy.cfg.ID
}

// Start begins the scheduling loop. Disabled owners are not scheduled.
func (sc *Scheduler) Start(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.running {
		return fmt.Errorf("backup scheduler %s is already running", sc.strategy.cfg.ID)
	}
	if !sc.strategy.cfg.Enabled {
		logging.Info().Str("owner", sc.strategy.cfg.ID).Msg("Backup owner disabled, not scheduling")
		return nil
	}

	sc.running = true
	sc.stop = make(chan struct{})
	sc.wg.Add(1)
	go sc.run(ctx, sc.stop)
	return nil
}

// Stop ends the loop and waits for a running backup to finish.
func (sc *Scheduler) Stop() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if !sc.running {
		return nil
	}
	close(sc.stop)
	sc.wg.Wait()
	sc.running = false
	return nil
}

func (sc *Scheduler) run(ctx context.Context, stop <-chan struct{}) {
	defer sc.wg.Done()
	owner := sc.strategy.cfg.ID

	for {
		wait := sc.RetryDelay
		entry, err := sc.strategy.ScheduleNextExecution(ctx)
		if err != nil {
			logging.Error().Err(err).Str("owner", owner).Dur("retry_in", wait).Msg("Scheduling backup failed")
		} else {
			wait = entry.Scheduled.NextExecution.Sub(sc.strategy.now())
			if wait < 0 {
				wait = 0
			}
			logging.Debug().
				Str("owner", owner).
				Str("mode", string(entry.Mode)).
				Time("next_execution", entry.Scheduled.NextExecution).
				Msg("Next backup scheduled")
		}

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-sc.after(wait):
		}
		if err != nil {
			continue
		}

		sc.strategy.DoBackup(ctx, sc.listener)
		if _, err := sc.strategy.RetainLogs(ctx, sc.strategy.cfg.RetentionDays); err != nil {
			logging.Error().Err(err).Str("owner", owner).Msg("Backup log retention failed")
		}
	}
}
