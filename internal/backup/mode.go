// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

/*
mode.go - Backup Modes

A BackupMode answers two questions for its Strategy: what runs next (mode,
chain and time) and where the archive of a run goes.

Chain Continuation:
  - full: never continues, every run gets a fresh unit and directory
  - incremental: continues the unit of the last Finished entry unless that
    entry has prev_change set
  - mixed: continues incrementally while the incremental cron fires before
    the full cron; a full time skipped in favour of an incremental is
    remembered and wins once an incremental would run at or after it

Paths:
  - full runs always write into <directory>/<owner>_<utc time>_<random>
  - incremental runs reuse the directory of the unit's last Finished entry,
    falling back to <directory>/<owner>_unit-<unit id>
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/pagevault/internal/backuplog"
	"github.com/tomtom215/pagevault/internal/logging"
)

// Decision is a mode's plan for the next run.
type Decision struct {
	// UnitID is the chain to continue. Zero starts a new chain.
	UnitID uint64
	Mode   backuplog.Mode
	At     time.Time
}

// BackupMode is the scheduling policy of a Strategy. Implementations may keep
// transient state; the Strategy serializes calls.
type BackupMode interface {
	Kind() StrategyKind

	// Mode is the mode of the run most recently planned.
	Mode() backuplog.Mode

	// Next plans the run following now.
	Next(ctx context.Context, s *Strategy, now time.Time) (Decision, error)

	// Resume adopts a pending Scheduled entry planned earlier.
	Resume(pending *backuplog.Entry)

	// Reset forgets transient state before an unscheduled run.
	Reset()

	// CalculatePath returns the directory the started run writes into.
	CalculatePath(ctx context.Context, s *Strategy, started *backuplog.Entry) string
}

func newMode(kind StrategyKind) (BackupMode, error) {
	switch kind {
	case StrategyFull:
		return &fullMode{}, nil
	case StrategyIncremental:
		return &incrementalMode{}, nil
	case StrategyMixed:
		return &mixedMode{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, kind)
	}
}

// freshPath returns a new chain directory for the owner.
func (s *Strategy) freshPath() string {
	name := fmt.Sprintf("%s_%s_%s", s.cfg.ID, s.now().UTC().Format("2006-01-02-15-04-05"), uuid.NewString()[:8])
	return filepath.Join(s.cfg.Directory, name)
}

// chainPath returns the directory of the started run's chain.
func (s *Strategy) chainPath(ctx context.Context, started *backuplog.Entry) string {
	last, err := s.store.FindLastForUnit(ctx, backuplog.TypeFinished, s.cfg.ID, started.UnitID)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("owner", s.cfg.ID).Msg("Backup log lookup failed, using unit path")
	}
	if last != nil && last.Finished != nil && last.Finished.Path != "" {
		return last.Finished.Path
	}
	return filepath.Join(s.cfg.Directory, fmt.Sprintf("%s_unit-%d", s.cfg.ID, started.UnitID))
}

// fullMode runs a full backup on every FullWhen activation.
type fullMode struct{}

func (m *fullMode) Kind() StrategyKind        { return StrategyFull }
func (m *fullMode) Mode() backuplog.Mode      { return backuplog.ModeFull }
func (m *fullMode) Resume(_ *backuplog.Entry) {}
func (m *fullMode) Reset()                    {}

func (m *fullMode) Next(_ context.Context, s *Strategy, now time.Time) (Decision, error) {
	at, err := s.policy.NextValidTimeAfter(s.cfg.FullWhen, now)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Mode: backuplog.ModeFull, At: at}, nil
}

func (m *fullMode) CalculatePath(_ context.Context, s *Strategy, _ *backuplog.Entry) string {
	return s.freshPath()
}

// incrementalMode extends one chain on every IncrementalWhen activation. The
// first archive of a chain is full.
type incrementalMode struct{}

func (m *incrementalMode) Kind() StrategyKind        { return StrategyIncremental }
func (m *incrementalMode) Mode() backuplog.Mode      { return backuplog.ModeIncremental }
func (m *incrementalMode) Resume(_ *backuplog.Entry) {}
func (m *incrementalMode) Reset()                    {}

func (m *incrementalMode) Next(ctx context.Context, s *Strategy, now time.Time) (Decision, error) {
	at, err := s.policy.NextValidTimeAfter(s.cfg.IncrementalWhen, now)
	if err != nil {
		return Decision{}, err
	}
	d := Decision{Mode: backuplog.ModeIncremental, At: at}
	if last := s.lastFinished(ctx); continuable(last) {
		d.UnitID = last.UnitID
	}
	return d, nil
}

func (m *incrementalMode) CalculatePath(ctx context.Context, s *Strategy, started *backuplog.Entry) string {
	return s.chainPath(ctx, started)
}

// mixedMode interleaves full and incremental runs.
type mixedMode struct {
	isIncremental bool
	// skippedFull is the earliest full activation passed over in favour of
	// an incremental run of the current chain.
	skippedFull *time.Time
}

func (m *mixedMode) Kind() StrategyKind { return StrategyMixed }

func (m *mixedMode) Mode() backuplog.Mode {
	if m.isIncremental {
		return backuplog.ModeIncremental
	}
	return backuplog.ModeFull
}

func (m *mixedMode) Resume(pending *backuplog.Entry) {
	m.isIncremental = pending.Mode == backuplog.ModeIncremental
}

func (m *mixedMode) Reset() {
	m.isIncremental = false
	m.skippedFull = nil
}

func (m *mixedMode) Next(ctx context.Context, s *Strategy, now time.Time) (Decision, error) {
	nextFull, err := s.policy.NextValidTimeAfter(s.cfg.FullWhen, now)
	if err != nil {
		return Decision{}, err
	}
	nextInc, err := s.policy.NextValidTimeAfter(s.cfg.IncrementalWhen, now)
	if err != nil {
		return Decision{}, err
	}

	last := s.lastFinished(ctx)
	if continuable(last) && nextInc.Before(nextFull) {
		if m.skippedFull == nil || m.skippedFull.After(nextInc) {
			if m.skippedFull == nil {
				skipped := nextFull
				m.skippedFull = &skipped
			}
			m.isIncremental = true
			return Decision{UnitID: last.UnitID, Mode: backuplog.ModeIncremental, At: nextInc}, nil
		}
		// A full run was passed over and is now due: take it in the
		// next slot instead of extending the chain again.
		m.Reset()
		return Decision{Mode: backuplog.ModeFull, At: nextInc}, nil
	}

	m.Reset()
	at := nextFull
	if nextInc.Before(at) {
		at = nextInc
	}
	return Decision{Mode: backuplog.ModeFull, At: at}, nil
}

func (m *mixedMode) CalculatePath(ctx context.Context, s *Strategy, started *backuplog.Entry) string {
	if started.Mode == backuplog.ModeFull {
		return s.freshPath()
	}
	return s.chainPath(ctx, started)
}

// continuable reports whether the chain of a Finished entry may be extended.
func continuable(last *backuplog.Entry) bool {
	return last != nil && last.Finished != nil && !last.Finished.PrevChange
}
