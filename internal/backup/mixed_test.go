// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package backup

import (
	"context"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/tomtom215/pagevault/internal/backuplog"
	"github.com/tomtom215/pagevault/internal/cronpolicy"
)

func TestMixedModeDecisions(t *testing.T) {
	env := newTestEnv(t, testOwner(t, StrategyMixed), Deps{})
	at := func(hh, mm int) time.Time {
		return time.Date(2026, 3, 10, hh, mm, 0, 0, time.UTC)
	}
	want := []struct {
		mode backuplog.Mode
		at   time.Time
	}{
		{backuplog.ModeFull, at(12, 10)},
		{backuplog.ModeIncremental, at(12, 20)},
		{backuplog.ModeIncremental, at(12, 30)},
		{backuplog.ModeIncremental, at(12, 40)},
		{backuplog.ModeIncremental, at(12, 50)},
		{backuplog.ModeFull, at(13, 0)},
		{backuplog.ModeIncremental, at(13, 10)},
	}

	var chain uint64
	for i, w := range want {
		sched, fin := env.runScheduled(t, nil)
		if sched.Mode != w.mode || !sched.Scheduled.NextExecution.Equal(w.at) {
			t.Fatalf("decision %d: got %s at %v, want %s at %v",
				i, sched.Mode, sched.Scheduled.NextExecution, w.mode, w.at)
		}
		if fin.Type != backuplog.TypeFinished {
			t.Fatalf("decision %d: backup failed: %+v", i, fin.Error)
		}
		switch w.mode {
		case backuplog.ModeFull:
			if fin.UnitID == chain {
				t.Errorf("decision %d: full backup continued unit %d", i, chain)
			}
			chain = fin.UnitID
		case backuplog.ModeIncremental:
			if fin.UnitID != chain {
				t.Errorf("decision %d: incremental on unit %d, chain is %d", i, fin.UnitID, chain)
			}
		}
	}
}

func TestMixedModeResumeKeepsIncrementalPlan(t *testing.T) {
	env := newTestEnv(t, testOwner(t, StrategyMixed), Deps{})
	env.runScheduled(t, nil)
	sched, err := env.strategy.ScheduleNextExecution(t.Context())
	if err != nil {
		t.Fatalf("ScheduleNextExecution failed: %v", err)
	}

	env.strategy.mode.Reset()
	started, err := env.strategy.StartBackup(t.Context(), nil)
	if err != nil {
		t.Fatalf("StartBackup failed: %v", err)
	}
	if started.Mode != backuplog.ModeIncremental || started.TxID != sched.TxID {
		t.Errorf("start did not take over the plan: %s tx %d, planned %s tx %d",
			started.Mode, started.TxID, sched.Mode, sched.TxID)
	}
}

// A full backup is never postponed for longer than one full cron period,
// however the two crons line up.
func TestMixedModeNeverStarvesFullBackups(t *testing.T) {
	store := newTestStore(t)
	policy := cronpolicy.NewParser()
	dir := t.TempDir()
	pairs := [][2]string{
		{"0 * * * *", "*/10 * * * *"},
		{"@every 1h", "@every 10m"},
	}
	run := 0

	rapid.Check(t, func(rt *rapid.T) {
		pair := rapid.SampledFrom(pairs).Draw(rt, "crons")
		offset := rapid.IntRange(0, 3599).Draw(rt, "offset")
		steps := rapid.IntRange(6, 25).Draw(rt, "steps")

		run++
		clock := newFakeClock(testStart.Add(time.Duration(offset) * time.Second))
		s, err := NewStrategy(OwnerConfig{
			ID:              fmt.Sprintf("owner-%d", run),
			DatabaseName:    "orders",
			Enabled:         true,
			Directory:       dir,
			Strategy:        StrategyMixed,
			FullWhen:        pair[0],
			IncrementalWhen: pair[1],
		}, Deps{Store: store, Policy: policy, Engine: newFakeEngine(), Now: clock.Now})
		if err != nil {
			rt.Fatalf("NewStrategy failed: %v", err)
		}

		ctx := context.Background()
		var lastFull, prev time.Time
		for i := 0; i < steps; i++ {
			sched, err := s.ScheduleNextExecution(ctx)
			if err != nil {
				rt.Fatalf("ScheduleNextExecution failed: %v", err)
			}
			next := sched.Scheduled.NextExecution
			if i == 0 && sched.Mode != backuplog.ModeFull {
				rt.Fatalf("first decision is %s", sched.Mode)
			}
			if !prev.IsZero() && !next.After(prev) {
				rt.Fatalf("decision %d at %v does not follow %v", i, next, prev)
			}
			if !lastFull.IsZero() && next.Sub(lastFull) > time.Hour && sched.Mode != backuplog.ModeFull {
				rt.Fatalf("decision %d at %v: no full backup since %v", i, next, lastFull)
			}
			if sched.Mode == backuplog.ModeFull {
				lastFull = next
			}
			prev = next

			clock.Set(next)
			if fin := s.DoBackup(ctx, nil); fin.Type != backuplog.TypeFinished {
				rt.Fatalf("backup %d failed: %+v", i, fin.Error)
			}
		}
	})
}
