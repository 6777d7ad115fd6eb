// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/pagevault/internal/backuplog"
	"github.com/tomtom215/pagevault/internal/cronpolicy"
	"github.com/tomtom215/pagevault/internal/storage"
)

// testStart is half a minute past a full hour.
var testStart = time.Date(2026, 3, 10, 12, 0, 30, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type engineCall struct {
	dir  string
	mode backuplog.Mode
}

// fakeEngine writes a small file per backup so artifacts exist on disk.
type fakeEngine struct {
	mu         sync.Mutex
	calls      []engineCall
	restored   []string
	chainIndex map[string]uint64
	existing   map[string]bool

	backupErr  error
	panicMsg   string
	restoreErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		chainIndex: make(map[string]uint64),
		existing:   make(map[string]bool),
	}
}

func (f *fakeEngine) Backup(_ context.Context, database, dir string, mode backuplog.Mode) (*storage.BackupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.backupErr != nil {
		return nil, f.backupErr
	}
	f.calls = append(f.calls, engineCall{dir: dir, mode: mode})

	index := f.chainIndex[dir]
	f.chainIndex[dir] = index + 1
	name := fmt.Sprintf("%s_%d.ibu", database, index)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644); err != nil {
		return nil, err
	}
	return &storage.BackupResult{
		Path:       filepath.Join(dir, name),
		FileName:   name,
		FileSize:   int64(len(name)),
		ChainIndex: index,
		IsFull:     index == 0,
		Elapsed:    time.Millisecond,
	}, nil
}

func (f *fakeEngine) Restore(_ context.Context, target, dir string) (*storage.RestoreResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restoreErr != nil {
		return nil, f.restoreErr
	}
	f.restored = append(f.restored, dir)
	f.existing[target] = true
	return &storage.RestoreResult{Archives: int(f.chainIndex[dir])}, nil
}

func (f *fakeEngine) DatabaseExists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[name]
}

func (f *fakeEngine) Calls() []engineCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engineCall(nil), f.calls...)
}

// entryRecorder collects listener notifications.
type entryRecorder struct {
	mu      sync.Mutex
	entries []*backuplog.Entry
}

func (r *entryRecorder) OnEntry(e *backuplog.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *entryRecorder) Types() []backuplog.EntryType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]backuplog.EntryType, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Type
	}
	return out
}

func newTestStore(t testing.TB) *backuplog.BadgerStore {
	t.Helper()
	s, err := backuplog.Open(backuplog.Options{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open backup log: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testOwner(t testing.TB, kind StrategyKind) OwnerConfig {
	return OwnerConfig{
		ID:              "nightly",
		DatabaseName:    "orders",
		Enabled:         true,
		Directory:       t.TempDir(),
		Strategy:        kind,
		FullWhen:        "0 * * * *",
		IncrementalWhen: "*/10 * * * *",
	}
}

type testEnv struct {
	strategy *Strategy
	store    *backuplog.BadgerStore
	engine   *fakeEngine
	clock    *fakeClock
}

func newTestEnv(t testing.TB, cfg OwnerConfig, deps Deps) *testEnv {
	t.Helper()
	env := &testEnv{clock: newFakeClock(testStart)}
	if deps.Store == nil {
		env.store = newTestStore(t)
		deps.Store = env.store
	}
	if deps.Engine == nil {
		env.engine = newFakeEngine()
		deps.Engine = env.engine
	}
	if deps.Policy == nil {
		deps.Policy = cronpolicy.NewParser()
	}
	deps.Now = env.clock.Now

	s, err := NewStrategy(cfg, deps)
	if err != nil {
		t.Fatalf("NewStrategy failed: %v", err)
	}
	env.strategy = s
	return env
}

// runScheduled plans the next run, moves the clock to it and runs it.
func (e *testEnv) runScheduled(t testing.TB, l Listener) (*backuplog.Entry, *backuplog.Entry) {
	t.Helper()
	sched, err := e.strategy.ScheduleNextExecution(context.Background())
	if err != nil {
		t.Fatalf("ScheduleNextExecution failed: %v", err)
	}
	e.clock.Set(sched.Scheduled.NextExecution)
	return sched, e.strategy.DoBackup(context.Background(), l)
}

func (e *testEnv) entries(t testing.TB) []*backuplog.Entry {
	t.Helper()
	out, err := e.strategy.store.Entries(context.Background(), e.strategy.cfg.ID)
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	return out
}

func countType(entries []*backuplog.Entry, typ backuplog.EntryType) int {
	n := 0
	for _, e := range entries {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// failingLogStore rejects every Log call.
type failingLogStore struct {
	backuplog.Store
}

func (f failingLogStore) Log(context.Context, *backuplog.Entry) (*backuplog.Entry, error) {
	return nil, &backuplog.StoreError{Op: "log", Err: errors.New("disk full")}
}

// noIDStore cannot hand out unit or transaction ids.
type noIDStore struct {
	backuplog.Store
}

func (noIDStore) NextOpID() (uint64, error) {
	return 0, &backuplog.StoreError{Op: "next id", Err: errors.New("sequence closed")}
}
