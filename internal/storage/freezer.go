// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package storage

import "sync"

// OperationsFreezer gates mutating operations. Writers bracket their work
// with StartOperation/EndOperation; Freeze blocks new operations and waits for
// running ones to finish. Freezes nest: operations resume only after every
// guard has been released.
type OperationsFreezer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	active int
	frozen int
}

// NewOperationsFreezer returns an unfrozen freezer.
func NewOperationsFreezer() *OperationsFreezer {
	f := &OperationsFreezer{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// StartOperation blocks while the freezer is frozen.
func (f *OperationsFreezer) StartOperation() {
	f.mu.Lock()
	for f.frozen > 0 {
		f.cond.Wait()
	}
	f.active++
	f.mu.Unlock()
}

// EndOperation marks a running operation as finished.
func (f *OperationsFreezer) EndOperation() {
	f.mu.Lock()
	f.active--
	if f.active == 0 {
		f.cond.Broadcast()
	}
	f.mu.Unlock()
}

// Freeze stops new operations and waits until running ones have ended.
func (f *OperationsFreezer) Freeze() *FreezeGuard {
	f.mu.Lock()
	f.frozen++
	for f.active > 0 {
		f.cond.Wait()
	}
	f.mu.Unlock()
	return &FreezeGuard{freezer: f}
}

// Frozen reports whether at least one freeze is held.
func (f *OperationsFreezer) Frozen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frozen > 0
}

// FreezeGuard releases one freeze. Release is idempotent.
type FreezeGuard struct {
	freezer *OperationsFreezer
	once    sync.Once
}

// Release lifts the freeze held by this guard.
func (g *FreezeGuard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		f := g.freezer
		f.mu.Lock()
		f.frozen--
		if f.frozen == 0 {
			f.cond.Broadcast()
		}
		f.mu.Unlock()
	})
}
