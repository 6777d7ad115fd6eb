// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package storage

import (
	"testing"
	"time"
)

func TestFreezerBlocksOperationsUntilReleased(t *testing.T) {
	f := NewOperationsFreezer()
	outer := f.Freeze()
	inner := f.Freeze()

	started := make(chan struct{})
	go func() {
		f.StartOperation()
		close(started)
		f.EndOperation()
	}()

	select {
	case <-started:
		t.Fatal("operation started while frozen")
	case <-time.After(50 * time.Millisecond):
	}

	inner.Release()
	select {
	case <-started:
		t.Fatal("operation started while the outer freeze was held")
	case <-time.After(50 * time.Millisecond):
	}

	outer.Release()
	outer.Release()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("operation did not resume after release")
	}
	if f.Frozen() {
		t.Error("freezer should not be frozen after all guards are released")
	}
}

func TestFreezerWaitsForRunningOperations(t *testing.T) {
	f := NewOperationsFreezer()
	f.StartOperation()

	frozen := make(chan *FreezeGuard)
	go func() { frozen <- f.Freeze() }()

	select {
	case <-frozen:
		t.Fatal("freeze returned while an operation was running")
	case <-time.After(50 * time.Millisecond):
	}

	f.EndOperation()
	select {
	case g := <-frozen:
		g.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("freeze did not return after the operation ended")
	}
}
