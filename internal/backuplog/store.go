// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package backuplog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrStoreIO marks failures of the underlying store. Callers on the
	// backup data path log these and carry on.
	ErrStoreIO = errors.New("backup log store I/O failure")

	// ErrEntryNotFound is returned by UpdateLog when the entry was never
	// logged or has been deleted.
	ErrEntryNotFound = errors.New("backup log entry not found")

	ErrInvalidEntry = errors.New("invalid backup log entry")
	ErrStoreClosed  = errors.New("backup log store is closed")
)

// StoreError wraps an I/O failure of the store with the operation that hit it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("backup log %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreIO, e.Err}
}

// Store is the append-only journal consumed by backup strategies. All
// queries are scoped to one owner; implementations must be safe for
// concurrent use by several owners.
type Store interface {
	// NextOpID returns a process-wide, strictly increasing id used for unit
	// and transaction ids.
	NextOpID() (uint64, error)

	// Log persists e and returns it with store-assigned fields filled in.
	Log(ctx context.Context, e *Entry) (*Entry, error)

	// FindLast returns the most recent entry of type t for owner, or nil.
	FindLast(ctx context.Context, t EntryType, owner string) (*Entry, error)

	// FindLastForUnit is FindLast scoped to one chain.
	FindLastForUnit(ctx context.Context, t EntryType, owner string, unitID uint64) (*Entry, error)

	// Entries returns the owner's entries, oldest first.
	Entries(ctx context.Context, owner string) ([]*Entry, error)

	// EntriesForUnit returns the entries of one chain, oldest first.
	EntriesForUnit(ctx context.Context, owner string, unitID uint64) ([]*Entry, error)

	// UpdateLog replaces a previously logged entry in place.
	UpdateLog(ctx context.Context, e *Entry) error

	// DeleteLog removes one entry. Deleting an absent entry is not an error.
	DeleteLog(ctx context.Context, e *Entry) error

	// DeleteByOwnerUnitTx removes every entry of owner matching unit and tx.
	DeleteByOwnerUnitTx(ctx context.Context, owner string, unitID, txID uint64) (int, error)

	// DeleteByOwnerAge removes every entry of owner older than olderThan.
	DeleteByOwnerAge(ctx context.Context, owner string, olderThan time.Time) (int, error)

	Close() error
}

func validateOwner(owner string) error {
	if owner == "" {
		return fmt.Errorf("%w: empty owner id", ErrInvalidEntry)
	}
	if strings.ContainsRune(owner, 0) {
		return fmt.Errorf("%w: owner id contains NUL", ErrInvalidEntry)
	}
	return nil
}
