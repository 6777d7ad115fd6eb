// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package backuplog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/pagevault/internal/logging"
	"github.com/tomtom215/pagevault/internal/metrics"
)

const (
	prefixLog = "log/"

	keyOpSequence    = "seq/op"
	keyEntrySequence = "seq/entry"

	// sequenceBandwidth is how many ids a sequence leases at once. Unused
	// leased ids are skipped after a restart, which keeps ids increasing.
	sequenceBandwidth = 128
)

// Options configures a BadgerStore.
type Options struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the journal in memory only (tests, ephemeral runs).
	InMemory bool

	SyncWrites bool
}

// BadgerStore implements Store on top of BadgerDB.
type BadgerStore struct {
	db       *badger.DB
	opSeq    *badger.Sequence
	entrySeq *badger.Sequence

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the journal.
func Open(opts Options) (*BadgerStore, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, errors.New("backup log path is required")
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts.SyncWrites = opts.SyncWrites

	// Reduce logging verbosity
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	opSeq, err := db.GetSequence([]byte(keyOpSequence), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, &StoreError{Op: "open sequence", Err: err}
	}
	entrySeq, err := db.GetSequence([]byte(keyEntrySequence), sequenceBandwidth)
	if err != nil {
		_ = opSeq.Release()
		_ = db.Close()
		return nil, &StoreError{Op: "open sequence", Err: err}
	}

	log := logging.WithComponent("backuplog")
	log.Info().
		Str("path", opts.Path).
		Bool("in_memory", opts.InMemory).
		Bool("sync_writes", opts.SyncWrites).
		Msg("Backup log opened")
	return &BadgerStore{db: db, opSeq: opSeq, entrySeq: entrySeq}, nil
}

// storeErr wraps err as a StoreError and counts it.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	metrics.RecordBackupLogError(op)
	return &StoreError{Op: op, Err: err}
}

func (s *BadgerStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func ownerPrefix(owner string) []byte {
	p := make([]byte, 0, len(prefixLog)+len(owner)+1)
	p = append(p, prefixLog...)
	p = append(p, owner...)
	return append(p, 0)
}

func entryKey(owner string, id uint64) []byte {
	return binary.BigEndian.AppendUint64(ownerPrefix(owner), id)
}

// nextSeq draws from seq, skipping zero so that a zero id always means
// "unset".
func nextSeq(seq *badger.Sequence) (uint64, error) {
	for {
		v, err := seq.Next()
		if err != nil {
			return 0, err
		}
		if v != 0 {
			return v, nil
		}
	}
}

// NextOpID returns the next unit/transaction id.
func (s *BadgerStore) NextOpID() (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	id, err := nextSeq(s.opSeq)
	if err != nil {
		return 0, storeErr("next op id", err)
	}
	return id, nil
}

// Log persists e and returns a copy carrying its assigned id. A zero
// timestamp is set to the current time.
func (s *BadgerStore) Log(ctx context.Context, e *Entry) (*Entry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := e.Clone()
	id, err := nextSeq(s.entrySeq)
	if err != nil {
		return nil, storeErr("log", err)
	}
	out.ID = id
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(out.OwnerID, out.ID), data)
	})
	if err != nil {
		return nil, storeErr("log", err)
	}
	return out, nil
}

// scan walks the owner's entries, newest first when reverse is set, until fn
// returns false.
func (s *BadgerStore) scan(ctx context.Context, owner string, reverse bool, fn func(*Entry) bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := validateOwner(owner); err != nil {
		return err
	}
	prefix := ownerPrefix(owner)

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Reverse = reverse
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		if reverse {
			seek = append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		}
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("unmarshal entry %x: %w", it.Item().Key(), err)
			}
			if !fn(&entry) {
				return nil
			}
		}
		return nil
	})
}

func (s *BadgerStore) findLast(ctx context.Context, owner string, match func(*Entry) bool) (*Entry, error) {
	var found *Entry
	err := s.scan(ctx, owner, true, func(e *Entry) bool {
		if match(e) {
			found = e
			return false
		}
		return true
	})
	if err != nil {
		return nil, s.queryErr("find last", err)
	}
	return found, nil
}

// queryErr passes through caller errors and wraps everything else.
func (s *BadgerStore) queryErr(op string, err error) error {
	if errors.Is(err, ErrStoreClosed) || errors.Is(err, ErrInvalidEntry) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return storeErr(op, err)
}

func (s *BadgerStore) FindLast(ctx context.Context, t EntryType, owner string) (*Entry, error) {
	return s.findLast(ctx, owner, func(e *Entry) bool { return e.Type == t })
}

func (s *BadgerStore) FindLastForUnit(ctx context.Context, t EntryType, owner string, unitID uint64) (*Entry, error) {
	return s.findLast(ctx, owner, func(e *Entry) bool { return e.Type == t && e.UnitID == unitID })
}

func (s *BadgerStore) Entries(ctx context.Context, owner string) ([]*Entry, error) {
	var out []*Entry
	err := s.scan(ctx, owner, false, func(e *Entry) bool {
		out = append(out, e)
		return true
	})
	if err != nil {
		return nil, s.queryErr("entries", err)
	}
	return out, nil
}

func (s *BadgerStore) EntriesForUnit(ctx context.Context, owner string, unitID uint64) ([]*Entry, error) {
	var out []*Entry
	err := s.scan(ctx, owner, false, func(e *Entry) bool {
		if e.UnitID == unitID {
			out = append(out, e)
		}
		return true
	})
	if err != nil {
		return nil, s.queryErr("entries for unit", err)
	}
	return out, nil
}

// UpdateLog replaces the stored entry with the same owner and id.
func (s *BadgerStore) UpdateLog(ctx context.Context, e *Entry) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	if e.ID == 0 {
		return fmt.Errorf("%w: entry has no id", ErrEntryNotFound)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	key := entryKey(e.OwnerID, e.ID)
	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrEntryNotFound
			}
			return err
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, ErrEntryNotFound) {
		return fmt.Errorf("%w: owner %s id %d", ErrEntryNotFound, e.OwnerID, e.ID)
	}
	return storeErr("update", err)
}

// DeleteLog removes e if it is still stored.
func (s *BadgerStore) DeleteLog(ctx context.Context, e *Entry) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if e == nil || e.ID == 0 {
		return nil
	}
	if err := validateOwner(e.OwnerID); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(e.OwnerID, e.ID))
	})
	return storeErr("delete", err)
}

// deleteWhere removes the owner's entries matching fn in a single write batch.
func (s *BadgerStore) deleteWhere(ctx context.Context, op, owner string, fn func(*Entry) bool) (int, error) {
	var keys [][]byte
	err := s.scan(ctx, owner, false, func(e *Entry) bool {
		if fn(e) {
			keys = append(keys, entryKey(owner, e.ID))
		}
		return true
	})
	if err != nil {
		return 0, s.queryErr(op, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, storeErr(op, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, storeErr(op, err)
	}
	return len(keys), nil
}

func (s *BadgerStore) DeleteByOwnerUnitTx(ctx context.Context, owner string, unitID, txID uint64) (int, error) {
	return s.deleteWhere(ctx, "delete by unit", owner, func(e *Entry) bool {
		return e.UnitID == unitID && e.TxID == txID
	})
}

func (s *BadgerStore) DeleteByOwnerAge(ctx context.Context, owner string, olderThan time.Time) (int, error) {
	n, err := s.deleteWhere(ctx, "delete by age", owner, func(e *Entry) bool {
		return e.Timestamp.Before(olderThan)
	})
	if err == nil && n > 0 {
		logging.Debug().Str("owner", owner).Int("deleted", n).Time("older_than", olderThan).Msg("Backup log entries expired")
	}
	return n, err
}

// Close releases the sequences and closes the database.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.opSeq.Release(); err != nil {
		errs = append(errs, err)
	}
	if err := s.entrySeq.Release(); err != nil {
		errs = append(errs, err)
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return storeErr("close", errors.Join(errs...))
	}
	logging.Info().Msg("Backup log closed")
	return nil
}

var _ Store = (*BadgerStore)(nil)
