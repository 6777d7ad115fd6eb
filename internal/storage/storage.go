// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/pagevault/internal/logging"
)

const (
	dataDirName = "data"
	walDirName  = "wal"
)

// Options tune a Storage instance.
type Options struct {
	// PageSize is used when the database is created. Existing databases keep
	// the page size recorded in their configuration.
	// Default: 4096
	PageSize int

	// SyncWrites fsyncs the WAL after every record.
	SyncWrites bool

	// AllowWritesDuringBackup lets writers proceed while an incremental backup
	// scans pages. When false, writers block for the whole scan.
	AllowWritesDuringBackup bool
}

// Storage is a paginated storage engine: data files of fixed-size pages,
// every change logged to a segmented WAL before it is applied.
type Storage struct {
	name string
	dir  string
	opts Options

	// stateLock is held shared by backups and exclusively by restore and Close.
	stateLock sync.RWMutex
	// writeMu orders WAL appends with the page writes they describe.
	writeMu sync.Mutex

	freezer *OperationsFreezer
	cache   *DiskCache
	wal     *WAL
	config  *Configuration

	backupInProgress atomic.Bool
	closed           bool
	now              func() time.Time

	// beforeWALCopy runs between the page scan and the WAL copy. Tests use it
	// to write while a backup is in flight.
	beforeWALCopy func()
	// beforeCaptureFile runs before each file of the page scan is read.
	beforeCaptureFile func(FileInfo)
}

// Open opens the database in dir, creating it when no configuration exists.
func Open(dir, name string, opts Options) (*Storage, error) {
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.PageSize < MinPageSize {
		return nil, fmt.Errorf("page size %d below minimum %d", opts.PageSize, MinPageSize)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ioErr("create database dir", dir, err)
	}

	cfg, err := loadConfiguration(dir)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		cfg = &Configuration{
			Name:      name,
			PageSize:  opts.PageSize,
			Version:   configurationVersion,
			CreatedAt: time.Now().UTC(),
		}
		if err := saveConfiguration(dir, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	opts.PageSize = cfg.PageSize

	cache, err := OpenDiskCache(filepath.Join(dir, dataDirName), cfg.PageSize)
	if err != nil {
		return nil, err
	}
	wal, err := OpenWAL(filepath.Join(dir, walDirName), opts.SyncWrites)
	if err != nil {
		_ = cache.CloseAll()
		return nil, err
	}

	logging.Debug().
		Str("database", name).
		Str("dir", dir).
		Int("page_size", cfg.PageSize).
		Int("files", len(cache.Files())).
		Msg("Storage opened")

	return &Storage{
		name:    name,
		dir:     dir,
		opts:    opts,
		freezer: NewOperationsFreezer(),
		cache:   cache,
		wal:     wal,
		config:  cfg,
		now:     time.Now,
	}, nil
}

// Name returns the database name.
func (s *Storage) Name() string { return s.name }

// Dir returns the database directory.
func (s *Storage) Dir() string { return s.dir }

// PageSize returns the page size in bytes.
func (s *Storage) PageSize() int { return s.opts.PageSize }

// Configuration returns a copy of the live configuration.
func (s *Storage) Configuration() Configuration {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	return s.config.clone()
}

// SetProperty updates one configuration property and persists it.
func (s *Storage) SetProperty(key, value string) error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.closed {
		return ErrStorageClosed
	}
	next := s.config.clone()
	if next.Properties == nil {
		next.Properties = make(map[string]string)
	}
	next.Properties[key] = value
	if err := saveConfiguration(s.dir, &next); err != nil {
		return err
	}
	s.config = &next
	return nil
}

// BackupInProgress reports whether an incremental backup is running.
func (s *Storage) BackupInProgress() bool {
	return s.backupInProgress.Load()
}

// LastLSN returns the LSN of the newest WAL record.
func (s *Storage) LastLSN() LSN {
	lsn, _ := s.wal.End()
	return lsn
}

// Files returns the name -> id map of data files.
func (s *Storage) Files() map[string]uint64 {
	return s.cache.Files()
}

// beginWrite enters a mutating operation. The returned func must be called
// to leave it.
func (s *Storage) beginWrite() (func(), error) {
	s.stateLock.RLock()
	if s.closed {
		s.stateLock.RUnlock()
		return nil, ErrStorageClosed
	}
	s.freezer.StartOperation()
	s.writeMu.Lock()
	return func() {
		s.writeMu.Unlock()
		s.freezer.EndOperation()
		s.stateLock.RUnlock()
	}, nil
}

// AddFile creates a new data file and logs its creation.
func (s *Storage) AddFile(name string) (uint64, error) {
	done, err := s.beginWrite()
	if err != nil {
		return 0, err
	}
	defer done()

	id, err := s.cache.AddFile(name)
	if err != nil {
		return 0, err
	}
	rec := Record{Type: RecordFileCreated, FileID: id, Name: name}
	if _, err := s.wal.Log(rec.Encode()); err != nil {
		return 0, err
	}
	return id, nil
}

// DeleteFile logs and removes a data file.
func (s *Storage) DeleteFile(id uint64) error {
	done, err := s.beginWrite()
	if err != nil {
		return err
	}
	defer done()

	if !s.cache.Exists(id) {
		return fmt.Errorf("%w: id %d", ErrFileNotFound, id)
	}
	rec := Record{Type: RecordFileDeleted, FileID: id}
	if _, err := s.wal.Log(rec.Encode()); err != nil {
		return err
	}
	return s.cache.DeleteFile(id)
}

// WritePage stores payload at the given page, logging the full page image to
// the WAL first. The page header is stamped with the record's LSN.
func (s *Storage) WritePage(fileID, pageIndex uint64, payload []byte) (LSN, error) {
	if len(payload) > s.opts.PageSize-PageHeaderSize {
		return LSN{}, fmt.Errorf("%w: %d bytes, limit %d", ErrPageTooLarge, len(payload), s.opts.PageSize-PageHeaderSize)
	}
	done, err := s.beginWrite()
	if err != nil {
		return LSN{}, err
	}
	defer done()

	if !s.cache.Exists(fileID) {
		return LSN{}, fmt.Errorf("%w: id %d", ErrFileNotFound, fileID)
	}
	if err := s.cache.Open(fileID); err != nil {
		return LSN{}, err
	}

	page := make([]byte, s.opts.PageSize)
	copy(page[PageHeaderSize:], payload)
	rec := Record{Type: RecordPageImage, FileID: fileID, PageIndex: pageIndex, Page: page}
	lsn, err := s.wal.Log(rec.Encode())
	if err != nil {
		return LSN{}, err
	}
	SetPageLSN(page, lsn)
	if err := s.cache.WritePage(fileID, pageIndex, page); err != nil {
		return LSN{}, err
	}
	return lsn, nil
}

// AppendPage writes payload to a new page at the end of the file.
func (s *Storage) AppendPage(fileID uint64, payload []byte) (uint64, LSN, error) {
	filled, err := s.FilledUpTo(fileID)
	if err != nil {
		return 0, LSN{}, err
	}
	lsn, err := s.WritePage(fileID, filled, payload)
	return filled, lsn, err
}

// ReadPage returns a copy of the full page, header included.
func (s *Storage) ReadPage(fileID, pageIndex uint64) ([]byte, error) {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	if s.closed {
		return nil, ErrStorageClosed
	}
	if err := s.cache.Open(fileID); err != nil {
		return nil, err
	}
	return s.cache.LoadPage(fileID, pageIndex)
}

// FilledUpTo returns the number of pages in a data file.
func (s *Storage) FilledUpTo(fileID uint64) (uint64, error) {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	if s.closed {
		return 0, ErrStorageClosed
	}
	if err := s.cache.Open(fileID); err != nil {
		return 0, err
	}
	return s.cache.FilledUpTo(fileID)
}

// CloseFile closes a data file handle. It is reopened on next access.
func (s *Storage) CloseFile(fileID uint64) error {
	return s.cache.Close(fileID)
}

// IsFileOpen reports whether a data file handle is open.
func (s *Storage) IsFileOpen(fileID uint64) bool {
	return s.cache.IsOpen(fileID)
}

// Checkpoint flushes data files and the WAL, then drops WAL segments older
// than the active one unless a running backup still needs them.
func (s *Storage) Checkpoint() error {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	if s.closed {
		return ErrStorageClosed
	}
	guard := s.freezer.Freeze()
	defer guard.Release()
	return s.checkpointLocked()
}

func (s *Storage) checkpointLocked() error {
	if err := s.cache.Sync(); err != nil {
		return err
	}
	if err := s.wal.Sync(); err != nil {
		return err
	}
	removed, err := s.wal.CutTill(LSN{Segment: s.wal.ActiveSegment()})
	if err != nil {
		return err
	}
	if removed > 0 {
		logging.Debug().Str("database", s.name).Int("segments", removed).Msg("WAL segments cut after checkpoint")
	}
	return nil
}

// Close flushes and closes the storage. It waits for running backups.
func (s *Storage) Close() error {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var firstErr error
	if err := s.cache.Sync(); err != nil {
		firstErr = err
	}
	if err := s.cache.CloseAll(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
