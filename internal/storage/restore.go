// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

/*
restore.go - Restore Engine

Restore replays a chain of archives, oldest first, into a live storage while
holding the state lock exclusively.

Per Archive:
  - configuration section replaces the live configuration
  - WAL sections are extracted into a temporary directory
  - data sections resolve (or create) the file by name and apply every page
    that is newer than the stored one; full archives overwrite

  - when the chain starts with a full archive, local files the archive does
    not mention are deleted
  - the extracted WAL segments are replayed, newer records only

An incremental archive that ends at or below the restore mark left by an
earlier restore is skipped whole, and so are WAL records at or below it.

After The Chain:
  - the live WAL is moved past the highest LSN seen
  - data files are reopened and a checkpoint makes the result durable

The chain is validated before anything is touched: page sizes must match
and each archive must start where the previous one ended.
*/

//nolint:staticcheck // File documentation, not package doc
package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/tomtom215/pagevault/internal/logging"
)

// RestoreResult summarizes a restore.
type RestoreResult struct {
	Archives          int
	ArchivesSkipped   int
	PagesApplied      int
	PagesSkipped      int
	WALRecords        int
	WALRecordsSkipped int
	FilesDeleted      int
	MaxLSN            *LSN
	Elapsed           time.Duration
	ConfigReplaced    bool
}

// Restore applies every archive found in dir in chain order.
func (s *Storage) Restore(ctx context.Context, dir string) (*RestoreResult, error) {
	archives, err := ListArchives(dir)
	if err != nil {
		return nil, err
	}
	if len(archives) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoArchives, dir)
	}
	paths := make([]string, len(archives))
	for i, a := range archives {
		paths[i] = a.Path
	}
	return s.RestoreArchives(ctx, paths)
}

// restoreRun carries the state of one restore across archives.
type restoreRun struct {
	s      *Storage
	result RestoreResult
	maxLSN LSN
	// restoredUpTo is the mark left by earlier restores. Anything at or
	// below it is already part of the database.
	restoredUpTo LSN
	// referenced holds the files named by the data sections of the archive
	// being applied.
	referenced map[uint64]bool
	// walDir receives the WAL sections of the archive being applied.
	walDir string
}

// RestoreArchives applies the given archives in order. Partially applied pages
// are not rolled back when an error interrupts the restore.
func (s *Storage) RestoreArchives(ctx context.Context, paths []string) (*RestoreResult, error) {
	if len(paths) == 0 {
		return nil, ErrNoArchives
	}
	start := s.now()

	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	if s.closed {
		return nil, ErrStorageClosed
	}

	readers := make([]*archiveReader, 0, len(paths))
	defer func() {
		for _, r := range readers {
			_ = r.Close()
		}
	}()
	for _, p := range paths {
		r, err := openArchive(p)
		if err != nil {
			return nil, err
		}
		readers = append(readers, r)
	}
	if err := s.validateChain(readers); err != nil {
		return nil, err
	}

	tmpRoot, err := os.MkdirTemp(s.dir, "restore-wal-")
	if err != nil {
		return nil, ioErr("create restore wal dir", s.dir, err)
	}
	defer os.RemoveAll(tmpRoot)

	run := &restoreRun{s: s}
	firstFull := readers[0].header.IsFull
	if !firstFull {
		run.restoredUpTo = lsnOrZero(s.config.RestoredLSN)
	}

	if firstFull {
		for _, f := range s.cache.SortedFiles() {
			if err := s.cache.DeleteFile(f.ID); err != nil {
				return nil, err
			}
			run.result.FilesDeleted++
		}
	}

	for i, r := range readers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if run.alreadyRestored(r) {
			logging.Debug().
				Str("database", s.name).
				Str("archive", r.path).
				Stringer("restored_lsn", run.restoredUpTo).
				Msg("Skipping archive already restored")
			run.result.ArchivesSkipped++
			continue
		}
		run.walDir = filepath.Join(tmpRoot, fmt.Sprintf("%06d", i))
		if err := os.Mkdir(run.walDir, 0o755); err != nil {
			return nil, ioErr("create restore wal dir", run.walDir, err)
		}
		run.referenced = make(map[uint64]bool)

		if err := run.applyArchive(r); err != nil {
			return nil, err
		}
		if firstFull {
			if err := run.dropUnreferenced(); err != nil {
				return nil, err
			}
		}
		if err := run.replayWAL(); err != nil {
			return nil, err
		}
		run.result.Archives++
	}

	if !run.maxLSN.IsZero() {
		if err := s.wal.MoveLSNAfter(run.maxLSN); err != nil {
			return nil, err
		}
	}
	if err := s.cache.ReopenAll(); err != nil {
		return nil, err
	}
	if err := run.saveRestoredMark(); err != nil {
		return nil, err
	}
	if err := s.checkpointLocked(); err != nil {
		return nil, err
	}

	run.result.MaxLSN = run.maxLSN.Ptr()
	run.result.Elapsed = s.now().Sub(start)
	logging.Info().
		Str("database", s.name).
		Int("archives", run.result.Archives).
		Int("archives_skipped", run.result.ArchivesSkipped).
		Int("pages_applied", run.result.PagesApplied).
		Int("wal_records", run.result.WALRecords).
		Stringer("max_lsn", run.maxLSN).
		Dur("elapsed", run.result.Elapsed).
		Msg("Restore completed")
	return &run.result, nil
}

// validateChain checks page sizes and LSN contiguity before anything is applied.
func (s *Storage) validateChain(readers []*archiveReader) error {
	var prev *archiveReader
	for i, r := range readers {
		m, err := r.manifest()
		if err != nil {
			return err
		}
		if m.PageSize != s.opts.PageSize {
			return inconsistency("%s has page size %d, storage uses %d", r.path, m.PageSize, s.opts.PageSize)
		}
		if m.ChainIndex != r.header.ChainIndex || m.IsFull != r.header.IsFull {
			return inconsistency("%s manifest disagrees with header", r.path)
		}
		if i > 0 {
			if r.header.IsFull {
				return inconsistency("%s is a full archive in the middle of a chain", r.path)
			}
			if r.header.ChainIndex != prev.header.ChainIndex+1 {
				return inconsistency("%s has chain index %d after %d", r.path, r.header.ChainIndex, prev.header.ChainIndex)
			}
			if lsnOrZero(m.SinceLSN) != lsnOrZero(prev.header.LSN) {
				return inconsistency("%s starts at %s but previous archive ends at %s",
					r.path, lsnOrZero(m.SinceLSN), lsnOrZero(prev.header.LSN))
			}
		}
		prev = r
	}
	return nil
}

// alreadyRestored reports whether an incremental archive ends at or below the
// restore mark. Replaying such an archive would recreate files that later
// archives deleted.
func (run *restoreRun) alreadyRestored(r *archiveReader) bool {
	if r.header.IsFull || run.restoredUpTo.IsZero() {
		return false
	}
	return !lsnOrZero(r.header.LSN).After(run.restoredUpTo)
}

// saveRestoredMark persists the highest LSN this restore brought in.
func (run *restoreRun) saveRestoredMark() error {
	mark := MaxLSN(run.restoredUpTo, run.maxLSN)
	if mark.IsZero() || mark == lsnOrZero(run.s.config.RestoredLSN) {
		return nil
	}
	next := run.s.config.clone()
	next.RestoredLSN = &mark
	if err := saveConfiguration(run.s.dir, &next); err != nil {
		return err
	}
	run.s.config = &next
	return nil
}

// dropUnreferenced deletes local files the current archive does not mention.
// Every archive carries a section for each file that existed when it was
// taken, so anything else was dropped before the archive was written.
func (run *restoreRun) dropUnreferenced() error {
	for _, f := range run.s.cache.SortedFiles() {
		if run.referenced[f.ID] {
			continue
		}
		if err := run.s.cache.DeleteFile(f.ID); err != nil {
			return err
		}
		run.result.FilesDeleted++
	}
	return nil
}

func (run *restoreRun) applyArchive(r *archiveReader) error {
	for _, zf := range r.sections() {
		name := zf.Name
		var err error
		switch {
		case name == ManifestSectionName:
			continue
		case name == ConfigurationFileName:
			err = run.applyConfiguration(r, zf)
		case strings.HasPrefix(name, DataSectionPrefix):
			err = run.applyDataSection(r, zf, strings.TrimPrefix(name, DataSectionPrefix), r.header.IsFull)
		case strings.HasSuffix(name, segmentExtension):
			err = run.extractSegment(r, zf)
		default:
			logging.Warn().Str("archive", r.path).Str("section", name).Msg("Skipping unknown archive section")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func readZipFile(r *archiveReader, zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, ioErr("open archive section "+zf.Name, r.path, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, ioErr("read archive section "+zf.Name, r.path, err)
	}
	return data, nil
}

// applyConfiguration replaces the live configuration. The database keeps its
// own name.
func (run *restoreRun) applyConfiguration(r *archiveReader, zf *zip.File) error {
	data, err := readZipFile(r, zf)
	if err != nil {
		return err
	}
	cfg, err := decodeConfiguration(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArchive, r.path, err)
	}
	if cfg.PageSize != run.s.opts.PageSize {
		return inconsistency("%s configuration has page size %d", r.path, cfg.PageSize)
	}
	cfg.Name = run.s.config.Name
	cfg.RestoredLSN = run.s.config.RestoredLSN
	if err := saveConfiguration(run.s.dir, cfg); err != nil {
		return err
	}
	run.s.config = cfg
	run.result.ConfigReplaced = true
	return nil
}

func (run *restoreRun) extractSegment(r *archiveReader, zf *zip.File) error {
	if _, ok := parseSegmentFileName(zf.Name); !ok || filepath.Base(zf.Name) != zf.Name {
		return fmt.Errorf("%w: %s: bad wal section %q", ErrInvalidArchive, r.path, zf.Name)
	}
	data, err := readZipFile(r, zf)
	if err != nil {
		return err
	}
	path := filepath.Join(run.walDir, zf.Name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return ioErr("extract wal segment", path, err)
	}
	return nil
}

// resolveFile finds the local file for an archived one, creating it with the
// archived id when absent.
func (run *restoreRun) resolveFile(name string, id uint64) error {
	c := run.s.cache
	if local, ok := c.FileIDByName(name); ok {
		if local != id {
			return inconsistency("file %s has id %d locally but %d in archive", name, local, id)
		}
		return c.Open(id)
	}
	if other, ok := c.FileName(id); ok {
		return inconsistency("archive file %s has id %d which belongs to %s", name, id, other)
	}
	return c.AddFileWithID(name, id)
}

func (run *restoreRun) applyDataSection(r *archiveReader, zf *zip.File, name string, full bool) error {
	rc, err := zf.Open()
	if err != nil {
		return ioErr("open data section "+name, r.path, err)
	}
	defer rc.Close()

	var buf [8]byte
	if _, err := io.ReadFull(rc, buf[:]); err != nil {
		return fmt.Errorf("%w: %s: data section %s has no file id", ErrInvalidArchive, r.path, name)
	}
	id := binary.BigEndian.Uint64(buf[:])
	if err := run.resolveFile(name, id); err != nil {
		return err
	}
	run.referenced[id] = true

	c := run.s.cache
	page := make([]byte, run.s.opts.PageSize)
	for {
		if _, err := io.ReadFull(rc, buf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return ioErr("read data section "+name, r.path, err)
		}
		index := binary.BigEndian.Uint64(buf[:])
		if _, err := io.ReadFull(rc, page); err != nil {
			return ioErr("read page from data section "+name, r.path, err)
		}
		lsn := PageLSN(page)
		run.maxLSN = MaxLSN(run.maxLSN, lsn)

		apply := full
		if !apply {
			apply, err = run.newerThanStored(id, index, lsn)
			if err != nil {
				return err
			}
		}
		if !apply {
			run.result.PagesSkipped++
			continue
		}
		if err := c.WritePage(id, index, page); err != nil {
			return err
		}
		run.result.PagesApplied++
	}
}

// newerThanStored reports whether lsn is newer than the stored page (a page
// beyond the end of the file counts as older than anything).
func (run *restoreRun) newerThanStored(id, index uint64, lsn LSN) (bool, error) {
	c := run.s.cache
	filled, err := c.FilledUpTo(id)
	if err != nil {
		return false, err
	}
	if index >= filled {
		return true, nil
	}
	current, err := c.LoadPage(id, index)
	if err != nil {
		return false, err
	}
	return lsn.After(PageLSN(current)), nil
}

func (run *restoreRun) replayWAL() error {
	reader, err := OpenWALReader(run.walDir)
	if err != nil {
		return err
	}
	if reader.Empty() {
		return nil
	}
	last, n, err := reader.Replay(run.applyRecord)
	if err != nil {
		return err
	}
	run.result.WALRecords += n
	run.maxLSN = MaxLSN(run.maxLSN, last)
	return nil
}

func (run *restoreRun) applyRecord(lsn LSN, rec Record) error {
	c := run.s.cache
	if !lsn.After(run.restoredUpTo) {
		run.result.WALRecordsSkipped++
		return nil
	}
	switch rec.Type {
	case RecordFileCreated:
		if local, ok := c.FileIDByName(rec.Name); ok {
			if local != rec.FileID {
				return inconsistency("wal creates %s with id %d, local id is %d", rec.Name, rec.FileID, local)
			}
			return nil
		}
		if c.Exists(rec.FileID) {
			return nil
		}
		return c.AddFileWithID(rec.Name, rec.FileID)
	case RecordFileDeleted:
		return c.DeleteFile(rec.FileID)
	case RecordPageImage:
		if !c.Exists(rec.FileID) {
			// The file was dropped before a later archive was taken.
			run.result.WALRecordsSkipped++
			return nil
		}
		if err := c.Open(rec.FileID); err != nil {
			return err
		}
		if len(rec.Page) != run.s.opts.PageSize {
			return inconsistency("wal record %s carries a %d byte page", lsn, len(rec.Page))
		}
		newer, err := run.newerThanStored(rec.FileID, rec.PageIndex, lsn)
		if err != nil || !newer {
			return err
		}
		page := make([]byte, len(rec.Page))
		copy(page, rec.Page)
		SetPageLSN(page, lsn)
		if err := c.WritePage(rec.FileID, rec.PageIndex, page); err != nil {
			return err
		}
		run.result.PagesApplied++
		return nil
	default:
		return fmt.Errorf("%w: type %s", ErrInvalidRecord, rec.Type)
	}
}
