// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

/*
backup.go - Incremental Backup Engine

An incremental backup captures every page whose LSN is newer than the
newest LSN recorded by the previous archive in the same directory, plus the
WAL segments written while the capture ran. The first archive of a chain has
no "since" LSN, captures every page and is flagged as full.

Capture Sequence:
  - Re-entrancy: an atomic flag rejects a second concurrent backup
  - State lock: held shared so Close and Restore wait for the capture
  - Write exclusion: optional freeze of writers for the whole page scan
  - WAL boundary: short freeze to read the WAL end, pin segments from
    there on and roll to a new segment
  - Page scan, configuration section, WAL segment sections, manifest
  - Header patched with the chain index and the newest LSN captured
*/

//nolint:staticcheck // File documentation, not package doc
package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/pagevault/internal/logging"
	"github.com/tomtom215/pagevault/internal/metrics"
)

// BackupResult describes an archive produced by a backup.
type BackupResult struct {
	Path          string
	FileName      string
	FileSize      int64
	ChainIndex    uint64
	SinceLSN      *LSN
	MaxLSN        *LSN
	IsFull        bool
	PagesCaptured int
	WALSegments   int
	Elapsed       time.Duration
}

// WriteExclusionGuard blocks ordinary writers until released.
type WriteExclusionGuard struct {
	freeze *FreezeGuard
}

// Release lets writers continue. Safe to call more than once.
func (g *WriteExclusionGuard) Release() {
	if g == nil {
		return
	}
	g.freeze.Release()
}

// WalBoundaryGuard pins the WAL from a captured boundary onward so segments
// a backup still needs are not cut.
type WalBoundaryGuard struct {
	wal *WAL
	// Boundary is the WAL end when the guard was taken (zero when empty).
	Boundary LSN
	// Segment is the first segment created after the boundary.
	Segment  uint64
	released bool
}

// Release drops the retention pin.
func (g *WalBoundaryGuard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	g.wal.PreventCutTill(nil)
}

// acquireWriteExclusion freezes mutating operations.
func (s *Storage) acquireWriteExclusion() *WriteExclusionGuard {
	return &WriteExclusionGuard{freeze: s.freezer.Freeze()}
}

// captureWalBoundary records the WAL end under a short freeze, pins the WAL
// from there and rolls to a fresh segment. The freeze nests inside a held
// write exclusion.
func (s *Storage) captureWalBoundary() (*WalBoundaryGuard, error) {
	freeze := s.freezer.Freeze()
	defer freeze.Release()

	end, ok := s.wal.End()
	pin := LSN{Segment: s.wal.ActiveSegment()}
	if ok {
		pin = end
	}
	s.wal.PreventCutTill(&pin)

	seg, err := s.wal.NewSegment()
	if err != nil {
		s.wal.PreventCutTill(nil)
		return nil, err
	}
	return &WalBoundaryGuard{wal: s.wal, Boundary: end, Segment: seg}, nil
}

// IncrementalBackup writes the next archive of the chain kept in dir.
func (s *Storage) IncrementalBackup(ctx context.Context, dir string) (*BackupResult, error) {
	return s.backup(ctx, dir, false)
}

// FullBackup writes a self-contained chain-index-0 archive into dir, which
// must not already hold archives.
func (s *Storage) FullBackup(ctx context.Context, dir string) (*BackupResult, error) {
	return s.backup(ctx, dir, true)
}

func (s *Storage) backup(ctx context.Context, dir string, full bool) (*BackupResult, error) {
	if !s.backupInProgress.CompareAndSwap(false, true) {
		return nil, ErrBackupInProgress
	}
	metrics.BackupInProgress.Inc()
	defer func() {
		metrics.BackupInProgress.Dec()
		s.backupInProgress.Store(false)
	}()

	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	if s.closed {
		return nil, ErrStorageClosed
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ioErr("create backup dir", dir, err)
	}
	archives, err := ListArchives(dir)
	if err != nil {
		return nil, err
	}

	var since *LSN
	var index uint64
	if len(archives) > 0 {
		if full {
			return nil, fmt.Errorf("%w: %s", ErrBackupDirNotEmpty, dir)
		}
		last := archives[len(archives)-1].Header
		index = last.ChainIndex + 1
		since = last.LSN
	}

	return s.writeArchive(ctx, dir, index, since)
}

func (s *Storage) writeArchive(ctx context.Context, dir string, index uint64, since *LSN) (*BackupResult, error) {
	start := s.now()
	isFull := index == 0
	log := logging.WithComponent("storage").With().
		Str("database", s.name).
		Uint64("chain_index", index).
		Bool("full", isFull).
		Logger()

	if !s.opts.AllowWritesDuringBackup {
		exclusion := s.acquireWriteExclusion()
		defer exclusion.Release()
	}

	boundary, err := s.captureWalBoundary()
	if err != nil {
		return nil, err
	}
	defer boundary.Release()

	fileName := ArchiveFileName(s.name, start, index)
	path := filepath.Join(dir, fileName)
	w, err := createArchive(path)
	if err != nil {
		return nil, err
	}
	defer w.abort()

	maxLSN := MaxLSN(lsnOrZero(since), boundary.Boundary)

	pages, err := s.capturePages(ctx, w, since, &maxLSN)
	if err != nil {
		return nil, err
	}

	cfgBytes, err := s.config.encode()
	if err != nil {
		return nil, err
	}
	if err := writeSection(w, ConfigurationFileName, cfgBytes); err != nil {
		return nil, err
	}

	if s.beforeWALCopy != nil {
		s.beforeWALCopy()
	}
	segments, walMax, err := s.copyWalSegments(w, boundary.Segment)
	if err != nil {
		return nil, err
	}
	maxLSN = MaxLSN(maxLSN, walMax)

	manifest := Manifest{
		Database:   s.name,
		SinceLSN:   since,
		MaxLSN:     maxLSN.Ptr(),
		ChainIndex: index,
		IsFull:     isFull,
		PageSize:   s.opts.PageSize,
		Pages:      pages,
		CreatedAt:  start.UTC(),
	}
	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeSection(w, ManifestSectionName, manifestBytes); err != nil {
		return nil, err
	}

	header := ArchiveHeader{ChainIndex: index, LSN: maxLSN.Ptr(), IsFull: isFull}
	if err := w.finish(header); err != nil {
		return nil, err
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, ioErr("stat archive", path, err)
	}

	mode := "incremental"
	if isFull {
		mode = "full"
	}
	metrics.RecordPagesCaptured(mode, pages)

	result := &BackupResult{
		Path:          path,
		FileName:      fileName,
		FileSize:      st.Size(),
		ChainIndex:    index,
		SinceLSN:      since,
		MaxLSN:        maxLSN.Ptr(),
		IsFull:        isFull,
		PagesCaptured: pages,
		WALSegments:   segments,
		Elapsed:       s.now().Sub(start),
	}
	log.Info().
		Str("archive", fileName).
		Int("pages", pages).
		Int("wal_segments", segments).
		Stringer("max_lsn", maxLSN).
		Dur("elapsed", result.Elapsed).
		Msg("Backup archive written")
	return result, nil
}

func writeSection(w *archiveWriter, name string, data []byte) error {
	sw, err := w.section(name)
	if err != nil {
		return err
	}
	if _, err := sw.Write(data); err != nil {
		return ioErr("write archive section "+name, w.tmpPath, err)
	}
	return nil
}

// capturePages writes one data section per file containing the pages newer
// than since.
func (s *Storage) capturePages(ctx context.Context, w *archiveWriter, since *LSN, maxLSN *LSN) (int, error) {
	total := 0
	for _, file := range s.cache.SortedFiles() {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if s.beforeCaptureFile != nil {
			s.beforeCaptureFile(file)
		}
		n, err := s.captureFile(w, file, since, maxLSN)
		total += n
		if errors.Is(err, ErrFileNotFound) {
			// Deleted after the boundary; the copied WAL carries the deletion.
			logging.Debug().Str("database", s.name).Str("file", file.Name).Msg("File deleted during backup scan")
			continue
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Storage) captureFile(w *archiveWriter, file FileInfo, since *LSN, maxLSN *LSN) (int, error) {
	wasOpen := s.cache.IsOpen(file.ID)
	if !wasOpen {
		if err := s.cache.Open(file.ID); err != nil {
			return 0, err
		}
		defer func() {
			if err := s.cache.Close(file.ID); err != nil {
				logging.Warn().Err(err).Str("file", file.Name).Msg("Failed to close data file after backup")
			}
		}()
	}

	sw, err := w.section(DataSectionPrefix + file.Name)
	if err != nil {
		return 0, err
	}
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], file.ID)
	if _, err := sw.Write(idx[:]); err != nil {
		return 0, ioErr("write data section", w.tmpPath, err)
	}

	filled, err := s.cache.FilledUpTo(file.ID)
	if err != nil {
		return 0, err
	}
	captured := 0
	for i := uint64(0); i < filled; i++ {
		page, err := s.cache.LoadPage(file.ID, i)
		if err != nil {
			return captured, err
		}
		lsn := PageLSN(page)
		if since != nil && !lsn.After(*since) {
			continue
		}
		binary.BigEndian.PutUint64(idx[:], i)
		if _, err := sw.Write(idx[:]); err != nil {
			return captured, ioErr("write data section", w.tmpPath, err)
		}
		if _, err := sw.Write(page); err != nil {
			return captured, ioErr("write data section", w.tmpPath, err)
		}
		*maxLSN = MaxLSN(*maxLSN, lsn)
		captured++
	}
	return captured, nil
}

// copyWalSegments copies every segment from the boundary segment onward and
// returns the LSN of the last record copied.
func (s *Storage) copyWalSegments(w *archiveWriter, from uint64) (int, LSN, error) {
	var last LSN
	copied := 0
	for _, id := range s.wal.Segments() {
		if id < from {
			continue
		}
		data, err := s.wal.ReadSegment(id)
		if err != nil {
			return copied, last, err
		}
		sw, err := w.section(SegmentFileName(id))
		if err != nil {
			return copied, last, err
		}
		if _, err := sw.Write(data); err != nil {
			return copied, last, ioErr("write wal section", w.tmpPath, err)
		}
		last = MaxLSN(last, lastRecordLSN(data, id))
		copied++
	}
	return copied, last, nil
}
