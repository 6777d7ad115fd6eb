// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func TestIncrementalBackupBootstrapsChain(t *testing.T) {
	s := newTestStorage(t, "orders", Options{})
	dir := filepath.Join(t.TempDir(), "chain")

	id := mustAddFile(t, s, "orders.pcl")
	mustWrite(t, s, id, 0, "first")
	last := mustWrite(t, s, id, 1, "second")

	first := mustBackup(t, s, dir)
	if !first.IsFull || first.ChainIndex != 0 || first.SinceLSN != nil {
		t.Fatalf("first archive should be a full chain start, got %+v", first)
	}
	if first.PagesCaptured != 2 {
		t.Errorf("expected 2 pages captured, got %d", first.PagesCaptured)
	}
	if first.MaxLSN == nil || first.MaxLSN.Compare(last) < 0 {
		t.Errorf("max LSN %v should cover the last write %s", first.MaxLSN, last)
	}

	changed := mustWrite(t, s, id, 1, "second v2")
	second := mustBackup(t, s, dir)
	if second.IsFull || second.ChainIndex != 1 {
		t.Fatalf("second archive should be incremental index 1, got %+v", second)
	}
	if second.SinceLSN == nil || *second.SinceLSN != *first.MaxLSN {
		t.Errorf("since LSN %v should equal previous max %v", second.SinceLSN, first.MaxLSN)
	}
	if second.PagesCaptured != 1 {
		t.Errorf("expected only the changed page, got %d", second.PagesCaptured)
	}
	if second.MaxLSN.Compare(changed) < 0 {
		t.Errorf("max LSN %s below changed page LSN %s", second.MaxLSN, changed)
	}

	h, err := ReadArchiveHeader(second.Path)
	if err != nil {
		t.Fatalf("ReadArchiveHeader failed: %v", err)
	}
	if h.ChainIndex != 1 || h.IsFull || h.LSN == nil || *h.LSN != *second.MaxLSN {
		t.Errorf("header %+v does not match result", h)
	}
}

func TestIncrementalBackupWithoutChangesKeepsLSN(t *testing.T) {
	s := newTestStorage(t, "idle", Options{})
	dir := t.TempDir()
	id := mustAddFile(t, s, "idle.pcl")
	mustWrite(t, s, id, 0, "only")

	first := mustBackup(t, s, dir)
	second := mustBackup(t, s, dir)
	if second.PagesCaptured != 0 {
		t.Errorf("expected no pages, got %d", second.PagesCaptured)
	}
	if second.MaxLSN == nil || *second.MaxLSN != *first.MaxLSN {
		t.Errorf("max LSN moved without writes: %v -> %v", first.MaxLSN, second.MaxLSN)
	}
	third := mustBackup(t, s, dir)
	if third.ChainIndex != 2 || third.PagesCaptured != 0 {
		t.Errorf("unexpected third archive %+v", third)
	}
}

func TestIncrementalBackupOfEmptyStorage(t *testing.T) {
	s := newTestStorage(t, "empty", Options{})
	res := mustBackup(t, s, t.TempDir())
	if !res.IsFull || res.MaxLSN != nil || res.PagesCaptured != 0 {
		t.Errorf("unexpected archive for empty storage: %+v", res)
	}
}

func TestIncrementalBackupRestoresClosedFileState(t *testing.T) {
	s := newTestStorage(t, "closed", Options{})
	open := mustAddFile(t, s, "open.pcl")
	closed := mustAddFile(t, s, "closed.pcl")
	mustWrite(t, s, open, 0, "a")
	mustWrite(t, s, closed, 0, "b")
	if err := s.CloseFile(closed); err != nil {
		t.Fatalf("CloseFile failed: %v", err)
	}

	res := mustBackup(t, s, t.TempDir())
	if res.PagesCaptured != 2 {
		t.Errorf("expected pages from both files, got %d", res.PagesCaptured)
	}
	if !s.IsFileOpen(open) {
		t.Error("open file was closed by the backup")
	}
	if s.IsFileOpen(closed) {
		t.Error("closed file was left open by the backup")
	}
}

func TestConcurrentIncrementalBackupRejected(t *testing.T) {
	s := newTestStorage(t, "busy", Options{})
	id := mustAddFile(t, s, "busy.pcl")
	mustWrite(t, s, id, 0, "data")

	// An in-flight writer keeps the first backup parked at its freeze.
	s.freezer.StartOperation()

	type outcome struct {
		res *BackupResult
		err error
	}
	base := t.TempDir()
	done := make(chan outcome, 1)
	go func() {
		res, err := s.IncrementalBackup(t.Context(), filepath.Join(base, "a"))
		done <- outcome{res, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !s.BackupInProgress() {
		if time.Now().After(deadline) {
			t.Fatal("first backup never started")
		}
		time.Sleep(time.Millisecond)
	}

	_, err := s.IncrementalBackup(t.Context(), filepath.Join(base, "b"))
	if !errors.Is(err, ErrBackupInProgress) {
		t.Errorf("expected ErrBackupInProgress, got %v", err)
	}

	s.freezer.EndOperation()
	first := <-done
	if first.err != nil {
		t.Fatalf("first backup failed: %v", first.err)
	}
	if s.BackupInProgress() {
		t.Error("in-progress flag not cleared")
	}

	// The flag is free again.
	if _, err := s.IncrementalBackup(t.Context(), filepath.Join(base, "c")); err != nil {
		t.Errorf("backup after completion failed: %v", err)
	}
}

func TestBackupClearsFlagOnFailure(t *testing.T) {
	s := newTestStorage(t, "fail", Options{})
	dir := t.TempDir()
	mustBackup(t, s, dir)

	if _, err := s.FullBackup(t.Context(), dir); !errors.Is(err, ErrBackupDirNotEmpty) {
		t.Fatalf("expected ErrBackupDirNotEmpty, got %v", err)
	}
	if s.BackupInProgress() {
		t.Error("in-progress flag left set after a failed backup")
	}
}

func TestWriteExclusionBlocksWritersDuringCapture(t *testing.T) {
	s := newTestStorage(t, "excl", Options{AllowWritesDuringBackup: false})
	id := mustAddFile(t, s, "excl.pcl")
	mustWrite(t, s, id, 0, "before")

	written := make(chan struct{})
	s.beforeWALCopy = func() {
		go func() {
			s.WritePage(id, 1, []byte("during"))
			close(written)
		}()
		select {
		case <-written:
			t.Error("writer proceeded while the backup held write exclusion")
		case <-time.After(50 * time.Millisecond):
		}
	}
	mustBackup(t, s, t.TempDir())

	select {
	case <-written:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never resumed after the backup")
	}
}

func TestWritesDuringBackupTravelInWAL(t *testing.T) {
	s := newTestStorage(t, "live", Options{AllowWritesDuringBackup: true})
	dir := t.TempDir()
	id := mustAddFile(t, s, "live.pcl")
	mustWrite(t, s, id, 0, "before")

	var during LSN
	s.beforeWALCopy = func() {
		during = mustWrite(t, s, id, 1, "during")
	}
	res := mustBackup(t, s, dir)
	s.beforeWALCopy = nil

	if res.PagesCaptured != 1 {
		t.Errorf("page scan should only see the page written before it, got %d", res.PagesCaptured)
	}
	if res.WALSegments == 0 {
		t.Error("expected WAL segments in the archive")
	}
	if res.MaxLSN == nil || *res.MaxLSN != during {
		t.Errorf("max LSN %v should be the WAL write %s", res.MaxLSN, during)
	}

	target := newTestStorage(t, "live_copy", Options{})
	rr, err := target.Restore(t.Context(), dir)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if rr.WALRecords == 0 {
		t.Error("expected WAL records to be replayed")
	}
	assertSameSnapshot(t, snapshot(t, s), snapshot(t, target))
}

func TestBackupSkipsFileDeletedDuringScan(t *testing.T) {
	s := newTestStorage(t, "churn", Options{AllowWritesDuringBackup: true})
	dir := t.TempDir()
	keep := mustAddFile(t, s, "keep.pcl")
	gone := mustAddFile(t, s, "gone.pcl")
	mustWrite(t, s, keep, 0, "k")
	mustWrite(t, s, gone, 0, "g")
	mustBackup(t, s, dir)

	mustWrite(t, s, gone, 1, "g2")
	s.beforeCaptureFile = func(f FileInfo) {
		if f.ID != gone {
			return
		}
		if err := s.DeleteFile(gone); err != nil {
			t.Errorf("DeleteFile during scan failed: %v", err)
		}
	}
	res, err := s.IncrementalBackup(t.Context(), dir)
	s.beforeCaptureFile = nil
	if err != nil {
		t.Fatalf("backup with a concurrent delete failed: %v", err)
	}
	if res.ChainIndex != 1 {
		t.Errorf("expected chain index 1, got %d", res.ChainIndex)
	}

	target := newTestStorage(t, "churn_copy", Options{})
	if _, err := target.Restore(t.Context(), dir); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if _, ok := target.Files()["gone.pcl"]; ok {
		t.Error("file deleted during the scan survived the restore")
	}
	assertSameSnapshot(t, snapshot(t, s), snapshot(t, target))
}

func TestBackupsSucceedWhileFilesChurn(t *testing.T) {
	s := newTestStorage(t, "busy", Options{AllowWritesDuringBackup: true})
	dir := t.TempDir()
	base := mustAddFile(t, s, "base.pcl")
	mustWrite(t, s, base, 0, "base")

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			id, err := s.AddFile(fmt.Sprintf("tmp-%d.pcl", i))
			if err != nil {
				t.Errorf("AddFile failed: %v", err)
				return
			}
			if _, err := s.WritePage(id, 0, []byte("scratch")); err != nil {
				t.Errorf("WritePage failed: %v", err)
				return
			}
			if err := s.DeleteFile(id); err != nil {
				t.Errorf("DeleteFile failed: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 5; i++ {
		if _, err := s.IncrementalBackup(t.Context(), dir); err != nil {
			close(stop)
			<-done
			t.Fatalf("backup %d failed while files churned: %v", i, err)
		}
	}
	close(stop)
	<-done

	target := newTestStorage(t, "busy_copy", Options{})
	if _, err := target.Restore(t.Context(), dir); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if _, ok := target.Files()["base.pcl"]; !ok {
		t.Error("base file missing after restore")
	}
}
