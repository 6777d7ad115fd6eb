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
	"testing"

	"pgregory.net/rapid"
)

// buildChain writes a full and an incremental archive into dir and returns
// their paths.
func buildChain(t *testing.T, s *Storage, dir string) (string, string) {
	t.Helper()
	users := mustAddFile(t, s, "users.pcl")
	orders := mustAddFile(t, s, "orders.pcl")
	mustWrite(t, s, users, 0, "alice")
	mustWrite(t, s, users, 1, "bob")
	mustWrite(t, s, orders, 0, "order-1")
	full := mustBackup(t, s, dir)

	mustWrite(t, s, users, 1, "bob v2")
	mustWrite(t, s, users, 2, "carol")
	items := mustAddFile(t, s, "items.pcl")
	mustWrite(t, s, items, 0, "widget")
	inc := mustBackup(t, s, dir)
	return full.Path, inc.Path
}

func TestRestoreRoundTrip(t *testing.T) {
	src := newTestStorage(t, "src", Options{})
	dir := t.TempDir()
	buildChain(t, src, dir)

	dst := newTestStorage(t, "dst", Options{})
	res, err := dst.Restore(t.Context(), dir)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if res.Archives != 2 {
		t.Errorf("expected 2 archives applied, got %d", res.Archives)
	}
	assertSameSnapshot(t, snapshot(t, src), snapshot(t, dst))

	for name, id := range src.Files() {
		if got, ok := dst.Files()[name]; !ok || got != id {
			t.Errorf("file %s: id %d in source, %d in restore", name, id, got)
		}
	}

	// New writes in the restored database sort after restored history.
	next := mustWrite(t, dst, dst.Files()["users.pcl"], 5, "post-restore")
	if res.MaxLSN == nil || !next.After(*res.MaxLSN) {
		t.Errorf("write after restore got %s, restore max was %v", next, res.MaxLSN)
	}
}

func TestRestoreFullChainReplacesExistingFiles(t *testing.T) {
	src := newTestStorage(t, "src", Options{})
	dir := t.TempDir()
	buildChain(t, src, dir)

	dst := newTestStorage(t, "dst", Options{})
	junk := mustAddFile(t, dst, "junk.pcl")
	mustWrite(t, dst, junk, 0, "stale")

	if _, err := dst.Restore(t.Context(), dir); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if _, ok := dst.Files()["junk.pcl"]; ok {
		t.Error("file outside the restored image survived a full restore")
	}
	assertSameSnapshot(t, snapshot(t, src), snapshot(t, dst))
}

func TestRestoreDropsFilesDeletedBetweenArchives(t *testing.T) {
	src := newTestStorage(t, "src", Options{})
	dir := t.TempDir()
	keep := mustAddFile(t, src, "keep.pcl")
	gone := mustAddFile(t, src, "gone.pcl")
	mustWrite(t, src, keep, 0, "k")
	mustWrite(t, src, gone, 0, "g")
	mustBackup(t, src, dir)

	if err := src.DeleteFile(gone); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}
	mustWrite(t, src, keep, 1, "k2")
	mustBackup(t, src, dir)

	dst := newTestStorage(t, "dst", Options{})
	res, err := dst.Restore(t.Context(), dir)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if _, ok := dst.Files()["gone.pcl"]; ok {
		t.Error("deleted file came back after restore")
	}
	if res.FilesDeleted == 0 {
		t.Error("expected the deleted file to be dropped during restore")
	}
	assertSameSnapshot(t, snapshot(t, src), snapshot(t, dst))
}

func TestRestoreReapplyingIncrementalIsIdempotent(t *testing.T) {
	src := newTestStorage(t, "src", Options{})
	dir := t.TempDir()
	_, inc := buildChain(t, src, dir)

	dst := newTestStorage(t, "dst", Options{})
	if _, err := dst.Restore(t.Context(), dir); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	before := snapshot(t, dst)

	res, err := dst.RestoreArchives(t.Context(), []string{inc})
	if err != nil {
		t.Fatalf("reapplying incremental failed: %v", err)
	}
	if res.PagesApplied != 0 {
		t.Errorf("expected no pages applied on reapply, got %d", res.PagesApplied)
	}
	assertSameSnapshot(t, before, snapshot(t, dst))
}

func TestRestoreReapplyingIncrementalKeepsDeletedFileDeleted(t *testing.T) {
	src := newTestStorage(t, "src", Options{})
	dir := t.TempDir()
	a := mustAddFile(t, src, "a.pcl")
	mustWrite(t, src, a, 0, "a")
	mustBackup(t, src, dir)

	b := mustAddFile(t, src, "b.pcl")
	mustWrite(t, src, b, 0, "b")
	inc1 := mustBackup(t, src, dir)

	if err := src.DeleteFile(b); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}
	mustWrite(t, src, a, 1, "a2")
	mustBackup(t, src, dir)

	dst := newTestStorage(t, "dst", Options{})
	res, err := dst.Restore(t.Context(), dir)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if got := dst.Configuration().RestoredLSN; got == nil || *got != *res.MaxLSN {
		t.Fatalf("expected restore mark %v, got %v", res.MaxLSN, got)
	}
	before := snapshot(t, dst)

	again, err := dst.RestoreArchives(t.Context(), []string{inc1.Path})
	if err != nil {
		t.Fatalf("reapplying incremental failed: %v", err)
	}
	if again.ArchivesSkipped != 1 || again.Archives != 0 {
		t.Errorf("expected the archive to be skipped, got %d applied and %d skipped",
			again.Archives, again.ArchivesSkipped)
	}
	if _, ok := dst.Files()["b.pcl"]; ok {
		t.Error("reapplied incremental recreated a deleted file")
	}
	assertSameSnapshot(t, before, snapshot(t, dst))
	assertSameSnapshot(t, snapshot(t, src), snapshot(t, dst))
}

func TestRestoreMarkSurvivesReopen(t *testing.T) {
	src := newTestStorage(t, "src", Options{})
	dir := t.TempDir()
	_, inc := buildChain(t, src, dir)

	dstDir := filepath.Join(t.TempDir(), "dst")
	dst, err := Open(dstDir, "dst", Options{PageSize: 128})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	res, err := dst.Restore(t.Context(), dir)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if err := dst.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(dstDir, "dst", Options{PageSize: 128})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	got := reopened.Configuration().RestoredLSN
	if got == nil || *got != *res.MaxLSN {
		t.Fatalf("expected restore mark %v after reopen, got %v", res.MaxLSN, got)
	}
	again, err := reopened.RestoreArchives(t.Context(), []string{inc})
	if err != nil {
		t.Fatalf("reapplying incremental failed: %v", err)
	}
	if again.ArchivesSkipped != 1 {
		t.Errorf("expected 1 skipped archive, got %d", again.ArchivesSkipped)
	}
}

func TestRestoreIncrementalFirstKeepsUnreferencedFiles(t *testing.T) {
	src := newTestStorage(t, "src", Options{})
	dir := t.TempDir()
	_, inc := buildChain(t, src, dir)

	dst := newTestStorage(t, "dst", Options{})
	local := mustAddFile(t, dst, "local.pcl")
	mustWrite(t, dst, local, 0, "local only")

	res, err := dst.RestoreArchives(t.Context(), []string{inc})
	if err != nil {
		t.Fatalf("RestoreArchives failed: %v", err)
	}
	if res.FilesDeleted != 0 {
		t.Errorf("incremental-first restore deleted %d files", res.FilesDeleted)
	}
	if _, ok := dst.Files()["local.pcl"]; !ok {
		t.Error("incremental-first restore dropped a local file the archive does not mention")
	}
	if _, ok := dst.Files()["items.pcl"]; !ok {
		t.Error("file created in the incremental window was not restored")
	}
}

func TestRestoreRejectsBrokenChain(t *testing.T) {
	src := newTestStorage(t, "src", Options{})
	dir := t.TempDir()
	full, _ := buildChain(t, src, dir)
	id := src.Files()["users.pcl"]
	mustWrite(t, src, id, 0, "alice v2")
	third := mustBackup(t, src, dir)

	dst := newTestStorage(t, "dst", Options{})
	keep := mustAddFile(t, dst, "local.pcl")
	mustWrite(t, dst, keep, 0, "untouched")
	before := snapshot(t, dst)

	_, err := dst.RestoreArchives(t.Context(), []string{full, third.Path})
	if !errors.Is(err, ErrRestoreInconsistency) {
		t.Fatalf("expected ErrRestoreInconsistency, got %v", err)
	}
	assertSameSnapshot(t, before, snapshot(t, dst))
}

func TestRestoreRejectsPageSizeMismatch(t *testing.T) {
	src := newTestStorage(t, "src", Options{PageSize: 256})
	dir := t.TempDir()
	id := mustAddFile(t, src, "a.pcl")
	mustWrite(t, src, id, 0, "x")
	mustBackup(t, src, dir)

	dst := newTestStorage(t, "dst", Options{PageSize: 128})
	if _, err := dst.Restore(t.Context(), dir); !errors.Is(err, ErrRestoreInconsistency) {
		t.Errorf("expected ErrRestoreInconsistency, got %v", err)
	}
}

func TestRestoreFileIDMismatch(t *testing.T) {
	src := newTestStorage(t, "src", Options{})
	dir := t.TempDir()
	_, inc := buildChain(t, src, dir)

	dst := newTestStorage(t, "dst", Options{})
	// Takes id 1, which the archive assigns to users.pcl.
	mustAddFile(t, dst, "orders.pcl")

	_, err := dst.RestoreArchives(t.Context(), []string{inc})
	if !errors.Is(err, ErrRestoreInconsistency) {
		t.Errorf("expected ErrRestoreInconsistency, got %v", err)
	}
}

func TestRestoreReplacesConfiguration(t *testing.T) {
	src := newTestStorage(t, "src", Options{})
	if err := src.SetProperty("compression", "none"); err != nil {
		t.Fatalf("SetProperty failed: %v", err)
	}
	dir := t.TempDir()
	mustBackup(t, src, dir)

	dst := newTestStorage(t, "dst", Options{})
	res, err := dst.Restore(t.Context(), dir)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	cfg := dst.Configuration()
	if !res.ConfigReplaced || cfg.Properties["compression"] != "none" {
		t.Errorf("configuration not replaced: %+v", cfg)
	}
	if cfg.Name != "dst" {
		t.Errorf("restore renamed the database to %s", cfg.Name)
	}
}

func TestRestoreEmptyDirectory(t *testing.T) {
	dst := newTestStorage(t, "dst", Options{})
	if _, err := dst.Restore(t.Context(), t.TempDir()); !errors.Is(err, ErrNoArchives) {
		t.Errorf("expected ErrNoArchives, got %v", err)
	}
}

// TestRestoreMatchesSourceForAnyChain checks that restoring a full archive
// followed by any number of incrementals reproduces the source, and that
// reapplying one of the incrementals afterwards changes nothing.
func TestRestoreMatchesSourceForAnyChain(t *testing.T) {
	root := t.TempDir()
	rapid.Check(t, func(rt *rapid.T) {
		base, err := os.MkdirTemp(root, "case-")
		if err != nil {
			rt.Fatalf("MkdirTemp: %v", err)
		}
		src, err := Open(filepath.Join(base, "src"), "src", Options{PageSize: testPageSize})
		if err != nil {
			rt.Fatalf("open source: %v", err)
		}
		defer src.Close()

		ids := make([]uint64, 2)
		for i := range ids {
			if ids[i], err = src.AddFile(fmt.Sprintf("f%d.pcl", i)); err != nil {
				rt.Fatalf("AddFile: %v", err)
			}
		}

		chain := filepath.Join(base, "chain")
		steps := rapid.IntRange(1, 4).Draw(rt, "steps")
		var paths []string
		for step := 0; step < steps; step++ {
			writes := rapid.SliceOfN(rapid.IntRange(0, 11), 0, 8).Draw(rt, fmt.Sprintf("writes_%d", step))
			for _, w := range writes {
				payload := []byte(fmt.Sprintf("step %d write %d", step, w))
				if _, err := src.WritePage(ids[w%2], uint64(w/2), payload); err != nil {
					rt.Fatalf("WritePage: %v", err)
				}
			}
			res, err := src.IncrementalBackup(t.Context(), chain)
			if err != nil {
				rt.Fatalf("IncrementalBackup: %v", err)
			}
			paths = append(paths, res.Path)
		}

		dst, err := Open(filepath.Join(base, "dst"), "dst", Options{PageSize: testPageSize})
		if err != nil {
			rt.Fatalf("open target: %v", err)
		}
		defer dst.Close()

		if _, err := dst.RestoreArchives(t.Context(), paths); err != nil {
			rt.Fatalf("RestoreArchives: %v", err)
		}
		want := snapshot(rt, src)
		assertSameSnapshot(rt, want, snapshot(rt, dst))

		if len(paths) > 1 {
			k := rapid.IntRange(1, len(paths)-1).Draw(rt, "reapply")
			if _, err := dst.RestoreArchives(t.Context(), paths[k:k+1]); err != nil {
				rt.Fatalf("reapply archive %d: %v", k, err)
			}
			assertSameSnapshot(rt, want, snapshot(rt, dst))
		}
	})
}
