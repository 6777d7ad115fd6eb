// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package storage

import (
	"bytes"
	"path/filepath"
	"testing"
)

const testPageSize = 128

// newTestStorage opens a fresh storage in a temp dir and closes it on cleanup.
func newTestStorage(t *testing.T, name string, opts Options) *Storage {
	t.Helper()
	if opts.PageSize == 0 {
		opts.PageSize = testPageSize
	}
	s, err := Open(filepath.Join(t.TempDir(), name), name, opts)
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustAddFile(t *testing.T, s *Storage, name string) uint64 {
	t.Helper()
	id, err := s.AddFile(name)
	if err != nil {
		t.Fatalf("AddFile(%s) failed: %v", name, err)
	}
	return id
}

func mustWrite(t *testing.T, s *Storage, fileID, index uint64, payload string) LSN {
	t.Helper()
	lsn, err := s.WritePage(fileID, index, []byte(payload))
	if err != nil {
		t.Fatalf("WritePage(%d, %d) failed: %v", fileID, index, err)
	}
	return lsn
}

func mustBackup(t *testing.T, s *Storage, dir string) *BackupResult {
	t.Helper()
	res, err := s.IncrementalBackup(t.Context(), dir)
	if err != nil {
		t.Fatalf("IncrementalBackup failed: %v", err)
	}
	return res
}

// tHelper is satisfied by *testing.T and *rapid.T.
type tHelper interface {
	Helper()
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// snapshot returns every page of every file keyed by file name.
func snapshot(t tHelper, s *Storage) map[string][][]byte {
	t.Helper()
	out := make(map[string][][]byte)
	for name, id := range s.Files() {
		filled, err := s.FilledUpTo(id)
		if err != nil {
			t.Fatalf("FilledUpTo(%s) failed: %v", name, err)
		}
		pages := make([][]byte, 0, filled)
		for i := uint64(0); i < filled; i++ {
			page, err := s.ReadPage(id, i)
			if err != nil {
				t.Fatalf("ReadPage(%s, %d) failed: %v", name, i, err)
			}
			pages = append(pages, page)
		}
		out[name] = pages
	}
	return out
}

func assertSameSnapshot(t tHelper, want, got map[string][][]byte) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("expected %d files, got %d (%v)", len(want), len(got), keys(got))
	}
	for name, wantPages := range want {
		gotPages, ok := got[name]
		if !ok {
			t.Fatalf("file %s missing after restore", name)
		}
		if len(wantPages) != len(gotPages) {
			t.Fatalf("file %s: expected %d pages, got %d", name, len(wantPages), len(gotPages))
		}
		for i := range wantPages {
			if !bytes.Equal(wantPages[i], gotPages[i]) {
				t.Errorf("file %s page %d differs: want lsn %s, got lsn %s",
					name, i, PageLSN(wantPages[i]), PageLSN(gotPages[i]))
			}
		}
	}
}

func keys(m map[string][][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
