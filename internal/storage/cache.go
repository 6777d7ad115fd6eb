// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"
)

const fileRegistryName = "files.json"

// fileRegistry is the persisted name -> id map of a DiskCache.
type fileRegistry struct {
	NextID uint64            `json:"next_id"`
	Files  map[string]uint64 `json:"files"`
}

// DiskCache stores fixed-size pages in one file per data file. Page reads and
// writes are serialized against each other so a reader never sees a torn page.
type DiskCache struct {
	mu       sync.RWMutex
	dir      string
	pageSize int

	ids    map[string]uint64
	names  map[uint64]string
	open   map[uint64]*os.File
	nextID uint64
}

// FileInfo describes one data file known to the cache.
type FileInfo struct {
	ID   uint64
	Name string
}

// OpenDiskCache loads the file registry in dir and opens every data file.
func OpenDiskCache(dir string, pageSize int) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ioErr("create data dir", dir, err)
	}
	c := &DiskCache{
		dir:      dir,
		pageSize: pageSize,
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	for id := range c.names {
		if err := c.openLocked(id); err != nil {
			c.closeAllLocked()
			return nil, err
		}
	}
	return c, nil
}

func (c *DiskCache) load() error {
	c.ids = make(map[string]uint64)
	c.names = make(map[uint64]string)
	c.open = make(map[uint64]*os.File)
	c.nextID = 1

	path := filepath.Join(c.dir, fileRegistryName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return ioErr("read file registry", path, err)
	}
	var reg fileRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return fmt.Errorf("decode file registry %s: %w", path, err)
	}
	for name, id := range reg.Files {
		c.ids[name] = id
		c.names[id] = name
		if id >= c.nextID {
			c.nextID = id + 1
		}
	}
	if reg.NextID > c.nextID {
		c.nextID = reg.NextID
	}
	return nil
}

// saveLocked persists the registry with a write-then-rename so a crash never
// leaves a partially written file behind.
func (c *DiskCache) saveLocked() error {
	reg := fileRegistry{NextID: c.nextID, Files: make(map[string]uint64, len(c.ids))}
	for name, id := range c.ids {
		reg.Files[name] = id
	}
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode file registry: %w", err)
	}
	path := filepath.Join(c.dir, fileRegistryName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ioErr("write file registry", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return ioErr("rename file registry", path, err)
	}
	return nil
}

func (c *DiskCache) filePath(name string) string {
	return filepath.Join(c.dir, name)
}

// PageSize returns the size of every page in bytes.
func (c *DiskCache) PageSize() int {
	return c.pageSize
}

// Files returns a snapshot of the name -> id map.
func (c *DiskCache) Files() map[string]uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]uint64, len(c.ids))
	for name, id := range c.ids {
		out[name] = id
	}
	return out
}

// SortedFiles returns the known files ordered by id.
func (c *DiskCache) SortedFiles() []FileInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]FileInfo, 0, len(c.ids))
	for name, id := range c.ids {
		out = append(out, FileInfo{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FileIDByName resolves a data file name.
func (c *DiskCache) FileIDByName(name string) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[name]
	return id, ok
}

// FileName resolves a data file id.
func (c *DiskCache) FileName(id uint64) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.names[id]
	return name, ok
}

// Exists reports whether a data file with the given id is registered.
func (c *DiskCache) Exists(id uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.names[id]
	return ok
}

// IsOpen reports whether the data file is currently open.
func (c *DiskCache) IsOpen(id uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.open[id]
	return ok
}

// AddFile registers and creates a new data file, returning its id.
func (c *DiskCache) AddFile(name string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	if err := c.addLocked(name, id); err != nil {
		return 0, err
	}
	return id, nil
}

// AddFileWithID registers a data file under a caller-chosen id. Restore uses
// it to recreate files with the ids recorded in an archive.
func (c *DiskCache) AddFileWithID(name string, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(name, id)
}

func (c *DiskCache) addLocked(name string, id uint64) error {
	if name == "" || name == fileRegistryName || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	if _, ok := c.ids[name]; ok {
		return fmt.Errorf("%w: %s", ErrFileExists, name)
	}
	if other, ok := c.names[id]; ok {
		return fmt.Errorf("%w: id %d already used by %s", ErrFileExists, id, other)
	}
	path := c.filePath(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return ioErr("create data file", path, err)
	}
	c.ids[name] = id
	c.names[id] = name
	c.open[id] = f
	if id >= c.nextID {
		c.nextID = id + 1
	}
	return c.saveLocked()
}

// Open opens a registered data file. Opening an open file is a no-op.
func (c *DiskCache) Open(id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked(id)
}

func (c *DiskCache) openLocked(id uint64) error {
	if _, ok := c.open[id]; ok {
		return nil
	}
	name, ok := c.names[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrFileNotFound, id)
	}
	path := c.filePath(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return ioErr("open data file", path, err)
	}
	c.open[id] = f
	return nil
}

// Close closes a data file without unregistering it.
func (c *DiskCache) Close(id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.open[id]
	if !ok {
		return nil
	}
	delete(c.open, id)
	return ioErr("close data file", f.Name(), f.Close())
}

func (c *DiskCache) fileLocked(id uint64) (*os.File, error) {
	f, ok := c.open[id]
	if !ok {
		if _, known := c.names[id]; !known {
			return nil, fmt.Errorf("%w: id %d", ErrFileNotFound, id)
		}
		return nil, fmt.Errorf("%w: id %d", ErrFileNotOpen, id)
	}
	return f, nil
}

// FilledUpTo returns the number of pages the file currently holds.
func (c *DiskCache) FilledUpTo(id uint64) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filledLocked(id)
}

func (c *DiskCache) filledLocked(id uint64) (uint64, error) {
	f, err := c.fileLocked(id)
	if err != nil {
		return 0, err
	}
	st, err := f.Stat()
	if err != nil {
		return 0, ioErr("stat data file", f.Name(), err)
	}
	return uint64(st.Size()) / uint64(c.pageSize), nil
}

// LoadPage reads one page. The returned slice is owned by the caller.
func (c *DiskCache) LoadPage(id, index uint64) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	filled, err := c.filledLocked(id)
	if err != nil {
		return nil, err
	}
	if index >= filled {
		return nil, fmt.Errorf("%w: file %d page %d (filled up to %d)", ErrPageOutOfRange, id, index, filled)
	}
	f := c.open[id]
	page := make([]byte, c.pageSize)
	if _, err := f.ReadAt(page, int64(index)*int64(c.pageSize)); err != nil && !errors.Is(err, io.EOF) {
		return nil, ioErr("read page", f.Name(), err)
	}
	return page, nil
}

// WritePage writes a full page at index, extending the file when needed.
func (c *DiskCache) WritePage(id, index uint64, page []byte) error {
	if len(page) != c.pageSize {
		return fmt.Errorf("%w: got %d bytes, page size is %d", ErrPageTooLarge, len(page), c.pageSize)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	f, err := c.fileLocked(id)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(page, int64(index)*int64(c.pageSize)); err != nil {
		return ioErr("write page", f.Name(), err)
	}
	return nil
}

// AllocateNewPage appends a zeroed page and returns its index.
func (c *DiskCache) AllocateNewPage(id uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	index, err := c.filledLocked(id)
	if err != nil {
		return 0, err
	}
	f := c.open[id]
	if _, err := f.WriteAt(make([]byte, c.pageSize), int64(index)*int64(c.pageSize)); err != nil {
		return 0, ioErr("allocate page", f.Name(), err)
	}
	return index, nil
}

// DeleteFile closes, unregisters and removes a data file. Deleting an unknown
// id is a no-op.
func (c *DiskCache) DeleteFile(id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, ok := c.names[id]
	if !ok {
		return nil
	}
	if f, open := c.open[id]; open {
		_ = f.Close()
		delete(c.open, id)
	}
	delete(c.names, id)
	delete(c.ids, name)
	path := c.filePath(name)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return ioErr("remove data file", path, err)
	}
	return c.saveLocked()
}

// Sync flushes every open data file.
func (c *DiskCache) Sync() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, f := range c.open {
		if err := f.Sync(); err != nil {
			return ioErr("sync data file", f.Name(), err)
		}
	}
	return nil
}

// ReopenAll closes every data file, reloads the registry from disk and opens
// every registered file again.
func (c *DiskCache) ReopenAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.closeAllLocked(); err != nil {
		return err
	}
	if err := c.load(); err != nil {
		return err
	}
	for id := range c.names {
		if err := c.openLocked(id); err != nil {
			return err
		}
	}
	return nil
}

// CloseAll closes every open data file.
func (c *DiskCache) CloseAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeAllLocked()
}

func (c *DiskCache) closeAllLocked() error {
	var firstErr error
	for id, f := range c.open {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = ioErr("close data file", f.Name(), err)
		}
		delete(c.open, id)
	}
	return firstErr
}
