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
	"sort"
	"strings"
	"sync"
)

// Registry maps database names to storage directories under one root and
// keeps at most one open Storage per name.
type Registry struct {
	mu   sync.Mutex
	root string
	opts Options
	open map[string]*Storage
}

// NewRegistry returns a registry rooted at root.
func NewRegistry(root string, opts Options) *Registry {
	return &Registry{
		root: root,
		opts: opts,
		open: make(map[string]*Storage),
	}
}

func validateDatabaseName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidDatabaseName, name)
	}
	return nil
}

// Path returns the directory of a database.
func (r *Registry) Path(name string) string {
	return filepath.Join(r.root, name)
}

// Exists reports whether a database with the given name exists.
func (r *Registry) Exists(name string) bool {
	if validateDatabaseName(name) != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.existsLocked(name)
}

func (r *Registry) existsLocked(name string) bool {
	if _, ok := r.open[name]; ok {
		return true
	}
	_, err := os.Stat(filepath.Join(r.Path(name), ConfigurationFileName))
	return err == nil
}

// Names lists the databases found under the root.
func (r *Registry) Names() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, ioErr("list databases", r.root, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || validateDatabaseName(e.Name()) != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(r.root, e.Name(), ConfigurationFileName)); err == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Create creates and opens a new database. It fails with ErrDatabaseExists
// when the name is taken.
func (r *Registry) Create(name string) (*Storage, error) {
	if err := validateDatabaseName(name); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.existsLocked(name) {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseExists, name)
	}
	s, err := Open(r.Path(name), name, r.opts)
	if err != nil {
		return nil, err
	}
	r.open[name] = s
	return s, nil
}

// Open returns the open Storage for name, opening it if needed.
func (r *Registry) Open(name string) (*Storage, error) {
	if err := validateDatabaseName(name); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.open[name]; ok {
		return s, nil
	}
	if !r.existsLocked(name) {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, name)
	}
	s, err := Open(r.Path(name), name, r.opts)
	if err != nil {
		return nil, err
	}
	r.open[name] = s
	return s, nil
}

// Drop closes and deletes a database.
func (r *Registry) Drop(name string) error {
	if err := validateDatabaseName(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.open[name]; ok {
		if err := s.Close(); err != nil {
			return err
		}
		delete(r.open, name)
	}
	if err := os.RemoveAll(r.Path(name)); err != nil {
		return ioErr("drop database", r.Path(name), err)
	}
	return nil
}

// Close closes every open database.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, s := range r.open {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.open, name)
	}
	return firstErr
}
