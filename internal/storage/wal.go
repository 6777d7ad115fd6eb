// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	// walRecordLengthSize is the size of the length prefix of every record.
	walRecordLengthSize = 4

	// maxRecordSize bounds a single record so a corrupted length prefix is
	// treated as a torn tail instead of a huge allocation.
	maxRecordSize = 64 << 20

	segmentExtension = ".wal"
)

// SegmentFileName returns the file name of a WAL segment.
func SegmentFileName(id uint64) string {
	return fmt.Sprintf("%020d%s", id, segmentExtension)
}

func parseSegmentFileName(name string) (uint64, bool) {
	if !strings.HasSuffix(name, segmentExtension) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(name, segmentExtension), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func listSegments(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, ioErr("list wal segments", dir, err)
	}
	ids := make([]uint64, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := parseSegmentFileName(e.Name()); ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// scanRecords walks the complete records held in one segment's bytes and
// returns the length of the valid prefix. A torn or zero-filled tail ends the
// scan without error.
func scanRecords(data []byte, segment uint64, fn func(lsn LSN, payload []byte) error) (int64, error) {
	var off int64
	size := int64(len(data))
	for size-off >= walRecordLengthSize {
		n := int64(binary.BigEndian.Uint32(data[off:]))
		end := off + walRecordLengthSize + n
		if n == 0 || n > maxRecordSize || end > size {
			break
		}
		if fn != nil {
			if err := fn(LSN{Segment: segment, Position: uint64(off)}, data[off+walRecordLengthSize:end]); err != nil {
				return off, err
			}
		}
		off = end
	}
	return off, nil
}

// WAL is a segmented write-ahead log. Each segment is a file of
// length-prefixed records; a record's LSN is its segment number and byte
// offset within that segment.
type WAL struct {
	mu         sync.Mutex
	dir        string
	syncWrites bool

	segments   []uint64
	active     *os.File
	activeID   uint64
	activeSize int64

	last     LSN
	keepFrom *LSN
	closed   bool
}

// OpenWAL opens (or creates) the log in dir. A torn record at the end of the
// newest segment is truncated away.
func OpenWAL(dir string, syncWrites bool) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ioErr("create wal dir", dir, err)
	}
	segs, err := listSegments(dir)
	if err != nil {
		return nil, err
	}

	w := &WAL{dir: dir, syncWrites: syncWrites}
	if len(segs) == 0 {
		if err := w.createSegment(1); err != nil {
			return nil, err
		}
		return w, nil
	}
	w.segments = segs

	for i := len(segs) - 1; i >= 0; i-- {
		path := filepath.Join(dir, SegmentFileName(segs[i]))
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, ioErr("read wal segment", path, err)
		}
		var last LSN
		valid, _ := scanRecords(data, segs[i], func(lsn LSN, _ []byte) error {
			last = lsn
			return nil
		})
		if i == len(segs)-1 {
			if valid < int64(len(data)) {
				if err := os.Truncate(path, valid); err != nil {
					return nil, ioErr("truncate torn wal tail", path, err)
				}
			}
			w.activeSize = valid
		}
		if !last.IsZero() {
			w.last = last
			break
		}
	}

	w.activeID = segs[len(segs)-1]
	path := filepath.Join(dir, SegmentFileName(w.activeID))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, ioErr("open wal segment", path, err)
	}
	w.active = f
	return w, nil
}

// createSegment makes segment id the active one. The current segment stays
// active unless the new one was created and the current one closed cleanly.
// It must be called with mu held (or before the WAL is shared).
func (w *WAL) createSegment(id uint64) error {
	path := filepath.Join(w.dir, SegmentFileName(id))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return ioErr("create wal segment", path, err)
	}
	if err := w.closeActive(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	w.active = f
	w.activeID = id
	w.activeSize = 0
	w.segments = append(w.segments, id)
	return nil
}

// Dir returns the segment directory.
func (w *WAL) Dir() string {
	return w.dir
}

// Log appends a record and returns its LSN.
func (w *WAL) Log(payload []byte) (LSN, error) {
	if len(payload) == 0 || len(payload) > maxRecordSize {
		return LSN{}, ErrInvalidRecord
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return LSN{}, ErrStorageClosed
	}
	if w.active == nil {
		return LSN{}, ioErr("append wal record", w.dir, errNoActiveSegment)
	}

	buf := make([]byte, walRecordLengthSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[walRecordLengthSize:], payload)

	lsn := LSN{Segment: w.activeID, Position: uint64(w.activeSize)}
	if _, err := w.active.Write(buf); err != nil {
		return LSN{}, ioErr("append wal record", w.active.Name(), err)
	}
	w.activeSize += int64(len(buf))
	if w.syncWrites {
		if err := w.active.Sync(); err != nil {
			return LSN{}, ioErr("sync wal segment", w.active.Name(), err)
		}
	}
	w.last = lsn
	return lsn, nil
}

// End returns the LSN of the newest record, or false if nothing was logged.
func (w *WAL) End() (LSN, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, !w.last.IsZero()
}

// ActiveSegment returns the segment currently receiving appends.
func (w *WAL) ActiveSegment() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activeID
}

// NewSegment rolls the log to a fresh segment and returns its number.
func (w *WAL) NewSegment() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrStorageClosed
	}
	if err := w.createSegment(w.activeID + 1); err != nil {
		return 0, err
	}
	return w.activeID, nil
}

func (w *WAL) closeActive() error {
	if w.active == nil {
		return nil
	}
	name := w.active.Name()
	if err := w.active.Sync(); err != nil {
		return ioErr("sync wal segment", name, err)
	}
	if err := w.active.Close(); err != nil {
		return ioErr("close wal segment", name, err)
	}
	w.active = nil
	return nil
}

// PreventCutTill keeps every segment from lsn's segment onward until it is
// called again with nil.
func (w *WAL) PreventCutTill(lsn *LSN) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if lsn == nil {
		w.keepFrom = nil
		return
	}
	keep := *lsn
	w.keepFrom = &keep
}

// CutTill removes whole segments that end before lsn's segment. Segments
// protected by PreventCutTill and the active segment are never removed.
func (w *WAL) CutTill(lsn LSN) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.segments[:0]
	removed := 0
	var firstErr error
	for _, id := range w.segments {
		protected := id >= lsn.Segment || id == w.activeID ||
			(w.keepFrom != nil && id >= w.keepFrom.Segment)
		if protected {
			kept = append(kept, id)
			continue
		}
		path := filepath.Join(w.dir, SegmentFileName(id))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = ioErr("remove wal segment", path, err)
			}
			kept = append(kept, id)
			continue
		}
		removed++
	}
	w.segments = kept
	return removed, firstErr
}

// MoveLSNAfter makes sure every record logged from now on sorts after lsn.
func (w *WAL) MoveLSNAfter(lsn LSN) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrStorageClosed
	}
	if w.activeID <= lsn.Segment {
		if err := w.createSegment(lsn.Segment + 1); err != nil {
			return err
		}
	}
	if lsn.After(w.last) {
		w.last = lsn
	}
	return nil
}

// Segments returns the numbers of all segments on disk, oldest first.
func (w *WAL) Segments() []uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]uint64, len(w.segments))
	copy(out, w.segments)
	return out
}

// SegmentPaths returns the paths of segments numbered from or later.
func (w *WAL) SegmentPaths(from uint64) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var paths []string
	for _, id := range w.segments {
		if id >= from {
			paths = append(paths, filepath.Join(w.dir, SegmentFileName(id)))
		}
	}
	return paths
}

// ReadSegment returns a consistent copy of one segment's bytes. For the active
// segment only fully appended records are returned.
func (w *WAL) ReadSegment(id uint64) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := filepath.Join(w.dir, SegmentFileName(id))
	if id != w.activeID {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, ioErr("read wal segment", path, err)
		}
		return data, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, ioErr("read wal segment", path, err)
	}
	defer f.Close()
	data := make([]byte, w.activeSize)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, ioErr("read wal segment", path, err)
	}
	return data, nil
}

// Sync flushes the active segment.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.active == nil {
		return nil
	}
	return ioErr("sync wal segment", w.active.Name(), w.active.Sync())
}

// Close flushes and closes the log.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.closeActive()
}
