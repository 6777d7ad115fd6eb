// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package storage

import (
	"os"
	"path/filepath"
)

// WALReader replays a directory of segment files without opening it for
// writing. It is used to replay segments extracted from backup archives.
type WALReader struct {
	dir      string
	segments []uint64
}

// OpenWALReader lists the segments present in dir.
func OpenWALReader(dir string) (*WALReader, error) {
	segs, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	return &WALReader{dir: dir, segments: segs}, nil
}

// Empty reports whether the directory holds no segments.
func (r *WALReader) Empty() bool {
	return len(r.segments) == 0
}

// Replay decodes every complete record, oldest first, and returns the LSN of
// the last record handed to fn along with the number of records.
func (r *WALReader) Replay(fn func(lsn LSN, rec Record) error) (LSN, int, error) {
	var last LSN
	count := 0
	for _, id := range r.segments {
		path := filepath.Join(r.dir, SegmentFileName(id))
		data, err := os.ReadFile(path)
		if err != nil {
			return last, count, ioErr("read wal segment", path, err)
		}
		_, err = scanRecords(data, id, func(lsn LSN, payload []byte) error {
			rec, err := DecodeRecord(payload)
			if err != nil {
				return err
			}
			if err := fn(lsn, rec); err != nil {
				return err
			}
			last = lsn
			count++
			return nil
		})
		if err != nil {
			return last, count, err
		}
	}
	return last, count, nil
}

// lastRecordLSN returns the LSN of the final complete record in a segment's bytes.
func lastRecordLSN(data []byte, segment uint64) LSN {
	var last LSN
	_, _ = scanRecords(data, segment, func(lsn LSN, _ []byte) error {
		last = lsn
		return nil
	})
	return last
}
