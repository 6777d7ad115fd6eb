// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package storage

import "encoding/binary"

const (
	// DefaultPageSize is used when a database is created without an explicit page size.
	DefaultPageSize = 4096

	// MinPageSize is the smallest page size accepted by Open.
	MinPageSize = 64

	// PageHeaderSize is the number of bytes at the start of every page that
	// hold the LSN of the last write: [u64 segment][u64 position], big-endian.
	PageHeaderSize = 16
)

// PageLSN returns the LSN embedded in a page.
func PageLSN(page []byte) LSN {
	if len(page) < PageHeaderSize {
		return LSN{}
	}
	return LSN{
		Segment:  binary.BigEndian.Uint64(page[0:8]),
		Position: binary.BigEndian.Uint64(page[8:16]),
	}
}

// SetPageLSN stamps lsn into the page header.
func SetPageLSN(page []byte, lsn LSN) {
	binary.BigEndian.PutUint64(page[0:8], lsn.Segment)
	binary.BigEndian.PutUint64(page[8:16], lsn.Position)
}

// PagePayload returns the bytes that follow the page header.
func PagePayload(page []byte) []byte {
	if len(page) < PageHeaderSize {
		return nil
	}
	return page[PageHeaderSize:]
}
