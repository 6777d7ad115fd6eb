// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package storage

import (
	"encoding/binary"
	"fmt"
)

// RecordType identifies the kind of change a WAL record describes.
type RecordType uint8

const (
	// RecordPageImage carries a full page image: [u8][u64 file id][u64 page index][page].
	RecordPageImage RecordType = iota + 1

	// RecordFileCreated registers a data file: [u8][u64 file id][name].
	RecordFileCreated

	// RecordFileDeleted drops a data file: [u8][u64 file id].
	RecordFileDeleted
)

func (t RecordType) String() string {
	switch t {
	case RecordPageImage:
		return "page_image"
	case RecordFileCreated:
		return "file_created"
	case RecordFileDeleted:
		return "file_deleted"
	default:
		return fmt.Sprintf("record_type(%d)", uint8(t))
	}
}

// Record is a decoded WAL record.
type Record struct {
	Type      RecordType
	FileID    uint64
	PageIndex uint64
	Name      string
	Page      []byte
}

// Encode serializes the record payload.
func (r *Record) Encode() []byte {
	switch r.Type {
	case RecordPageImage:
		buf := make([]byte, 17+len(r.Page))
		buf[0] = byte(r.Type)
		binary.BigEndian.PutUint64(buf[1:9], r.FileID)
		binary.BigEndian.PutUint64(buf[9:17], r.PageIndex)
		copy(buf[17:], r.Page)
		return buf
	case RecordFileCreated:
		buf := make([]byte, 9+len(r.Name))
		buf[0] = byte(r.Type)
		binary.BigEndian.PutUint64(buf[1:9], r.FileID)
		copy(buf[9:], r.Name)
		return buf
	default:
		buf := make([]byte, 9)
		buf[0] = byte(r.Type)
		binary.BigEndian.PutUint64(buf[1:9], r.FileID)
		return buf
	}
}

// DecodeRecord parses a record payload produced by Encode.
func DecodeRecord(payload []byte) (Record, error) {
	if len(payload) < 9 {
		return Record{}, fmt.Errorf("%w: %d byte payload", ErrInvalidRecord, len(payload))
	}
	r := Record{
		Type:   RecordType(payload[0]),
		FileID: binary.BigEndian.Uint64(payload[1:9]),
	}
	switch r.Type {
	case RecordPageImage:
		if len(payload) < 17 {
			return Record{}, fmt.Errorf("%w: truncated page image", ErrInvalidRecord)
		}
		r.PageIndex = binary.BigEndian.Uint64(payload[9:17])
		r.Page = payload[17:]
	case RecordFileCreated:
		r.Name = string(payload[9:])
	case RecordFileDeleted:
	default:
		return Record{}, fmt.Errorf("%w: unknown type %d", ErrInvalidRecord, payload[0])
	}
	return r, nil
}
