// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package backuplog

import (
	"fmt"
	"time"
)

// EntryType names a lifecycle event.
type EntryType string

const (
	TypeScheduled       EntryType = "scheduled"
	TypeStarted         EntryType = "started"
	TypeFinished        EntryType = "finished"
	TypeError           EntryType = "error"
	TypeUploadStarted   EntryType = "upload_started"
	TypeUploadFinished  EntryType = "upload_finished"
	TypeUploadError     EntryType = "upload_error"
	TypeRestoreStarted  EntryType = "restore_started"
	TypeRestoreFinished EntryType = "restore_finished"
	TypeRestoreError    EntryType = "restore_error"
)

// Mode is the kind of backup an entry refers to.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// Entry is one journal record. Exactly one variant pointer matching Type is
// set; Started carries no variant data.
type Entry struct {
	// ID is assigned by the store on Log.
	ID           uint64    `json:"id"`
	Type         EntryType `json:"type"`
	UnitID       uint64    `json:"unit_id"`
	TxID         uint64    `json:"tx_id"`
	OwnerID      string    `json:"owner_id"`
	DatabaseName string    `json:"database_name"`
	Mode         Mode      `json:"mode"`
	Timestamp    time.Time `json:"timestamp"`

	Scheduled       *ScheduledInfo       `json:"scheduled,omitempty"`
	Finished        *FinishedInfo        `json:"finished,omitempty"`
	Error           *ErrorInfo           `json:"error,omitempty"`
	UploadStarted   *UploadStartedInfo   `json:"upload_started,omitempty"`
	UploadFinished  *UploadFinishedInfo  `json:"upload_finished,omitempty"`
	UploadError     *ErrorInfo           `json:"upload_error,omitempty"`
	RestoreStarted  *RestoreStartedInfo  `json:"restore_started,omitempty"`
	RestoreFinished *RestoreFinishedInfo `json:"restore_finished,omitempty"`
	RestoreError    *ErrorInfo           `json:"restore_error,omitempty"`
}

// ScheduledInfo records when the next execution is due.
type ScheduledInfo struct {
	NextExecution time.Time `json:"next_execution"`
}

// FinishedInfo describes a completed backup artifact.
type FinishedInfo struct {
	FileName    string        `json:"file_name"`
	Path        string        `json:"path"`
	FileSize    uint64        `json:"file_size"`
	ElapsedTime time.Duration `json:"elapsed_time"`
	// PrevChange marks the chain tip as consumed: the next scheduling
	// decision must not continue this chain incrementally.
	PrevChange bool                `json:"prev_change"`
	Upload     *UploadFinishedInfo `json:"upload,omitempty"`
}

// ErrorInfo is shared by Error, UploadError and RestoreError entries.
type ErrorInfo struct {
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace,omitempty"`
}

type UploadStartedInfo struct {
	FileName string `json:"file_name"`
	Path     string `json:"path"`
}

// UploadFinishedInfo is the uploader's receipt. It is also attached to the
// Finished entry it belongs to.
type UploadFinishedInfo struct {
	ElapsedTime time.Duration     `json:"elapsed_time"`
	FileSize    uint64            `json:"file_size"`
	FileName    string            `json:"file_name"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	UploadType  string            `json:"upload_type"`
}

type RestoreStartedInfo struct {
	Mode Mode `json:"mode"`
}

type RestoreFinishedInfo struct {
	ElapsedTime   time.Duration     `json:"elapsed_time"`
	TargetDB      string            `json:"target_db"`
	RestoreUnitID uint64            `json:"restore_unit_id"`
	Path          string            `json:"path"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Validate checks that the entry is addressable and that its variant data
// matches its type.
func (e *Entry) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	}
	if err := validateOwner(e.OwnerID); err != nil {
		return err
	}
	var ok bool
	switch e.Type {
	case TypeScheduled:
		ok = e.Scheduled != nil
	case TypeStarted:
		ok = true
	case TypeFinished:
		ok = e.Finished != nil
	case TypeError:
		ok = e.Error != nil
	case TypeUploadStarted:
		ok = e.UploadStarted != nil
	case TypeUploadFinished:
		ok = e.UploadFinished != nil
	case TypeUploadError:
		ok = e.UploadError != nil
	case TypeRestoreStarted:
		ok = e.RestoreStarted != nil
	case TypeRestoreFinished:
		ok = e.RestoreFinished != nil
	case TypeRestoreError:
		ok = e.RestoreError != nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEntry, e.Type)
	}
	if !ok {
		return fmt.Errorf("%w: %s entry without %s data", ErrInvalidEntry, e.Type, e.Type)
	}
	return nil
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	if e.Scheduled != nil {
		s := *e.Scheduled
		c.Scheduled = &s
	}
	if e.Finished != nil {
		f := *e.Finished
		f.Upload = e.Finished.Upload.clone()
		c.Finished = &f
	}
	c.Error = e.Error.clone()
	if e.UploadStarted != nil {
		u := *e.UploadStarted
		c.UploadStarted = &u
	}
	c.UploadFinished = e.UploadFinished.clone()
	c.UploadError = e.UploadError.clone()
	if e.RestoreStarted != nil {
		r := *e.RestoreStarted
		c.RestoreStarted = &r
	}
	if e.RestoreFinished != nil {
		r := *e.RestoreFinished
		r.Metadata = cloneMetadata(e.RestoreFinished.Metadata)
		c.RestoreFinished = &r
	}
	c.RestoreError = e.RestoreError.clone()
	return &c
}

func (i *ErrorInfo) clone() *ErrorInfo {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

func (i *UploadFinishedInfo) clone() *UploadFinishedInfo {
	if i == nil {
		return nil
	}
	c := *i
	c.Metadata = cloneMetadata(i.Metadata)
	return &c
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
