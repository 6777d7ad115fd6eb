// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package backup

import "github.com/tomtom215/pagevault/internal/backuplog"

// Listener is notified synchronously after each lifecycle entry is logged.
type Listener interface {
	OnEntry(e *backuplog.Entry)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(e *backuplog.Entry)

func (f ListenerFunc) OnEntry(e *backuplog.Entry) { f(e) }

func notify(l Listener, e *backuplog.Entry) {
	if l != nil && e != nil {
		l.OnEntry(e)
	}
}
