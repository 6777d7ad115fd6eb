// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package backuplog

// ChainState is the state of one backup unit derived from its entries.
type ChainState struct {
	UnitID uint64

	LastScheduled *Entry
	// PendingSchedule is true when LastScheduled has not been answered by a
	// Finished or Error entry with the same tx id.
	PendingSchedule bool

	LastStarted  *Entry
	LastFinished *Entry
	LastError    *Entry

	// Uploaded reports whether LastFinished carries an upload receipt.
	Uploaded bool

	// Restoring is true while a RestoreStarted entry has no matching
	// RestoreFinished or RestoreError.
	Restoring bool
}

// DeriveChainState folds entries, oldest first, into a ChainState. Entries of
// other units than the first one seen are ignored.
func DeriveChainState(entries []*Entry) ChainState {
	var st ChainState
	answered := make(map[uint64]bool)
	var restoreTx uint64
	restoring := false

	for _, e := range entries {
		if e == nil {
			continue
		}
		if st.UnitID == 0 {
			st.UnitID = e.UnitID
		}
		if e.UnitID != st.UnitID {
			continue
		}
		switch e.Type {
		case TypeScheduled:
			st.LastScheduled = e
		case TypeStarted:
			st.LastStarted = e
		case TypeFinished:
			st.LastFinished = e
			answered[e.TxID] = true
		case TypeError:
			st.LastError = e
			answered[e.TxID] = true
		case TypeRestoreStarted:
			restoring = true
			restoreTx = e.TxID
		case TypeRestoreFinished, TypeRestoreError:
			if e.TxID == restoreTx {
				restoring = false
			}
		}
	}

	st.PendingSchedule = st.LastScheduled != nil && !answered[st.LastScheduled.TxID]
	st.Uploaded = st.LastFinished != nil && st.LastFinished.Finished != nil && st.LastFinished.Finished.Upload != nil
	st.Restoring = restoring
	return st
}
