// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordBackup(t *testing.T) {
	tests := []struct {
		name   string
		owner  string
		mode   string
		err    error
		result string
	}{
		{name: "successful full backup", owner: "metrics-a", mode: "full", result: ResultSuccess},
		{name: "failed incremental backup", owner: "metrics-a", mode: "incremental", err: errors.New("disk full"), result: ResultError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(BackupsTotal.WithLabelValues(tt.owner, tt.mode, tt.result))
			RecordBackup(tt.owner, tt.mode, 20*time.Millisecond, tt.err)
			after := testutil.ToFloat64(BackupsTotal.WithLabelValues(tt.owner, tt.mode, tt.result))
			if after != before+1 {
				t.Errorf("expected counter to grow by 1, went from %v to %v", before, after)
			}
		})
	}
}

func TestRecordPagesCapturedIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(BackupPagesCaptured.WithLabelValues("metrics-test"))
	RecordPagesCaptured("metrics-test", 0)
	RecordPagesCaptured("metrics-test", 7)
	after := testutil.ToFloat64(BackupPagesCaptured.WithLabelValues("metrics-test"))
	if after-before != 7 {
		t.Errorf("expected 7 pages recorded, got %v", after-before)
	}
}

func TestRecordNextExecution(t *testing.T) {
	at := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	RecordNextExecution("metrics-next", at)
	if got := testutil.ToFloat64(BackupNextExecution.WithLabelValues("metrics-next")); got != float64(at.Unix()) {
		t.Errorf("expected %v, got %v", at.Unix(), got)
	}
}

func TestRecordBackupLogError(t *testing.T) {
	before := testutil.ToFloat64(BackupLogErrors.WithLabelValues("log"))
	RecordBackupLogError("log")
	if got := testutil.ToFloat64(BackupLogErrors.WithLabelValues("log")); got != before+1 {
		t.Errorf("expected %v, got %v", before+1, got)
	}
}
