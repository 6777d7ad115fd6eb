// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package cronpolicy

import (
	"errors"
	"testing"
	"time"
)

func TestNextValidTimeAfter(t *testing.T) {
	p := NewParser()
	from := time.Date(2026, 3, 10, 12, 7, 30, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 * * * *", time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)},
		{"*/10 * * * *", time.Date(2026, 3, 10, 12, 10, 0, 0, time.UTC)},
		{"0 2 * * *", time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC)},
		{"45 * * * * *", time.Date(2026, 3, 10, 12, 7, 45, 0, time.UTC)},
		{"@hourly", time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)},
		{"@every 10m", time.Date(2026, 3, 10, 12, 17, 30, 0, time.UTC)},
		{"  0 * * * *  ", time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := p.NextValidTimeAfter(tt.expr, from)
			if err != nil {
				t.Fatalf("NextValidTimeAfter failed: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextIsStrictlyAfter(t *testing.T) {
	p := NewParser()
	at := time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	got, err := p.NextValidTimeAfter("0 * * * *", at)
	if err != nil {
		t.Fatalf("NextValidTimeAfter failed: %v", err)
	}
	if !got.After(at) {
		t.Errorf("expected a time after %v, got %v", at, got)
	}
}

func TestInvalidExpressions(t *testing.T) {
	p := NewParser()
	for _, expr := range []string{"", "not cron", "61 * * * *", "* * *", "@fortnightly"} {
		if err := p.Validate(expr); !errors.Is(err, ErrConfigParse) {
			t.Errorf("Validate(%q): expected ErrConfigParse, got %v", expr, err)
		}
		if _, err := p.NextValidTimeAfter(expr, time.Now()); !errors.Is(err, ErrConfigParse) {
			t.Errorf("NextValidTimeAfter(%q): expected ErrConfigParse, got %v", expr, err)
		}
	}
}
