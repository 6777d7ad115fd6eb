// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/pagevault/internal/backup"
	"github.com/tomtom215/pagevault/internal/backuplog"
	"github.com/tomtom215/pagevault/internal/metrics"
)

// fakeLister serves a fixed entry list.
type fakeLister struct {
	entries []*backuplog.Entry
	err     error
}

func (f *fakeLister) Entries(_ context.Context, owner string) ([]*backuplog.Entry, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*backuplog.Entry
	for _, e := range f.entries {
		if e.OwnerID == owner {
			out = append(out, e)
		}
	}
	return out, nil
}

func sampleEntries() []*backuplog.Entry {
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	return []*backuplog.Entry{
		{ID: 1, Type: backuplog.TypeScheduled, UnitID: 10, TxID: 11, OwnerID: "nightly", Timestamp: at,
			Scheduled: &backuplog.ScheduledInfo{NextExecution: at.Add(time.Hour)}},
		{ID: 2, Type: backuplog.TypeStarted, UnitID: 10, TxID: 11, OwnerID: "nightly", Timestamp: at},
		{ID: 3, Type: backuplog.TypeFinished, UnitID: 10, TxID: 11, OwnerID: "nightly", Timestamp: at,
			Finished: &backuplog.FinishedInfo{FileName: "orders_0.ibu", Path: "/backups/nightly"}},
		{ID: 4, Type: backuplog.TypeScheduled, UnitID: 20, TxID: 21, OwnerID: "nightly", Timestamp: at,
			Scheduled: &backuplog.ScheduledInfo{NextExecution: at.Add(2 * time.Hour)}},
		{ID: 5, Type: backuplog.TypeStarted, UnitID: 30, TxID: 31, OwnerID: "hourly", Timestamp: at},
	}
}

func newTestHandler(lister EntryLister) http.Handler {
	return NewRouter(lister, map[string]string{"nightly": "orders", "hourly": "orders"}).Handler()
}

type entriesResponse struct {
	Status   string             `json:"status"`
	Data     []*backuplog.Entry `json:"data"`
	Metadata Metadata           `json:"metadata"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, entriesResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body entriesResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid JSON from %s: %v", path, err)
		}
	}
	return rec, body
}

func TestHealthz(t *testing.T) {
	rec, _ := get(t, newTestHandler(&fakeLister{}), "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Error("missing correlation id header")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(&fakeLister{})
	before := testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues("/healthz", "200"))
	get(t, h, "/healthz")

	rec, _ := get(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pagevault_api_requests_total") {
		t.Error("exposition lacks the api request counter")
	}
	after := testutil.ToFloat64(metrics.APIRequestsTotal.WithLabelValues("/healthz", "200"))
	if after != before+1 {
		t.Errorf("healthz counter went from %v to %v", before, after)
	}
}

func TestOwners(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestHandler(&fakeLister{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/owners", nil))
	var body struct {
		Data []OwnerInfo `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(body.Data) != 2 || body.Data[0].ID != "hourly" || body.Data[1].ID != "nightly" {
		t.Errorf("owners = %+v", body.Data)
	}
}

func TestOwnerEntries(t *testing.T) {
	h := newTestHandler(&fakeLister{entries: sampleEntries()})

	tests := []struct {
		name    string
		path    string
		wantIDs []uint64
	}{
		{"all", "/api/v1/owners/nightly/entries", []uint64{1, 2, 3, 4}},
		{"by type", "/api/v1/owners/nightly/entries?type=scheduled", []uint64{1, 4}},
		{"by unit", "/api/v1/owners/nightly/entries?unit=10", []uint64{1, 2, 3}},
		{"limit keeps newest", "/api/v1/owners/nightly/entries?limit=2", []uint64{3, 4}},
		{"other owner", "/api/v1/owners/hourly/entries", []uint64{5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := get(t, h, tt.path)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			if len(body.Data) != len(tt.wantIDs) {
				t.Fatalf("got %d entries, want %d", len(body.Data), len(tt.wantIDs))
			}
			for i, e := range body.Data {
				if e.ID != tt.wantIDs[i] {
					t.Errorf("entry %d has id %d, want %d", i, e.ID, tt.wantIDs[i])
				}
			}
			if body.Metadata.Count == nil || *body.Metadata.Count != len(tt.wantIDs) {
				t.Errorf("metadata count = %v", body.Metadata.Count)
			}
		})
	}

	_, body := get(t, h, "/api/v1/owners/nightly/entries?type=finished")
	if len(body.Data) != 1 || body.Data[0].Finished == nil || body.Data[0].Finished.FileName != "orders_0.ibu" {
		t.Errorf("finished entry lost its variant data: %+v", body.Data)
	}
}

func TestOwnerEntriesErrors(t *testing.T) {
	tests := []struct {
		name     string
		lister   *fakeLister
		path     string
		wantCode int
		wantErr  string
	}{
		{"unknown owner", &fakeLister{}, "/api/v1/owners/weekly/entries", http.StatusNotFound, "OWNER_NOT_FOUND"},
		{"bad type", &fakeLister{}, "/api/v1/owners/nightly/entries?type=exploded", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad unit", &fakeLister{}, "/api/v1/owners/nightly/entries?unit=-1", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"zero limit", &fakeLister{}, "/api/v1/owners/nightly/entries?limit=0", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"store failure", &fakeLister{err: errors.New("closed")}, "/api/v1/owners/nightly/entries", http.StatusInternalServerError, "BACKUP_LOG_ERROR"},
		{"unknown route", &fakeLister{}, "/api/v1/nothing", http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := get(t, newTestHandler(tt.lister), tt.path)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if body.Status != "error" || body.Error == nil || body.Error.Code != tt.wantErr {
				t.Errorf("unexpected error body %s", rec.Body.String())
			}
		})
	}
}

func TestOwnerEntriesMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/owners/nightly/entries", nil)
	newTestHandler(&fakeLister{}).ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestRouterOverBadgerStore(t *testing.T) {
	store, err := backuplog.Open(backuplog.Options{InMemory: true})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()
	for _, e := range sampleEntries()[:3] {
		if _, err := store.Log(t.Context(), e); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	_, body := get(t, newTestHandler(store), "/api/v1/owners/nightly/entries")
	if len(body.Data) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(body.Data))
	}
	if body.Data[2].Type != backuplog.TypeFinished {
		t.Errorf("entries out of order: %v", body.Data[2].Type)
	}
}

var _ Marker = (*backup.Strategy)(nil)

// fakeMarker counts MarkLastBackup calls.
type fakeMarker struct {
	calls int
	err   error
}

func (f *fakeMarker) MarkLastBackup(context.Context) error {
	f.calls++
	return f.err
}

func post(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, entriesResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
	var body entriesResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid JSON from %s: %v", path, err)
		}
	}
	return rec, body
}

func TestMarkOwner(t *testing.T) {
	nightly := &fakeMarker{}
	h := NewRouter(&fakeLister{}, map[string]string{"nightly": "orders", "hourly": "orders"}).
		WithMarkers(map[string]Marker{"nightly": nightly}).
		Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/owners/nightly/mark", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Status string     `json:"status"`
		Data   MarkResult `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Status != "success" || body.Data.Owner != "nightly" || !body.Data.Marked {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	if nightly.calls != 1 {
		t.Errorf("marker called %d times, want 1", nightly.calls)
	}
}

func TestMarkOwnerErrors(t *testing.T) {
	tests := []struct {
		name     string
		marker   *fakeMarker
		path     string
		wantCode int
		wantErr  string
	}{
		{"unknown owner", &fakeMarker{}, "/api/v1/owners/weekly/mark", http.StatusNotFound, "OWNER_NOT_FOUND"},
		{"owner without marker", &fakeMarker{}, "/api/v1/owners/hourly/mark", http.StatusServiceUnavailable, "MARK_UNAVAILABLE"},
		{"store failure", &fakeMarker{err: errors.New("closed")}, "/api/v1/owners/nightly/mark", http.StatusInternalServerError, "BACKUP_LOG_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(&fakeLister{}, map[string]string{"nightly": "orders", "hourly": "orders"}).
				WithMarkers(map[string]Marker{"nightly": tt.marker}).
				Handler()
			rec, body := post(t, h, tt.path)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if body.Status != "error" || body.Error == nil || body.Error.Code != tt.wantErr {
				t.Errorf("unexpected error body %s", rec.Body.String())
			}
		})
	}

	rec, _ := get(t, newTestHandler(&fakeLister{}), "/api/v1/owners/nightly/mark")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET mark status = %d, want 405", rec.Code)
	}
}
