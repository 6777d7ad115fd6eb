// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/pagevault/internal/backuplog"
	"github.com/tomtom215/pagevault/internal/logging"
	"github.com/tomtom215/pagevault/internal/validation"
)

// APIResponse is the JSON envelope of every API answer.
type APIResponse struct {
	Status   string               `json:"status"`
	Data     interface{}          `json:"data,omitempty"`
	Metadata Metadata             `json:"metadata"`
	Error    *validation.APIError `json:"error,omitempty"`
}

// Metadata describes a response.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	Count     *int      `json:"count,omitempty"`
}

// MarkResult is the answer of MarkOwner.
type MarkResult struct {
	Owner  string `json:"owner"`
	Marked bool   `json:"marked"`
}

// OwnerInfo describes a configured backup owner.
type OwnerInfo struct {
	ID           string `json:"id"`
	DatabaseName string `json:"database_name"`
}

func respondJSON(w http.ResponseWriter, status int, response *APIResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", code).Err(err).Msg("API error")
	}
	respondJSON(w, status, &APIResponse{
		Status:   "error",
		Metadata: Metadata{Timestamp: time.Now()},
		Error:    &validation.APIError{Code: code, Message: message},
	})
}

func respondList(w http.ResponseWriter, data interface{}, count int) {
	respondJSON(w, http.StatusOK, &APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: Metadata{Timestamp: time.Now(), Count: &count},
	})
}

// Healthz is the liveness check.
func (router *Router) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Owners lists the configured backup owners.
func (router *Router) Owners(w http.ResponseWriter, _ *http.Request) {
	ids := router.ownerIDs()
	out := make([]OwnerInfo, len(ids))
	for i, id := range ids {
		out[i] = OwnerInfo{ID: id, DatabaseName: router.owners[id]}
	}
	respondList(w, out, len(out))
}

// entriesQuery holds the query parameters of OwnerEntries.
type entriesQuery struct {
	Type  string `json:"type" validate:"omitempty,oneof=scheduled started finished error upload_started upload_finished upload_error restore_started restore_finished restore_error"`
	Unit  uint64 `json:"unit"`
	Limit int    `json:"limit" validate:"gte=1,lte=10000"`
}

const defaultEntriesLimit = 100

func parseEntriesQuery(r *http.Request) (entriesQuery, *validation.APIError) {
	q := entriesQuery{
		Type:  r.URL.Query().Get("type"),
		Limit: defaultEntriesLimit,
	}
	if v := r.URL.Query().Get("unit"); v != "" {
		unit, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return q, &validation.APIError{Code: "VALIDATION_ERROR", Message: "unit must be an unsigned integer"}
		}
		q.Unit = unit
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return q, &validation.APIError{Code: "VALIDATION_ERROR", Message: "limit must be an integer"}
		}
		q.Limit = limit
	}
	if errs := validation.ValidateStruct(&q); errs != nil {
		return q, errs.ToAPIError()
	}
	return q, nil
}

// OwnerEntries lists the backup log entries of one owner, oldest first.
func (router *Router) OwnerEntries(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	if _, ok := router.owners[owner]; !ok {
		respondError(w, http.StatusNotFound, "OWNER_NOT_FOUND", "Unknown backup owner "+strconv.Quote(owner), nil)
		return
	}
	q, apiErr := parseEntriesQuery(r)
	if apiErr != nil {
		respondJSON(w, http.StatusBadRequest, &APIResponse{
			Status:   "error",
			Metadata: Metadata{Timestamp: time.Now()},
			Error:    apiErr,
		})
		return
	}

	entries, err := router.entries.Entries(r.Context(), owner)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "BACKUP_LOG_ERROR", "Failed to read the backup log", err)
		return
	}

	out := make([]*backuplog.Entry, 0, len(entries))
	for _, e := range entries {
		if q.Type != "" && string(e.Type) != q.Type {
			continue
		}
		if q.Unit != 0 && e.UnitID != q.Unit {
			continue
		}
		out = append(out, e)
	}
	if len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	respondList(w, out, len(out))
}

// MarkOwner flags the owner's last finished backup so the next run starts a
// new chain.
func (router *Router) MarkOwner(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	if _, ok := router.owners[owner]; !ok {
		respondError(w, http.StatusNotFound, "OWNER_NOT_FOUND", "Unknown backup owner "+strconv.Quote(owner), nil)
		return
	}
	marker, ok := router.markers[owner]
	if !ok {
		respondError(w, http.StatusServiceUnavailable, "MARK_UNAVAILABLE", "Owner "+strconv.Quote(owner)+" cannot be marked", nil)
		return
	}
	if err := marker.MarkLastBackup(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "BACKUP_LOG_ERROR", "Failed to mark the last backup", err)
		return
	}
	logging.Info().Str("owner", owner).Msg("Last backup marked, next run starts a new chain")
	respondJSON(w, http.StatusOK, &APIResponse{
		Status:   "success",
		Data:     MarkResult{Owner: owner, Marked: true},
		Metadata: Metadata{Timestamp: time.Now()},
	})
}
