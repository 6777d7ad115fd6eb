// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package api

import (
	"context"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/pagevault/internal/backuplog"
	"github.com/tomtom215/pagevault/internal/middleware"
)

// EntryLister reads backup log entries. Satisfied by backuplog.Store.
type EntryLister interface {
	Entries(ctx context.Context, owner string) ([]*backuplog.Entry, error)
}

// Marker closes an owner's current chain so its next backup starts a new
// one. Satisfied by *backup.Strategy.
type Marker interface {
	MarkLastBackup(ctx context.Context) error
}

// Router serves the HTTP API.
type Router struct {
	entries EntryLister
	owners  map[string]string // owner id -> database name
	markers map[string]Marker
}

// NewRouter creates a router over the backup log. owners maps the configured
// owner ids to their database names; unknown owners answer 404.
func NewRouter(entries EntryLister, owners map[string]string) *Router {
	return &Router{entries: entries, owners: owners}
}

// WithMarkers enables POST /api/v1/owners/{owner}/mark for the given owners.
func (router *Router) WithMarkers(markers map[string]Marker) *Router {
	router.markers = markers
	return router
}

// Handler builds the chi handler.
func (router *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.PrometheusMetrics)

	r.Get("/healthz", router.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Compression)
		r.Get("/owners", router.Owners)
		r.Get("/owners/{owner}/entries", router.OwnerEntries)
		r.Post("/owners/{owner}/mark", router.MarkOwner)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "No such endpoint", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	return r
}

func (router *Router) ownerIDs() []string {
	ids := make([]string, 0, len(router.owners))
	for id := range router.owners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
