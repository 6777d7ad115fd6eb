// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

/*
Package middleware provides the HTTP middleware of the Pagevault API.

Key Components:

  - RequestID: request and correlation ids for log tracing
  - PrometheusMetrics: request count, latency and in-flight gauge per chi route pattern
  - Compression: gzip for responses of 1KB and more (klauspost/compress/gzhttp)

All middleware has the chi signature func(http.Handler) http.Handler:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
	r.Route("/api/v1", func(r chi.Router) {
	    r.Use(middleware.Compression)
	    ...
	})

PrometheusMetrics labels requests with the matched route pattern
("/api/v1/owners/{owner}/entries"), never the raw path, so owner ids do not
create new series. Requests that match no route are labeled "unmatched".
*/
package middleware
