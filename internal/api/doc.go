// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

/*
Package api serves the read-only HTTP surface of pagevault using the Chi
router.

# Endpoints

	GET /healthz                          liveness check, plain "ok"
	GET /metrics                          Prometheus exposition
	GET /api/v1/owners                    configured backup owners
	GET /api/v1/owners/{owner}/entries    backup log entries of one owner
	POST /api/v1/owners/{owner}/mark      start a new chain on the next backup

The entries endpoint accepts optional query parameters:
  - type: only entries of this lifecycle type (scheduled, finished, ...)
  - unit: only entries of this backup unit
  - limit: at most this many entries, newest last (default 100, max 10000)

# Response Format

JSON endpoints answer with an envelope:

	{"status":"success","data":[...],"metadata":{"timestamp":"...","count":3}}
	{"status":"error","error":{"code":"NOT_FOUND","message":"..."},"metadata":{...}}

Every request carries X-Request-ID and X-Correlation-ID headers and is counted
in pagevault_api_requests_total by route pattern. Responses under /api/v1 are
gzip compressed when large enough (see internal/middleware).
*/
package api
