// Pagevault - Paginated Storage Engine Backup and Restore
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pagevault

package middleware

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

// Compression gzips responses of at least gzhttp.DefaultMinSize bytes when
// the client accepts gzip. Smaller responses pass through untouched.
func Compression(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}
