// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Handlers use these helpers instead of raw http.ResponseWriter calls so
// every endpoint shares the same JSON envelope and error logging.
package httputil
