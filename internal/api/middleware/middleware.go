// Package middleware holds the request-surface cross-cutting concerns
// (C8): CORS, structured access logging, and bearer-token auth, each
// adapted from the teacher's internal/api/middleware package.
package middleware

import "net/http"

// Middleware wraps an http.HandlerFunc with additional behavior. The
// teacher's cors.go and logging.go were both written against this type
// and a Chain helper that never made it into the retrieved source; both
// are defined here since this package already owns their callers.
type Middleware func(http.HandlerFunc) http.HandlerFunc

// Chain applies middlewares in the order given, so the first one listed
// is the outermost wrapper around h.
func Chain(h http.HandlerFunc, mws ...Middleware) http.HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
